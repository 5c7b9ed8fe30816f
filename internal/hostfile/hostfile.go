package hostfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/worldland/worldland-launcher/internal/slots"
)

var (
	ErrInvalidEntry = errors.New("invalid hostfile entry")
	ErrEmpty        = errors.New("hostfile is empty or not formatted correctly")
)

// e.g. "worker0 slots=8 type=A100"
var entryPattern = regexp.MustCompile(`^(\S+)\s+slots=(\d+)(?:\s+type=(\S+))?`)

// Parse reads a host list and returns the node specs in file order. Every
// malformed line is reported, not only the first one.
func Parse(r io.Reader) ([]slots.NodeSpec, error) {
	var (
		specs []slots.NodeSpec
		seen  = make(map[string]bool)
		errs  error
	)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		m := entryPattern.FindStringSubmatch(line)
		if m == nil {
			errs = multierr.Append(errs, &slots.ConfigError{
				Err: fmt.Errorf("%w at line %d: %q", ErrInvalidEntry, lineNo, line),
			})
			continue
		}

		host := m[1]
		if seen[host] {
			errs = multierr.Append(errs, &slots.ConfigError{Address: host, Err: slots.ErrDuplicateNode})
			continue
		}
		seen[host] = true

		n, err := strconv.Atoi(m[2])
		if err != nil {
			errs = multierr.Append(errs, &slots.ConfigError{Address: host, Err: err})
			continue
		}
		specs = append(specs, slots.NodeSpec{Address: host, Slots: &n, Type: m[3]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read hostfile: %w", err)
	}
	if errs != nil {
		return nil, errs
	}

	if len(specs) == 0 {
		return nil, &slots.ConfigError{Err: ErrEmpty}
	}

	typed := 0
	for _, s := range specs {
		if s.Type != "" {
			typed++
		}
	}
	if typed != 0 && typed != len(specs) {
		return nil, &slots.ConfigError{Err: slots.ErrMixedResourceTypes}
	}

	return specs, nil
}

// ParseFile parses the host list at path. A missing path is not an error: it
// returns nil specs and the caller falls back to local resources.
func ParseFile(path string, log logrus.FieldLogger) ([]slots.NodeSpec, error) {
	if path == "" {
		log.Warn("hostfile not set, proceeding with local resources only")
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		log.WithField("path", path).Warn("hostfile not found, proceeding with local resources only")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open hostfile: %w", err)
	}
	defer f.Close()

	return Parse(f)
}
