package setup

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/worldland/worldland-launcher/internal/remote"
)

// OSReleasePath is read to identify the distribution.
const OSReleasePath = "/etc/os-release"

// Check names a binary the launcher depends on
type Check struct {
	Name        string
	Binary      string
	VersionArgs string
	Required    bool
}

// DefaultChecks covers command execution on peers and the GPU driver
var DefaultChecks = []Check{
	{Name: "bash", Binary: "bash", VersionArgs: "--version | head -1", Required: true},
	{Name: "ssh", Binary: "ssh", VersionArgs: "-V 2>&1", Required: true},
	{Name: "scp", Binary: "scp", Required: true},
	{Name: "nvidia-smi", Binary: "nvidia-smi", VersionArgs: "--query-gpu=driver_version --format=csv,noheader | head -1"},
}

// ComponentStatus represents the installation status of a required component
type ComponentStatus struct {
	Name      string
	Installed bool
	Required  bool
	Version   string
}

// HostStatus is the result of reaching one peer over ssh
type HostStatus struct {
	Address string
	Err     error
}

// PreflightResult contains the results of the preflight check
type PreflightResult struct {
	Components []ComponentStatus
	Hosts      []HostStatus
	OSId       string // "ubuntu", "debian", etc.
	OSVersion  string // "22.04", "12", etc.
}

// RunPreflight checks every component locally
func RunPreflight(ctx context.Context, runner *remote.Runner, checks []Check) *PreflightResult {
	result := &PreflightResult{}
	result.OSId, result.OSVersion = detectOS(OSReleasePath)
	for _, c := range checks {
		result.Components = append(result.Components, checkComponent(ctx, runner, c))
	}
	return result
}

// CheckHosts verifies that each address accepts ssh logins
func (r *PreflightResult) CheckHosts(ctx context.Context, runner *remote.Runner, addresses []string, port int) {
	for _, addr := range addresses {
		_, err := runner.QuerySSH(ctx, addr, port, "true")
		r.Hosts = append(r.Hosts, HostStatus{Address: addr, Err: err})
	}
}

// MissingComponents returns the names of required components that are not installed
func (r *PreflightResult) MissingComponents() []string {
	var missing []string
	for _, c := range r.Components {
		if c.Required && !c.Installed {
			missing = append(missing, c.Name)
		}
	}
	return missing
}

// UnreachableHosts returns the addresses that failed the ssh check
func (r *PreflightResult) UnreachableHosts() []string {
	var down []string
	for _, h := range r.Hosts {
		if h.Err != nil {
			down = append(down, h.Address)
		}
	}
	return down
}

// PrintStatus prints the preflight check results
func (r *PreflightResult) PrintStatus(w io.Writer) {
	for _, c := range r.Components {
		switch {
		case c.Installed:
			fmt.Fprintf(w, "  ✓ %s: %s\n", c.Name, c.Version)
		case c.Required:
			fmt.Fprintf(w, "  ✗ %s: NOT INSTALLED\n", c.Name)
		default:
			fmt.Fprintf(w, "  - %s: not installed (optional)\n", c.Name)
		}
	}
	for _, h := range r.Hosts {
		if h.Err != nil {
			fmt.Fprintf(w, "  ✗ %s: unreachable (%v)\n", h.Address, h.Err)
		} else {
			fmt.Fprintf(w, "  ✓ %s: reachable\n", h.Address)
		}
	}
	fmt.Fprintf(w, "  OS: %s %s\n", r.OSId, r.OSVersion)
}

func checkComponent(ctx context.Context, runner *remote.Runner, c Check) ComponentStatus {
	cs := ComponentStatus{Name: c.Name, Required: c.Required}

	if _, err := exec.LookPath(c.Binary); err != nil {
		return cs
	}
	cs.Installed = true

	if c.VersionArgs == "" {
		cs.Version = "(version unknown)"
		return cs
	}
	out, err := runner.QueryLocal(ctx, c.Binary+" "+c.VersionArgs)
	if err != nil || out == "" {
		// Binary exists but version command failed, still installed
		cs.Version = "(version unknown)"
		return cs
	}

	cs.Version = out
	// Truncate long version strings
	if len(cs.Version) > 60 {
		cs.Version = cs.Version[:60]
	}
	return cs
}

func detectOS(path string) (id, version string) {
	f, err := os.Open(path)
	if err != nil {
		return "unknown", ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "ID=") {
			id = strings.Trim(strings.TrimPrefix(line, "ID="), "\"")
		}
		if strings.HasPrefix(line, "VERSION_ID=") {
			version = strings.Trim(strings.TrimPrefix(line, "VERSION_ID="), "\"")
		}
	}
	return id, version
}
