package slots

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingSlots         = errors.New("node data must contain slots")
	ErrNegativeSlots        = errors.New("node slots must be non-negative")
	ErrEmptyAddress         = errors.New("node address is empty")
	ErrDuplicateNode        = errors.New("duplicate node address")
	ErrMixedResourceTypes   = errors.New("all nodes must either specify a resource type or none may")
	ErrUnknownMaster        = errors.New("master node is not in the node list")
	ErrNodeNotFound         = errors.New("node does not exist")
	ErrTypeMismatch         = errors.New("node resource type mismatch")
	ErrInsufficientCapacity = errors.New("insufficient resources")
	ErrInvalidCount         = errors.New("slot count must be at least 1")
)

// ConfigError reports a malformed or contradictory node list.
type ConfigError struct {
	Address string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("slot config: %v", e.Err)
	}
	return fmt.Sprintf("slot config: node %s: %v", e.Address, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ResourceError reports an allocation that could not be satisfied. Status is
// the allocator state at the time of the failure, in node order.
type ResourceError struct {
	ResourceType string
	Address      string
	Count        int
	Err          error
	Status       []NodeStatus
}

func (e *ResourceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "require %d slot(s) of type %s", e.Count, e.ResourceType)
	if e.Address != "" && e.Address != AutoAddress {
		fmt.Fprintf(&b, " on node %s", e.Address)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if len(e.Status) > 0 {
		b.WriteString("\n")
		b.WriteString(FormatStatus(e.Status))
	}
	return b.String()
}

func (e *ResourceError) Unwrap() error { return e.Err }

// FormatStatus renders a status snapshot one node per line.
func FormatStatus(status []NodeStatus) string {
	lines := make([]string, 0, len(status))
	for _, s := range status {
		lines = append(lines, fmt.Sprintf("  %s: type=%s slots=%d used=%d available=%d",
			s.Address, s.ResourceType, s.TotalSlots, s.UsedSlots, s.Available))
	}
	return strings.Join(lines, "\n")
}
