package slots

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultResourceType is assumed for nodes that do not declare one.
	DefaultResourceType = "gpu"
	// AutoAddress lets the allocator pick the node.
	AutoAddress = "auto"
)

// NodeSpec is one entry of the static node list. Slots is a pointer so that a
// missing capacity can be told apart from an explicit zero.
type NodeSpec struct {
	Address string
	Slots   *int
	Type    string
}

// Node tracks capacity and usage of a single cluster member.
type Node struct {
	Address      string
	ResourceType string
	TotalSlots   int
	UsedSlots    int
}

// Available returns the number of free slots on the node.
func (n Node) Available() int {
	return n.TotalSlots - n.UsedSlots
}

// Allocation is the result of a successful Allocate call
type Allocation struct {
	Address string `json:"address"`
	SlotIDs []int  `json:"slotIds"`
}

// NodeStatus is a read-only view of one node
type NodeStatus struct {
	Address      string `json:"address"`
	ResourceType string `json:"type"`
	TotalSlots   int    `json:"slots"`
	UsedSlots    int    `json:"used"`
	Available    int    `json:"available"`
}

// Option configures an Allocator
type Option func(*Allocator)

// WithMaster names the coordinator node. Auto allocation visits it first.
// Without this option the first node of the list is the master.
func WithMaster(address string) Option {
	return func(a *Allocator) {
		a.master = address
	}
}

// WithLogger sets the logger used for configuration warnings.
func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Allocator) {
		a.log = log
	}
}

// Allocator hands out exclusive slots from a fixed list of nodes. Slots are
// never returned; one allocator lives for one job launch.
type Allocator struct {
	mu     sync.Mutex
	nodes  []*Node // auto-allocation order: master first, then input order
	index  map[string]*Node
	order  []string // input order, used for status snapshots
	master string
	log    logrus.FieldLogger
}

// New validates the node list and builds an allocator.
func New(specs []NodeSpec, opts ...Option) (*Allocator, error) {
	a := &Allocator{
		index: make(map[string]*Node, len(specs)),
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}

	typed := 0
	for _, spec := range specs {
		if spec.Type != "" {
			typed++
		}
	}
	if typed != 0 && typed != len(specs) {
		return nil, &ConfigError{Err: ErrMixedResourceTypes}
	}

	nodes := make([]*Node, 0, len(specs))
	for _, spec := range specs {
		if spec.Address == "" {
			return nil, &ConfigError{Err: ErrEmptyAddress}
		}
		if spec.Slots == nil {
			return nil, &ConfigError{Address: spec.Address, Err: ErrMissingSlots}
		}
		if *spec.Slots < 0 {
			return nil, &ConfigError{Address: spec.Address, Err: ErrNegativeSlots}
		}
		if _, exists := a.index[spec.Address]; exists {
			return nil, &ConfigError{Address: spec.Address, Err: ErrDuplicateNode}
		}

		resourceType := spec.Type
		if resourceType == "" {
			a.log.WithField("address", spec.Address).
				Warnf("node does not provide a resource type, defaulting to %q", DefaultResourceType)
			resourceType = DefaultResourceType
		}

		node := &Node{
			Address:      spec.Address,
			ResourceType: resourceType,
			TotalSlots:   *spec.Slots,
		}
		a.index[spec.Address] = node
		a.order = append(a.order, spec.Address)
		nodes = append(nodes, node)
	}

	if a.master == "" && len(nodes) > 0 {
		a.master = nodes[0].Address
	}
	if a.master != "" {
		master, ok := a.index[a.master]
		if !ok {
			return nil, &ConfigError{Address: a.master, Err: ErrUnknownMaster}
		}
		a.nodes = append(a.nodes, master)
		for _, n := range nodes {
			if n != master {
				a.nodes = append(a.nodes, n)
			}
		}
	}

	return a, nil
}

// Master returns the coordinator node address ("" for an empty list).
func (a *Allocator) Master() string {
	return a.master
}

// TotalCapacity returns the sum of slots over nodes of the given type
func (a *Allocator) TotalCapacity(resourceType string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for _, n := range a.nodes {
		if n.ResourceType == resourceType {
			total += n.TotalSlots
		}
	}
	return total
}

// AvailableCapacity returns the sum of free slots over nodes of the given type
func (a *Allocator) AvailableCapacity(resourceType string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for _, n := range a.nodes {
		if n.ResourceType == resourceType {
			total += n.Available()
		}
	}
	return total
}

// Allocate reserves count contiguous slots of resourceType on a single node.
// With address == AutoAddress the master is tried first, then the other nodes
// in input order; the first node with enough free slots is used.
func (a *Allocator) Allocate(resourceType, address string, count int) (Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if address == "" {
		address = AutoAddress
	}
	fail := func(err error) (Allocation, error) {
		return Allocation{}, &ResourceError{
			ResourceType: resourceType,
			Address:      address,
			Count:        count,
			Err:          err,
			Status:       a.snapshotLocked(),
		}
	}

	if count < 1 {
		return fail(ErrInvalidCount)
	}

	if address != AutoAddress {
		node, exists := a.index[address]
		if !exists {
			return fail(ErrNodeNotFound)
		}
		if node.ResourceType != resourceType {
			return fail(ErrTypeMismatch)
		}
		if node.Available() < count {
			return fail(ErrInsufficientCapacity)
		}
		return a.takeLocked(node, count), nil
	}

	for _, node := range a.nodes {
		if node.ResourceType == resourceType && node.Available() >= count {
			return a.takeLocked(node, count), nil
		}
	}

	return fail(ErrInsufficientCapacity)
}

// takeLocked marks count slots used on node (caller must hold lock)
func (a *Allocator) takeLocked(node *Node, count int) Allocation {
	ids := make([]int, count)
	for i := range ids {
		ids[i] = node.UsedSlots + i
	}
	node.UsedSlots += count
	return Allocation{Address: node.Address, SlotIDs: ids}
}

// Status returns the state of every node keyed by address
func (a *Allocator) Status() map[string]NodeStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	status := make(map[string]NodeStatus, len(a.index))
	for _, s := range a.snapshotLocked() {
		status[s.Address] = s
	}
	return status
}

// Snapshot returns the state of every node in input order
func (a *Allocator) Snapshot() []NodeStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.snapshotLocked()
}

func (a *Allocator) snapshotLocked() []NodeStatus {
	status := make([]NodeStatus, 0, len(a.order))
	for _, addr := range a.order {
		n := a.index[addr]
		status = append(status, NodeStatus{
			Address:      n.Address,
			ResourceType: n.ResourceType,
			TotalSlots:   n.TotalSlots,
			UsedSlots:    n.UsedSlots,
			Available:    n.Available(),
		})
	}
	return status
}
