// Package launcher derives the job topology (node count, processes per
// node, master) from the host list, command-line values and the local
// devices.
package launcher

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/worldland/worldland-launcher/internal/domain"
	"github.com/worldland/worldland-launcher/internal/netutil"
	"github.com/worldland/worldland-launcher/internal/slots"
)

// VisibleDevicesEnv restricts the devices a process may use.
const VisibleDevicesEnv = "CUDA_VISIBLE_DEVICES"

var ErrNoDevices = errors.New("no local devices found")

// NNodes resolves the node count. fromHostfile is the number of hosts in
// the host list (0 when there is none); fromArgs is empty, "n" or
// "min:max". When both are present the smaller wins.
func NNodes(fromHostfile int, fromArgs string) (int, error) {
	n := fromHostfile
	if fromArgs != "" {
		first, _, _ := strings.Cut(fromArgs, ":")
		v, err := strconv.Atoi(strings.TrimSpace(first))
		if err != nil || v < 1 {
			return 0, fmt.Errorf("invalid node count %q", fromArgs)
		}
		if n == 0 || v < n {
			n = v
		}
	}
	if n == 0 {
		n = 1
	}
	return n, nil
}

// NProcPerNode returns the smallest positive value, or 1 when none is set.
func NProcPerNode(fromHostfile, fromArgs, visibleDevices int) int {
	n := 0
	for _, v := range []int{fromHostfile, fromArgs, visibleDevices} {
		if v > 0 && (n == 0 || v < n) {
			n = v
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

// VisibleDevices counts the entries of env (the value of
// CUDA_VISIBLE_DEVICES) or, when it is empty, asks the provider.
func VisibleDevices(env string, provider domain.DeviceProvider) (int, error) {
	if env = strings.TrimSpace(env); env != "" {
		n := 0
		for _, id := range strings.Split(env, ",") {
			if strings.TrimSpace(id) != "" {
				n++
			}
		}
		return n, nil
	}
	if provider == nil {
		return 0, nil
	}
	if err := provider.Init(); err != nil {
		return 0, err
	}
	defer provider.Shutdown()
	return provider.DeviceCount()
}

// LocalNodes describes this machine as a single-node list.
func LocalNodes(env string, provider domain.DeviceProvider) ([]slots.NodeSpec, error) {
	n, err := VisibleDevices(env, provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevices, err)
	}
	if n == 0 {
		return nil, ErrNoDevices
	}
	return []slots.NodeSpec{{
		Address: netutil.HostNameOrIP(),
		Slots:   &n,
		Type:    slots.DefaultResourceType,
	}}, nil
}

// DeviceEnv returns the environment assignment that pins a process to the
// given slot ids.
func DeviceEnv(slotIDs []int) string {
	ids := make([]string, len(slotIDs))
	for i, id := range slotIDs {
		ids[i] = strconv.Itoa(id)
	}
	return VisibleDevicesEnv + "=" + strings.Join(ids, ",")
}

// Topology is the resolved launch plan. MasterPort is a free port on this
// host for the rendezvous.
type Topology struct {
	NNodes       int
	NProcPerNode int
	Master       string
	MasterPort   int
	MasterLocal  bool
}

// WorldSize is the total number of processes.
func (t Topology) WorldSize() int {
	return t.NNodes * t.NProcPerNode
}

// Plan resolves the topology for a node list. nnodesArg and nprocArg are
// the optional command-line values; visible is the local device count.
func Plan(specs []slots.NodeSpec, master, nnodesArg string, nprocArg, visible int) (Topology, error) {
	nnodes, err := NNodes(len(specs), nnodesArg)
	if err != nil {
		return Topology{}, err
	}

	fromHostfile := 0
	for _, s := range specs {
		if s.Slots != nil && *s.Slots > 0 && (fromHostfile == 0 || *s.Slots < fromHostfile) {
			fromHostfile = *s.Slots
		}
	}

	if master == "" && len(specs) > 0 {
		master = specs[0].Address
	}
	if master == "" {
		master = netutil.HostNameOrIP()
	}

	port, err := netutil.FreePort()
	if err != nil {
		return Topology{}, fmt.Errorf("failed to pick master port: %w", err)
	}

	return Topology{
		NNodes:       nnodes,
		NProcPerNode: NProcPerNode(fromHostfile, nprocArg, visible),
		Master:       master,
		MasterPort:   port,
		MasterLocal:  netutil.IsLocal(master),
	}, nil
}
