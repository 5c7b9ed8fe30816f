package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/worldland/worldland-launcher/internal/domain"
	"github.com/worldland/worldland-launcher/internal/launcher"
	"github.com/worldland/worldland-launcher/internal/slots"
)

// PrintHeader prints a section header
func PrintHeader(w io.Writer, title string) {
	fmt.Fprintf(w, "\n=== %s ===\n", title)
}

// PrintField prints a labeled field
func PrintField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %-14s %s\n", label+":", value)
}

// PrintNodesTable displays nodes in a table format
func PrintNodesTable(w io.Writer, master string, nodes []slots.NodeStatus) {
	PrintHeader(w, fmt.Sprintf("Nodes (%d)", len(nodes)))

	if len(nodes) == 0 {
		fmt.Fprintln(w, "  (no nodes)")
		return
	}

	fmt.Fprintf(w, "  %-32s %-8s %6s %6s %9s\n", "Address", "Type", "Slots", "Used", "Available")
	fmt.Fprintf(w, "  %-32s %-8s %6s %6s %9s\n",
		strings.Repeat("-", 32), strings.Repeat("-", 8),
		strings.Repeat("-", 6), strings.Repeat("-", 6), strings.Repeat("-", 9))

	for _, n := range nodes {
		addr := n.Address
		if addr == master {
			addr += " *"
		}
		if len(addr) > 32 {
			addr = addr[:29] + "..."
		}
		fmt.Fprintf(w, "  %-32s %-8s %6d %6d %9d\n",
			addr, n.ResourceType, n.TotalSlots, n.UsedSlots, n.Available)
	}
}

// PrintTopology displays the resolved launch plan
func PrintTopology(w io.Writer, t launcher.Topology) {
	PrintHeader(w, "Topology")
	master := t.Master
	if t.MasterLocal {
		master += " (this host)"
	}
	PrintField(w, "Master", master)
	PrintField(w, "Master port", fmt.Sprint(t.MasterPort))
	PrintField(w, "Nodes", fmt.Sprint(t.NNodes))
	PrintField(w, "Procs/node", fmt.Sprint(t.NProcPerNode))
	PrintField(w, "World size", fmt.Sprint(t.WorldSize()))
}

// PrintDevices displays local accelerators
func PrintDevices(w io.Writer, devices []domain.Device) {
	PrintHeader(w, fmt.Sprintf("Local devices (%d)", len(devices)))
	for _, d := range devices {
		name := d.Name
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(w, "  [%d] %-24s %6d/%-6d MiB %3d%%\n",
			d.Index, name, d.MemoryUsed, d.MemoryTotal, d.Utilization)
	}
}

// PrintAllocation prints one granted allocation
func PrintAllocation(w io.Writer, a slots.Allocation) {
	ids := make([]string, len(a.SlotIDs))
	for i, id := range a.SlotIDs {
		ids[i] = fmt.Sprint(id)
	}
	fmt.Fprintf(w, "  %s: slots [%s]\n", a.Address, strings.Join(ids, ","))
}

// PrintError prints an error message
func PrintError(w io.Writer, message string) {
	fmt.Fprintf(w, "\nError: %s\n", message)
}
