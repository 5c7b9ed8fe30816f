package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/worldland/worldland-launcher/internal/launcher"
	"github.com/worldland/worldland-launcher/internal/slots"
)

type statusOptions struct {
	server       string
	nnodes       string
	nprocPerNode int
	devices      bool
	json         bool
}

type statusOutput struct {
	Master   string             `json:"master"`
	Nodes    []slots.NodeStatus `json:"nodes"`
	Topology *topologyOutput    `json:"topology,omitempty"`
}

type topologyOutput struct {
	NNodes       int  `json:"nnodes"`
	NProcPerNode int  `json:"nproc_per_node"`
	WorldSize    int  `json:"world_size"`
	MasterPort   int  `json:"master_port"`
	MasterLocal  bool `json:"master_local"`
}

func newStatusCommand(root *rootOptions) *cobra.Command {
	opts := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show node capacity and the resolved launch topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", "", "query a running slot server instead of the local host list")
	flags.StringVar(&opts.nnodes, "nnodes", "", "requested node count, n or min:max")
	flags.IntVar(&opts.nprocPerNode, "nproc-per-node", 0, "requested processes per node")
	flags.BoolVar(&opts.devices, "devices", false, "also list local accelerators")
	flags.BoolVar(&opts.json, "json", false, "print JSON instead of tables")
	return cmd
}

func runStatus(cmd *cobra.Command, root *rootOptions, opts *statusOptions) error {
	cfg, log, err := loadConfig(cmd, root, nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if opts.server != "" {
		tlsConfig, err := clientTLS(cfg)
		if err != nil {
			return err
		}
		status, err := NewSlotClient(opts.server, tlsConfig).Status(cmd.Context())
		if err != nil {
			return err
		}
		if opts.json {
			return writeJSON(cmd, statusOutput{Master: status.Master, Nodes: status.Nodes})
		}
		PrintNodesTable(out, status.Master, status.Nodes)
		return nil
	}

	specs, err := loadNodes(cfg, log)
	if err != nil {
		return err
	}
	allocator, err := newAllocator(cfg, specs, log)
	if err != nil {
		return err
	}

	visible, err := launcher.VisibleDevices(os.Getenv(launcher.VisibleDevicesEnv), newDeviceProvider())
	if err != nil {
		log.WithError(err).Debug("local device count unavailable")
	}
	topo, err := launcher.Plan(specs, allocator.Master(), opts.nnodes, opts.nprocPerNode, visible)
	if err != nil {
		return err
	}

	if opts.json {
		return writeJSON(cmd, statusOutput{
			Master: allocator.Master(),
			Nodes:  allocator.Snapshot(),
			Topology: &topologyOutput{
				NNodes:       topo.NNodes,
				NProcPerNode: topo.NProcPerNode,
				WorldSize:    topo.WorldSize(),
				MasterPort:   topo.MasterPort,
				MasterLocal:  topo.MasterLocal,
			},
		})
	}

	PrintNodesTable(out, allocator.Master(), allocator.Snapshot())
	PrintTopology(out, topo)

	if opts.devices {
		provider := newDeviceProvider()
		if err := provider.Init(); err != nil {
			PrintError(out, err.Error())
			return nil
		}
		defer provider.Shutdown()
		devices, err := provider.Devices()
		if err != nil {
			return err
		}
		PrintDevices(out, devices)
	}
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
