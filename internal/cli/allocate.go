package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/worldland/worldland-launcher/internal/api"
	"github.com/worldland/worldland-launcher/internal/cliargs"
	"github.com/worldland/worldland-launcher/internal/launcher"
	"github.com/worldland/worldland-launcher/internal/netutil"
	"github.com/worldland/worldland-launcher/internal/remote"
	"github.com/worldland/worldland-launcher/internal/slots"
)

type allocateOptions struct {
	count        int
	repeat       int
	resourceType string
	address      string
	server       string
	exec         string
	argsFile     string
	argsStyle    string
	deviceType   string
	copies       []string
	sshPort      int
	dryRun       bool
}

const (
	argsStyleFlags = "flags"
	argsStyleHydra = "hydra"
)

type copySpec struct {
	src string
	dst string
}

// parseCopies splits each "src:dst" value.
func parseCopies(values []string) ([]copySpec, error) {
	copies := make([]copySpec, 0, len(values))
	for _, v := range values {
		src, dst, ok := strings.Cut(v, ":")
		if !ok || src == "" || dst == "" {
			return nil, fmt.Errorf("invalid --copy %q, want src:dst", v)
		}
		copies = append(copies, copySpec{src: src, dst: dst})
	}
	return copies, nil
}

func newAllocateCommand(root *rootOptions) *cobra.Command {
	opts := &allocateOptions{}

	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Allocate slots and optionally run a command pinned to them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAllocate(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&opts.count, "count", "n", 1, "slots per allocation")
	flags.IntVar(&opts.repeat, "repeat", 1, "number of allocations")
	flags.StringVar(&opts.resourceType, "type", "", "resource type (default from config)")
	flags.StringVar(&opts.address, "address", slots.AutoAddress, "node to allocate on, or auto")
	flags.StringVar(&opts.server, "server", "", "allocate from a running slot server")
	flags.StringVar(&opts.exec, "exec", "", "command to run on the owning node of each allocation")
	flags.StringVar(&opts.argsFile, "args-file", "", "YAML file flattened into --exec arguments")
	flags.StringVar(&opts.argsStyle, "args-style", argsStyleFlags, "how --args-file is flattened: flags or hydra")
	flags.StringVar(&opts.deviceType, "device-type", "", "device section of --args-file to apply")
	flags.StringArrayVar(&opts.copies, "copy", nil, "src:dst to copy to remote nodes before --exec (repeatable)")
	flags.IntVar(&opts.sshPort, "ssh-port", 0, "ssh port for remote nodes")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "print commands instead of running them")
	return cmd
}

func runAllocate(cmd *cobra.Command, root *rootOptions, opts *allocateOptions) error {
	if opts.repeat < 1 {
		return fmt.Errorf("--repeat must be at least 1, got %d", opts.repeat)
	}
	if opts.argsStyle != argsStyleFlags && opts.argsStyle != argsStyleHydra {
		return fmt.Errorf("unknown --args-style %q, want %s or %s", opts.argsStyle, argsStyleFlags, argsStyleHydra)
	}
	copies, err := parseCopies(opts.copies)
	if err != nil {
		return err
	}

	cfg, log, err := loadConfig(cmd, root, nil)
	if err != nil {
		return err
	}
	resourceType := opts.resourceType
	if resourceType == "" {
		resourceType = cfg.Allocator.ResourceType
	}

	var extraArgs []string
	if opts.argsFile != "" {
		if extraArgs, err = loadArgs(opts.argsFile, opts.deviceType, opts.argsStyle); err != nil {
			return err
		}
	}

	var allocate func() (slots.Allocation, error)
	if opts.server != "" {
		tlsConfig, err := clientTLS(cfg)
		if err != nil {
			return err
		}
		client := NewSlotClient(opts.server, tlsConfig)
		req := api.AllocateRequest{Type: resourceType, Address: opts.address, Count: opts.count}
		allocate = func() (slots.Allocation, error) {
			a, err := client.Allocate(cmd.Context(), req)
			if err != nil {
				return slots.Allocation{}, err
			}
			return *a, nil
		}
	} else {
		specs, err := loadNodes(cfg, log)
		if err != nil {
			return err
		}
		allocator, err := newAllocator(cfg, specs, log)
		if err != nil {
			return err
		}
		allocate = func() (slots.Allocation, error) {
			return allocator.Allocate(resourceType, opts.address, opts.count)
		}
	}

	out := cmd.OutOrStdout()
	runner := remote.NewRunner(opts.dryRun, log)
	runner.Stdout = out
	runner.Stderr = cmd.ErrOrStderr()

	PrintHeader(out, "Allocations")
	for i := 0; i < opts.repeat; i++ {
		alloc, err := allocate()
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && len(apiErr.Nodes) > 0 {
				PrintNodesTable(out, "", apiErr.Nodes)
			}
			return fmt.Errorf("allocation %d of %d: %w", i+1, opts.repeat, err)
		}
		PrintAllocation(out, alloc)

		if opts.exec == "" {
			continue
		}
		command := BuildCommand(opts.exec, alloc.SlotIDs, extraArgs)
		entry := log.WithFields(logrus.Fields{"address": alloc.Address, "slots": alloc.SlotIDs})
		if netutil.IsLocal(alloc.Address) {
			entry.Info("running command locally")
			err = runner.RunLocal(cmd.Context(), command)
		} else {
			for _, c := range copies {
				entry.WithField("src", c.src).Info("copying to node")
				if err := runner.CopySCP(cmd.Context(), alloc.Address, opts.sshPort, c.src, c.dst); err != nil {
					return err
				}
			}
			entry.Info("starting command over ssh")
			err = runner.RunSSH(cmd.Context(), alloc.Address, opts.sshPort, command)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// BuildCommand pins exec to the given slots and appends args, each quoted
// for bash.
func BuildCommand(exec string, slotIDs []int, args []string) string {
	parts := []string{launcher.DeviceEnv(slotIDs), exec}
	for _, a := range args {
		parts = append(parts, remote.Quote(a))
	}
	return strings.Join(parts, " ")
}

func loadArgs(path, deviceType, style string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read args file: %w", err)
	}
	doc, err := cliargs.Parse(data)
	if err != nil {
		return nil, err
	}
	node, err := cliargs.ForDevice(doc, deviceType)
	if err != nil {
		return nil, err
	}
	if style == argsStyleHydra {
		return cliargs.FlattenOverrides(node)
	}
	return cliargs.Flatten(node)
}
