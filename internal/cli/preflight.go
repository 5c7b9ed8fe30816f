package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/worldland/worldland-launcher/internal/hostfile"
	"github.com/worldland/worldland-launcher/internal/netutil"
	"github.com/worldland/worldland-launcher/internal/remote"
	"github.com/worldland/worldland-launcher/internal/setup"
)

func newPreflightCommand(root *rootOptions) *cobra.Command {
	var (
		sshPort int
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check local tools and ssh access to every remote host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, root, nil)
			if err != nil {
				return err
			}
			runner := remote.NewRunner(dryRun, log)

			result := setup.RunPreflight(cmd.Context(), runner, setup.DefaultChecks)

			specs, err := hostfile.ParseFile(cfg.Hostfile, log)
			if err != nil {
				return err
			}
			var remotes []string
			for _, s := range specs {
				if !netutil.IsLocal(s.Address) {
					remotes = append(remotes, s.Address)
				}
			}
			result.CheckHosts(cmd.Context(), runner, remotes, sshPort)

			out := cmd.OutOrStdout()
			PrintHeader(out, "Preflight")
			result.PrintStatus(out)

			var problems []string
			if missing := result.MissingComponents(); len(missing) > 0 {
				problems = append(problems, "missing "+strings.Join(missing, ", "))
			}
			if down := result.UnreachableHosts(); len(down) > 0 {
				problems = append(problems, "unreachable "+strings.Join(down, ", "))
			}
			if len(problems) > 0 {
				return fmt.Errorf("preflight failed: %s", strings.Join(problems, "; "))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&sshPort, "ssh-port", 0, "ssh port for remote hosts")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the ssh checks instead of running them")
	return cmd
}
