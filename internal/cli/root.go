// Package cli implements the launcher command line.
package cli

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/worldland/worldland-launcher/internal/adapters/mtls"
	"github.com/worldland/worldland-launcher/internal/adapters/nvml"
	"github.com/worldland/worldland-launcher/internal/config"
	"github.com/worldland/worldland-launcher/internal/domain"
	"github.com/worldland/worldland-launcher/internal/hostfile"
	"github.com/worldland/worldland-launcher/internal/launcher"
	"github.com/worldland/worldland-launcher/internal/logging"
	"github.com/worldland/worldland-launcher/internal/slots"
)

// newDeviceProvider is swapped out in tests.
var newDeviceProvider = func() domain.DeviceProvider {
	return nvml.NewNVMLProvider()
}

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	hostfile   string
	master     string
	tlsCert    string
	tlsKey     string
	tlsCA      string
}

// NewRootCommand builds the launcher command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "launcher",
		Short:         "Slot allocation and streaming inference benchmarks for GPU clusters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", logging.FormatText, "log format (text or json)")
	flags.StringVar(&opts.hostfile, "hostfile", "", "host list file (<host> slots=<n> [type=<t>])")
	flags.StringVar(&opts.master, "master", "", "master node address (default: first host)")
	flags.StringVar(&opts.tlsCert, "tls-cert", "", "certificate for mutual TLS with the slot server")
	flags.StringVar(&opts.tlsKey, "tls-key", "", "private key for --tls-cert")
	flags.StringVar(&opts.tlsCA, "tls-ca", "", "CA that signs both server and client certificates")

	cmd.AddCommand(
		newStatusCommand(opts),
		newAllocateCommand(opts),
		newServeCommand(opts),
		newBenchCommand(opts),
		newPreflightCommand(opts),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, lets flags that were set explicitly
// override it, validates the result and builds the logger.
func loadConfig(cmd *cobra.Command, opts *rootOptions, apply func(*config.Config)) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if flags.Changed("hostfile") {
		cfg.Hostfile = opts.hostfile
	}
	if flags.Changed("master") {
		cfg.Allocator.Master = opts.master
	}
	if flags.Changed("tls-cert") {
		cfg.Serve.TLSCert = opts.tlsCert
	}
	if flags.Changed("tls-key") {
		cfg.Serve.TLSKey = opts.tlsKey
	}
	if flags.Changed("tls-ca") {
		cfg.Serve.TLSCA = opts.tlsCA
	}
	if apply != nil {
		apply(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	log, err := logging.NewWithOutput(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return &cfg, log, nil
}

// loadNodes returns the host list, or this machine when there is none.
func loadNodes(cfg *config.Config, log logrus.FieldLogger) ([]slots.NodeSpec, error) {
	specs, err := hostfile.ParseFile(cfg.Hostfile, log)
	if err != nil {
		return nil, err
	}
	if specs != nil {
		return specs, nil
	}
	return launcher.LocalNodes(os.Getenv(launcher.VisibleDevicesEnv), newDeviceProvider())
}

func newAllocator(cfg *config.Config, specs []slots.NodeSpec, log logrus.FieldLogger) (*slots.Allocator, error) {
	opts := []slots.Option{slots.WithLogger(log)}
	if cfg.Allocator.Master != "" {
		opts = append(opts, slots.WithMaster(cfg.Allocator.Master))
	}
	return slots.New(specs, opts...)
}

// clientTLS returns the mutual TLS client config, or nil when the serve
// section has no TLS files.
func clientTLS(cfg *config.Config) (*tls.Config, error) {
	files := mtls.Files{Cert: cfg.Serve.TLSCert, Key: cfg.Serve.TLSKey, CA: cfg.Serve.TLSCA}
	if !files.Enabled() {
		return nil, nil
	}
	return mtls.ClientConfig(files)
}
