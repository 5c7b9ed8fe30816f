package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/worldland/worldland-launcher/internal/adapters/mtls"
	"github.com/worldland/worldland-launcher/internal/api"
	"github.com/worldland/worldland-launcher/internal/config"
	"github.com/worldland/worldland-launcher/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve slot status, allocation and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, root, func(c *config.Config) {
				if cmd.Flags().Changed("addr") {
					c.Serve.Addr = addr
				}
			})
			if err != nil {
				return err
			}

			server, err := newSlotServer(cfg, log)
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", cfg.Serve.Addr)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), server, ln, log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8444", "listen address")
	return cmd
}

// newSlotServer wires the allocator, API handler and metrics into an
// http.Server. TLS is enabled when the serve section names certificates.
func newSlotServer(cfg *config.Config, log logrus.FieldLogger) (*http.Server, error) {
	specs, err := loadNodes(cfg, log)
	if err != nil {
		return nil, err
	}
	allocator, err := newAllocator(cfg, specs, log)
	if err != nil {
		return nil, err
	}

	counter := telemetry.NewAllocationCounter()
	registry := telemetry.NewRegistry(telemetry.NewSlotCollector(allocator), counter)

	mux := http.NewServeMux()
	api.NewSlotHandler(allocator, counter, log).Register(mux)
	mux.Handle("/metrics", telemetry.Handler(registry))

	server := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	files := mtls.Files{Cert: cfg.Serve.TLSCert, Key: cfg.Serve.TLSKey, CA: cfg.Serve.TLSCA}
	if files.Enabled() {
		if server.TLSConfig, err = mtls.ServerConfig(files); err != nil {
			return nil, err
		}
	}

	log.WithFields(logrus.Fields{
		"nodes":  len(specs),
		"master": allocator.Master(),
	}).Info("slot allocator ready")
	return server, nil
}

// serve runs server on ln until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, server *http.Server, ln net.Listener, log logrus.FieldLogger) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if server.TLSConfig != nil {
			log.WithField("addr", ln.Addr().String()).Info("starting slot API server (mTLS)")
			err = server.ServeTLS(ln, "", "")
		} else {
			log.WithField("addr", ln.Addr().String()).Info("starting slot API server")
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
