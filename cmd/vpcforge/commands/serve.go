package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/vpcforge/pkg/api"
	"github.com/openfroyo/vpcforge/pkg/policy"
)

func newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the provisioning API over HTTP",
		Long: `Serve the provisioning API over HTTP.

  GET  /?name=<name>   query one record (vpc_name is accepted too)
  GET  /               list all ready records
  POST /               provision a network and its subdivisions
  GET  /healthz        record store health
  GET  /metrics        Prometheus metrics

Policy files configured under policy.paths are reloaded on change when
policy.watch is set.`,
		Example: `  # Serve with the default configuration
  vpcforge serve

  # Serve on another address
  vpcforge serve --listen 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			cfg := rt.cfg
			if listen != "" {
				cfg.Server.Listen = listen
			}
			log := rt.tel.Logger.NewComponentLogger("server")

			if cfg.Policy.Watch && len(cfg.Policy.Paths) > 0 {
				loader := policy.NewLoader(log.Zerolog())
				reload := func(policies []policy.Policy) error {
					return rt.policy.ReplacePolicies(ctx, policies)
				}
				if err := loader.Watch(ctx, cfg.Policy.Paths, reload); err != nil {
					return fmt.Errorf("failed to watch policies: %w", err)
				}
				defer func() { _ = loader.StopWatching() }()
			}

			metricsPath := cfg.Telemetry.Metrics.Path
			if metricsPath == "" {
				metricsPath = "/metrics"
			}

			mux := http.NewServeMux()
			mux.Handle("/", api.NewHandler(rt.engine, rt.tel.Logger))
			mux.Handle(metricsPath, rt.tel.Metrics.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				if err := rt.store.HealthCheck(r.Context()); err != nil {
					http.Error(w, err.Error(), http.StatusServiceUnavailable)
					return
				}
				w.WriteHeader(http.StatusOK)
			})

			srv := &http.Server{
				Addr:              cfg.Server.Listen,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       cfg.Server.ReadTimeout,
				WriteTimeout:      cfg.Server.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				log.WithField("listen", cfg.Server.Listen).Info("Serving provisioning API")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			log.Info("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")

	return cmd
}
