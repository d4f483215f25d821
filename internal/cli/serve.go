package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"swarmfuse/internal/config"
	"swarmfuse/internal/httpapi"
	"swarmfuse/internal/otel"
)

func newServeCmd() *cobra.Command {
	var (
		addr       string
		dbDriver   string
		dbURL      string
		enableOtel bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only HTTP API (sessions, tasks, reports, SSE)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)

			var metricsHandler http.Handler
			if enableOtel {
				h, err := otel.InitMeterProvider(ctx, "swarmfuse")
				if err != nil {
					return err
				}
				metricsHandler = h
			}

			app, err := httpapi.NewApp(httpapi.ServerOptions{
				Home:           home,
				Addr:           addr,
				DBDriver:       dbDriver,
				DBURL:          dbURL,
				MetricsHandler: metricsHandler,
			})
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if enableOtel {
				if err := otel.InitMetricsWithTaskCount(ctx, taskCounter(app)); err != nil {
					return err
				}
			}

			errCh := make(chan error, 1)
			go func() { errCh <- app.Server.ListenAndServe() }()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", app.Server.Addr)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return app.Server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:3584", "Listen address")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics with the Prometheus exporter on /metrics")

	return cmd
}

// taskCounter aggregates task counts across every session for the gauge
// callback. Errors are swallowed; a scrape never fails the server.
func taskCounter(app *httpapi.App) otel.TaskCountFunc {
	return func() (pending, inProgress, completed, blocked int64) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sessions, err := app.Store.ListSessions(ctx)
		if err != nil {
			return 0, 0, 0, 0
		}
		for _, s := range sessions {
			counts, err := app.Store.CountTasksByStatus(ctx, s.Name)
			if err != nil {
				continue
			}
			pending += int64(counts["pending"])
			inProgress += int64(counts["in_progress"])
			completed += int64(counts["completed"])
			blocked += int64(counts["blocked"])
		}
		return pending, inProgress, completed, blocked
	}
}
