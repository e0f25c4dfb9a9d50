package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/armorclaw/crashreport/internal/app"
	"github.com/armorclaw/crashreport/pkg/capture"
	"github.com/armorclaw/crashreport/pkg/metrics"
	"github.com/armorclaw/crashreport/pkg/middleware"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server with crash reporting enabled",
		Long: `Run an HTTP server whose routes are wrapped by the crash reporter.

Besides /healthz and the metrics endpoint the server exposes /debug/panic and
/debug/error, which fail on purpose so the reporting chain can be checked end
to end. The spool flusher and the artifact janitor run alongside.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, addr string) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Run(ctx)
	})
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newRouter(a *app.App) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle(a.Config.Server.MetricsPath, metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.Reporter.Handler)

		r.Get("/debug/panic", func(w http.ResponseWriter, r *http.Request) {
			panic("deliberate panic from /debug/panic")
		})
		r.Get("/debug/error", middleware.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			return errors.New("deliberate error from /debug/error")
		}).ServeHTTP)
		r.Get("/debug/notfound", middleware.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			return capture.NewStatusError(http.StatusNotFound, errors.New("nothing here"))
		}).ServeHTTP)
	})

	return r
}
