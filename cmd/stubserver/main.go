// Command stubserver runs the local age-assurance stub so the demo CLI
// and manual testing work without the real vendor.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"playgate/internal/platform/config"
	"playgate/internal/platform/httpserver"
	"playgate/internal/platform/logger"
	"playgate/internal/stubservice"
)

func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("stub server exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg := config.ServerFromEnv()

	svc, err := stubservice.New(stubservice.Config{
		APIKey:     cfg.APIKey,
		SigningKey: cfg.TokenSigningKey,
	}, stubservice.WithLogger(log))
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Mount("/api/v1", svc.Router())
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("stub service listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
