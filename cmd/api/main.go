package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/bilgece/retrieval/internal/adapters/http"
	"github.com/bilgece/retrieval/internal/bootstrap"
	"github.com/bilgece/retrieval/internal/config"
	"github.com/bilgece/retrieval/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logging.Setup("bilgece-retrieval", cfg.PipelineVersion, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	go func() {
		if err := app.StartInvalidationListener(ctx); err != nil {
			slog.Error("invalidation_listener_stopped", "error", err)
		}
	}()

	router := httpadapter.NewRouter(app.SearchUC, app.Invalidator, app.Health, app.Metrics, httpadapter.RouterConfig{
		Service:          "api",
		RateLimitRPS:     cfg.APIRateLimitRPS,
		RateLimitBurst:   cfg.APIRateLimitBurst,
		MaxConcurrent:    cfg.MaxConcurrentSearches,
		AdmissionMaxWait: time.Duration(cfg.AdmissionMaxWaitMS) * time.Millisecond,
	}).Handler()

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_error", "error", err)
	}
}
