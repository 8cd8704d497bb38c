package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mehular0ra/forge/internal/component"
	"github.com/mehular0ra/forge/internal/config"
	"github.com/mehular0ra/forge/internal/logger"
	"github.com/mehular0ra/forge/internal/tracer"
	"github.com/mehular0ra/forge/internal/web"
)

func main() {
	cfg := config.GetConfig()
	logger.Init(cfg.SERVICE_NAME)

	ctx := context.Background()

	if cfg.TRACE_URL != "" {
		shutdown := tracer.InitTracer(ctx, cfg.SERVICE_NAME, cfg.TRACE_URL)
		defer shutdown()
	}

	comp, err := component.GetNewComponents(ctx)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("component wiring failed")
	}
	defer comp.Close()

	server := web.NewServer(comp.Orchestrator, comp.Pipeline)

	srv := &http.Server{
		Addr:    cfg.HTTP_ADDR,
		Handler: otelhttp.NewHandler(server.Router(), "http"),
		// Write timeout covers LLM-backed generation end to end.
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      200 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Log.Info().Str("addr", cfg.HTTP_ADDR).Msg("HTTP server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Log.Info().Msg("server stopped")
}
