package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callflow_backend/internal/bootstrap"
	apphttp "callflow_backend/internal/http"
	"callflow_backend/internal/http/router"
	"callflow_backend/internal/processor"
	"callflow_backend/internal/scheduler"
	"callflow_backend/internal/webhook"
	"callflow_backend/platform/config"
	"callflow_backend/platform/db"
	"callflow_backend/platform/logger"
	"callflow_backend/platform/validator"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.GetHTTPAddr(), "callStore", cfg.GetCallStore())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	rt, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{Migrate: true, Notifications: true})
	if err != nil {
		log.Error("failed to initialize runtime", "error", err)
		panic("failed to initialize runtime: " + err.Error())
	}
	defer rt.Close()

	dispatcher, closeDispatcher := initDispatcher(cfg, rt.Processor, log)
	defer closeDispatcher()

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	keys := webhook.NewKeySet(cfg.GetWebhookAPIKeys())
	webhookModule := webhook.NewModule(rt.Processor, dispatcher, keys, val, log)
	adminModule := processor.NewModule(rt.Processor, rt.Store, val)
	if cfg.GetJWTAccessSecret() == "" {
		log.Warn("JWT_ACCESS_SECRET not configured; admin call endpoints disabled")
	}

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		EventBus: rt.EventBus,
		Modules: []apphttp.Module{
			webhookModule,
			adminModule,
		},
	}
	if rt.Pool != nil {
		app.Health = db.NewPoolAdapter(rt.Pool)
	}

	engine := router.New(app)

	srv := &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.GetHTTPAddr())
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initDispatcher queues calls on asynq when Redis is configured and runs them
// in this process otherwise. The returned func drains or closes it.
func initDispatcher(cfg *config.Config, proc *processor.Processor, log *logger.Logger) (processor.Dispatcher, func()) {
	switch {
	case cfg.GetCallStore() == "memory":
		log.Warn("in-memory call store is not shared with workers; calls are processed in the API process")
	case cfg.GetRedisURL() != "":
		client, err := scheduler.NewClient(cfg)
		if err == nil {
			log.Info("call processing queued on asynq", "queue", cfg.GetAsynqQueueName())
			return client, func() { _ = client.Close() }
		}
		log.Error("failed to initialize task queue client; processing in-process", "error", err)
	default:
		log.Warn("REDIS_URL not configured; calls are processed in the API process")
	}

	background := processor.NewBackgroundDispatcher(proc)
	return background, background.Wait
}
