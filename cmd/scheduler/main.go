package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"callflow_backend/internal/bootstrap"
	"callflow_backend/internal/scheduler"
	"callflow_backend/platform/config"
	"callflow_backend/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "queue", cfg.GetAsynqQueueName())

	if cfg.GetCallStore() == "memory" {
		panic("scheduler requires CALL_STORE=postgres")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{Notifications: true})
	if err != nil {
		log.Error("failed to initialize runtime", "error", err)
		panic("failed to initialize runtime: " + err.Error())
	}
	defer rt.Close()

	worker, err := scheduler.NewWorker(cfg, rt.Processor, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
	rt.EventBus.Wait()
	log.Info("scheduler stopped")
}
