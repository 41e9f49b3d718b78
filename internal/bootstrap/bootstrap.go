// Package bootstrap wires the call processing runtime shared by the API, the
// worker and the operator CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"callflow_backend/internal/calls"
	"callflow_backend/internal/crm"
	"callflow_backend/internal/decision"
	"callflow_backend/internal/email"
	"callflow_backend/internal/events"
	"callflow_backend/internal/executor"
	"callflow_backend/internal/extractor"
	"callflow_backend/internal/notification"
	"callflow_backend/internal/processor"
	"callflow_backend/internal/voicegateway"
	"callflow_backend/platform/ai/chatmodel"
	"callflow_backend/platform/config"
	"callflow_backend/platform/db"
	"callflow_backend/platform/lock"
	"callflow_backend/platform/logger"
	"callflow_backend/platform/storage"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Options selects the optional parts of the runtime.
type Options struct {
	// Migrate applies pending migrations before the pool is opened.
	Migrate bool
	// Notifications subscribes the alert mailer to the event bus.
	Notifications bool
}

// Runtime holds the initialized processing dependencies.
type Runtime struct {
	Config    *config.Config
	Log       *logger.Logger
	Pool      *pgxpool.Pool
	Store     calls.Store
	EventBus  *events.InMemoryBus
	Redis     *redis.Client
	Archive   *storage.MinIOService
	Processor *processor.Processor

	closers []func()
}

// Close releases every resource in reverse order of acquisition.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Build connects infrastructure and assembles the processor. Failures to reach
// the database are fatal; Redis and MinIO degrade to local fallbacks.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Log: log}

	if err := rt.initStore(ctx, opts); err != nil {
		rt.Close()
		return nil, err
	}

	rt.EventBus = events.NewInMemoryBus(log)
	if opts.Notifications {
		notification.New(email.NewSender(cfg), cfg.GetAlertRecipients(), log).RegisterHandlers(rt.EventBus)
		if !cfg.IsAlertEmailEnabled() {
			log.Warn("SMTP not configured; call failure alerts disabled")
		}
	}

	locker := rt.initLocker(ctx)
	rt.initArchive(ctx)

	decider, err := newDecider(cfg, log)
	if err != nil {
		rt.Close()
		return nil, err
	}

	taxonomy, err := loadTaxonomy(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	if !cfg.IsCRMEnabled() {
		log.Warn("CRM_BASE_URL not configured; CRM actions will fail")
	}
	exec := executor.New(crm.New(cfg, log), rt.Store, taxonomy, log)

	deps := processor.Deps{
		Store:     rt.Store,
		Locker:    locker,
		Decider:   decider,
		Extractor: extractor.New(extractorConfig(cfg)),
		Executor:  exec,
		EventBus:  rt.EventBus,
		Log:       log,
	}
	if cfg.IsGatewayEnabled() {
		deps.Gateway = voicegateway.New(cfg, log)
	} else {
		log.Warn("GATEWAY_BASE_URL not configured; calls without transcript will fail")
	}
	if rt.Archive != nil {
		deps.Archive = rt.Archive
	}

	proc, err := processor.New(deps, processor.Config{
		LockTTL:         cfg.GetLockTTL(),
		ReprocessDelay:  cfg.GetReprocessDelay(),
		StuckOlderThan:  cfg.GetStuckOlderThan(),
		StuckBatchLimit: cfg.GetStuckBatchLimit(),
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Processor = proc
	return rt, nil
}

func (rt *Runtime) initStore(ctx context.Context, opts Options) error {
	cfg, log := rt.Config, rt.Log
	if cfg.GetCallStore() == "memory" {
		log.Warn("CALL_STORE=memory; call records are lost on restart")
		rt.Store = calls.NewMemoryRepository()
		return nil
	}

	if opts.Migrate {
		if err := WithRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
			return db.RunMigrations(ctx, cfg)
		}); err != nil {
			return fmt.Errorf("run database migrations: %w", err)
		}
		log.Info("database migrations complete")
	}

	if err := WithRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		rt.Pool = p
		return nil
	}); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	rt.closers = append(rt.closers, rt.Pool.Close)
	log.Info("database connection established")

	rt.Store = calls.NewRepository(rt.Pool)
	return nil
}

func (rt *Runtime) initLocker(ctx context.Context) lock.Locker {
	cfg, log := rt.Config, rt.Log
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; call locks are local to this process")
		return lock.NewLocalLocker()
	}

	rdb, err := lock.OpenRedis(ctx, cfg.GetRedisURL(), cfg.GetRedisTLSInsecure())
	if err != nil {
		log.Error("failed to connect to redis; call locks are local to this process", "error", err)
		return lock.NewLocalLocker()
	}
	rt.Redis = rdb
	rt.closers = append(rt.closers, func() { _ = rdb.Close() })
	return lock.NewRedisLocker(rdb)
}

func (rt *Runtime) initArchive(ctx context.Context) {
	cfg, log := rt.Config, rt.Log
	if !cfg.IsMinIOEnabled() {
		log.Info("MinIO not configured; raw webhook payloads are not archived")
		return
	}

	svc, err := storage.NewMinIOService(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		return
	}
	if err := WithRetry(ctx, log, "ensure call-payloads bucket", 3, time.Second, func() error {
		return svc.EnsureBucketExists(ctx)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", svc.Bucket())
		return
	}
	rt.Archive = svc
	log.Info("storage service initialized", "bucket", svc.Bucket())
}

func newDecider(cfg config.ClassifierConfig, log *logger.Logger) (decision.Decider, error) {
	if !cfg.IsClassifierEnabled() {
		log.Warn("CLASSIFIER_API_KEY not configured; every call gets the fallback decision")
		return decision.Unconfigured{}, nil
	}

	llm := chatmodel.NewModel(chatmodel.Config{
		APIKey:   cfg.GetClassifierAPIKey(),
		BaseURL:  cfg.GetClassifierBaseURL(),
		Model:    cfg.GetClassifierModel(),
		JSONMode: true,
		Timeout:  cfg.GetClassifierTimeout(),
	})
	engine, err := decision.NewEngine(llm, decision.EngineConfig{Timeout: cfg.GetClassifierTimeout()}, log)
	if err != nil {
		return nil, fmt.Errorf("initialize decision engine: %w", err)
	}
	log.Info("decision engine initialized", "model", llm.Name())
	return engine, nil
}

func loadTaxonomy(cfg config.ClassifierConfig) (*decision.Taxonomy, error) {
	path := cfg.GetTaxonomyFile()
	if path == "" {
		return decision.DefaultTaxonomy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy file: %w", err)
	}
	return decision.LoadTaxonomy(data)
}

func extractorConfig(cfg config.MatchingConfig) extractor.Config {
	return extractor.Config{
		ExactThreshold: cfg.GetExactMatchThreshold(),
		MatchThreshold: cfg.GetMatchThreshold(),
		Ambiguity:      extractor.ParseAmbiguityPolicy(cfg.GetMatchAmbiguityPolicy()),
	}
}

// WithRetry runs fn up to attempts times with quadratic backoff.
func WithRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
