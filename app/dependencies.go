package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/image-gateway/config"
	"github.com/upb/image-gateway/handlers"
	"github.com/upb/image-gateway/repositories"
	"github.com/upb/image-gateway/repositories/postgres"
	"github.com/upb/image-gateway/services/catalog"
	"github.com/upb/image-gateway/services/generation"
	"github.com/upb/image-gateway/services/history"
	"github.com/upb/image-gateway/services/jobs"
	"github.com/upb/image-gateway/services/memo"
	"github.com/upb/image-gateway/services/providers"
	"github.com/upb/image-gateway/services/providers/replicate"
	"github.com/upb/image-gateway/services/selection"
	"github.com/upb/image-gateway/services/versions"
	"go.uber.org/zap"
)

// memoCleanupInterval is how often expired process-local failure records are swept
const memoCleanupInterval = time.Minute

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB  // nil when history is disabled
	Redis  *redis.Client // nil when the failure memo is process-local
	Logger *zap.Logger

	// Repositories
	Generations repositories.GenerationRepository

	// Services
	Provider     providers.Client
	Catalog      *catalog.Catalog
	Memo         memo.FailureMemo
	Resolver     *versions.Resolver
	Jobs         *jobs.Client
	Selector     *selection.Selector
	Orchestrator *generation.Orchestrator
	History      *history.Service // nil when history is disabled

	// Handlers
	GenerationHandler *handlers.GenerationHandler
	CandidatesHandler *handlers.CandidatesHandler
	HealthHandler     *handlers.HealthHandler

	stopCleanup chan struct{}
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	return NewDependenciesWithProvider(ctx, cfg, replicate.NewAdapter(providers.ProviderConfig{
		APIToken: cfg.Provider.APIToken,
		BaseURL:  cfg.Provider.BaseURL,
		Timeout:  cfg.Provider.Timeout,
	}), logger)
}

// NewDependenciesWithProvider wires the application around the given provider client
func NewDependenciesWithProvider(ctx context.Context, cfg *config.Config, provider providers.Client, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		Provider:    provider,
		stopCleanup: make(chan struct{}),
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initMemo(ctx, cfg); err != nil {
		deps.closeInfrastructure()
		return nil, fmt.Errorf("failed to initialize failure memo: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		deps.closeInfrastructure()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully",
		zap.String("provider", provider.Name()),
		zap.Int("candidates", deps.Catalog.Len()),
		zap.Bool("history_enabled", deps.History != nil),
		zap.Bool("shared_failure_cache", deps.Redis != nil))
	return deps, nil
}

// initDatabase opens the history database when one is configured
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.HistoryEnabled() {
		d.Logger.Info("no database configured, generation history disabled")
		return nil
	}

	db, err := postgres.NewDB(*cfg.Database, d.Logger)
	if err != nil {
		return err
	}

	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.DB = db
	d.Generations = postgres.NewGenerationRepository(db, d.Logger)
	return nil
}

// initMemo selects the shared or the process-local failure memo
func (d *Dependencies) initMemo(ctx context.Context, cfg *config.Config) error {
	if cfg.Redis == nil {
		local := memo.NewLocalMemo()
		go local.StartCleanupWorker(memoCleanupInterval, d.stopCleanup)
		d.Memo = local
		d.Logger.Info("using process-local failure memo")
		return nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("invalid failure cache URL: %w", err)
	}
	client := redis.NewClient(opts)

	shared := memo.NewRedisMemo(client, d.Logger,
		memo.WithKeyPrefix(cfg.Redis.KeyPrefix),
		memo.WithOpTimeout(cfg.Redis.OpTimeout))

	// An unreachable store at startup is not fatal; the memo falls back per operation
	if err := shared.Ping(ctx); err != nil {
		d.Logger.Warn("failure cache unreachable at startup",
			zap.String("connection", cfg.Redis.LogString()),
			zap.Error(err))
	}

	go shared.Fallback().StartCleanupWorker(memoCleanupInterval, d.stopCleanup)

	d.Redis = client
	d.Memo = shared
	d.Logger.Info("using shared failure memo", zap.String("connection", cfg.Redis.LogString()))
	return nil
}

// initServices builds the generation pipeline and the history recorder
func (d *Dependencies) initServices(cfg *config.Config) error {
	cat, err := catalog.New(cfg.Generation.Candidates)
	if err != nil {
		return err
	}
	if cat.Len() == 0 {
		d.Logger.Warn("no generation candidates configured")
	}
	d.Catalog = cat

	// metadata plus a version listing, each bounded by the provider timeout
	d.Resolver = versions.NewResolver(d.Provider, d.Logger, versions.WithFetchTimeout(2*cfg.Provider.Timeout))
	d.Jobs = jobs.NewClient(d.Provider, jobs.Config{
		PollInterval:        cfg.Generation.PollInterval,
		MaxPolls:            cfg.Generation.MaxPolls,
		RateLimitedPollWait: cfg.Generation.RateLimitedPollWait,
		SubmitRetries:       cfg.Generation.SubmitRetries,
		BackoffBase:         cfg.Generation.BackoffBase,
	}, d.Logger)
	d.Selector = selection.NewSelector(cat, d.Memo, d.Logger)

	var opts []generation.Option
	if d.Generations != nil {
		d.History = history.NewService(d.Generations, d.Logger, history.Config{
			BufferSize:   cfg.History.BufferSize,
			WorkerCount:  cfg.History.WorkerCount,
			WriteTimeout: history.DefaultConfig().WriteTimeout,
		})
		if err := d.History.Start(); err != nil {
			return err
		}
		opts = append(opts, generation.WithRecorder(d.History))
	}

	d.Orchestrator = generation.NewOrchestrator(d.Selector, d.Resolver, d.Jobs, d.Memo, generation.Config{
		BillingRequiredTTL: cfg.Generation.BillingRequiredTTL,
		RateLimitedTTL:     cfg.Generation.RateLimitedTTL,
	}, d.Logger, opts...)

	return nil
}

// initHandlers builds the HTTP handlers. Optional dependencies are passed as
// untyped nil so the handlers can detect their absence.
func (d *Dependencies) initHandlers() {
	var historyService handlers.HistoryService
	if d.History != nil {
		historyService = d.History
	}
	d.GenerationHandler = handlers.NewGenerationHandler(d.Orchestrator, historyService, d.Logger)
	d.CandidatesHandler = handlers.NewCandidatesHandler(d.Catalog, d.Memo, d.Logger)

	var db handlers.HealthChecker
	if d.DB != nil {
		db = d.DB
	}
	var cache handlers.Pinger
	if shared, ok := d.Memo.(*memo.RedisMemo); ok {
		cache = shared
	}
	d.HealthHandler = handlers.NewHealthHandler(db, cache, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain pending history records before the database goes away
	if d.History != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.History.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop history service: %w", err))
		}
	}

	errs = append(errs, d.closeInfrastructure()...)

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

func (d *Dependencies) closeInfrastructure() []error {
	var errs []error

	if d.stopCleanup != nil {
		close(d.stopCleanup)
		d.stopCleanup = nil
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close failure cache: %w", err))
		}
		d.Redis = nil
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.DB = nil
	}

	return errs
}
