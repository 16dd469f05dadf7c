package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"

	"github.com/miocrobos/habicht-directory/external/clubsite"
	"github.com/miocrobos/habicht-directory/internal/config"
	"github.com/miocrobos/habicht-directory/internal/domain/checkpoint"
	"github.com/miocrobos/habicht-directory/internal/domain/club"
	"github.com/miocrobos/habicht-directory/internal/infrastructure/checkpoint/file"
	"github.com/miocrobos/habicht-directory/internal/infrastructure/overrides"
	"github.com/miocrobos/habicht-directory/internal/infrastructure/repository/memory"
	"github.com/miocrobos/habicht-directory/internal/infrastructure/repository/postgres"
	"github.com/miocrobos/habicht-directory/internal/platform/logging"
	"github.com/miocrobos/habicht-directory/internal/platform/resilience"
	"github.com/miocrobos/habicht-directory/internal/usecase"
)

const dbPingTimeout = 5 * time.Second

// Options adjust how New assembles the application for one command.
type Options struct {
	// CheckpointPath overrides cfg.CheckpointPath.
	CheckpointPath string
	// Enrich forces the resolution chain on even when ENRICH_ENABLED is off.
	Enrich bool
	// Offline uses in-memory stores instead of Postgres. Nothing persists.
	Offline bool
}

// App holds the wired services for the clubsync commands.
type App struct {
	Config config.Config
	Logger *logging.Logger
	DB     *sqlx.DB

	Clubs       club.Repository
	Checkpoints checkpoint.Store
	Pipeline    *usecase.Pipeline
	Reconcile   *usecase.ReconcileService
	Sweep       *usecase.SweepService
	Directory   *usecase.DirectoryService

	closers []func() error
}

func New(ctx context.Context, cfg config.Config, logger *logging.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.openStores(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Pipeline = usecase.NewPipeline(a.Clubs, a.Checkpoints,
		usecase.WithLogger(logger),
		usecase.WithPipelineConfig(pipelineConfig(cfg)),
	)
	if cfg.EnrichEnabled || opts.Enrich {
		strategies, err := buildStrategies(cfg, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Pipeline.Chain = usecase.NewResolutionChain(a.Pipeline.Normalizer, logger, strategies...)
	}

	a.Reconcile = usecase.NewReconcileService(a.Pipeline)
	a.Sweep = usecase.NewSweepService(a.Pipeline)
	a.Directory = usecase.NewDirectoryService(a.Clubs)
	return a, nil
}

func (a *App) openStores(ctx context.Context, opts Options) error {
	if opts.Offline {
		a.Clubs = memory.NewClubRepository()
		a.Checkpoints = memory.NewCheckpointStore()
		a.Logger.Warn("running offline, nothing will be persisted")
		return nil
	}

	db, err := OpenDB(ctx, a.Config)
	if err != nil {
		return err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	references, err := postgres.ParseReferenceColumns(strings.Join(a.Config.ReferenceColumns, ","))
	if err != nil {
		return fmt.Errorf("parse reference columns: %w", err)
	}
	a.Clubs = postgres.NewClubRepository(db, references...)

	checkpointPath := strings.TrimSpace(opts.CheckpointPath)
	if checkpointPath == "" {
		checkpointPath = a.Config.CheckpointPath
	}
	if checkpointPath == "" {
		a.Checkpoints = postgres.NewCheckpointRepository(db)
		return nil
	}

	journal, err := file.Open(checkpointPath, a.Logger)
	if err != nil {
		return fmt.Errorf("open checkpoint journal: %w", err)
	}
	a.Checkpoints = journal
	a.closers = append(a.closers, journal.Close)
	return nil
}

// Close releases stores in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenDB opens the traced Postgres handle and checks it is reachable.
func OpenDB(ctx context.Context, cfg config.Config) (*sqlx.DB, error) {
	if strings.TrimSpace(cfg.DBURL) == "" {
		return nil, fmt.Errorf("DB_URL is required")
	}
	dsn := normalizeDBURL(cfg.DBURL, cfg.ServiceName)

	db, err := otelsqlx.Open("postgres", dsn,
		otelsql.WithDBSystem("postgresql"),
		otelsql.WithDBName(dbNameFromURL(dsn)),
		otelsql.WithQueryFormatter(formatDBQueryForTrace),
	)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxOpenConns)
	}
	otelsql.ReportDBStatsMetrics(db.DB)

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func pipelineConfig(cfg config.Config) usecase.PipelineConfig {
	pc := usecase.DefaultPipelineConfig()
	pc.NormalizeWorkers = cfg.NormalizeWorkers
	pc.MergeWorkers = cfg.MergeWorkers
	pc.StoreRetry = resilience.BackoffConfig{
		MaxRetries: cfg.StoreMaxRetries,
		Base:       cfg.StoreRetryBase,
		Max:        cfg.StoreRetryMax,
	}
	pc.RecordRetry = checkpoint.Backoff{Base: cfg.RecordRetryBase, Max: cfg.RecordRetryMax}
	return pc
}

func fetcherConfig(cfg config.Config, logger *logging.Logger) clubsite.FetcherConfig {
	return clubsite.FetcherConfig{
		UserAgent:    cfg.FetchUserAgent,
		Concurrency:  cfg.FetchConcurrency,
		Rate:         cfg.FetchRate,
		Timeout:      cfg.FetchTimeout,
		Retry:        resilience.BackoffConfig{MaxRetries: cfg.FetchMaxRetries},
		CacheTTL:     cfg.FetchCacheTTL,
		MaxBodyBytes: cfg.FetchMaxBodyBytes,
		Circuit: resilience.CircuitBreakerConfig{
			Enabled:          cfg.FetchCircuitEnabled,
			FailureThreshold: cfg.FetchCircuitFailures,
			OpenTimeout:      cfg.FetchCircuitOpenTimeout,
			HalfOpenMaxReq:   cfg.FetchCircuitHalfOpenMax,
		},
		Logger: logger,
	}
}

// buildStrategies orders the resolution chain from most to least trusted:
// manual overrides, the club's own page, the directory, then web search.
func buildStrategies(cfg config.Config, logger *logging.Logger) ([]usecase.ResolutionStrategy, error) {
	var strategies []usecase.ResolutionStrategy

	if path := strings.TrimSpace(cfg.OverridesPath); path != "" {
		table, err := overrides.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
		logger.Info("manual overrides loaded", "path", path, "clubs", table.Len())
		strategies = append(strategies, table)
	}

	fetcher, err := clubsite.NewFetcher(fetcherConfig(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("build club site fetcher: %w", err)
	}
	strategies = append(strategies, clubsite.NewClubPageStrategy(fetcher, nil))
	if u := strings.TrimSpace(cfg.DirectorySearchURL); u != "" {
		strategies = append(strategies, clubsite.NewDirectorySearchStrategy(fetcher, u, clubsite.DirectorySelectors{}))
	}
	if u := strings.TrimSpace(cfg.WebSearchURL); u != "" {
		strategies = append(strategies, clubsite.NewWebSearchStrategy(fetcher, u, ""))
	}
	return strategies, nil
}
