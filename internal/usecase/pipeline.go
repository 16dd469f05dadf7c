package usecase

import (
	"time"

	"github.com/miocrobos/habicht-directory/internal/domain/checkpoint"
	"github.com/miocrobos/habicht-directory/internal/domain/club"
	"github.com/miocrobos/habicht-directory/internal/domain/sourcerecord"
	"github.com/miocrobos/habicht-directory/internal/platform/id"
	"github.com/miocrobos/habicht-directory/internal/platform/logging"
	"github.com/miocrobos/habicht-directory/internal/platform/resilience"
)

type PipelineConfig struct {
	NormalizeWorkers int
	MergeWorkers     int
	// StoreRetry governs retries of transient store errors inside one commit.
	StoreRetry resilience.BackoffConfig
	// RecordRetry spaces out later runs' retries of failed records.
	RecordRetry checkpoint.Backoff
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		NormalizeWorkers: 8,
		MergeWorkers:     4,
		StoreRetry:       resilience.BackoffConfig{MaxRetries: 3, Base: 200 * time.Millisecond, Max: 5 * time.Second},
		RecordRetry:      checkpoint.DefaultBackoff(),
	}
}

// Pipeline carries every dependency a reconciliation stage needs. Stages get
// it explicitly; nothing is looked up from package state.
type Pipeline struct {
	Clubs       club.Repository
	Checkpoints checkpoint.Store
	Normalizer  *sourcerecord.Normalizer
	Locks       *resilience.KeyedMutex
	Chain       *ResolutionChain
	Logger      *logging.Logger
	IDs         id.Generator
	Now         func() time.Time
	Config      PipelineConfig
}

type PipelineOption func(*Pipeline)

func WithResolutionChain(chain *ResolutionChain) PipelineOption {
	return func(p *Pipeline) { p.Chain = chain }
}

func WithLogger(logger *logging.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.Logger = logger
		}
	}
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.Now = now
		}
	}
}

func WithIDGenerator(gen id.Generator) PipelineOption {
	return func(p *Pipeline) {
		if gen != nil {
			p.IDs = gen
		}
	}
}

func WithPipelineConfig(cfg PipelineConfig) PipelineOption {
	return func(p *Pipeline) { p.Config = normalizePipelineConfig(cfg) }
}

func NewPipeline(clubs club.Repository, checkpoints checkpoint.Store, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		Clubs:       clubs,
		Checkpoints: checkpoints,
		Locks:       resilience.NewKeyedMutex(),
		Logger:      logging.Default(),
		IDs:         id.NewUUIDGenerator(),
		Now:         time.Now,
		Config:      DefaultPipelineConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.Normalizer == nil {
		p.Normalizer = sourcerecord.NewNormalizer(sourcerecord.WithClock(p.Now))
	}
	return p
}

func normalizePipelineConfig(cfg PipelineConfig) PipelineConfig {
	defaults := DefaultPipelineConfig()
	if cfg.NormalizeWorkers < 1 {
		cfg.NormalizeWorkers = defaults.NormalizeWorkers
	}
	if cfg.MergeWorkers < 1 {
		cfg.MergeWorkers = defaults.MergeWorkers
	}
	cfg.StoreRetry = resilience.NormalizeBackoffConfig(cfg.StoreRetry)
	if cfg.RecordRetry.Base <= 0 {
		cfg.RecordRetry = defaults.RecordRetry
	}
	return cfg
}
