package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/miocrobos/habicht-directory/internal/domain/canton"
	"github.com/miocrobos/habicht-directory/internal/domain/dedup"
	"github.com/miocrobos/habicht-directory/internal/domain/sourcerecord"
	"github.com/miocrobos/habicht-directory/internal/platform/logging"
)

// ResolutionQuery describes a club the chain should find more facts for.
type ResolutionQuery struct {
	Key     string
	Name    string
	Town    string
	Canton  canton.Code
	Website string

	NeedWebsite bool
	NeedLogo    bool
	NeedLeagues bool
}

// Satisfied reports whether nothing is left to look up.
func (q ResolutionQuery) Satisfied() bool {
	return !q.NeedWebsite && !q.NeedLogo && !q.NeedLeagues
}

// ResolutionStrategy is one way of confirming club facts. The strategy owns
// its trust rank; a false ok means it had nothing confident to say.
type ResolutionStrategy interface {
	Name() string
	Rank() sourcerecord.Rank
	Resolve(ctx context.Context, q ResolutionQuery) (raw sourcerecord.RawRecord, ok bool, err error)
}

// ResolutionChain tries strategies in order (manual overrides, club page
// scrape, directory search, web search) until the query is satisfied.
type ResolutionChain struct {
	strategies []ResolutionStrategy
	normalizer *sourcerecord.Normalizer
	logger     *logging.Logger
}

func NewResolutionChain(normalizer *sourcerecord.Normalizer, logger *logging.Logger, strategies ...ResolutionStrategy) *ResolutionChain {
	if normalizer == nil {
		normalizer = sourcerecord.NewNormalizer()
	}
	if logger == nil {
		logger = logging.Default()
	}
	out := make([]ResolutionStrategy, 0, len(strategies))
	for _, s := range strategies {
		if s != nil {
			out = append(out, s)
		}
	}
	return &ResolutionChain{strategies: out, normalizer: normalizer, logger: logger}
}

func (c *ResolutionChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.strategies)
}

// QueryFor builds the lookup for a group, or ok=false when the group already
// has website, logo and league data.
func QueryFor(group dedup.Group) (ResolutionQuery, bool) {
	q := ResolutionQuery{Key: group.Key, NeedWebsite: true, NeedLogo: true, NeedLeagues: true}
	for _, rec := range group.Records {
		if q.Name == "" {
			q.Name = rec.Name
		}
		if q.Town == "" {
			q.Town = rec.Town
		}
		if q.Canton == "" && rec.Canton != canton.Unknown {
			q.Canton = rec.Canton
		}
		if rec.Website != "" {
			q.Website = rec.Website
			q.NeedWebsite = false
		}
		if rec.Logo != "" {
			q.NeedLogo = false
		}
		if rec.HasLeagueData() {
			q.NeedLeagues = false
		}
	}
	return q, !q.Satisfied()
}

// Resolve runs the chain for q and returns the normalized records it produced.
// Strategy failures are logged and skipped; only context cancellation is
// returned.
func (c *ResolutionChain) Resolve(ctx context.Context, q ResolutionQuery) ([]sourcerecord.Record, error) {
	if c == nil || len(c.strategies) == 0 || q.Satisfied() {
		return nil, nil
	}

	var out []sourcerecord.Record
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		raw, ok, err := s.Resolve(ctx, q)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return out, err
			}
			c.logger.WarnContext(ctx, "resolution strategy failed", "strategy", s.Name(), "dedup_key", q.Key, "error", err)
			continue
		}
		if !ok {
			continue
		}

		if strings.TrimSpace(raw.Name) == "" {
			raw.Name = q.Name
		}
		if raw.Source == "" {
			raw.Source = s.Name()
		}
		raw.Rank = s.Rank().String()

		rec, err := c.normalizer.Normalize(raw)
		if err != nil {
			c.logger.WarnContext(ctx, "resolution result rejected", "strategy", s.Name(), "dedup_key", q.Key, "error", err)
			continue
		}
		if dedup.Key(rec.Name) != q.Key {
			// Keep the result inside the queried group.
			rec.Name = q.Name
		}
		out = append(out, rec)

		if rec.Website != "" {
			q.Website = rec.Website
			q.NeedWebsite = false
		}
		if rec.Logo != "" {
			q.NeedLogo = false
		}
		if rec.HasLeagueData() {
			q.NeedLeagues = false
		}
		if q.Satisfied() {
			break
		}
	}
	return out, nil
}
