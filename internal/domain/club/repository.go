package club

import (
	"context"

	"github.com/miocrobos/habicht-directory/internal/domain/league"
)

// Mutation is everything one upsert writes in a single transaction.
type Mutation struct {
	Club       Club
	Created    bool
	NewAliases []string
	NewFlags   []league.FlagKey
	Conflicts  []MergeConflict
}

// Repository describes canonical club persistence needs from use cases.
type Repository interface {
	// GetByID follows merge redirects, so an id handed out before a merge
	// still resolves to the surviving club.
	GetByID(ctx context.Context, id int64) (Club, bool, error)
	FindByKey(ctx context.Context, key string) (Club, bool, error)
	FindByAlias(ctx context.Context, alias string) (Club, bool, error)
	ListByLeague(ctx context.Context, level league.Level, gender league.Gender) ([]Club, error)
	ListAll(ctx context.Context) ([]Club, error)
	ListConflicts(ctx context.Context, clubID int64) ([]MergeConflict, error)
	Save(ctx context.Context, m Mutation) (Club, error)
	// MergeInto stores survivor, repoints every reference from loserID to
	// survivor.ID, writes a redirect and deletes the loser.
	MergeInto(ctx context.Context, survivor Club, loserID int64) error
	// ResetLeagueFlags clears every flag so the next run derives them from
	// scratch. It returns the number of flags removed.
	ResetLeagueFlags(ctx context.Context) (int64, error)
}
