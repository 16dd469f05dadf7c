package usecase

import (
	"context"
	"fmt"
	"slices"

	crerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/miocrobos/habicht-directory/internal/domain/club"
	"github.com/miocrobos/habicht-directory/internal/domain/dedup"
	"github.com/miocrobos/habicht-directory/internal/domain/league"
	"github.com/miocrobos/habicht-directory/internal/platform/resilience"
)

// CommitResult summarises one group's write.
type CommitResult struct {
	ClubID         int64
	Key            string
	Created        bool
	Updated        bool
	Matched        bool
	NewFlags       []league.FlagKey
	Conflicts      []club.MergeConflict
	AmbiguousFacts int
	UntrackedFacts int
}

type UpsertService struct {
	p *Pipeline
}

func NewUpsertService(p *Pipeline) *UpsertService {
	return &UpsertService{p: p}
}

// Commit merges a group into the canonical store. Work on one canonical club
// is serialized, whichever key or alias the group reached it through. Transient store errors are retried; a connectivity loss that
// outlives the retry budget returns ErrStoreUnavailable, anything else that
// still fails returns *UpsertTransactionError.
func (s *UpsertService) Commit(ctx context.Context, runID string, group dedup.Group) (CommitResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.UpsertService.Commit", attribute.String("dedup_key", group.Key))
	defer span.End()

	if len(group.Records) == 0 {
		return CommitResult{}, fmt.Errorf("%w: group %q has no records", ErrInvalidInput, group.Key)
	}

	var result CommitResult
	attempts := 0
	err := resilience.Retry(ctx, s.p.Config.StoreRetry, isTransientStoreError, func(int) error {
		attempts++
		var err error
		result, err = s.commitLocked(ctx, runID, group)
		if err != nil && isTransientStoreError(err) {
			s.p.Logger.WarnContext(ctx, "retrying club commit", "dedup_key", group.Key, "attempt", attempts, "error", err)
		}
		return err
	})
	if err == nil {
		return result, nil
	}

	span.RecordError(err)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return CommitResult{}, ctxErr
	}
	if crerr.Is(err, club.ErrStoreConnectivity) {
		return CommitResult{}, crerr.Wrapf(crerr.Mark(err, ErrStoreUnavailable), "commit club %q after %d attempt(s)", group.Key, attempts)
	}
	return CommitResult{}, &UpsertTransactionError{Key: group.Key, Attempts: attempts, Err: err}
}

// maxLockRounds bounds how often a group may resolve to a club whose key it
// does not hold yet. Each round adds one key, so only a club being merged
// away concurrently needs more than two.
const maxLockRounds = 3

// commitLocked holds the group's key and the key of the canonical club it
// resolves to, so groups that reach one club through different aliases never
// merge into it concurrently. The club is read again once every key is held.
func (s *UpsertService) commitLocked(ctx context.Context, runID string, group dedup.Group) (CommitResult, error) {
	keys := []string{group.Key}
	for round := 0; round < maxLockRounds; round++ {
		unlock := s.p.Locks.LockAll(keys...)
		existing, found, err := s.findExisting(ctx, group)
		if err != nil {
			unlock()
			return CommitResult{}, err
		}
		if !found || slices.Contains(keys, existing.Key) {
			result, err := s.commitOnce(ctx, runID, group, existing, found)
			unlock()
			return result, err
		}
		unlock()
		keys = append(keys, existing.Key)
	}
	return CommitResult{}, crerr.Mark(fmt.Errorf("group %q keeps resolving to a different club", group.Key), club.ErrStoreContention)
}

func (s *UpsertService) commitOnce(ctx context.Context, runID string, group dedup.Group, existing club.Club, found bool) (CommitResult, error) {
	key := group.Key
	var current *club.Club
	if found {
		current = &existing
		key = existing.Key
	}

	merged, err := club.Merge(current, key, group.Records, runID)
	if err != nil {
		return CommitResult{}, err
	}

	result := CommitResult{
		ClubID:         merged.Club.ID,
		Key:            key,
		Created:        merged.Created,
		Updated:        !merged.Created && merged.Changed(),
		Matched:        found,
		NewFlags:       merged.NewFlags,
		AmbiguousFacts: merged.AmbiguousFacts,
		UntrackedFacts: merged.UntrackedFacts,
	}
	if !merged.Changed() && len(merged.Conflicts) == 0 {
		return result, nil
	}

	now := s.p.Now().UTC()
	mutation := merged.Mutation()
	for i := range mutation.Conflicts {
		mutation.Conflicts[i].DetectedAt = now
	}
	if mutation.Club.CreatedAt.IsZero() {
		mutation.Club.CreatedAt = now
	}
	mutation.Club.UpdatedAt = now

	saved, err := s.p.Clubs.Save(ctx, mutation)
	if err != nil {
		return CommitResult{}, fmt.Errorf("save club %q: %w", key, err)
	}

	result.ClubID = saved.ID
	result.Conflicts = mutation.Conflicts
	for i := range result.Conflicts {
		result.Conflicts[i].ClubID = saved.ID
	}
	return result, nil
}

// findExisting looks the group up by key, then by any of its spellings.
func (s *UpsertService) findExisting(ctx context.Context, group dedup.Group) (club.Club, bool, error) {
	existing, found, err := s.p.Clubs.FindByKey(ctx, group.Key)
	if err != nil {
		return club.Club{}, false, fmt.Errorf("find club by key %q: %w", group.Key, err)
	}
	if found {
		return existing, true, nil
	}

	// Merged-away clubs leave their key behind as an alias.
	names := make([]string, 0, len(group.Records)+1)
	names = append(names, group.Key)
	for _, rec := range group.Records {
		names = append(names, rec.Name)
	}

	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok || name == "" {
			continue
		}
		seen[name] = struct{}{}

		existing, found, err = s.p.Clubs.FindByAlias(ctx, name)
		if err != nil {
			return club.Club{}, false, fmt.Errorf("find club by alias %q: %w", name, err)
		}
		if found {
			return existing, true, nil
		}
	}
	return club.Club{}, false, nil
}

func isTransientStoreError(err error) bool {
	return crerr.Is(err, club.ErrStoreConnectivity) || crerr.Is(err, club.ErrStoreContention)
}
