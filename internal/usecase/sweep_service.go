package usecase

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/miocrobos/habicht-directory/internal/domain/club"
	"github.com/miocrobos/habicht-directory/internal/domain/dedup"
)

type SweepInput struct {
	// SuggestDistance is the edit distance under which two different keys
	// are reported as possible duplicates. Zero disables suggestions.
	SuggestDistance int
	DryRun          bool
}

type SweepMerge struct {
	SurvivorID   int64  `json:"survivor_id"`
	LoserID      int64  `json:"loser_id"`
	Key          string `json:"key"`
	Conflicts    int    `json:"conflicts"`
	SurvivorName string `json:"survivor_name"`
	LoserName    string `json:"loser_name"`
}

type SweepSuggestion struct {
	LeftID    int64  `json:"left_id"`
	LeftName  string `json:"left_name"`
	RightID   int64  `json:"right_id"`
	RightName string `json:"right_name"`
	Distance  int    `json:"distance"`
}

type SweepResult struct {
	Scanned     int               `json:"scanned"`
	Merges      []SweepMerge      `json:"merges"`
	Suggestions []SweepSuggestion `json:"suggestions,omitempty"`
}

type SweepService struct {
	p *Pipeline
}

func NewSweepService(p *Pipeline) *SweepService {
	return &SweepService{p: p}
}

// Run recomputes dedup keys over live clubs and merges exact collisions.
// Fuzzy near-duplicates are only reported.
func (s *SweepService) Run(ctx context.Context, input SweepInput) (SweepResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.SweepService.Run", attribute.Bool("dry_run", input.DryRun))
	defer span.End()

	clubs, err := s.p.Clubs.ListAll(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list clubs: %w", err)
	}
	result := SweepResult{Scanned: len(clubs)}

	byKey := make(map[string][]club.Club)
	var keys []string
	for _, c := range clubs {
		k := dedup.Key(c.Name)
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], c)
	}
	sort.Strings(keys)

	for _, k := range keys {
		group := byKey[k]
		if len(group) < 2 {
			continue
		}
		survivor := group[0]
		for _, other := range group[1:] {
			var loser club.Club
			survivor, loser = club.ChooseSurvivor(survivor, other)
			merged, conflicts := club.Absorb(survivor, loser)
			entry := SweepMerge{
				SurvivorID:   survivor.ID,
				LoserID:      loser.ID,
				Key:          k,
				Conflicts:    len(conflicts),
				SurvivorName: survivor.Name,
				LoserName:    loser.Name,
			}
			if !input.DryRun {
				merged.UpdatedAt = s.p.Now().UTC()
				if err := s.p.Clubs.MergeInto(ctx, merged, loser.ID); err != nil {
					return result, fmt.Errorf("merge club %d into %d: %w", loser.ID, survivor.ID, err)
				}
				s.p.Logger.InfoContext(ctx, "merged duplicate club", "survivor_id", survivor.ID, "loser_id", loser.ID, "dedup_key", k)
			}
			result.Merges = append(result.Merges, entry)
			survivor = merged
		}
		byKey[k] = []club.Club{survivor}
	}

	if input.SuggestDistance > 0 {
		for _, cand := range dedup.NearDuplicates(keys, input.SuggestDistance) {
			left, right := byKey[cand.Left][0], byKey[cand.Right][0]
			result.Suggestions = append(result.Suggestions, SweepSuggestion{
				LeftID: left.ID, LeftName: left.Name,
				RightID: right.ID, RightName: right.Name,
				Distance: cand.Distance,
			})
		}
	}
	return result, nil
}

// MergeClubs merges loserID into survivorID on operator request.
func (s *SweepService) MergeClubs(ctx context.Context, survivorID, loserID int64) (club.Club, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.SweepService.MergeClubs")
	defer span.End()

	if survivorID == loserID || survivorID <= 0 || loserID <= 0 {
		return club.Club{}, fmt.Errorf("%w: survivor and loser must be distinct positive ids", ErrInvalidInput)
	}
	survivor, loser, err := s.loadPair(ctx, survivorID, loserID)
	if err != nil {
		return club.Club{}, err
	}
	if survivor.ID == loser.ID {
		return survivor, nil
	}

	// A run may be merging records into either club; hold both keys and read
	// them again so Absorb sees their latest state.
	unlock := s.p.Locks.LockAll(survivor.Key, loser.Key)
	defer unlock()
	survivor, loser, err = s.loadPair(ctx, survivorID, loserID)
	if err != nil {
		return club.Club{}, err
	}
	if survivor.ID == loser.ID {
		return survivor, nil
	}

	merged, conflicts := club.Absorb(survivor, loser)
	merged.UpdatedAt = s.p.Now().UTC()
	if err := s.p.Clubs.MergeInto(ctx, merged, loser.ID); err != nil {
		return club.Club{}, fmt.Errorf("merge club %d into %d: %w", loser.ID, survivor.ID, err)
	}
	s.p.Logger.InfoContext(ctx, "merged club on request", "survivor_id", survivor.ID, "loser_id", loser.ID, "conflicts", len(conflicts))
	return merged, nil
}

func (s *SweepService) loadPair(ctx context.Context, survivorID, loserID int64) (club.Club, club.Club, error) {
	survivor, found, err := s.p.Clubs.GetByID(ctx, survivorID)
	if err != nil {
		return club.Club{}, club.Club{}, fmt.Errorf("get survivor %d: %w", survivorID, err)
	}
	if !found {
		return club.Club{}, club.Club{}, fmt.Errorf("%w: club %d", ErrNotFound, survivorID)
	}
	loser, found, err := s.p.Clubs.GetByID(ctx, loserID)
	if err != nil {
		return club.Club{}, club.Club{}, fmt.Errorf("get loser %d: %w", loserID, err)
	}
	if !found {
		return club.Club{}, club.Club{}, fmt.Errorf("%w: club %d", ErrNotFound, loserID)
	}
	return survivor, loser, nil
}
