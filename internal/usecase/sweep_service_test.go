package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miocrobos/habicht-directory/internal/domain/club"
	"github.com/miocrobos/habicht-directory/internal/domain/league"
	"github.com/miocrobos/habicht-directory/internal/infrastructure/repository/memory"
)

func TestSweepService_MergesKeyCollisionsAndSuggests(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	clubs := memory.NewClubRepository(
		club.Club{ID: 1, Key: "vbc foo", Name: "VBC Foo", Town: "Zürich"},
		// Stored under a stale key before the diacritic rules changed.
		club.Club{ID: 2, Key: "vbc föo legacy", Name: "VBC Foo 2", Website: "https://foo.ch", Flags: league.Flags{league.Key(league.NLB, league.GenderMen): true}},
		club.Club{ID: 3, Key: "volley luzern", Name: "Volley Luzern"},
		club.Club{ID: 4, Key: "voley luzern", Name: "Voley Luzern"},
	)
	clubs.SetReference("players.current_club_id", 100, 1)
	service := NewSweepService(newTestPipeline(clubs, memory.NewCheckpointStore(), clock))

	got, err := service.Run(ctx, SweepInput{SuggestDistance: 1})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got.Scanned != 4 || len(got.Merges) != 1 {
		t.Fatalf("unexpected sweep result: %+v", got)
	}
	m := got.Merges[0]
	if m.SurvivorID != 1 || m.LoserID != 2 {
		t.Fatalf("expected the more complete, older club to survive: %+v", m)
	}
	if len(got.Suggestions) != 1 || got.Suggestions[0].Distance != 1 {
		t.Fatalf("expected one near-duplicate suggestion: %+v", got.Suggestions)
	}

	survivor, ok, _ := clubs.GetByID(ctx, 2)
	if !ok || survivor.ID != 1 {
		t.Fatalf("loser id should redirect to the survivor, got %+v", survivor)
	}
	if survivor.Website != "https://foo.ch" || !survivor.Flags.IsSet(league.NLB, league.GenderMen) {
		t.Fatalf("survivor should absorb loser facts: %+v", survivor)
	}
	if ref, _ := clubs.Reference("players.current_club_id", 100); ref != 1 {
		t.Fatalf("reference moved unexpectedly to %d", ref)
	}
	if _, ok, _ := clubs.GetByID(ctx, 4); !ok {
		t.Fatalf("fuzzy matches must never be merged automatically")
	}
}

func TestSweepService_DryRunWritesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	clubs := memory.NewClubRepository(
		club.Club{ID: 1, Key: "vbc foo", Name: "VBC Foo"},
		club.Club{ID: 2, Key: "vbc foo ii", Name: "VBC Foo II"},
	)
	service := NewSweepService(newTestPipeline(clubs, memory.NewCheckpointStore(), clock))

	got, err := service.Run(ctx, SweepInput{DryRun: true})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(got.Merges) != 1 {
		t.Fatalf("expected one planned merge: %+v", got)
	}
	all, _ := clubs.ListAll(ctx)
	if len(all) != 2 {
		t.Fatalf("dry run must not merge, got %d clubs", len(all))
	}
}

func TestSweepService_MergeClubs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	clubs := memory.NewClubRepository(
		club.Club{ID: 1, Key: "volley club bern", Name: "Volley Club Bern", Town: "Bern"},
		club.Club{ID: 2, Key: "vc bern", Name: "VC Bern", Logo: "https://vcbern.ch/logo.png"},
	)
	clubs.SetReference("recruiter_affiliations.club_id", 9, 2)
	service := NewSweepService(newTestPipeline(clubs, memory.NewCheckpointStore(), clock))

	merged, err := service.MergeClubs(ctx, 1, 2)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.Logo != "https://vcbern.ch/logo.png" || !merged.HasAlias("VC Bern") {
		t.Fatalf("unexpected merged club: %+v", merged)
	}
	if ref, _ := clubs.Reference("recruiter_affiliations.club_id", 9); ref != 1 {
		t.Fatalf("reference should be repointed, got %d", ref)
	}
	if owner, ok, _ := clubs.FindByAlias(ctx, "vc bern"); !ok || owner.ID != 1 {
		t.Fatalf("loser key should resolve as alias, got %+v", owner)
	}

	if _, err := service.MergeClubs(ctx, 1, 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := service.MergeClubs(ctx, 1, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSweepService_MergeClubs_WaitsForClubLocks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	clubs := memory.NewClubRepository(
		club.Club{ID: 1, Key: "volley club bern", Name: "Volley Club Bern", Town: "Bern"},
		club.Club{ID: 2, Key: "vc bern", Name: "VC Bern"},
	)
	p := newTestPipeline(clubs, memory.NewCheckpointStore(), clock)
	service := NewSweepService(p)

	unlock := p.Locks.Lock("vc bern")
	type outcome struct {
		merged club.Club
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		merged, err := service.MergeClubs(ctx, 1, 2)
		done <- outcome{merged, err}
	}()

	select {
	case got := <-done:
		t.Fatalf("merge finished while the loser's key was held: %+v", got)
	case <-time.After(30 * time.Millisecond):
	}

	// A write landing while the key is held must survive the merge.
	loser, _, _ := clubs.GetByID(ctx, 2)
	loser.Logo = "https://vcbern.ch/logo.png"
	if _, err := clubs.Save(ctx, club.Mutation{Club: loser}); err != nil {
		t.Fatalf("save loser: %v", err)
	}
	unlock()

	got := <-done
	if got.err != nil {
		t.Fatalf("merge: %v", got.err)
	}
	if got.merged.Logo != "https://vcbern.ch/logo.png" {
		t.Fatalf("merge used a stale loser: %+v", got.merged)
	}
}
