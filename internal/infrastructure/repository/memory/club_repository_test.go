package memory

import (
	"context"
	"testing"

	crerr "github.com/cockroachdb/errors"

	"github.com/miocrobos/habicht-directory/internal/domain/canton"
	"github.com/miocrobos/habicht-directory/internal/domain/club"
	"github.com/miocrobos/habicht-directory/internal/domain/league"
)

func flags(keys ...league.FlagKey) league.Flags {
	out := league.Flags{}
	for _, k := range keys {
		out[k] = true
	}
	return out
}

func TestClubRepository_SaveAndLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewClubRepository()

	saved, err := repo.Save(ctx, club.Mutation{
		Club: club.Club{
			Key:     "volley club bern",
			Name:    "Volley Club Bern",
			Canton:  canton.BE,
			Flags:   flags(league.FlagKey{Level: league.NLA, Gender: league.GenderWomen}),
			Aliases: []string{"VC Bern"},
		},
		Created: true,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID != 1 {
		t.Fatalf("expected id 1, got %d", saved.ID)
	}

	byAlias, ok, err := repo.FindByAlias(ctx, "VC Bern")
	if err != nil || !ok || byAlias.ID != saved.ID {
		t.Fatalf("alias lookup failed: ok=%v err=%v club=%+v", ok, err, byAlias)
	}
	listed, err := repo.ListByLeague(ctx, league.NLA, league.GenderWomen)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Name != "Volley Club Bern" {
		t.Fatalf("unexpected league listing: %+v", listed)
	}
	if other, _ := repo.ListByLeague(ctx, league.NLA, league.GenderMen); len(other) != 0 {
		t.Fatalf("men listing should be empty, got %+v", other)
	}
}

func TestClubRepository_SaveRejectsDuplicateName(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewClubRepository(club.Club{Key: "vbc foo", Name: "VBC Foo"})

	_, err := repo.Save(ctx, club.Mutation{Club: club.Club{Key: "vbc foo bar", Name: "VBC Foo"}, Created: true})
	if !crerr.Is(err, club.ErrConstraintViolation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
}

func TestClubRepository_AliasKeepsFirstOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewClubRepository(
		club.Club{Key: "vbc a", Name: "VBC A", Aliases: []string{"Shared"}},
		club.Club{Key: "vbc b", Name: "VBC B"},
	)

	b, _, _ := repo.FindByKey(ctx, "vbc b")
	b.Aliases = append(b.Aliases, "Shared")
	if _, err := repo.Save(ctx, club.Mutation{Club: b, NewAliases: []string{"Shared"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	owner, ok, _ := repo.FindByAlias(ctx, "Shared")
	if !ok || owner.Key != "vbc a" {
		t.Fatalf("alias should stay with its first owner, got %+v", owner)
	}
}

func TestClubRepository_SaveNeverClearsFlags(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	nla := league.FlagKey{Level: league.NLA, Gender: league.GenderWomen}
	repo := NewClubRepository(club.Club{Key: "vbc foo", Name: "VBC Foo", Flags: flags(nla)})

	current, _, _ := repo.FindByKey(ctx, "vbc foo")
	current.Flags = league.Flags{}
	if _, err := repo.Save(ctx, club.Mutation{Club: current}); err != nil {
		t.Fatalf("save: %v", err)
	}
	after, _, _ := repo.GetByID(ctx, current.ID)
	if !after.Flags.IsSet(nla.Level, nla.Gender) {
		t.Fatalf("flag should survive a save without it")
	}

	removed, err := repo.ResetLeagueFlags(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("expected one flag reset, got %d err=%v", removed, err)
	}
	after, _, _ = repo.GetByID(ctx, current.ID)
	if after.Flags.Any() {
		t.Fatalf("flags should be cleared after reset: %v", after.Flags)
	}
}

func TestClubRepository_MergeIntoRepointsAndRedirects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	nla := league.FlagKey{Level: league.NLA, Gender: league.GenderWomen}
	nlb := league.FlagKey{Level: league.NLB, Gender: league.GenderMen}
	repo := NewClubRepository(
		club.Club{ID: 10, Key: "vbc foo", Name: "VBC Foo", Flags: flags(nla)},
		club.Club{ID: 11, Key: "vbc fooo", Name: "VBC Fooo", Flags: flags(nlb), Aliases: []string{"Foo Volley"}},
		club.Club{ID: 12, Key: "vbc older", Name: "VBC Older"},
	)
	repo.SetReference("players.current_club_id", 7, 11)
	repo.SetReference("players.current_club_id", 8, 10)

	// 12 was merged into 11 earlier.
	older, _, _ := repo.GetByID(ctx, 11)
	if err := repo.MergeInto(ctx, older, 12); err != nil {
		t.Fatalf("first merge: %v", err)
	}

	survivor, _, _ := repo.GetByID(ctx, 10)
	survivor.Aliases = append(survivor.Aliases, "VBC Fooo", "vbc fooo")
	if err := repo.MergeInto(ctx, survivor, 11); err != nil {
		t.Fatalf("merge: %v", err)
	}

	if id, _ := repo.Reference("players.current_club_id", 7); id != 10 {
		t.Fatalf("reference should be repointed to survivor, got %d", id)
	}
	if id, _ := repo.Reference("players.current_club_id", 8); id != 10 {
		t.Fatalf("survivor reference must not move, got %d", id)
	}

	for _, id := range []int64{10, 11, 12} {
		got, ok, err := repo.GetByID(ctx, id)
		if err != nil || !ok || got.ID != 10 {
			t.Fatalf("id %d should resolve to survivor, got ok=%v club=%+v err=%v", id, ok, got, err)
		}
	}

	got, _, _ := repo.GetByID(ctx, 10)
	if !got.Flags.IsSet(nla.Level, nla.Gender) || !got.Flags.IsSet(nlb.Level, nlb.Gender) {
		t.Fatalf("flags should be unioned: %v", got.Flags)
	}
	for _, alias := range []string{"Foo Volley", "VBC Fooo", "vbc fooo"} {
		owner, ok, _ := repo.FindByAlias(ctx, alias)
		if !ok || owner.ID != 10 {
			t.Fatalf("alias %q should point at survivor, got %+v", alias, owner)
		}
	}
	all, _ := repo.ListAll(ctx)
	if len(all) != 1 {
		t.Fatalf("expected a single live club, got %d", len(all))
	}
}

func TestClubRepository_ConflictsDeduplicated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewClubRepository()
	conflict := club.MergeConflict{Key: "vbc foo", Field: club.FieldWebsite, KeptValue: "https://a.ch", RejectedValue: "https://b.ch"}

	saved, err := repo.Save(ctx, club.Mutation{Club: club.Club{Key: "vbc foo", Name: "VBC Foo"}, Conflicts: []club.MergeConflict{conflict}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := repo.Save(ctx, club.Mutation{Club: saved, Conflicts: []club.MergeConflict{conflict}}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, _ := repo.ListConflicts(ctx, saved.ID)
	if len(got) != 1 {
		t.Fatalf("expected one conflict row, got %d", len(got))
	}
}
