package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	crerr "github.com/cockroachdb/errors"

	"github.com/miocrobos/habicht-directory/internal/domain/canton"
	"github.com/miocrobos/habicht-directory/internal/domain/checkpoint"
	"github.com/miocrobos/habicht-directory/internal/domain/club"
	"github.com/miocrobos/habicht-directory/internal/domain/league"
	"github.com/miocrobos/habicht-directory/internal/domain/sourcerecord"
	"github.com/miocrobos/habicht-directory/internal/infrastructure/repository/memory"
	"github.com/miocrobos/habicht-directory/internal/platform/id"
	"github.com/miocrobos/habicht-directory/internal/platform/logging"
	"github.com/miocrobos/habicht-directory/internal/platform/resilience"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestPipeline(clubs club.Repository, checkpoints checkpoint.Store, clock *testClock, opts ...PipelineOption) *Pipeline {
	cfg := DefaultPipelineConfig()
	cfg.StoreRetry = resilience.BackoffConfig{MaxRetries: 2, Base: time.Millisecond, Max: 2 * time.Millisecond}
	base := []PipelineOption{
		WithClock(clock.Now),
		WithIDGenerator(id.Static("run-1")),
		WithLogger(logging.NewNop()),
		WithPipelineConfig(cfg),
	}
	return NewPipeline(clubs, checkpoints, append(base, opts...)...)
}

func bernRecords() []sourcerecord.RawRecord {
	return []sourcerecord.RawRecord{
		{ID: "ws-1", Source: "web", Rank: "web_search", Name: "Volley Club Bern", Town: "Bern"},
		{ID: "ds-1", Source: "clubpage", Rank: "detailed_scrape", Name: "Volley Club Bern", Logo: "https://vcbern.ch/logo.png", Flags: map[string]bool{"NLA/women": true}},
		{ID: "mn-1", Source: "overrides", Rank: "manual", Name: "Volley Club Bern", Website: "https://vcbern.ch", PostalCode: "3000"},
	}
}

func TestReconcileService_VolleyClubBernEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	clubs := memory.NewClubRepository()
	checkpoints := memory.NewCheckpointStore()
	service := NewReconcileService(newTestPipeline(clubs, checkpoints, clock))

	summary, err := service.Run(ctx, RunInput{RunName: "bern", Records: bernRecords()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Processed != 3 || summary.Created != 1 || summary.Conflicts != 0 || summary.Failures != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	got, ok, err := clubs.FindByKey(ctx, "volley club bern")
	if err != nil || !ok {
		t.Fatalf("club not stored: ok=%v err=%v", ok, err)
	}
	if got.Town != "Bern" || got.Logo != "https://vcbern.ch/logo.png" || got.Website != "https://vcbern.ch" {
		t.Fatalf("unexpected scalars: %+v", got)
	}
	if got.Canton != canton.BE {
		t.Fatalf("expected canton inferred from postal code, got %s", got.Canton)
	}
	if !got.Flags.IsSet(league.NLA, league.GenderWomen) || got.Flags.IsSet(league.NLA, league.GenderMen) {
		t.Fatalf("unexpected flags: %v", got.Flags)
	}

	entries, _ := checkpoints.Load(ctx, "bern")
	for _, recordID := range []string{"ws-1", "ds-1", "mn-1"} {
		if entries[recordID].Status != checkpoint.StatusCommitted {
			t.Fatalf("record %s should be committed, got %+v", recordID, entries[recordID])
		}
	}
}

func TestReconcileService_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	clubs := memory.NewClubRepository()
	service := NewReconcileService(newTestPipeline(clubs, memory.NewCheckpointStore(), clock))

	if _, err := service.Run(ctx, RunInput{RunName: "first", Records: bernRecords()}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before, _, _ := clubs.FindByKey(ctx, "volley club bern")

	resumed, err := service.Run(ctx, RunInput{RunName: "first", Records: bernRecords()})
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if resumed.Skipped != 3 || resumed.Processed != 0 {
		t.Fatalf("resumed run should skip committed records: %+v", resumed)
	}

	clock.Advance(time.Hour)
	again, err := service.Run(ctx, RunInput{RunName: "second", Records: bernRecords()})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if again.Created != 0 || again.Updated != 0 || again.Unchanged != 1 || again.Conflicts != 0 {
		t.Fatalf("re-running the same input must not change anything: %+v", again)
	}

	after, _, _ := clubs.FindByKey(ctx, "volley club bern")
	if after.ID != before.ID || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("club rewritten on idempotent run: before=%+v after=%+v", before, after)
	}
	all, _ := clubs.ListAll(ctx)
	if len(all) != 1 {
		t.Fatalf("expected one club, got %d", len(all))
	}
}

func TestReconcileService_DedupAndParseErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	clubs := memory.NewClubRepository()
	service := NewReconcileService(newTestPipeline(clubs, memory.NewCheckpointStore(), clock))

	summary, err := service.Run(ctx, RunInput{RunName: "dedup", Records: []sourcerecord.RawRecord{
		{ID: "1", Source: "web", Rank: "web_search", Name: "VBC Foo", LeagueText: "Damen 2. Liga"},
		{ID: "2", Source: "web", Rank: "web_search", Name: "VBC Foo 2", LeagueText: "Herren 3. Liga"},
		{ID: "3", Source: "web", Rank: "web_search", Name: "   "},
		{ID: "4", Source: "web", Rank: "web_search", Name: "Volley Nowhere", PostalCode: "0001"},
	}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Created != 2 || summary.ParseErrors != 1 || summary.CantonUnresolved != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	foo, ok, _ := clubs.FindByKey(ctx, "vbc foo")
	if !ok {
		t.Fatalf("expected vbc foo")
	}
	if foo.Name != "VBC Foo" {
		t.Fatalf("canonical name should be the first team, got %q", foo.Name)
	}
	if !foo.Flags.IsSet(league.L2, league.GenderWomen) || !foo.Flags.IsSet(league.L3, league.GenderMen) {
		t.Fatalf("reserve team flags should fold into the club: %v", foo.Flags)
	}
	if owner, ok, _ := clubs.FindByAlias(ctx, "VBC Foo 2"); !ok || owner.ID != foo.ID {
		t.Fatalf("reserve spelling should be an alias")
	}
}

type failingClubs struct {
	*memory.ClubRepository
	mu   sync.Mutex
	err  error
	fail map[string]bool
}

func (f *failingClubs) Save(ctx context.Context, m club.Mutation) (club.Club, error) {
	f.mu.Lock()
	err, failing := f.err, f.fail[m.Club.Key]
	f.mu.Unlock()
	if failing {
		return club.Club{}, err
	}
	return f.ClubRepository.Save(ctx, m)
}

func (f *failingClubs) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = nil
}

func TestReconcileService_FailedGroupIsDeferredThenRetried(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	clubs := &failingClubs{
		ClubRepository: memory.NewClubRepository(),
		err:            crerr.Mark(errors.New("duplicate key value"), club.ErrConstraintViolation),
		fail:           map[string]bool{"vbc broken": true},
	}
	checkpoints := memory.NewCheckpointStore()
	service := NewReconcileService(newTestPipeline(clubs, checkpoints, clock))

	records := []sourcerecord.RawRecord{
		{ID: "ok", Source: "web", Rank: "web_search", Name: "VBC Fine"},
		{ID: "bad", Source: "web", Rank: "web_search", Name: "VBC Broken"},
	}
	summary, err := service.Run(ctx, RunInput{RunName: "retry", Records: records})
	if err != nil {
		t.Fatalf("a constraint violation must not abort the run: %v", err)
	}
	if summary.Failures != 1 || summary.Created != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	entries, _ := checkpoints.Load(ctx, "retry")
	if e := entries["bad"]; e.Status != checkpoint.StatusFailed || e.Attempts != 1 || e.NextAttemptAt.IsZero() {
		t.Fatalf("unexpected failed entry: %+v", e)
	}

	deferred, err := service.Run(ctx, RunInput{RunName: "retry", Records: records})
	if err != nil {
		t.Fatalf("deferred run: %v", err)
	}
	if deferred.Deferred != 1 || deferred.Skipped != 1 {
		t.Fatalf("expected the failed record to wait for its backoff: %+v", deferred)
	}

	clubs.heal()
	clock.Advance(2 * time.Minute)
	retried, err := service.Run(ctx, RunInput{RunName: "retry", Records: records})
	if err != nil {
		t.Fatalf("retried run: %v", err)
	}
	if retried.Created != 1 || retried.Skipped != 1 {
		t.Fatalf("expected the failed record to be retried: %+v", retried)
	}
	entries, _ = checkpoints.Load(ctx, "retry")
	if entries["bad"].Status != checkpoint.StatusCommitted {
		t.Fatalf("retried record should be committed: %+v", entries["bad"])
	}
}

func TestReconcileService_StoreUnavailableAbortsRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	clubs := &failingClubs{
		ClubRepository: memory.NewClubRepository(),
		err:            crerr.Mark(errors.New("connection refused"), club.ErrStoreConnectivity),
		fail:           map[string]bool{"vbc down": true},
	}
	service := NewReconcileService(newTestPipeline(clubs, memory.NewCheckpointStore(), clock))

	_, err := service.Run(ctx, RunInput{RunName: "down", Records: []sourcerecord.RawRecord{
		{ID: "1", Source: "web", Rank: "web_search", Name: "VBC Down"},
	}})
	if !crerr.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestReconcileService_ResetFlags(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	clubs := memory.NewClubRepository(club.Club{
		Key:   "vbc foo",
		Name:  "VBC Foo",
		Flags: league.Flags{league.Key(league.NLB, league.GenderMen): true},
	})
	service := NewReconcileService(newTestPipeline(clubs, memory.NewCheckpointStore(), clock))

	summary, err := service.Run(ctx, RunInput{RunName: "reset", ResetFlags: true, Records: []sourcerecord.RawRecord{
		{ID: "1", Source: "web", Rank: "web_search", Name: "VBC Foo", Flags: map[string]bool{"1L/men": true}},
	}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.FlagsReset != 1 {
		t.Fatalf("expected one flag reset, got %d", summary.FlagsReset)
	}
	got, _, _ := clubs.FindByKey(ctx, "vbc foo")
	if got.Flags.IsSet(league.NLB, league.GenderMen) || !got.Flags.IsSet(league.L1, league.GenderMen) {
		t.Fatalf("flags should be re-derived after reset: %v", got.Flags)
	}
}
