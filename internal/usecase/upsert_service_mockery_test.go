package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/mock"

	"github.com/miocrobos/habicht-directory/internal/domain/club"
	"github.com/miocrobos/habicht-directory/internal/domain/dedup"
	"github.com/miocrobos/habicht-directory/internal/domain/sourcerecord"
	checkpointmock "github.com/miocrobos/habicht-directory/internal/mocks/domain/checkpoint"
	clubmock "github.com/miocrobos/habicht-directory/internal/mocks/domain/club"
)

func fooGroup() dedup.Group {
	return dedup.Group{Key: "vbc foo", Records: []sourcerecord.Record{{
		RecordID: "r1",
		RawName:  "VBC Foo",
		Name:     "VBC Foo",
		Town:     "Zürich",
		Source:   "web",
		Rank:     sourcerecord.RankWebSearch,
	}}}
}

func expectNoExistingClub(repo *clubmock.Repository) {
	repo.On("FindByKey", mock.Anything, "vbc foo").Return(club.Club{}, false, nil)
	repo.On("FindByAlias", mock.Anything, mock.AnythingOfType("string")).Return(club.Club{}, false, nil)
}

func TestUpsertService_Commit_RetriesContentionUsingMockery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	clubRepo := clubmock.NewRepository(t)
	service := NewUpsertService(newTestPipeline(clubRepo, checkpointmock.NewStore(t), clock))

	expectNoExistingClub(clubRepo)
	clubRepo.
		On("Save", mock.Anything, mock.AnythingOfType("club.Mutation")).
		Return(club.Club{}, crerr.Mark(errors.New("deadlock detected"), club.ErrStoreContention)).
		Once()
	clubRepo.
		On("Save", mock.Anything, mock.MatchedBy(func(m club.Mutation) bool {
			return m.Created && m.Club.Name == "VBC Foo" && m.Club.CreatedAt.Equal(clock.now)
		})).
		Return(club.Club{ID: 42, Key: "vbc foo", Name: "VBC Foo"}, nil).
		Once()

	got, err := service.Commit(ctx, "run-1", fooGroup())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got.ClubID != 42 || !got.Created || got.Matched {
		t.Fatalf("unexpected result: %+v", got)
	}
	clubRepo.AssertNumberOfCalls(t, "Save", 2)
}

func TestUpsertService_Commit_ConnectivityLossIsFatalUsingMockery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	clubRepo := clubmock.NewRepository(t)
	service := NewUpsertService(newTestPipeline(clubRepo, checkpointmock.NewStore(t), clock))

	expectNoExistingClub(clubRepo)
	clubRepo.
		On("Save", mock.Anything, mock.Anything).
		Return(club.Club{}, crerr.Mark(errors.New("connection refused"), club.ErrStoreConnectivity))

	_, err := service.Commit(ctx, "run-1", fooGroup())
	if !crerr.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	// One attempt plus two retries.
	clubRepo.AssertNumberOfCalls(t, "Save", 3)
}

func TestUpsertService_Commit_ConstraintViolationUsingMockery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	clubRepo := clubmock.NewRepository(t)
	service := NewUpsertService(newTestPipeline(clubRepo, checkpointmock.NewStore(t), clock))

	expectNoExistingClub(clubRepo)
	clubRepo.
		On("Save", mock.Anything, mock.Anything).
		Return(club.Club{}, crerr.Mark(errors.New("duplicate key"), club.ErrConstraintViolation)).
		Once()

	_, err := service.Commit(ctx, "run-1", fooGroup())
	var txErr *UpsertTransactionError
	if !errors.As(err, &txErr) {
		t.Fatalf("expected UpsertTransactionError, got %v", err)
	}
	if txErr.Attempts != 1 || txErr.Key != "vbc foo" {
		t.Fatalf("unexpected transaction error: %+v", txErr)
	}
	if crerr.Is(err, ErrStoreUnavailable) {
		t.Fatalf("constraint violation must not abort the run")
	}
}

func TestUpsertService_Commit_MatchesByAliasUsingMockery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	clubRepo := clubmock.NewRepository(t)
	service := NewUpsertService(newTestPipeline(clubRepo, checkpointmock.NewStore(t), clock))

	existing := club.Club{ID: 7, Key: "foo volley", Name: "Foo Volley", Town: "Zürich", Aliases: []string{"vbc foo"}}
	// Read once under the group key, then again once the club's own key is held.
	clubRepo.On("FindByKey", mock.Anything, "vbc foo").Return(club.Club{}, false, nil).Twice()
	clubRepo.On("FindByAlias", mock.Anything, "vbc foo").Return(existing, true, nil).Twice()
	clubRepo.
		On("Save", mock.Anything, mock.MatchedBy(func(m club.Mutation) bool {
			return !m.Created && m.Club.ID == 7 && m.Club.Key == "foo volley" && m.Club.HasAlias("VBC Foo")
		})).
		Return(club.Club{ID: 7, Key: "foo volley", Name: "Foo Volley"}, nil).
		Once()

	got, err := service.Commit(ctx, "run-1", fooGroup())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !got.Matched || got.Created || !got.Updated || got.ClubID != 7 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestUpsertService_Commit_UnchangedSkipsWriteUsingMockery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	clubRepo := clubmock.NewRepository(t)
	service := NewUpsertService(newTestPipeline(clubRepo, checkpointmock.NewStore(t), clock))

	existing := club.Club{ID: 3, Key: "vbc foo", Name: "VBC Foo", Town: "Zürich"}
	clubRepo.On("FindByKey", mock.Anything, "vbc foo").Return(existing, true, nil).Once()

	got, err := service.Commit(ctx, "run-1", fooGroup())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got.Updated || got.Created || got.ClubID != 3 {
		t.Fatalf("unexpected result: %+v", got)
	}
	clubRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}
