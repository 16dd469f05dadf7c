package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miocrobos/habicht-directory/internal/domain/checkpoint"
	"github.com/miocrobos/habicht-directory/internal/platform/logging"
)

func entry(run, id string, status checkpoint.Status) checkpoint.Entry {
	return checkpoint.Entry{
		RunName:   run,
		RecordID:  id,
		Key:       "vbc foo",
		Status:    status,
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestJournal_SaveAndReplay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "run.jsonl")

	j, err := Open(path, logging.NewNop())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	failed := entry("nightly", "r2", checkpoint.StatusFailed)
	failed.Attempts = 2
	failed.LastError = "deadlock detected"
	failed.NextAttemptAt = time.Date(2026, 3, 1, 12, 4, 0, 0, time.UTC)
	if err := j.Save(ctx, entry("nightly", "r1", checkpoint.StatusMerged), failed); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := j.Save(ctx, entry("nightly", "r1", checkpoint.StatusCommitted), entry("other", "r1", checkpoint.StatusParsed)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	j, err = Open(path, logging.NewNop())
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer j.Close()

	got, err := j.Load(ctx, "nightly")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got["r1"].Status != checkpoint.StatusCommitted {
		t.Fatalf("expected last write to win, got %s", got["r1"].Status)
	}
	if got["r2"].Attempts != 2 || !got["r2"].NextAttemptAt.Equal(failed.NextAttemptAt) || got["r2"].LastError != "deadlock detected" {
		t.Fatalf("unexpected failed entry: %+v", got["r2"])
	}
}

func TestJournal_SkipsTornLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.jsonl")
	content := `{"run_name":"nightly","record_id":"r1","status":"committed","attempts":0,"updated_at":"2026-03-01T12:00:00Z"}` + "\n" +
		`{"run_name":"nightly","record_id":"r2","sta`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write journal: %v", err)
	}

	j, err := Open(path, logging.NewNop())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	got, _ := j.Load(context.Background(), "nightly")
	if len(got) != 1 || got["r1"].Status != checkpoint.StatusCommitted {
		t.Fatalf("unexpected entries after torn line: %+v", got)
	}
}

func TestJournal_ExclusiveLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.jsonl")
	j, err := Open(path, logging.NewNop())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	if _, err := Open(path, logging.NewNop()); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	again, err := Open(path, logging.NewNop())
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	_ = again.Close()
}

func TestJournal_CompactsRedundantLines(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run.jsonl")
	j, err := Open(path, logging.NewNop())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	for _, status := range []checkpoint.Status{checkpoint.StatusParsed, checkpoint.StatusNewCanonical, checkpoint.StatusMerged, checkpoint.StatusCommitted} {
		if err := j.Save(ctx, entry("nightly", "r1", status)); err != nil {
			t.Fatalf("save %s: %v", status, err)
		}
	}
	_ = j.Close()

	j, err = Open(path, logging.NewNop())
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer j.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if lines := strings.Count(string(raw), "\n"); lines != 1 {
		t.Fatalf("expected compacted journal with 1 line, got %d", lines)
	}
	got, _ := j.Load(ctx, "nightly")
	if got["r1"].Status != checkpoint.StatusCommitted {
		t.Fatalf("unexpected status after compaction: %s", got["r1"].Status)
	}
}

func TestJournal_RejectsIncompleteEntry(t *testing.T) {
	t.Parallel()

	j, err := Open(filepath.Join(t.TempDir(), "run.jsonl"), logging.NewNop())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	if err := j.Save(context.Background(), checkpoint.Entry{RunName: "nightly"}); err == nil {
		t.Fatalf("expected error for entry without record id")
	}
}
