package usecase

import (
	"sync"
	"time"

	"github.com/miocrobos/habicht-directory/internal/domain/checkpoint"
	"github.com/miocrobos/habicht-directory/internal/domain/dedup"
)

// runTracker holds the in-memory state machine of every record in a run.
// Only terminal transitions are handed back for persistence.
type runTracker struct {
	mu      sync.Mutex
	runName string
	now     time.Time
	loaded  map[string]checkpoint.Entry
	entries map[string]*checkpoint.Entry
}

func newRunTracker(loaded map[string]checkpoint.Entry, runName string, now time.Time) *runTracker {
	return &runTracker{
		runName: runName,
		now:     now,
		loaded:  loaded,
		entries: make(map[string]*checkpoint.Entry),
	}
}

// begin registers a parsed record, reopening it if an earlier run failed it.
func (t *runTracker) begin(recordID, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[recordID]; ok {
		return
	}
	e, ok := t.loaded[recordID]
	if !ok {
		e = checkpoint.Entry{RunName: t.runName, RecordID: recordID, Status: checkpoint.StatusPending}
	}
	if e.Status == checkpoint.StatusFailed {
		_ = e.Retry(t.now)
	}
	if e.Status != checkpoint.StatusPending {
		// A crash left the entry mid-flight; start it over.
		e.Status = checkpoint.StatusPending
	}
	e.Key = key
	_ = e.Advance(checkpoint.StatusParsed, t.now)
	t.entries[recordID] = &e
}

func (t *runTracker) commit(group dedup.Group, matched bool, at time.Time) ([]checkpoint.Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	step := checkpoint.StatusNewCanonical
	if matched {
		step = checkpoint.StatusMatched
	}

	var out []checkpoint.Entry
	var firstErr error
	for _, e := range t.groupEntries(group) {
		for _, to := range []checkpoint.Status{step, checkpoint.StatusMerged, checkpoint.StatusCommitted} {
			if err := e.Advance(to, at); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				break
			}
		}
		if e.Status == checkpoint.StatusCommitted {
			e.LastError = ""
			e.NextAttemptAt = time.Time{}
			out = append(out, *e)
		}
	}
	return out, firstErr
}

func (t *runTracker) fail(group dedup.Group, cause error, at time.Time, backoff checkpoint.Backoff) []checkpoint.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []checkpoint.Entry
	for _, e := range t.groupEntries(group) {
		if err := e.Fail(cause, at, backoff); err != nil {
			continue
		}
		out = append(out, *e)
	}
	return out
}

// groupEntries returns each tracked entry of the group once. Records added by
// enrichment are not tracked.
func (t *runTracker) groupEntries(group dedup.Group) []*checkpoint.Entry {
	seen := make(map[string]struct{}, len(group.Records))
	out := make([]*checkpoint.Entry, 0, len(group.Records))
	for _, rec := range group.Records {
		if _, dup := seen[rec.RecordID]; dup {
			continue
		}
		seen[rec.RecordID] = struct{}{}
		if e, ok := t.entries[rec.RecordID]; ok {
			out = append(out, e)
		}
	}
	return out
}
