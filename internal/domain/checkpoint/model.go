// Package checkpoint tracks per-record progress so an interrupted run can
// resume without redoing committed work.
package checkpoint

import (
	"context"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusParsed       Status = "parsed"
	StatusMatched      Status = "matched"
	StatusNewCanonical Status = "new_canonical"
	StatusMerged       Status = "merged"
	StatusCommitted    Status = "committed"
	StatusFailed       Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:      {StatusParsed},
	StatusParsed:       {StatusMatched, StatusNewCanonical},
	StatusMatched:      {StatusMerged},
	StatusNewCanonical: {StatusMerged},
	StatusMerged:       {StatusCommitted},
	StatusFailed:       {StatusPending},
}

// CanTransition reports whether from may move to to. Any non-terminal status
// may fail; committed is terminal.
func CanTransition(from, to Status) bool {
	if from == StatusCommitted {
		return false
	}
	if to == StatusFailed {
		return from != StatusFailed
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusFailed
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if _, ok := transitions[s]; ok || s == StatusCommitted {
		return s, nil
	}
	return "", fmt.Errorf("unknown checkpoint status %q", v)
}

// Entry is the persisted state of one record within a named run.
type Entry struct {
	RunName       string    `json:"run_name" db:"run_name"`
	RecordID      string    `json:"record_id" db:"record_id"`
	Key           string    `json:"key,omitempty" db:"dedup_key"`
	Status        Status    `json:"status" db:"status"`
	Attempts      int       `json:"attempts" db:"attempts"`
	LastError     string    `json:"last_error,omitempty" db:"last_error"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Advance moves e to status, refusing illegal transitions.
func (e *Entry) Advance(to Status, now time.Time) error {
	from := e.Status
	if from == "" {
		from = StatusPending
	}
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return &TransitionError{RecordID: e.RecordID, From: from, To: to}
	}
	e.Status = to
	e.UpdatedAt = now
	return nil
}

// Fail marks e failed and schedules the next attempt with backoff.
func (e *Entry) Fail(cause error, now time.Time, backoff Backoff) error {
	if err := e.Advance(StatusFailed, now); err != nil {
		return err
	}
	e.Attempts++
	if cause != nil {
		e.LastError = cause.Error()
	}
	e.NextAttemptAt = now.Add(backoff.Delay(e.Attempts))
	return nil
}

// Retry reopens a failed entry for another attempt.
func (e *Entry) Retry(now time.Time) error {
	return e.Advance(StatusPending, now)
}

type Decision string

const (
	DecisionProcess Decision = "process"
	DecisionSkip    Decision = "skip"
	DecisionDefer   Decision = "defer"
)

// Decide tells a resumed run what to do with a record it has seen before.
func (e Entry) Decide(now time.Time) Decision {
	switch e.Status {
	case StatusCommitted:
		return DecisionSkip
	case StatusFailed:
		if !e.NextAttemptAt.IsZero() && now.Before(e.NextAttemptAt) {
			return DecisionDefer
		}
		return DecisionProcess
	default:
		return DecisionProcess
	}
}

// Backoff spaces out retries of failed records: Base doubled per attempt, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Base: time.Minute, Max: 6 * time.Hour}
}

func (b Backoff) Delay(attempts int) time.Duration {
	if b.Base <= 0 {
		b = DefaultBackoff()
	}
	if attempts < 1 {
		attempts = 1
	}
	d := b.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

type TransitionError struct {
	RecordID string
	From     Status
	To       Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("checkpoint %s: illegal transition %s -> %s", e.RecordID, e.From, e.To)
}

// Store persists entries. Save is an upsert keyed by (RunName, RecordID).
type Store interface {
	Load(ctx context.Context, runName string) (map[string]Entry, error)
	Save(ctx context.Context, entries ...Entry) error
	Close() error
}
