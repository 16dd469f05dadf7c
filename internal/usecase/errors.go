package usecase

import (
	"fmt"

	crerr "github.com/cockroachdb/errors"
)

var (
	ErrInvalidInput          = crerr.New("invalid input")
	ErrNotFound              = crerr.New("resource not found")
	ErrDependencyUnavailable = crerr.New("dependency unavailable")
	// ErrStoreUnavailable aborts a run: the canonical store stayed unreachable
	// after the retry budget was spent.
	ErrStoreUnavailable = crerr.New("canonical store unavailable")
)

// UpsertTransactionError is a group whose transaction was rolled back. Its
// records are marked failed and retried by a later run.
type UpsertTransactionError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *UpsertTransactionError) Error() string {
	return fmt.Sprintf("upsert club %q failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *UpsertTransactionError) Unwrap() error {
	return e.Err
}
