package club

import "errors"

// Store error classes. Repositories mark driver errors with these so use
// cases can decide between retrying, failing the group and aborting the run.
var (
	ErrStoreConnectivity   = errors.New("club store connectivity lost")
	ErrStoreContention     = errors.New("club store contention")
	ErrConstraintViolation = errors.New("club store constraint violation")
)
