package core

import "errors"

// Error taxonomy shared by storage backends and services. Callers match
// with errors.Is; backends wrap these with detail.
var (
	// ErrNotFound: the referenced tenant/child/transaction does not
	// resolve to a live (non-deleted) record. Surfaced, never retried.
	ErrNotFound = errors.New("not found")

	// ErrConflict: a uniqueness rule was violated, e.g. a duplicate
	// tenant URL suffix. The operation is rejected with no partial write.
	ErrConflict = errors.New("conflict")

	// ErrRaceLost: the optimistic append guard detected an interleaving
	// write. The caller retries with a freshly read balance.
	ErrRaceLost = errors.New("concurrent append lost race")

	// ErrStoreUnavailable: the backing store is unreachable. Individual
	// operations may be retried; a scheduler run is never aborted by it.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsRetryable reports whether an operation may be re-attempted as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRaceLost) || errors.Is(err, ErrStoreUnavailable)
}
