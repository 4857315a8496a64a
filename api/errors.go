package api

import "errors"

// Sentinel errors for the four error kinds of the similarity index. Callers
// should use errors.Is against these, not string matching.
var (
	// ErrNotFound is returned when a phash_id or file_id does not exist.
	ErrNotFound = errors.New("simfiles: not found")

	// ErrIntegrityViolation means an invariant of the tree was detected
	// corrupt (e.g. a node references a missing child). Writes to the index
	// are suspended until RegenerateTree runs.
	ErrIntegrityViolation = errors.New("simfiles: tree integrity violation")

	// ErrCancelled means a long-running operation was aborted via context
	// cancellation or deadline. Partial work already committed stays
	// committed; the maintenance queue retains the rest.
	ErrCancelled = errors.New("simfiles: operation cancelled")

	// ErrSuspended is returned by write operations while the index is
	// suspended following a detected integrity violation.
	ErrSuspended = errors.New("simfiles: index writes suspended pending regeneration")

	// ErrStorageFailure names the storage-failure kind. No code in this
	// module returns it: the stores return the underlying database/sql
	// error wrapped with context via fmt.Errorf, so errors.Is against this
	// sentinel does not match them.
	ErrStorageFailure = errors.New("simfiles: storage failure")
)
