// ABOUTME: Typed errors for the retrieval and memory subsystem
// ABOUTME: Transient backend failures degrade; only total failure or bad config propagate
package errs

import (
	"errors"
	"fmt"
)

// TransientBackendError wraps a network/timeout failure against the vector,
// graph, or embedding backend. It is retried with backoff inside the owning
// component and absorbed into a degraded result, never propagated raw.
type TransientBackendError struct {
	Backend string
	Err     error
}

func (e *TransientBackendError) Error() string {
	return fmt.Sprintf("transient %s backend error: %v", e.Backend, e.Err)
}

func (e *TransientBackendError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientBackendError.
func IsTransient(err error) bool {
	var t *TransientBackendError
	return errors.As(err, &t)
}

// DegradedResultError signals that fusion proceeded with fewer than all
// sources. It is informational, not a failure.
type DegradedResultError struct {
	SourcesUsed []string
}

func (e *DegradedResultError) Error() string {
	return fmt.Sprintf("degraded result: only %d source(s) responded %v", len(e.SourcesUsed), e.SourcesUsed)
}

// ConsistencyConflict records a memory bank vs. graph store disagreement.
// Resolved per policy and logged, never silently dropped.
type ConsistencyConflict struct {
	ProjectID string
	Concept   string
	Detail    string
}

func (e *ConsistencyConflict) Error() string {
	return fmt.Sprintf("consistency conflict in project %s on concept %q: %s", e.ProjectID, e.Concept, e.Detail)
}

// CapacityExceeded marks a memory bank size cap being hit. It triggers
// deterministic truncation and is not surfaced to callers.
type CapacityExceeded struct {
	Field string
	Limit int
}

func (e *CapacityExceeded) Error() string {
	return fmt.Sprintf("capacity exceeded for %s (limit %d)", e.Field, e.Limit)
}

// FatalConfigError fails fast at startup for missing or invalid configuration.
type FatalConfigError struct {
	Field  string
	Reason string
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("fatal config error: %s: %s", e.Field, e.Reason)
}
