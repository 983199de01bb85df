package debate

import "errors"

// Error taxonomy for the orchestration core. Backend-level failures
// (timeout, connection, malformed response) live in services/llm and are
// wrapped into terminal turn state rather than propagated as panics;
// everything here is either an admission error returned synchronously to
// the caller or a fatal invariant breach.
var (
	// ErrCapacityExceeded is returned by Registry.Create when the global
	// concurrent-session cap is reached. Never returned after a session
	// has been admitted.
	ErrCapacityExceeded = errors.New("maximum concurrent debates reached")

	// ErrSessionNotFound is returned for lookups of unknown or already
	// evicted session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidFormat is returned at session creation for an unknown
	// format name or a custom format without a turn plan.
	ErrInvalidFormat = errors.New("invalid debate format")

	// ErrSessionTerminal is returned when an operation requires a live
	// session (e.g. cancel) but the session already reached a terminal
	// status.
	ErrSessionTerminal = errors.New("session already terminal")

	// ErrInvariantViolation marks a programming-level invariant breach
	// (mutating a terminal turn, scoring a non-terminal turn). It fails
	// fast: the scheduler marks the session FAILED instead of continuing
	// on corrupt state.
	ErrInvariantViolation = errors.New("debate invariant violation")
)
