package main

import (
	"errors"
	"fmt"
)

// ErrLockTimeout is returned when the per-match lock could not be acquired
// within the caller's deadline. The tick that hit it is skipped, not failed.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// ErrMatchNotFound is returned for operations on an unknown match id.
var ErrMatchNotFound = errors.New("match not found")

// ConfigError reports invalid match settings. It is returned before any
// match object exists; a match is never created from bad settings.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid setting %q: %s", e.Field, e.Reason)
}

// CapacityError reports a join attempt that lost the race for a slot, or a
// player already admitted elsewhere. No match state is mutated.
type CapacityError struct {
	MatchID string
	Reason  string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("cannot join match %s: %s", e.MatchID, e.Reason)
}

// StateValidationError reports a MatchState that failed structural checks at
// a tick boundary. PostPhysics distinguishes corruption produced by our own
// resolver (a bug) from corruption in the loaded state (external).
type StateValidationError struct {
	MatchID     string
	Reason      string
	PostPhysics bool
}

func (e *StateValidationError) Error() string {
	stage := "loaded"
	if e.PostPhysics {
		stage = "computed"
	}
	return fmt.Sprintf("match %s: %s state invalid: %s", e.MatchID, stage, e.Reason)
}
