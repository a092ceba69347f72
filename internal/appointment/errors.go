package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("appointment not found")
	ErrStale    = errors.New("appointment modified concurrently, retry")
)

// InvalidTransitionError reports a move that no actor is allowed to make
// from the current state. It is safe to expose verbatim to any caller.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition appointment from %s to %s", e.From, e.To)
}

// PermissionDeniedError reports a move that exists in the transition table
// but is reserved for a different actor role.
type PermissionDeniedError struct {
	Role ActorRole
	From Status
	To   Status
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("actor role %s may not transition appointment from %s to %s", e.Role, e.From, e.To)
}
