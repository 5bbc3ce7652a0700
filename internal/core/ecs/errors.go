package ecs

import (
	"errors"
	"fmt"

	"github.com/l1jgo/worldcore/internal/core/handle"
)

var (
	// ErrScopeReleased is returned when a scope is used after Release.
	ErrScopeReleased = errors.New("ecs: scope already released")
	// ErrStaleHandle is returned by structural operations whose target no
	// longer exists. Lookups never return it; they report absence instead.
	ErrStaleHandle = errors.New("ecs: stale handle")
	// ErrDuplicateID is returned when a stable ID is already in use.
	ErrDuplicateID = errors.New("ecs: duplicate stable id")
	// ErrKindMismatch is returned when a payload does not match its kind.
	ErrKindMismatch = errors.New("ecs: payload does not match component kind")
	// ErrNoModuleFactory is returned when no factory is registered for a
	// module interface.
	ErrNoModuleFactory = errors.New("ecs: no module factory registered")
	// ErrClosed is returned for operations on a closed World.
	ErrClosed = errors.New("ecs: world closed")
)

// CycleError rejects a SetParent that would put an object under its own
// descendant.
type CycleError struct {
	Child, Parent handle.Handle
}

func (e CycleError) Error() string {
	return fmt.Sprintf("ecs: parenting %v under %v would create a cycle", e.Child, e.Parent)
}
