package event

import (
	"github.com/google/uuid"
	"github.com/l1jgo/worldcore/internal/core/handle"
)

// Structural lifecycle events, emitted under the write scope and delivered
// on the following tick.

type ObjectCreated struct {
	Object   handle.Handle
	StableID uuid.UUID
	Parent   handle.Handle
	ParentID uuid.UUID
}

type ObjectDestroyed struct {
	Object   handle.Handle
	StableID uuid.UUID
}

type ParentChanged struct {
	Object      handle.Handle
	StableID    uuid.UUID
	OldParent   handle.Handle
	NewParent   handle.Handle
	NewParentID uuid.UUID // uuid.Nil when moved to the root
}

type ComponentAdded struct {
	Object    handle.Handle
	Component handle.Handle
	Kind      string
}

type ComponentRemoved struct {
	Object    handle.Handle
	Component handle.Handle
	Kind      string
}
