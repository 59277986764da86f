package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
)

// Backend names a tree storage strategy.
type Backend string

const (
	BackendAdjacency Backend = "adjacency"
	BackendPath      Backend = "path"
	BackendClosure   Backend = "closure"
)

func ParseBackend(v string) (Backend, bool) {
	switch Backend(v) {
	case BackendAdjacency, BackendPath, BackendClosure:
		return Backend(v), true
	}
	return "", false
}

// NodeRow is a node as a store returns it. Depth is the hop distance from
// the node the query was anchored on (0 for the node itself, 1 for direct
// relations); Path is populated by the materialized-path backend only.
type NodeRow struct {
	ID       uuid.UUID
	Kind     kind.Kind
	Name     string
	ParentID *uuid.UUID
	Depth    int
	Path     string
}

// TreeStore is the storage strategy contract. One implementation exists per
// layout (adjacency list, materialized path, closure table); the engine
// drives exactly one of them per hierarchy kind and never mixes layouts
// inside a tree.
//
// Mutating methods must be called inside the scope opened by InTx; the store
// guarantees that everything done inside one InTx call becomes visible
// atomically or not at all.
//
// Ordering contracts:
//   - ListChildren: name ascending, id as tie-break.
//   - ListDescendants: depth ascending, then name, then id. Depth is hops
//     from the anchor node; the anchor itself is excluded.
//   - ListAncestors: leaf-to-root (direct parent first, root last).
//
// GetNode, RenameNode, MoveSubtree, DeleteSubtree, CountChildren and the
// List* methods fail with ErrNodeNotFound when the anchor node does not
// exist for the tenant and kind.
type TreeStore interface {
	Backend() Backend

	// InTx runs fn as one atomic unit for the given tenant. Rolls back all
	// of fn's writes when it returns an error.
	InTx(ctx context.Context, tenantID uuid.UUID, fn func(txCtx context.Context) error) error

	InsertNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, name string, parentID *uuid.UUID) (NodeRow, error)
	GetNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (NodeRow, error)
	RenameNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, name string) error

	// MoveSubtree re-parents nodeID and rewrites every piece of derived
	// state (children index, subtree paths, closure rows) for the moved
	// subtree. Callers must have established that the move is acyclic.
	MoveSubtree(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, newParentID *uuid.UUID) error

	// DeleteSubtree removes nodeID and all of its descendants from every
	// structure they appear in, returning the removed ids.
	DeleteSubtree(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]uuid.UUID, error)

	CountChildren(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (int64, error)
	ListChildren(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]NodeRow, error)
	ListDescendants(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]NodeRow, error)
	ListAncestors(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]NodeRow, error)

	// IsDescendant reports whether nodeID lies strictly below ancestorID.
	IsDescendant(ctx context.Context, tenantID uuid.UUID, k kind.Kind, ancestorID, nodeID uuid.UUID) (bool, error)

	// SearchNodes matches name case-insensitively as a substring, name order.
	SearchNodes(ctx context.Context, tenantID uuid.UUID, k kind.Kind, pattern string) ([]NodeRow, error)
}
