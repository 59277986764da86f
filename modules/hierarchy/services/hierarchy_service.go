package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/pkg/composables"
	"github.com/iota-uz/orgtree/pkg/repo"
)

const (
	defaultPageSize = 25
	defaultMaxPage  = 100
)

// Node is the engine's public node shape.
type Node struct {
	ID       uuid.UUID  `json:"id"`
	Kind     kind.Kind  `json:"kind"`
	Name     string     `json:"name"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
}

func nodeFromRow(k kind.Kind, row NodeRow) Node {
	return Node{ID: row.ID, Kind: k, Name: row.Name, ParentID: row.ParentID}
}

func nodesFromRows(k kind.Kind, rows []NodeRow) []Node {
	out := make([]Node, 0, len(rows))
	for _, r := range rows {
		out = append(out, nodeFromRow(k, r))
	}
	return out
}

// HierarchyServiceOptions wires the engine. Stores maps each backend to its
// TreeStore implementation; BackendFor binds a hierarchy kind to one of the
// provided backends (typically configuration.Use().Hierarchy.BackendFor).
type HierarchyServiceOptions struct {
	Stores       map[Backend]TreeStore
	BackendFor   func(k kind.Kind) Backend
	CacheEnabled bool
	PageSize     int
	MaxPageSize  int
}

// HierarchyService is the tree engine: it validates operations, detects
// cycles, and drives the storage strategy configured for each hierarchy
// kind. Ancestor chains are returned leaf-to-root.
type HierarchyService struct {
	stores       map[Backend]TreeStore
	backendFor   func(k kind.Kind) Backend
	cache        *hierarchyCache
	cacheEnabled bool
	pageSize     int
	maxPageSize  int
}

func NewHierarchyService(opts HierarchyServiceOptions) *HierarchyService {
	backendFor := opts.BackendFor
	if backendFor == nil {
		backendFor = func(kind.Kind) Backend { return BackendAdjacency }
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = defaultMaxPage
	}
	s := &HierarchyService{
		stores:       opts.Stores,
		backendFor:   backendFor,
		cache:        newHierarchyCache(),
		cacheEnabled: opts.CacheEnabled,
		pageSize:     pageSize,
		maxPageSize:  maxPageSize,
	}
	for _, k := range kind.All() {
		if _, err := s.storeFor(k); err == nil {
			RecordActiveBackendMetric(k.String(), backendFor(k))
		}
	}
	return s
}

func (s *HierarchyService) storeFor(k kind.Kind) (TreeStore, error) {
	backend := s.backendFor(k)
	store, ok := s.stores[backend]
	if !ok {
		return nil, errInvalidQuery("no store configured for backend " + string(backend))
	}
	return store, nil
}

type CreateNodeInput struct {
	Name     string
	ParentID *uuid.UUID
}

func (s *HierarchyService) CreateNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, in CreateNodeInput) (*Node, error) {
	if tenantID == uuid.Nil {
		return nil, errValidation("tenant_id is required")
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, errValidation("name is required")
	}
	store, err := s.storeFor(k)
	if err != nil {
		return nil, err
	}

	var row NodeRow
	err = store.InTx(ctx, tenantID, func(txCtx context.Context) error {
		if in.ParentID != nil {
			if _, err := store.GetNode(txCtx, tenantID, k, *in.ParentID); err != nil {
				if IsCode(mapStoreError(err), "HIER_NOT_FOUND") {
					return errParentNotFound("parent not found")
				}
				return mapStoreError(err)
			}
		}
		var err error
		row, err = store.InsertNode(txCtx, tenantID, k, in.Name, in.ParentID)
		return mapStoreError(err)
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	s.invalidate(tenantID, "create")
	composables.UseLogger(ctx).WithFields(map[string]any{
		"tenant_id": tenantID, "kind": k, "node_id": row.ID, "parent_id": in.ParentID,
	}).Info("hierarchy node created")

	node := nodeFromRow(k, row)
	return &node, nil
}

// UpdateNodeInput follows the double-pointer convention for the parent:
// nil leaves the parent untouched, a pointer to nil makes the node a root,
// a pointer to an id re-parents the node under that id.
type UpdateNodeInput struct {
	NodeID      uuid.UUID
	Name        *string
	NewParentID **uuid.UUID
}

func (s *HierarchyService) UpdateNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, in UpdateNodeInput) (*Node, error) {
	if tenantID == uuid.Nil {
		return nil, errValidation("tenant_id is required")
	}
	if in.NodeID == uuid.Nil {
		return nil, errValidation("id is required")
	}
	if in.Name == nil && in.NewParentID == nil {
		return nil, errValidation("nothing to update")
	}
	var newName string
	if in.Name != nil {
		newName = strings.TrimSpace(*in.Name)
		if newName == "" {
			return nil, errValidation("name must not be blank")
		}
	}
	store, err := s.storeFor(k)
	if err != nil {
		return nil, err
	}

	var row NodeRow
	err = store.InTx(ctx, tenantID, func(txCtx context.Context) error {
		current, err := store.GetNode(txCtx, tenantID, k, in.NodeID)
		if err != nil {
			return mapStoreError(err)
		}

		if in.NewParentID != nil {
			newParent := *in.NewParentID
			if err := s.checkMove(txCtx, store, tenantID, k, in.NodeID, newParent); err != nil {
				return err
			}
			if parentChanged(current.ParentID, newParent) {
				if err := store.MoveSubtree(txCtx, tenantID, k, in.NodeID, newParent); err != nil {
					return mapStoreError(err)
				}
			}
		}

		if in.Name != nil && newName != current.Name {
			if err := store.RenameNode(txCtx, tenantID, k, in.NodeID, newName); err != nil {
				return mapStoreError(err)
			}
		}

		row, err = store.GetNode(txCtx, tenantID, k, in.NodeID)
		return mapStoreError(err)
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	s.invalidate(tenantID, "update")
	composables.UseLogger(ctx).WithFields(map[string]any{
		"tenant_id": tenantID, "kind": k, "node_id": in.NodeID,
	}).Info("hierarchy node updated")

	node := nodeFromRow(k, row)
	return &node, nil
}

// checkMove enforces the no-cycle invariant: the new parent must exist and
// must not be the node itself or any of its descendants. Runs inside the
// same transaction as the move so a concurrent re-parent cannot slip a
// cycle past the check.
func (s *HierarchyService) checkMove(ctx context.Context, store TreeStore, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, newParentID *uuid.UUID) error {
	if newParentID == nil {
		return nil
	}
	if *newParentID == nodeID {
		return errCycle("node cannot be its own parent")
	}
	if _, err := store.GetNode(ctx, tenantID, k, *newParentID); err != nil {
		if IsCode(mapStoreError(err), "HIER_NOT_FOUND") {
			return errParentNotFound("new parent not found")
		}
		return mapStoreError(err)
	}
	inSubtree, err := store.IsDescendant(ctx, tenantID, k, nodeID, *newParentID)
	if err != nil {
		return mapStoreError(err)
	}
	if inSubtree {
		return errCycle("new parent is a descendant of the node")
	}
	return nil
}

func (s *HierarchyService) DeleteNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, cascade bool) error {
	if tenantID == uuid.Nil {
		return errValidation("tenant_id is required")
	}
	if nodeID == uuid.Nil {
		return errValidation("id is required")
	}
	store, err := s.storeFor(k)
	if err != nil {
		return err
	}

	var removed []uuid.UUID
	err = store.InTx(ctx, tenantID, func(txCtx context.Context) error {
		if _, err := store.GetNode(txCtx, tenantID, k, nodeID); err != nil {
			return mapStoreError(err)
		}
		if !cascade {
			n, err := store.CountChildren(txCtx, tenantID, k, nodeID)
			if err != nil {
				return mapStoreError(err)
			}
			if n > 0 {
				return errHasChildren("node has children; delete with cascade or remove them first")
			}
		}
		var err error
		removed, err = store.DeleteSubtree(txCtx, tenantID, k, nodeID)
		return mapStoreError(err)
	})
	if err != nil {
		return mapStoreError(err)
	}

	s.invalidate(tenantID, "delete")
	composables.UseLogger(ctx).WithFields(map[string]any{
		"tenant_id": tenantID, "kind": k, "node_id": nodeID, "removed": len(removed), "cascade": cascade,
	}).Info("hierarchy node deleted")
	return nil
}

func (s *HierarchyService) GetNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (*Node, error) {
	rows, err := s.readRows(ctx, tenantID, k, "node", nodeID.String(), func(txCtx context.Context, store TreeStore) ([]NodeRow, error) {
		row, err := store.GetNode(txCtx, tenantID, k, nodeID)
		if err != nil {
			return nil, err
		}
		return []NodeRow{row}, nil
	})
	if err != nil {
		return nil, err
	}
	node := nodeFromRow(k, rows[0])
	return &node, nil
}

// NodeExists is the existence probe used by the assignment subsystem.
func (s *HierarchyService) NodeExists(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (bool, error) {
	_, err := s.GetNode(ctx, tenantID, k, nodeID)
	if err != nil {
		if IsCode(err, "HIER_NOT_FOUND") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *HierarchyService) GetChildren(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]Node, error) {
	rows, err := s.readRows(ctx, tenantID, k, "children", nodeID.String(), func(txCtx context.Context, store TreeStore) ([]NodeRow, error) {
		return store.ListChildren(txCtx, tenantID, k, nodeID)
	})
	if err != nil {
		return nil, err
	}
	return nodesFromRows(k, rows), nil
}

func (s *HierarchyService) GetDescendants(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]Node, error) {
	rows, err := s.readRows(ctx, tenantID, k, "descendants", nodeID.String(), func(txCtx context.Context, store TreeStore) ([]NodeRow, error) {
		return store.ListDescendants(txCtx, tenantID, k, nodeID)
	})
	if err != nil {
		return nil, err
	}
	return nodesFromRows(k, rows), nil
}

// GetAncestors returns the chain from the node's parent up to the root,
// nearest ancestor first.
func (s *HierarchyService) GetAncestors(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]Node, error) {
	rows, err := s.readRows(ctx, tenantID, k, "ancestors", nodeID.String(), func(txCtx context.Context, store TreeStore) ([]NodeRow, error) {
		return store.ListAncestors(txCtx, tenantID, k, nodeID)
	})
	if err != nil {
		return nil, err
	}
	return nodesFromRows(k, rows), nil
}

// GetParent distinguishes a missing node (HIER_NOT_FOUND) from a node that
// exists but is a root (HIER_NO_PARENT).
func (s *HierarchyService) GetParent(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (*Node, error) {
	node, err := s.GetNode(ctx, tenantID, k, nodeID)
	if err != nil {
		return nil, err
	}
	if node.ParentID == nil {
		return nil, errNoParent("node is a root")
	}
	return s.GetNode(ctx, tenantID, k, *node.ParentID)
}

func (s *HierarchyService) SearchNodes(ctx context.Context, tenantID uuid.UUID, k kind.Kind, pattern string) ([]Node, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, errInvalidQuery("q is required")
	}
	rows, err := s.readRows(ctx, tenantID, k, "search", strings.ToLower(pattern), func(txCtx context.Context, store TreeStore) ([]NodeRow, error) {
		return store.SearchNodes(txCtx, tenantID, k, pattern)
	})
	if err != nil {
		return nil, err
	}
	return nodesFromRows(k, rows), nil
}

func (s *HierarchyService) readRows(ctx context.Context, tenantID uuid.UUID, k kind.Kind, op, keyPart string, fn func(txCtx context.Context, store TreeStore) ([]NodeRow, error)) ([]NodeRow, error) {
	if tenantID == uuid.Nil {
		return nil, errValidation("tenant_id is required")
	}
	store, err := s.storeFor(k)
	if err != nil {
		return nil, err
	}

	cacheKey := repo.CacheKey("hierarchy", op, tenantID, k, keyPart)
	if s.cacheEnabled {
		if cachedAny, ok := s.cache.Get(cacheKey); ok {
			if cached, ok := cachedAny.([]NodeRow); ok {
				recordCacheRequest(op, true)
				return cached, nil
			}
		}
		recordCacheRequest(op, false)
	}

	var rows []NodeRow
	err = store.InTx(ctx, tenantID, func(txCtx context.Context) error {
		var err error
		rows, err = fn(txCtx, store)
		return mapStoreError(err)
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	if s.cacheEnabled {
		s.cache.Set(tenantID, cacheKey, rows)
	}
	return rows, nil
}

func (s *HierarchyService) invalidate(tenantID uuid.UUID, reason string) {
	if !s.cacheEnabled {
		return
	}
	s.cache.InvalidateTenant(tenantID)
	recordCacheInvalidate(reason)
}

func parentChanged(current *uuid.UUID, next *uuid.UUID) bool {
	if current == nil && next == nil {
		return false
	}
	if current != nil && next != nil {
		return *current != *next
	}
	return true
}
