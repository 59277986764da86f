package persistence

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
)

// MemoryPathStore mirrors the materialized-path layout: every query is a
// string-prefix test over the per-node path chains.
type MemoryPathStore struct {
	memBase
	paths map[memKey]map[uuid.UUID]string
}

func NewMemoryPathStore() *MemoryPathStore {
	return &MemoryPathStore{
		memBase: newMemBase(),
		paths:   make(map[memKey]map[uuid.UUID]string),
	}
}

func (s *MemoryPathStore) Backend() services.Backend { return services.BackendPath }

func (s *MemoryPathStore) InTx(ctx context.Context, tenantID uuid.UUID, fn func(txCtx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trees := s.snapshotTrees()
	paths := s.snapshotPaths()
	if err := fn(ctx); err != nil {
		s.trees = trees
		s.paths = paths
		return err
	}
	return nil
}

func (s *MemoryPathStore) snapshotPaths() map[memKey]map[uuid.UUID]string {
	snap := make(map[memKey]map[uuid.UUID]string, len(s.paths))
	for key, byID := range s.paths {
		cp := make(map[uuid.UUID]string, len(byID))
		for id, p := range byID {
			cp[id] = p
		}
		snap[key] = cp
	}
	return snap
}

func (s *MemoryPathStore) pathMap(key memKey) map[uuid.UUID]string {
	byID, ok := s.paths[key]
	if !ok {
		byID = make(map[uuid.UUID]string)
		s.paths[key] = byID
	}
	return byID
}

func pathDepth(p string) int {
	return strings.Count(p, "/") - 1
}

func (s *MemoryPathStore) InsertNode(_ context.Context, tenantID uuid.UUID, k kind.Kind, name string, parentID *uuid.UUID) (services.NodeRow, error) {
	key := memKey{tenantID: tenantID, kind: k}
	t := s.tree(tenantID, k)
	paths := s.pathMap(key)
	parentPath := "/"
	if parentID != nil {
		p, ok := paths[*parentID]
		if !ok {
			return services.NodeRow{}, services.ErrNodeNotFound
		}
		parentPath = p
	}
	n := &memNode{id: uuid.New(), name: name}
	if parentID != nil {
		p := *parentID
		n.parentID = &p
	}
	t.nodes[n.id] = n
	paths[n.id] = parentPath + n.id.String() + "/"
	return memRow(k, n, 0, paths[n.id]), nil
}

func (s *MemoryPathStore) GetNode(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (services.NodeRow, error) {
	key := memKey{tenantID: tenantID, kind: k}
	n, ok := s.tree(tenantID, k).nodes[nodeID]
	if !ok {
		return services.NodeRow{}, services.ErrNodeNotFound
	}
	return memRow(k, n, 0, s.pathMap(key)[nodeID]), nil
}

func (s *MemoryPathStore) RenameNode(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, name string) error {
	n, ok := s.tree(tenantID, k).nodes[nodeID]
	if !ok {
		return services.ErrNodeNotFound
	}
	n.name = name
	return nil
}

func (s *MemoryPathStore) MoveSubtree(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, newParentID *uuid.UUID) error {
	key := memKey{tenantID: tenantID, kind: k}
	t := s.tree(tenantID, k)
	paths := s.pathMap(key)
	n, ok := t.nodes[nodeID]
	if !ok {
		return services.ErrNodeNotFound
	}
	oldPath := paths[nodeID]
	newParentPath := "/"
	if newParentID != nil {
		p, ok := paths[*newParentID]
		if !ok {
			return services.ErrNodeNotFound
		}
		newParentPath = p
	}
	newPath := newParentPath + nodeID.String() + "/"
	if newPath != oldPath {
		for id, p := range paths {
			if strings.HasPrefix(p, oldPath) {
				paths[id] = newPath + strings.TrimPrefix(p, oldPath)
			}
		}
	}
	n.parentID = nil
	if newParentID != nil {
		p := *newParentID
		n.parentID = &p
	}
	return nil
}

func (s *MemoryPathStore) DeleteSubtree(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]uuid.UUID, error) {
	key := memKey{tenantID: tenantID, kind: k}
	t := s.tree(tenantID, k)
	paths := s.pathMap(key)
	prefix, ok := paths[nodeID]
	if !ok {
		return nil, services.ErrNodeNotFound
	}
	var removed []uuid.UUID
	for id, p := range paths {
		if strings.HasPrefix(p, prefix) {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(t.nodes, id)
		delete(paths, id)
	}
	sortIDs(removed)
	return removed, nil
}

func (s *MemoryPathStore) CountChildren(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (int64, error) {
	rows, err := s.ListChildren(ctx, tenantID, k, nodeID)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (s *MemoryPathStore) ListChildren(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	key := memKey{tenantID: tenantID, kind: k}
	t := s.tree(tenantID, k)
	paths := s.pathMap(key)
	prefix, ok := paths[nodeID]
	if !ok {
		return nil, services.ErrNodeNotFound
	}
	var out []services.NodeRow
	for id, p := range paths {
		if strings.HasPrefix(p, prefix) && pathDepth(p) == pathDepth(prefix)+1 {
			out = append(out, memRow(k, t.nodes[id], 1, p))
		}
	}
	sortByName(out)
	return out, nil
}

func (s *MemoryPathStore) ListDescendants(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	key := memKey{tenantID: tenantID, kind: k}
	t := s.tree(tenantID, k)
	paths := s.pathMap(key)
	prefix, ok := paths[nodeID]
	if !ok {
		return nil, services.ErrNodeNotFound
	}
	var out []services.NodeRow
	for id, p := range paths {
		if strings.HasPrefix(p, prefix) && p != prefix {
			out = append(out, memRow(k, t.nodes[id], pathDepth(p)-pathDepth(prefix), p))
		}
	}
	sortByDepthName(out)
	return out, nil
}

func (s *MemoryPathStore) ListAncestors(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	key := memKey{tenantID: tenantID, kind: k}
	t := s.tree(tenantID, k)
	paths := s.pathMap(key)
	nodePath, ok := paths[nodeID]
	if !ok {
		return nil, services.ErrNodeNotFound
	}
	var out []services.NodeRow
	for id, p := range paths {
		if strings.HasPrefix(nodePath, p) && p != nodePath {
			out = append(out, memRow(k, t.nodes[id], pathDepth(nodePath)-pathDepth(p), p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Depth < out[j].Depth })
	return out, nil
}

func (s *MemoryPathStore) IsDescendant(_ context.Context, tenantID uuid.UUID, k kind.Kind, ancestorID, nodeID uuid.UUID) (bool, error) {
	key := memKey{tenantID: tenantID, kind: k}
	paths := s.pathMap(key)
	ancestorPath, ok := paths[ancestorID]
	if !ok {
		return false, nil
	}
	nodePath, ok := paths[nodeID]
	if !ok {
		return false, nil
	}
	return nodePath != ancestorPath && strings.HasPrefix(nodePath, ancestorPath), nil
}

func (s *MemoryPathStore) SearchNodes(_ context.Context, tenantID uuid.UUID, k kind.Kind, pattern string) ([]services.NodeRow, error) {
	return searchMemTree(s.tree(tenantID, k), k, pattern), nil
}
