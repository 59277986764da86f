package persistence

import (
	"context"

	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
)

// MemoryAdjacencyStore keeps parent pointers plus a derived parent-to-child
// index and walks both with plain loops.
type MemoryAdjacencyStore struct {
	memBase
	children map[memKey]map[uuid.UUID]map[uuid.UUID]struct{}
}

func NewMemoryAdjacencyStore() *MemoryAdjacencyStore {
	return &MemoryAdjacencyStore{
		memBase:  newMemBase(),
		children: make(map[memKey]map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (s *MemoryAdjacencyStore) Backend() services.Backend { return services.BackendAdjacency }

func (s *MemoryAdjacencyStore) InTx(ctx context.Context, tenantID uuid.UUID, fn func(txCtx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trees := s.snapshotTrees()
	kids := s.snapshotChildren()
	if err := fn(ctx); err != nil {
		s.trees = trees
		s.children = kids
		return err
	}
	return nil
}

func (s *MemoryAdjacencyStore) snapshotChildren() map[memKey]map[uuid.UUID]map[uuid.UUID]struct{} {
	snap := make(map[memKey]map[uuid.UUID]map[uuid.UUID]struct{}, len(s.children))
	for key, byParent := range s.children {
		cp := make(map[uuid.UUID]map[uuid.UUID]struct{}, len(byParent))
		for parent, set := range byParent {
			cs := make(map[uuid.UUID]struct{}, len(set))
			for id := range set {
				cs[id] = struct{}{}
			}
			cp[parent] = cs
		}
		snap[key] = cp
	}
	return snap
}

func (s *MemoryAdjacencyStore) childSet(key memKey, parentID uuid.UUID) map[uuid.UUID]struct{} {
	byParent, ok := s.children[key]
	if !ok {
		byParent = make(map[uuid.UUID]map[uuid.UUID]struct{})
		s.children[key] = byParent
	}
	set, ok := byParent[parentID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		byParent[parentID] = set
	}
	return set
}

func (s *MemoryAdjacencyStore) link(key memKey, parentID *uuid.UUID, childID uuid.UUID) {
	if parentID == nil {
		return
	}
	s.childSet(key, *parentID)[childID] = struct{}{}
}

func (s *MemoryAdjacencyStore) unlink(key memKey, parentID *uuid.UUID, childID uuid.UUID) {
	if parentID == nil {
		return
	}
	if byParent, ok := s.children[key]; ok {
		delete(byParent[*parentID], childID)
	}
}

func (s *MemoryAdjacencyStore) InsertNode(_ context.Context, tenantID uuid.UUID, k kind.Kind, name string, parentID *uuid.UUID) (services.NodeRow, error) {
	key := memKey{tenantID: tenantID, kind: k}
	t := s.tree(tenantID, k)
	if parentID != nil {
		if _, ok := t.nodes[*parentID]; !ok {
			return services.NodeRow{}, services.ErrNodeNotFound
		}
	}
	n := &memNode{id: uuid.New(), name: name}
	if parentID != nil {
		p := *parentID
		n.parentID = &p
	}
	t.nodes[n.id] = n
	s.link(key, n.parentID, n.id)
	return memRow(k, n, 0, ""), nil
}

func (s *MemoryAdjacencyStore) GetNode(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (services.NodeRow, error) {
	n, ok := s.tree(tenantID, k).nodes[nodeID]
	if !ok {
		return services.NodeRow{}, services.ErrNodeNotFound
	}
	return memRow(k, n, 0, ""), nil
}

func (s *MemoryAdjacencyStore) RenameNode(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, name string) error {
	n, ok := s.tree(tenantID, k).nodes[nodeID]
	if !ok {
		return services.ErrNodeNotFound
	}
	n.name = name
	return nil
}

func (s *MemoryAdjacencyStore) MoveSubtree(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, newParentID *uuid.UUID) error {
	key := memKey{tenantID: tenantID, kind: k}
	t := s.tree(tenantID, k)
	n, ok := t.nodes[nodeID]
	if !ok {
		return services.ErrNodeNotFound
	}
	if newParentID != nil {
		if _, ok := t.nodes[*newParentID]; !ok {
			return services.ErrNodeNotFound
		}
	}
	s.unlink(key, n.parentID, nodeID)
	n.parentID = nil
	if newParentID != nil {
		p := *newParentID
		n.parentID = &p
	}
	s.link(key, n.parentID, nodeID)
	return nil
}

func (s *MemoryAdjacencyStore) DeleteSubtree(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]uuid.UUID, error) {
	key := memKey{tenantID: tenantID, kind: k}
	t := s.tree(tenantID, k)
	root, ok := t.nodes[nodeID]
	if !ok {
		return nil, services.ErrNodeNotFound
	}
	removed := s.subtreeIDs(key, nodeID)
	s.unlink(key, root.parentID, nodeID)
	for _, id := range removed {
		delete(t.nodes, id)
		if byParent, ok := s.children[key]; ok {
			delete(byParent, id)
		}
	}
	sortIDs(removed)
	return removed, nil
}

func (s *MemoryAdjacencyStore) subtreeIDs(key memKey, rootID uuid.UUID) []uuid.UUID {
	out := []uuid.UUID{rootID}
	queue := []uuid.UUID{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for child := range s.children[key][id] {
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

func (s *MemoryAdjacencyStore) CountChildren(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (int64, error) {
	key := memKey{tenantID: tenantID, kind: k}
	if _, ok := s.tree(tenantID, k).nodes[nodeID]; !ok {
		return 0, services.ErrNodeNotFound
	}
	return int64(len(s.children[key][nodeID])), nil
}

func (s *MemoryAdjacencyStore) ListChildren(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	key := memKey{tenantID: tenantID, kind: k}
	t := s.tree(tenantID, k)
	if _, ok := t.nodes[nodeID]; !ok {
		return nil, services.ErrNodeNotFound
	}
	var out []services.NodeRow
	for id := range s.children[key][nodeID] {
		out = append(out, memRow(k, t.nodes[id], 1, ""))
	}
	sortByName(out)
	return out, nil
}

func (s *MemoryAdjacencyStore) ListDescendants(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	key := memKey{tenantID: tenantID, kind: k}
	t := s.tree(tenantID, k)
	if _, ok := t.nodes[nodeID]; !ok {
		return nil, services.ErrNodeNotFound
	}
	var out []services.NodeRow
	type frame struct {
		id    uuid.UUID
		depth int
	}
	queue := []frame{{id: nodeID}}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		for child := range s.children[key][f.id] {
			out = append(out, memRow(k, t.nodes[child], f.depth+1, ""))
			queue = append(queue, frame{id: child, depth: f.depth + 1})
		}
	}
	sortByDepthName(out)
	return out, nil
}

func (s *MemoryAdjacencyStore) ListAncestors(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	t := s.tree(tenantID, k)
	n, ok := t.nodes[nodeID]
	if !ok {
		return nil, services.ErrNodeNotFound
	}
	var out []services.NodeRow
	depth := 0
	for n.parentID != nil {
		n = t.nodes[*n.parentID]
		depth++
		out = append(out, memRow(k, n, depth, ""))
	}
	return out, nil
}

func (s *MemoryAdjacencyStore) IsDescendant(_ context.Context, tenantID uuid.UUID, k kind.Kind, ancestorID, nodeID uuid.UUID) (bool, error) {
	t := s.tree(tenantID, k)
	n, ok := t.nodes[nodeID]
	if !ok {
		return false, nil
	}
	for n.parentID != nil {
		if *n.parentID == ancestorID {
			return true, nil
		}
		n = t.nodes[*n.parentID]
	}
	return false, nil
}

func (s *MemoryAdjacencyStore) SearchNodes(_ context.Context, tenantID uuid.UUID, k kind.Kind, pattern string) ([]services.NodeRow, error) {
	return searchMemTree(s.tree(tenantID, k), k, pattern), nil
}
