package persistence

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
)

type closurePair struct {
	ancestor   uuid.UUID
	descendant uuid.UUID
}

// MemoryClosureStore mirrors the closure-table layout: a depth-keyed row
// per transitive (ancestor, descendant) pair, self rows at depth 0.
type MemoryClosureStore struct {
	memBase
	closure map[memKey]map[closurePair]int
}

func NewMemoryClosureStore() *MemoryClosureStore {
	return &MemoryClosureStore{
		memBase: newMemBase(),
		closure: make(map[memKey]map[closurePair]int),
	}
}

func (s *MemoryClosureStore) Backend() services.Backend { return services.BackendClosure }

func (s *MemoryClosureStore) InTx(ctx context.Context, tenantID uuid.UUID, fn func(txCtx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trees := s.snapshotTrees()
	closure := s.snapshotClosure()
	if err := fn(ctx); err != nil {
		s.trees = trees
		s.closure = closure
		return err
	}
	return nil
}

func (s *MemoryClosureStore) snapshotClosure() map[memKey]map[closurePair]int {
	snap := make(map[memKey]map[closurePair]int, len(s.closure))
	for key, rows := range s.closure {
		cp := make(map[closurePair]int, len(rows))
		for pair, depth := range rows {
			cp[pair] = depth
		}
		snap[key] = cp
	}
	return snap
}

func (s *MemoryClosureStore) rows(key memKey) map[closurePair]int {
	rows, ok := s.closure[key]
	if !ok {
		rows = make(map[closurePair]int)
		s.closure[key] = rows
	}
	return rows
}

func (s *MemoryClosureStore) InsertNode(_ context.Context, tenantID uuid.UUID, k kind.Kind, name string, parentID *uuid.UUID) (services.NodeRow, error) {
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

	rows := s.rows(key)
	rows[closurePair{ancestor: n.id, descendant: n.id}] = 0
	if parentID != nil {
		for pair, depth := range rows {
			if pair.descendant == *parentID {
				rows[closurePair{ancestor: pair.ancestor, descendant: n.id}] = depth + 1
			}
		}
	}
	return memRow(k, n, 0, ""), nil
}

func (s *MemoryClosureStore) GetNode(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (services.NodeRow, error) {
	n, ok := s.tree(tenantID, k).nodes[nodeID]
	if !ok {
		return services.NodeRow{}, services.ErrNodeNotFound
	}
	return memRow(k, n, 0, ""), nil
}

func (s *MemoryClosureStore) RenameNode(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, name string) error {
	n, ok := s.tree(tenantID, k).nodes[nodeID]
	if !ok {
		return services.ErrNodeNotFound
	}
	n.name = name
	return nil
}

func (s *MemoryClosureStore) MoveSubtree(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, newParentID *uuid.UUID) error {
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
	rows := s.rows(key)

	subtree := make(map[uuid.UUID]int)
	for pair, depth := range rows {
		if pair.ancestor == nodeID {
			subtree[pair.descendant] = depth
		}
	}
	for pair := range rows {
		_, descIn := subtree[pair.descendant]
		_, ancIn := subtree[pair.ancestor]
		if descIn && !ancIn {
			delete(rows, pair)
		}
	}
	if newParentID != nil {
		type ancRow struct {
			id    uuid.UUID
			depth int
		}
		var above []ancRow
		for pair, depth := range rows {
			if pair.descendant == *newParentID {
				above = append(above, ancRow{id: pair.ancestor, depth: depth})
			}
		}
		for _, a := range above {
			for desc, subDepth := range subtree {
				rows[closurePair{ancestor: a.id, descendant: desc}] = a.depth + subDepth + 1
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

func (s *MemoryClosureStore) DeleteSubtree(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]uuid.UUID, error) {
	key := memKey{tenantID: tenantID, kind: k}
	t := s.tree(tenantID, k)
	if _, ok := t.nodes[nodeID]; !ok {
		return nil, services.ErrNodeNotFound
	}
	rows := s.rows(key)
	subtree := make(map[uuid.UUID]struct{})
	for pair := range rows {
		if pair.ancestor == nodeID {
			subtree[pair.descendant] = struct{}{}
		}
	}
	for pair := range rows {
		if _, ok := subtree[pair.descendant]; ok {
			delete(rows, pair)
		}
	}
	removed := make([]uuid.UUID, 0, len(subtree))
	for id := range subtree {
		delete(t.nodes, id)
		removed = append(removed, id)
	}
	sortIDs(removed)
	return removed, nil
}

func (s *MemoryClosureStore) CountChildren(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (int64, error) {
	key := memKey{tenantID: tenantID, kind: k}
	if _, ok := s.tree(tenantID, k).nodes[nodeID]; !ok {
		return 0, services.ErrNodeNotFound
	}
	var n int64
	for pair, depth := range s.rows(key) {
		if pair.ancestor == nodeID && depth == 1 {
			n++
		}
	}
	return n, nil
}

func (s *MemoryClosureStore) ListChildren(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	out, err := s.listBelow(tenantID, k, nodeID, 1)
	if err != nil {
		return nil, err
	}
	sortByName(out)
	return out, nil
}

func (s *MemoryClosureStore) ListDescendants(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	out, err := s.listBelow(tenantID, k, nodeID, 0)
	if err != nil {
		return nil, err
	}
	sortByDepthName(out)
	return out, nil
}

// listBelow collects descendants at exactly the given depth, or at every
// depth above zero when exact is 0.
func (s *MemoryClosureStore) listBelow(tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, exact int) ([]services.NodeRow, error) {
	key := memKey{tenantID: tenantID, kind: k}
	t := s.tree(tenantID, k)
	if _, ok := t.nodes[nodeID]; !ok {
		return nil, services.ErrNodeNotFound
	}
	var out []services.NodeRow
	for pair, depth := range s.rows(key) {
		if pair.ancestor != nodeID || depth == 0 {
			continue
		}
		if exact > 0 && depth != exact {
			continue
		}
		out = append(out, memRow(k, t.nodes[pair.descendant], depth, ""))
	}
	return out, nil
}

func (s *MemoryClosureStore) ListAncestors(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	key := memKey{tenantID: tenantID, kind: k}
	t := s.tree(tenantID, k)
	if _, ok := t.nodes[nodeID]; !ok {
		return nil, services.ErrNodeNotFound
	}
	var out []services.NodeRow
	for pair, depth := range s.rows(key) {
		if pair.descendant == nodeID && depth > 0 {
			out = append(out, memRow(k, t.nodes[pair.ancestor], depth, ""))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Depth < out[j].Depth })
	return out, nil
}

func (s *MemoryClosureStore) IsDescendant(_ context.Context, tenantID uuid.UUID, k kind.Kind, ancestorID, nodeID uuid.UUID) (bool, error) {
	key := memKey{tenantID: tenantID, kind: k}
	depth, ok := s.rows(key)[closurePair{ancestor: ancestorID, descendant: nodeID}]
	return ok && depth > 0, nil
}

func (s *MemoryClosureStore) SearchNodes(_ context.Context, tenantID uuid.UUID, k kind.Kind, pattern string) ([]services.NodeRow, error) {
	return searchMemTree(s.tree(tenantID, k), k, pattern), nil
}
