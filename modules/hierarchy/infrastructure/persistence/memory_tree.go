package persistence

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
)

// The memory stores are full TreeStore implementations over plain maps. One
// exists per layout so cross-layout equivalence can be checked without a
// database: each keeps the redundant structure its layout prescribes and
// answers every query through that structure.
//
// All access goes through InTx, which serializes on the store mutex and
// snapshots the state so an erroring transaction rolls back completely.
// Methods must not be called outside an InTx scope.

type memKey struct {
	tenantID uuid.UUID
	kind     kind.Kind
}

type memNode struct {
	id       uuid.UUID
	name     string
	parentID *uuid.UUID
}

func (n *memNode) clone() *memNode {
	c := *n
	if n.parentID != nil {
		p := *n.parentID
		c.parentID = &p
	}
	return &c
}

type memTree struct {
	nodes map[uuid.UUID]*memNode
}

func newMemTree() *memTree {
	return &memTree{nodes: make(map[uuid.UUID]*memNode)}
}

func (t *memTree) clone() *memTree {
	c := newMemTree()
	for id, n := range t.nodes {
		c.nodes[id] = n.clone()
	}
	return c
}

type memBase struct {
	mu    sync.Mutex
	trees map[memKey]*memTree
}

func newMemBase() memBase {
	return memBase{trees: make(map[memKey]*memTree)}
}

func (b *memBase) tree(tenantID uuid.UUID, k kind.Kind) *memTree {
	key := memKey{tenantID: tenantID, kind: k}
	t, ok := b.trees[key]
	if !ok {
		t = newMemTree()
		b.trees[key] = t
	}
	return t
}

func (b *memBase) snapshotTrees() map[memKey]*memTree {
	snap := make(map[memKey]*memTree, len(b.trees))
	for key, t := range b.trees {
		snap[key] = t.clone()
	}
	return snap
}

func lessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

func sortByName(rows []services.NodeRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return lessID(rows[i].ID, rows[j].ID)
	})
}

func sortByDepthName(rows []services.NodeRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Depth != rows[j].Depth {
			return rows[i].Depth < rows[j].Depth
		}
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return lessID(rows[i].ID, rows[j].ID)
	})
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
}

func matchesSearch(name, pattern string) bool {
	return strings.Contains(strings.ToLower(name), strings.ToLower(pattern))
}

func memRow(k kind.Kind, n *memNode, depth int, path string) services.NodeRow {
	row := services.NodeRow{ID: n.id, Kind: k, Name: n.name, Depth: depth, Path: path}
	if n.parentID != nil {
		p := *n.parentID
		row.ParentID = &p
	}
	return row
}

func searchMemTree(t *memTree, k kind.Kind, pattern string) []services.NodeRow {
	var out []services.NodeRow
	for _, n := range t.nodes {
		if matchesSearch(n.name, pattern) {
			out = append(out, memRow(k, n, 0, ""))
		}
	}
	sortByName(out)
	return out
}
