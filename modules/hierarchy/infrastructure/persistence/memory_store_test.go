package persistence

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
)

// fixture builds the same named tree in a store and returns name->id.
//
//	HQ
//	├── Engineering
//	│   ├── Platform
//	│   │   └── Infrastructure
//	│   └── Product
//	└── Finance
func buildFixture(t *testing.T, store services.TreeStore, tenantID uuid.UUID) map[string]uuid.UUID {
	t.Helper()
	ctx := context.Background()
	ids := map[string]uuid.UUID{}
	insert := func(name, parent string) {
		var parentID *uuid.UUID
		if parent != "" {
			id := ids[parent]
			parentID = &id
		}
		err := store.InTx(ctx, tenantID, func(txCtx context.Context) error {
			row, err := store.InsertNode(txCtx, tenantID, kind.Department, name, parentID)
			if err != nil {
				return err
			}
			ids[name] = row.ID
			return nil
		})
		require.NoError(t, err)
	}
	insert("HQ", "")
	insert("Engineering", "HQ")
	insert("Finance", "HQ")
	insert("Platform", "Engineering")
	insert("Product", "Engineering")
	insert("Infrastructure", "Platform")
	return ids
}

func allStores() map[string]services.TreeStore {
	return map[string]services.TreeStore{
		"adjacency": NewMemoryAdjacencyStore(),
		"path":      NewMemoryPathStore(),
		"closure":   NewMemoryClosureStore(),
	}
}

func listNames(t *testing.T, store services.TreeStore, tenantID, nodeID uuid.UUID, list func(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error)) []string {
	t.Helper()
	var rows []services.NodeRow
	err := store.InTx(context.Background(), tenantID, func(txCtx context.Context) error {
		var err error
		rows, err = list(txCtx, tenantID, kind.Department, nodeID)
		return err
	})
	require.NoError(t, err)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Name)
	}
	return out
}

func TestMemoryStores_AnswerIdentically(t *testing.T) {
	tenantID := uuid.New()
	for name, store := range allStores() {
		t.Run(name, func(t *testing.T) {
			ids := buildFixture(t, store, tenantID)

			require.Equal(t,
				[]string{"Engineering", "Finance"},
				listNames(t, store, tenantID, ids["HQ"], store.ListChildren))

			require.Equal(t,
				[]string{"Engineering", "Finance", "Platform", "Product", "Infrastructure"},
				listNames(t, store, tenantID, ids["HQ"], store.ListDescendants))

			require.Equal(t,
				[]string{"Platform", "Engineering", "HQ"},
				listNames(t, store, tenantID, ids["Infrastructure"], store.ListAncestors))

			var isDesc, isNotDesc, isSelf bool
			err := store.InTx(context.Background(), tenantID, func(txCtx context.Context) error {
				var err error
				if isDesc, err = store.IsDescendant(txCtx, tenantID, kind.Department, ids["HQ"], ids["Infrastructure"]); err != nil {
					return err
				}
				if isNotDesc, err = store.IsDescendant(txCtx, tenantID, kind.Department, ids["Finance"], ids["Platform"]); err != nil {
					return err
				}
				isSelf, err = store.IsDescendant(txCtx, tenantID, kind.Department, ids["HQ"], ids["HQ"])
				return err
			})
			require.NoError(t, err)
			require.True(t, isDesc)
			require.False(t, isNotDesc)
			require.False(t, isSelf, "a node is not its own descendant")
		})
	}
}

func TestMemoryStores_MoveRewiresWholeSubtree(t *testing.T) {
	tenantID := uuid.New()
	for name, store := range allStores() {
		t.Run(name, func(t *testing.T) {
			ids := buildFixture(t, store, tenantID)

			// Move Platform (with Infrastructure below it) under Finance.
			finance := ids["Finance"]
			err := store.InTx(context.Background(), tenantID, func(txCtx context.Context) error {
				return store.MoveSubtree(txCtx, tenantID, kind.Department, ids["Platform"], &finance)
			})
			require.NoError(t, err)

			require.Equal(t,
				[]string{"Platform", "Finance", "HQ"},
				listNames(t, store, tenantID, ids["Infrastructure"], store.ListAncestors))
			require.Equal(t,
				[]string{"Product"},
				listNames(t, store, tenantID, ids["Engineering"], store.ListDescendants))
			require.Equal(t,
				[]string{"Platform", "Infrastructure"},
				listNames(t, store, tenantID, finance, store.ListDescendants))
		})
	}
}

func TestMemoryStores_DeleteSubtreeRemovesEverything(t *testing.T) {
	tenantID := uuid.New()
	for name, store := range allStores() {
		t.Run(name, func(t *testing.T) {
			ids := buildFixture(t, store, tenantID)

			var removed []uuid.UUID
			err := store.InTx(context.Background(), tenantID, func(txCtx context.Context) error {
				var err error
				removed, err = store.DeleteSubtree(txCtx, tenantID, kind.Department, ids["Engineering"])
				return err
			})
			require.NoError(t, err)
			require.Len(t, removed, 4)

			for _, gone := range []string{"Engineering", "Platform", "Product", "Infrastructure"} {
				err := store.InTx(context.Background(), tenantID, func(txCtx context.Context) error {
					_, err := store.GetNode(txCtx, tenantID, kind.Department, ids[gone])
					return err
				})
				require.ErrorIs(t, err, services.ErrNodeNotFound)
			}
			require.Equal(t,
				[]string{"Finance"},
				listNames(t, store, tenantID, ids["HQ"], store.ListDescendants))
		})
	}
}

func TestMemoryStores_InTxRollsBackOnError(t *testing.T) {
	tenantID := uuid.New()
	boom := errors.New("boom")
	for name, store := range allStores() {
		t.Run(name, func(t *testing.T) {
			ids := buildFixture(t, store, tenantID)

			finance := ids["Finance"]
			err := store.InTx(context.Background(), tenantID, func(txCtx context.Context) error {
				if err := store.MoveSubtree(txCtx, tenantID, kind.Department, ids["Platform"], &finance); err != nil {
					return err
				}
				if err := store.RenameNode(txCtx, tenantID, kind.Department, ids["Product"], "Changed"); err != nil {
					return err
				}
				return boom
			})
			require.ErrorIs(t, err, boom)

			// Both the move and the rename must have been rolled back.
			require.Equal(t,
				[]string{"Platform", "Product", "Infrastructure"},
				listNames(t, store, tenantID, ids["Engineering"], store.ListDescendants))
			err = store.InTx(context.Background(), tenantID, func(txCtx context.Context) error {
				row, err := store.GetNode(txCtx, tenantID, kind.Department, ids["Product"])
				if err != nil {
					return err
				}
				require.Equal(t, "Product", row.Name)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestMemoryPathStore_PathsFollowParentChains(t *testing.T) {
	store := NewMemoryPathStore()
	tenantID := uuid.New()
	ids := buildFixture(t, store, tenantID)

	finance := ids["Finance"]
	err := store.InTx(context.Background(), tenantID, func(txCtx context.Context) error {
		return store.MoveSubtree(txCtx, tenantID, kind.Department, ids["Platform"], &finance)
	})
	require.NoError(t, err)

	err = store.InTx(context.Background(), tenantID, func(txCtx context.Context) error {
		for name, id := range ids {
			row, err := store.GetNode(txCtx, tenantID, kind.Department, id)
			require.NoError(t, err, name)
			require.True(t, strings.HasSuffix(row.Path, "/"+id.String()+"/"), "path of %s must end with its own id", name)
			if row.ParentID == nil {
				require.Equal(t, "/"+id.String()+"/", row.Path)
				continue
			}
			parent, err := store.GetNode(txCtx, tenantID, kind.Department, *row.ParentID)
			require.NoError(t, err)
			require.Equal(t, parent.Path+id.String()+"/", row.Path, "path of %s must extend its parent's", name)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryClosureStore_DepthsMatchParentWalk(t *testing.T) {
	store := NewMemoryClosureStore()
	tenantID := uuid.New()
	ids := buildFixture(t, store, tenantID)

	finance := ids["Finance"]
	err := store.InTx(context.Background(), tenantID, func(txCtx context.Context) error {
		return store.MoveSubtree(txCtx, tenantID, kind.Department, ids["Platform"], &finance)
	})
	require.NoError(t, err)

	err = store.InTx(context.Background(), tenantID, func(txCtx context.Context) error {
		for name, id := range ids {
			ancestors, err := store.ListAncestors(txCtx, tenantID, kind.Department, id)
			require.NoError(t, err, name)

			// Recompute the chain with raw parent pointers and compare.
			var walked []services.NodeRow
			current, err := store.GetNode(txCtx, tenantID, kind.Department, id)
			require.NoError(t, err)
			depth := 0
			for current.ParentID != nil {
				current, err = store.GetNode(txCtx, tenantID, kind.Department, *current.ParentID)
				require.NoError(t, err)
				depth++
				walked = append(walked, services.NodeRow{ID: current.ID, Depth: depth})
			}
			require.Len(t, ancestors, len(walked), "closure rows for %s", name)
			for i := range walked {
				require.Equal(t, walked[i].ID, ancestors[i].ID)
				require.Equal(t, walked[i].Depth, ancestors[i].Depth)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStores_SearchMatchesNamesOnly(t *testing.T) {
	tenantID := uuid.New()
	for name, store := range allStores() {
		t.Run(name, func(t *testing.T) {
			buildFixture(t, store, tenantID)

			var rows []services.NodeRow
			err := store.InTx(context.Background(), tenantID, func(txCtx context.Context) error {
				var err error
				rows, err = store.SearchNodes(txCtx, tenantID, kind.Department, "plat")
				return err
			})
			require.NoError(t, err)
			require.Len(t, rows, 1)
			require.Equal(t, "Platform", rows[0].Name)
		})
	}
}
