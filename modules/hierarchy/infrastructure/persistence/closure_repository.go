package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
	"github.com/iota-uz/orgtree/pkg/composables"
)

// ClosureRepository keeps one (ancestor, descendant, depth) row per
// transitive pair in hierarchy_closure, including a depth-0 self row for
// every node. Reads are single joins; moves pay with a delete-and-reinsert
// of the moved subtree's cross links.
type ClosureRepository struct{}

func NewClosureRepository() *ClosureRepository {
	return &ClosureRepository{}
}

func (r *ClosureRepository) Backend() services.Backend { return services.BackendClosure }

func (r *ClosureRepository) InTx(ctx context.Context, tenantID uuid.UUID, fn func(txCtx context.Context) error) error {
	return inTenantTx(ctx, tenantID, fn)
}

func (r *ClosureRepository) InsertNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, name string, parentID *uuid.UUID) (services.NodeRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.NodeRow{}, err
	}
	id := uuid.New()
	if _, err := tx.Exec(ctx, `
INSERT INTO hierarchy_nodes (id, tenant_id, kind, name, parent_id)
VALUES ($1, $2, $3, $4, $5)
`, pgUUID(id), pgUUID(tenantID), k.String(), name, pgNullableUUID(parentID)); err != nil {
		return services.NodeRow{}, err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO hierarchy_closure (tenant_id, kind, ancestor_id, descendant_id, depth)
VALUES ($1, $2, $3, $3, 0)
`, pgUUID(tenantID), k.String(), pgUUID(id)); err != nil {
		return services.NodeRow{}, err
	}
	if parentID != nil {
		if _, err := tx.Exec(ctx, `
INSERT INTO hierarchy_closure (tenant_id, kind, ancestor_id, descendant_id, depth)
SELECT tenant_id, kind, ancestor_id, $4, depth + 1
FROM hierarchy_closure
WHERE tenant_id=$1 AND kind=$2 AND descendant_id=$3
`, pgUUID(tenantID), k.String(), pgUUID(*parentID), pgUUID(id)); err != nil {
			return services.NodeRow{}, err
		}
	}
	return services.NodeRow{ID: id, Kind: k, Name: name, ParentID: parentID}, nil
}

func (r *ClosureRepository) GetNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (services.NodeRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.NodeRow{}, err
	}
	row, err := scanNodeRow(tx.QueryRow(ctx, `
SELECT id, name, parent_id, path, 0
FROM hierarchy_nodes
WHERE tenant_id=$1 AND kind=$2 AND id=$3
`, pgUUID(tenantID), k.String(), pgUUID(nodeID)), k)
	if errors.Is(err, pgx.ErrNoRows) {
		return services.NodeRow{}, services.ErrNodeNotFound
	}
	return row, err
}

func (r *ClosureRepository) RenameNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, name string) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE hierarchy_nodes SET name=$4, updated_at=now()
WHERE tenant_id=$1 AND kind=$2 AND id=$3
`, pgUUID(tenantID), k.String(), pgUUID(nodeID), name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return services.ErrNodeNotFound
	}
	return nil
}

// MoveSubtree detaches the moved subtree from every ancestor above it, then
// reattaches it below the new parent by cross-joining the new parent's
// ancestor set with the subtree's descendant set.
func (r *ClosureRepository) MoveSubtree(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, newParentID *uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	if err := lockNode(ctx, tx, tenantID, k, nodeID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
DELETE FROM hierarchy_closure
WHERE tenant_id=$1 AND kind=$2
  AND descendant_id IN (
	SELECT descendant_id FROM hierarchy_closure
	WHERE tenant_id=$1 AND kind=$2 AND ancestor_id=$3
  )
  AND ancestor_id NOT IN (
	SELECT descendant_id FROM hierarchy_closure
	WHERE tenant_id=$1 AND kind=$2 AND ancestor_id=$3
  )
`, pgUUID(tenantID), k.String(), pgUUID(nodeID)); err != nil {
		return err
	}
	if newParentID != nil {
		if _, err := tx.Exec(ctx, `
INSERT INTO hierarchy_closure (tenant_id, kind, ancestor_id, descendant_id, depth)
SELECT super.tenant_id, super.kind, super.ancestor_id, sub.descendant_id, super.depth + sub.depth + 1
FROM hierarchy_closure super
JOIN hierarchy_closure sub
  ON sub.tenant_id = super.tenant_id AND sub.kind = super.kind
WHERE super.tenant_id=$1 AND super.kind=$2
  AND super.descendant_id=$4
  AND sub.ancestor_id=$3
`, pgUUID(tenantID), k.String(), pgUUID(nodeID), pgUUID(*newParentID)); err != nil {
			return err
		}
	}
	_, err = tx.Exec(ctx, `
UPDATE hierarchy_nodes SET parent_id=$4, updated_at=now()
WHERE tenant_id=$1 AND kind=$2 AND id=$3
`, pgUUID(tenantID), k.String(), pgUUID(nodeID), pgNullableUUID(newParentID))
	return err
}

func (r *ClosureRepository) DeleteSubtree(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	if err := lockNode(ctx, tx, tenantID, k, nodeID); err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT descendant_id FROM hierarchy_closure
WHERE tenant_id=$1 AND kind=$2 AND ancestor_id=$3
`, pgUUID(tenantID), k.String(), pgUUID(nodeID))
	if err != nil {
		return nil, err
	}
	removed, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
DELETE FROM hierarchy_closure
WHERE tenant_id=$1 AND kind=$2 AND descendant_id = ANY($3)
`, pgUUID(tenantID), k.String(), removed); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
DELETE FROM hierarchy_nodes
WHERE tenant_id=$1 AND kind=$2 AND id = ANY($3)
`, pgUUID(tenantID), k.String(), removed); err != nil {
		return nil, err
	}
	return removed, nil
}

func (r *ClosureRepository) CountChildren(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := r.GetNode(ctx, tenantID, k, nodeID); err != nil {
		return 0, err
	}
	var n int64
	err = tx.QueryRow(ctx, `
SELECT COUNT(*) FROM hierarchy_closure
WHERE tenant_id=$1 AND kind=$2 AND ancestor_id=$3 AND depth=1
`, pgUUID(tenantID), k.String(), pgUUID(nodeID)).Scan(&n)
	return n, err
}

func (r *ClosureRepository) ListChildren(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	return r.listByDepth(ctx, tenantID, k, nodeID, `c.depth = 1`, `ORDER BY n.name, n.id`)
}

func (r *ClosureRepository) ListDescendants(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	return r.listByDepth(ctx, tenantID, k, nodeID, `c.depth > 0`, `ORDER BY c.depth, n.name, n.id`)
}

func (r *ClosureRepository) listByDepth(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, depthCond, orderBy string) ([]services.NodeRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := r.GetNode(ctx, tenantID, k, nodeID); err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT n.id, n.name, n.parent_id, n.path, c.depth
FROM hierarchy_closure c
JOIN hierarchy_nodes n
  ON n.tenant_id = c.tenant_id AND n.kind = c.kind AND n.id = c.descendant_id
WHERE c.tenant_id=$1 AND c.kind=$2 AND c.ancestor_id=$3 AND `+depthCond+`
`+orderBy, pgUUID(tenantID), k.String(), pgUUID(nodeID))
	if err != nil {
		return nil, err
	}
	return collectNodeRows(rows, k)
}

func (r *ClosureRepository) ListAncestors(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := r.GetNode(ctx, tenantID, k, nodeID); err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT n.id, n.name, n.parent_id, n.path, c.depth
FROM hierarchy_closure c
JOIN hierarchy_nodes n
  ON n.tenant_id = c.tenant_id AND n.kind = c.kind AND n.id = c.ancestor_id
WHERE c.tenant_id=$1 AND c.kind=$2 AND c.descendant_id=$3 AND c.depth > 0
ORDER BY c.depth
`, pgUUID(tenantID), k.String(), pgUUID(nodeID))
	if err != nil {
		return nil, err
	}
	return collectNodeRows(rows, k)
}

func (r *ClosureRepository) IsDescendant(ctx context.Context, tenantID uuid.UUID, k kind.Kind, ancestorID, nodeID uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = tx.QueryRow(ctx, `
SELECT EXISTS(
	SELECT 1 FROM hierarchy_closure
	WHERE tenant_id=$1 AND kind=$2 AND ancestor_id=$3 AND descendant_id=$4 AND depth > 0
)
`, pgUUID(tenantID), k.String(), pgUUID(ancestorID), pgUUID(nodeID)).Scan(&exists)
	return exists, err
}

func (r *ClosureRepository) SearchNodes(ctx context.Context, tenantID uuid.UUID, k kind.Kind, pattern string) ([]services.NodeRow, error) {
	return searchByName(ctx, tenantID, k, pattern)
}
