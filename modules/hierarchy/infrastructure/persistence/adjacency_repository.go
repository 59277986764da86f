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

// AdjacencyRepository stores the tree as bare parent pointers and walks it
// with recursive CTEs. It never touches the path column or the closure
// table.
type AdjacencyRepository struct{}

func NewAdjacencyRepository() *AdjacencyRepository {
	return &AdjacencyRepository{}
}

func (r *AdjacencyRepository) Backend() services.Backend { return services.BackendAdjacency }

func (r *AdjacencyRepository) InTx(ctx context.Context, tenantID uuid.UUID, fn func(txCtx context.Context) error) error {
	return inTenantTx(ctx, tenantID, fn)
}

func (r *AdjacencyRepository) InsertNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, name string, parentID *uuid.UUID) (services.NodeRow, error) {
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
	return services.NodeRow{ID: id, Kind: k, Name: name, ParentID: parentID}, nil
}

func (r *AdjacencyRepository) GetNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (services.NodeRow, error) {
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

func (r *AdjacencyRepository) RenameNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, name string) error {
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

func (r *AdjacencyRepository) MoveSubtree(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, newParentID *uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	if err := lockNode(ctx, tx, tenantID, k, nodeID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
UPDATE hierarchy_nodes SET parent_id=$4, updated_at=now()
WHERE tenant_id=$1 AND kind=$2 AND id=$3
`, pgUUID(tenantID), k.String(), pgUUID(nodeID), pgNullableUUID(newParentID))
	return err
}

func (r *AdjacencyRepository) DeleteSubtree(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
WITH RECURSIVE subtree AS (
	SELECT id FROM hierarchy_nodes WHERE tenant_id=$1 AND kind=$2 AND id=$3
	UNION ALL
	SELECT n.id FROM hierarchy_nodes n
	JOIN subtree s ON n.parent_id = s.id
	WHERE n.tenant_id=$1 AND n.kind=$2
)
DELETE FROM hierarchy_nodes
WHERE tenant_id=$1 AND kind=$2 AND id IN (SELECT id FROM subtree)
RETURNING id
`, pgUUID(tenantID), k.String(), pgUUID(nodeID))
	if err != nil {
		return nil, err
	}
	removed, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, services.ErrNodeNotFound
	}
	return removed, nil
}

func (r *AdjacencyRepository) CountChildren(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := r.GetNode(ctx, tenantID, k, nodeID); err != nil {
		return 0, err
	}
	var n int64
	err = tx.QueryRow(ctx, `
SELECT COUNT(*) FROM hierarchy_nodes
WHERE tenant_id=$1 AND kind=$2 AND parent_id=$3
`, pgUUID(tenantID), k.String(), pgUUID(nodeID)).Scan(&n)
	return n, err
}

func (r *AdjacencyRepository) ListChildren(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := r.GetNode(ctx, tenantID, k, nodeID); err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT id, name, parent_id, path, 1
FROM hierarchy_nodes
WHERE tenant_id=$1 AND kind=$2 AND parent_id=$3
ORDER BY name, id
`, pgUUID(tenantID), k.String(), pgUUID(nodeID))
	if err != nil {
		return nil, err
	}
	return collectNodeRows(rows, k)
}

func (r *AdjacencyRepository) ListDescendants(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := r.GetNode(ctx, tenantID, k, nodeID); err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
WITH RECURSIVE walk AS (
	SELECT id, name, parent_id, path, 0 AS depth
	FROM hierarchy_nodes
	WHERE tenant_id=$1 AND kind=$2 AND id=$3
	UNION ALL
	SELECT n.id, n.name, n.parent_id, n.path, w.depth + 1
	FROM hierarchy_nodes n
	JOIN walk w ON n.parent_id = w.id
	WHERE n.tenant_id=$1 AND n.kind=$2
)
SELECT id, name, parent_id, path, depth
FROM walk
WHERE depth > 0
ORDER BY depth, name, id
`, pgUUID(tenantID), k.String(), pgUUID(nodeID))
	if err != nil {
		return nil, err
	}
	return collectNodeRows(rows, k)
}

func (r *AdjacencyRepository) ListAncestors(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := r.GetNode(ctx, tenantID, k, nodeID); err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
WITH RECURSIVE walk AS (
	SELECT id, name, parent_id, path, 0 AS depth
	FROM hierarchy_nodes
	WHERE tenant_id=$1 AND kind=$2 AND id=$3
	UNION ALL
	SELECT n.id, n.name, n.parent_id, n.path, w.depth + 1
	FROM hierarchy_nodes n
	JOIN walk w ON w.parent_id = n.id
	WHERE n.tenant_id=$1 AND n.kind=$2
)
SELECT id, name, parent_id, path, depth
FROM walk
WHERE depth > 0
ORDER BY depth
`, pgUUID(tenantID), k.String(), pgUUID(nodeID))
	if err != nil {
		return nil, err
	}
	return collectNodeRows(rows, k)
}

func (r *AdjacencyRepository) IsDescendant(ctx context.Context, tenantID uuid.UUID, k kind.Kind, ancestorID, nodeID uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = tx.QueryRow(ctx, `
WITH RECURSIVE walk AS (
	SELECT id, parent_id FROM hierarchy_nodes WHERE tenant_id=$1 AND kind=$2 AND id=$3
	UNION ALL
	SELECT n.id, n.parent_id
	FROM hierarchy_nodes n
	JOIN walk w ON w.parent_id = n.id
	WHERE n.tenant_id=$1 AND n.kind=$2
)
SELECT EXISTS(SELECT 1 FROM walk WHERE id=$4 AND id<>$3)
`, pgUUID(tenantID), k.String(), pgUUID(nodeID), pgUUID(ancestorID)).Scan(&exists)
	return exists, err
}

func (r *AdjacencyRepository) SearchNodes(ctx context.Context, tenantID uuid.UUID, k kind.Kind, pattern string) ([]services.NodeRow, error) {
	return searchByName(ctx, tenantID, k, pattern)
}
