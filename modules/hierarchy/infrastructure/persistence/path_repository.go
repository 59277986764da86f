package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
	"github.com/iota-uz/orgtree/pkg/composables"
)

// PathRepository stores each node's self-inclusive ancestor chain in the
// path column ("/<root-id>/.../<node-id>/") and answers subtree queries
// with prefix scans. The delimiter cannot occur inside a UUID, so prefix
// containment is exact.
type PathRepository struct{}

func NewPathRepository() *PathRepository {
	return &PathRepository{}
}

func (r *PathRepository) Backend() services.Backend { return services.BackendPath }

func (r *PathRepository) InTx(ctx context.Context, tenantID uuid.UUID, fn func(txCtx context.Context) error) error {
	return inTenantTx(ctx, tenantID, fn)
}

func (r *PathRepository) InsertNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, name string, parentID *uuid.UUID) (services.NodeRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.NodeRow{}, err
	}
	parentPath := "/"
	if parentID != nil {
		parent, err := r.GetNode(ctx, tenantID, k, *parentID)
		if err != nil {
			return services.NodeRow{}, err
		}
		parentPath = parent.Path
	}
	id := uuid.New()
	path := parentPath + id.String() + "/"
	if _, err := tx.Exec(ctx, `
INSERT INTO hierarchy_nodes (id, tenant_id, kind, name, parent_id, path)
VALUES ($1, $2, $3, $4, $5, $6)
`, pgUUID(id), pgUUID(tenantID), k.String(), name, pgNullableUUID(parentID), path); err != nil {
		return services.NodeRow{}, err
	}
	return services.NodeRow{ID: id, Kind: k, Name: name, ParentID: parentID, Path: path}, nil
}

func (r *PathRepository) GetNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (services.NodeRow, error) {
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

func (r *PathRepository) RenameNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, name string) error {
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

// MoveSubtree rewrites the path prefix of every node in the moved subtree
// in one statement, then re-points the moved node's parent.
func (r *PathRepository) MoveSubtree(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, newParentID *uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	oldPath, err := r.lockPath(ctx, tenantID, k, nodeID)
	if err != nil {
		return err
	}
	newParentPath := "/"
	if newParentID != nil {
		parent, err := r.GetNode(ctx, tenantID, k, *newParentID)
		if err != nil {
			return err
		}
		newParentPath = parent.Path
	}
	newPath := newParentPath + nodeID.String() + "/"
	if newPath == oldPath {
		return nil
	}
	if _, err := tx.Exec(ctx, `
UPDATE hierarchy_nodes
SET path = $4 || substring(path FROM length($3) + 1), updated_at=now()
WHERE tenant_id=$1 AND kind=$2 AND path LIKE $3 || '%'
`, pgUUID(tenantID), k.String(), oldPath, newPath); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
UPDATE hierarchy_nodes SET parent_id=$4
WHERE tenant_id=$1 AND kind=$2 AND id=$3
`, pgUUID(tenantID), k.String(), pgUUID(nodeID), pgNullableUUID(newParentID))
	return err
}

func (r *PathRepository) DeleteSubtree(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	path, err := r.lockPath(ctx, tenantID, k, nodeID)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
DELETE FROM hierarchy_nodes
WHERE tenant_id=$1 AND kind=$2 AND path LIKE $3 || '%'
RETURNING id
`, pgUUID(tenantID), k.String(), path)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (r *PathRepository) CountChildren(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	node, err := r.GetNode(ctx, tenantID, k, nodeID)
	if err != nil {
		return 0, err
	}
	var n int64
	err = tx.QueryRow(ctx, `
SELECT COUNT(*) FROM hierarchy_nodes
WHERE tenant_id=$1 AND kind=$2 AND path LIKE $3 || '%' AND pathlen(path) = pathlen($3) + 1
`, pgUUID(tenantID), k.String(), node.Path).Scan(&n)
	return n, err
}

func (r *PathRepository) ListChildren(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	node, err := r.GetNode(ctx, tenantID, k, nodeID)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT id, name, parent_id, path, 1
FROM hierarchy_nodes
WHERE tenant_id=$1 AND kind=$2 AND path LIKE $3 || '%' AND pathlen(path) = pathlen($3) + 1
ORDER BY name, id
`, pgUUID(tenantID), k.String(), node.Path)
	if err != nil {
		return nil, err
	}
	return collectNodeRows(rows, k)
}

func (r *PathRepository) ListDescendants(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	node, err := r.GetNode(ctx, tenantID, k, nodeID)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT id, name, parent_id, path, pathlen(path) - pathlen($3) AS depth
FROM hierarchy_nodes
WHERE tenant_id=$1 AND kind=$2 AND path LIKE $3 || '%' AND path <> $3
ORDER BY depth, name, id
`, pgUUID(tenantID), k.String(), node.Path)
	if err != nil {
		return nil, err
	}
	return collectNodeRows(rows, k)
}

func (r *PathRepository) ListAncestors(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) ([]services.NodeRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	node, err := r.GetNode(ctx, tenantID, k, nodeID)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT id, name, parent_id, path, pathlen($3) - pathlen(path) AS depth
FROM hierarchy_nodes
WHERE tenant_id=$1 AND kind=$2 AND $3 LIKE path || '%' AND path <> $3
ORDER BY depth
`, pgUUID(tenantID), k.String(), node.Path)
	if err != nil {
		return nil, err
	}
	return collectNodeRows(rows, k)
}

func (r *PathRepository) IsDescendant(ctx context.Context, tenantID uuid.UUID, k kind.Kind, ancestorID, nodeID uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = tx.QueryRow(ctx, `
SELECT EXISTS(
	SELECT 1
	FROM hierarchy_nodes d
	JOIN hierarchy_nodes a
	  ON a.tenant_id = d.tenant_id AND a.kind = d.kind
	WHERE d.tenant_id=$1 AND d.kind=$2 AND a.id=$3 AND d.id=$4
	  AND d.path LIKE a.path || '%' AND d.id <> a.id
)
`, pgUUID(tenantID), k.String(), pgUUID(ancestorID), pgUUID(nodeID)).Scan(&exists)
	return exists, err
}

func (r *PathRepository) SearchNodes(ctx context.Context, tenantID uuid.UUID, k kind.Kind, pattern string) ([]services.NodeRow, error) {
	return searchByName(ctx, tenantID, k, pattern)
}

// lockPath locks the node's row and returns its current path.
func (r *PathRepository) lockPath(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (string, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return "", err
	}
	var path pgtype.Text
	err = tx.QueryRow(ctx, `
SELECT path FROM hierarchy_nodes
WHERE tenant_id=$1 AND kind=$2 AND id=$3
FOR UPDATE
`, pgUUID(tenantID), k.String(), pgUUID(nodeID)).Scan(&path)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", services.ErrNodeNotFound
	}
	return path.String, err
}
