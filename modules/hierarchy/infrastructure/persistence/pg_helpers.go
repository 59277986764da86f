package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
	"github.com/iota-uz/orgtree/pkg/composables"
	"github.com/iota-uz/orgtree/pkg/repo"
)

// inTenantTx binds the tenant into the context and runs fn inside one
// transaction with the tenant RLS setting applied.
func inTenantTx(ctx context.Context, tenantID uuid.UUID, fn func(txCtx context.Context) error) error {
	return composables.InTenantTx(composables.WithTenantID(ctx, tenantID), fn)
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgNullableUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func nullableUUID(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}

func scanNodeRow(row pgx.Row, k kind.Kind) (services.NodeRow, error) {
	var (
		out    services.NodeRow
		parent pgtype.UUID
		path   pgtype.Text
	)
	if err := row.Scan(&out.ID, &out.Name, &parent, &path, &out.Depth); err != nil {
		return services.NodeRow{}, err
	}
	out.Kind = k
	out.ParentID = nullableUUID(parent)
	out.Path = path.String
	return out, nil
}

func collectNodeRows(rows pgx.Rows, k kind.Kind) ([]services.NodeRow, error) {
	defer rows.Close()
	var out []services.NodeRow
	for rows.Next() {
		var (
			row    services.NodeRow
			parent pgtype.UUID
			path   pgtype.Text
		)
		if err := rows.Scan(&row.ID, &row.Name, &parent, &path, &row.Depth); err != nil {
			return nil, err
		}
		row.Kind = k
		row.ParentID = nullableUUID(parent)
		row.Path = path.String
		out = append(out, row)
	}
	return out, rows.Err()
}

// escapeLike neutralizes LIKE metacharacters in a user-supplied pattern so
// that search matches the literal text.
var escapeLike = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// lockNode takes a FOR UPDATE row lock on the node so concurrent moves of
// the same subtree serialize. Missing node surfaces as ErrNodeNotFound.
func lockNode(ctx context.Context, tx repo.Tx, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
SELECT id FROM hierarchy_nodes
WHERE tenant_id=$1 AND kind=$2 AND id=$3
FOR UPDATE
`, pgUUID(tenantID), k.String(), pgUUID(nodeID)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return services.ErrNodeNotFound
	}
	return err
}

func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// searchByName is the one query all three layouts share: a case-insensitive
// substring match over the canonical node table.
func searchByName(ctx context.Context, tenantID uuid.UUID, k kind.Kind, pattern string) ([]services.NodeRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT id, name, parent_id, path, 0
FROM hierarchy_nodes
WHERE tenant_id=$1 AND kind=$2 AND name ILIKE '%' || $3 || '%'
ORDER BY name, id
`, pgUUID(tenantID), k.String(), escapeLike.Replace(pattern))
	if err != nil {
		return nil, err
	}
	return collectNodeRows(rows, k)
}
