package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/orgtree/modules/assignment/services"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/pkg/composables"
)

type AssignmentRepository struct{}

func NewAssignmentRepository() *AssignmentRepository {
	return &AssignmentRepository{}
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func (r *AssignmentRepository) Insert(ctx context.Context, tenantID uuid.UUID, row services.AssignmentRow) (uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err = tx.QueryRow(ctx, `
INSERT INTO hierarchy_assignments (tenant_id, pernr, kind, node_id, effective_date, end_date)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id
`, pgUUID(tenantID), row.Pernr, row.Kind.String(), pgUUID(row.NodeID), row.EffectiveDate, row.EndDate).Scan(&id)
	return id, err
}

func (r *AssignmentRepository) Get(ctx context.Context, tenantID uuid.UUID, assignmentID uuid.UUID) (services.AssignmentRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.AssignmentRow{}, err
	}
	var (
		row  services.AssignmentRow
		kraw string
	)
	err = tx.QueryRow(ctx, `
SELECT id, pernr, kind, node_id, effective_date, end_date
FROM hierarchy_assignments
WHERE tenant_id=$1 AND id=$2
FOR UPDATE
`, pgUUID(tenantID), pgUUID(assignmentID)).Scan(&row.ID, &row.Pernr, &kraw, &row.NodeID, &row.EffectiveDate, &row.EndDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return services.AssignmentRow{}, services.ErrAssignmentNotFound
	}
	if err != nil {
		return services.AssignmentRow{}, err
	}
	row.Kind, _ = kind.Parse(kraw)
	return row, nil
}

func (r *AssignmentRepository) End(ctx context.Context, tenantID uuid.UUID, assignmentID uuid.UUID, endDate time.Time) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE hierarchy_assignments SET end_date=$3
WHERE tenant_id=$1 AND id=$2
`, pgUUID(tenantID), pgUUID(assignmentID), endDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return services.ErrAssignmentNotFound
	}
	return nil
}

func (r *AssignmentRepository) ListForNodes(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeIDs []uuid.UUID, asOf time.Time) ([]services.AssignmentRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	rows, err := tx.Query(ctx, `
SELECT id, pernr, kind, node_id, effective_date, end_date
FROM hierarchy_assignments
WHERE tenant_id=$1 AND kind=$2 AND node_id = ANY($3)
  AND effective_date <= $4 AND end_date > $4
ORDER BY pernr, id
`, pgUUID(tenantID), k.String(), nodeIDs, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []services.AssignmentRow
	for rows.Next() {
		var (
			row  services.AssignmentRow
			kraw string
		)
		if err := rows.Scan(&row.ID, &row.Pernr, &kraw, &row.NodeID, &row.EffectiveDate, &row.EndDate); err != nil {
			return nil, err
		}
		row.Kind, _ = kind.Parse(kraw)
		out = append(out, row)
	}
	return out, rows.Err()
}
