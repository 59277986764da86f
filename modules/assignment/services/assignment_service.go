package services

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	hierarchy "github.com/iota-uz/orgtree/modules/hierarchy/services"
	"github.com/iota-uz/orgtree/pkg/composables"
)

// MaxEndDate is the open-ended upper bound for assignment validity.
var MaxEndDate = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// AssignmentRow is one person-to-node binding with a validity window.
type AssignmentRow struct {
	ID            uuid.UUID  `json:"id"`
	Pernr         int64      `json:"pernr"`
	Kind          kind.Kind  `json:"kind"`
	NodeID        uuid.UUID  `json:"node_id"`
	EffectiveDate time.Time  `json:"effective_date"`
	EndDate       time.Time  `json:"end_date"`
}

// AssignmentRepository is the storage contract the service drives. All
// methods expect a transaction in the context.
type AssignmentRepository interface {
	Insert(ctx context.Context, tenantID uuid.UUID, row AssignmentRow) (uuid.UUID, error)
	Get(ctx context.Context, tenantID uuid.UUID, assignmentID uuid.UUID) (AssignmentRow, error)
	End(ctx context.Context, tenantID uuid.UUID, assignmentID uuid.UUID, endDate time.Time) error
	ListForNodes(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeIDs []uuid.UUID, asOf time.Time) ([]AssignmentRow, error)
}

// ErrAssignmentNotFound is the sentinel the repository returns for a
// missing assignment.
type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const ErrAssignmentNotFound = sentinelError("assignment not found")

// AssignmentService binds persons to hierarchy nodes. It consumes the tree
// engine only at its public boundary: node existence checks before writes
// and descendant enumeration for subtree listings.
type AssignmentService struct {
	repo  AssignmentRepository
	trees *hierarchy.HierarchyService
}

func NewAssignmentService(repo AssignmentRepository, trees *hierarchy.HierarchyService) *AssignmentService {
	return &AssignmentService{repo: repo, trees: trees}
}

type CreateAssignmentInput struct {
	Pernr         int64
	Kind          kind.Kind
	NodeID        uuid.UUID
	EffectiveDate time.Time
}

func errAsg(status int, code, message string) *hierarchy.ServiceError {
	return &hierarchy.ServiceError{Status: status, Code: code, Message: message}
}

func (s *AssignmentService) Create(ctx context.Context, tenantID uuid.UUID, in CreateAssignmentInput) (*AssignmentRow, error) {
	if tenantID == uuid.Nil {
		return nil, errAsg(http.StatusBadRequest, "ASG_INVALID_BODY", "tenant_id is required")
	}
	if in.Pernr <= 0 {
		return nil, errAsg(http.StatusBadRequest, "ASG_INVALID_BODY", "pernr is required")
	}
	if in.NodeID == uuid.Nil {
		return nil, errAsg(http.StatusBadRequest, "ASG_INVALID_BODY", "node_id is required")
	}
	if in.EffectiveDate.IsZero() {
		in.EffectiveDate = time.Now()
	}
	row := AssignmentRow{
		Pernr:         in.Pernr,
		Kind:          in.Kind,
		NodeID:        in.NodeID,
		EffectiveDate: normalizeValidTimeDayUTC(in.EffectiveDate),
		EndDate:       MaxEndDate,
	}
	// The existence check shares the insert's transaction so a concurrent
	// cascade delete cannot slip between the two.
	err := composables.InTenantTx(composables.WithTenantID(ctx, tenantID), func(txCtx context.Context) error {
		exists, err := s.trees.NodeExists(txCtx, tenantID, in.Kind, in.NodeID)
		if err != nil {
			return err
		}
		if !exists {
			return errAsg(http.StatusNotFound, "ASG_NODE_NOT_FOUND", "node not found")
		}
		id, err := s.repo.Insert(txCtx, tenantID, row)
		if err != nil {
			return err
		}
		row.ID = id
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	composables.UseLogger(ctx).WithFields(map[string]any{
		"tenant_id": tenantID, "pernr": in.Pernr, "node_id": in.NodeID,
	}).Info("assignment created")
	return &row, nil
}

func (s *AssignmentService) End(ctx context.Context, tenantID uuid.UUID, assignmentID uuid.UUID, endDate time.Time) error {
	if endDate.IsZero() {
		endDate = time.Now()
	}
	endDate = normalizeValidTimeDayUTC(endDate)
	err := composables.InTenantTx(composables.WithTenantID(ctx, tenantID), func(txCtx context.Context) error {
		current, err := s.repo.Get(txCtx, tenantID, assignmentID)
		if err != nil {
			return err
		}
		if endDate.Before(current.EffectiveDate) {
			return errAsg(http.StatusBadRequest, "ASG_INVALID_BODY", "end_date is before effective_date")
		}
		return s.repo.End(txCtx, tenantID, assignmentID, endDate)
	})
	return mapRepoError(err)
}

// ListForNode returns assignments active at asOf for one node.
func (s *AssignmentService) ListForNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, asOf time.Time) ([]AssignmentRow, error) {
	exists, err := s.trees.NodeExists(ctx, tenantID, k, nodeID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errAsg(http.StatusNotFound, "ASG_NODE_NOT_FOUND", "node not found")
	}
	return s.listForNodes(ctx, tenantID, k, []uuid.UUID{nodeID}, asOf)
}

// ListForSubtree returns assignments active at asOf anywhere below the node,
// the node itself included.
func (s *AssignmentService) ListForSubtree(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, asOf time.Time) ([]AssignmentRow, error) {
	descendants, err := s.trees.GetDescendants(ctx, tenantID, k, nodeID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(descendants)+1)
	ids = append(ids, nodeID)
	for _, d := range descendants {
		ids = append(ids, d.ID)
	}
	return s.listForNodes(ctx, tenantID, k, ids, asOf)
}

func (s *AssignmentService) listForNodes(ctx context.Context, tenantID uuid.UUID, k kind.Kind, ids []uuid.UUID, asOf time.Time) ([]AssignmentRow, error) {
	if asOf.IsZero() {
		asOf = time.Now()
	}
	asOf = normalizeValidTimeDayUTC(asOf)
	rows, err := composables.InTenantTxResult(composables.WithTenantID(ctx, tenantID), func(txCtx context.Context) ([]AssignmentRow, error) {
		return s.repo.ListForNodes(txCtx, tenantID, k, ids, asOf)
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	return rows, nil
}

func normalizeValidTimeDayUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	u := t.UTC()
	y, m, d := u.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
