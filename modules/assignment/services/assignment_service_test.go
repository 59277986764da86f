package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgtree/modules/assignment/services"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/modules/hierarchy/infrastructure/persistence"
	hierarchy "github.com/iota-uz/orgtree/modules/hierarchy/services"
	"github.com/iota-uz/orgtree/pkg/composables"
	"github.com/iota-uz/orgtree/pkg/constants"
)

// stubTx satisfies pgx.Tx so InTenantTx reuses it instead of demanding a
// pool. The fake repository below keeps state in memory and never touches it.
type stubTx struct{}

func (stubTx) Begin(ctx context.Context) (pgx.Tx, error)      { return stubTx{}, nil }
func (stubTx) Commit(ctx context.Context) error               { return nil }
func (stubTx) Rollback(ctx context.Context) error             { return nil }
func (stubTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (stubTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (stubTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (stubTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (stubTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (stubTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}
func (stubTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (stubTx) Conn() *pgx.Conn                                               { return nil }

type fakeAssignmentRepo struct {
	rows map[uuid.UUID]services.AssignmentRow
}

func newFakeAssignmentRepo() *fakeAssignmentRepo {
	return &fakeAssignmentRepo{rows: map[uuid.UUID]services.AssignmentRow{}}
}

func (r *fakeAssignmentRepo) Insert(_ context.Context, tenantID uuid.UUID, row services.AssignmentRow) (uuid.UUID, error) {
	row.ID = uuid.New()
	r.rows[row.ID] = row
	return row.ID, nil
}

func (r *fakeAssignmentRepo) Get(_ context.Context, tenantID uuid.UUID, assignmentID uuid.UUID) (services.AssignmentRow, error) {
	row, ok := r.rows[assignmentID]
	if !ok {
		return services.AssignmentRow{}, services.ErrAssignmentNotFound
	}
	return row, nil
}

func (r *fakeAssignmentRepo) End(_ context.Context, tenantID uuid.UUID, assignmentID uuid.UUID, endDate time.Time) error {
	row, ok := r.rows[assignmentID]
	if !ok {
		return services.ErrAssignmentNotFound
	}
	row.EndDate = endDate
	r.rows[assignmentID] = row
	return nil
}

func (r *fakeAssignmentRepo) ListForNodes(_ context.Context, tenantID uuid.UUID, k kind.Kind, nodeIDs []uuid.UUID, asOf time.Time) ([]services.AssignmentRow, error) {
	wanted := map[uuid.UUID]bool{}
	for _, id := range nodeIDs {
		wanted[id] = true
	}
	var out []services.AssignmentRow
	for _, row := range r.rows {
		if row.Kind == k && wanted[row.NodeID] && !row.EffectiveDate.After(asOf) && row.EndDate.After(asOf) {
			out = append(out, row)
		}
	}
	return out, nil
}

func newAssignmentFixture(t *testing.T) (context.Context, uuid.UUID, *services.AssignmentService, *hierarchy.HierarchyService) {
	t.Helper()
	trees := hierarchy.NewHierarchyService(hierarchy.HierarchyServiceOptions{
		Stores: map[hierarchy.Backend]hierarchy.TreeStore{
			hierarchy.BackendAdjacency: persistence.NewMemoryAdjacencyStore(),
			hierarchy.BackendPath:      persistence.NewMemoryPathStore(),
			hierarchy.BackendClosure:   persistence.NewMemoryClosureStore(),
		},
		BackendFor: func(kind.Kind) hierarchy.Backend { return hierarchy.BackendAdjacency },
	})
	svc := services.NewAssignmentService(newFakeAssignmentRepo(), trees)
	ctx := composables.WithTx(context.Background(), stubTx{})
	return ctx, uuid.New(), svc, trees
}

func createDept(t *testing.T, ctx context.Context, trees *hierarchy.HierarchyService, tenantID uuid.UUID, name string, parentID *uuid.UUID) uuid.UUID {
	t.Helper()
	node, err := trees.CreateNode(ctx, tenantID, kind.Department, hierarchy.CreateNodeInput{Name: name, ParentID: parentID})
	require.NoError(t, err)
	return node.ID
}

func requireAsgCode(t *testing.T, err error, status int, code string) {
	t.Helper()
	var svcErr *hierarchy.ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, status, svcErr.Status)
	require.Equal(t, code, svcErr.Code)
}

func TestAssignmentCreate_ValidatesInput(t *testing.T) {
	ctx, tenantID, svc, trees := newAssignmentFixture(t)
	nodeID := createDept(t, ctx, trees, tenantID, "HQ", nil)

	_, err := svc.Create(ctx, tenantID, services.CreateAssignmentInput{Pernr: 0, Kind: kind.Department, NodeID: nodeID})
	requireAsgCode(t, err, 400, "ASG_INVALID_BODY")

	_, err = svc.Create(ctx, tenantID, services.CreateAssignmentInput{Pernr: 77, Kind: kind.Department})
	requireAsgCode(t, err, 400, "ASG_INVALID_BODY")

	_, err = svc.Create(ctx, uuid.Nil, services.CreateAssignmentInput{Pernr: 77, Kind: kind.Department, NodeID: nodeID})
	requireAsgCode(t, err, 400, "ASG_INVALID_BODY")
}

func TestAssignmentCreate_RejectsUnknownNode(t *testing.T) {
	ctx, tenantID, svc, _ := newAssignmentFixture(t)

	_, err := svc.Create(ctx, tenantID, services.CreateAssignmentInput{
		Pernr: 77, Kind: kind.Department, NodeID: uuid.New(),
	})
	requireAsgCode(t, err, 404, "ASG_NODE_NOT_FOUND")
}

func TestAssignmentCreate_NormalizesWindow(t *testing.T) {
	ctx, tenantID, svc, trees := newAssignmentFixture(t)
	nodeID := createDept(t, ctx, trees, tenantID, "HQ", nil)

	row, err := svc.Create(ctx, tenantID, services.CreateAssignmentInput{
		Pernr:         77,
		Kind:          kind.Department,
		NodeID:        nodeID,
		EffectiveDate: time.Date(2026, 3, 15, 17, 45, 12, 0, time.FixedZone("UZT", 5*3600)),
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, row.ID)
	require.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), row.EffectiveDate)
	require.Equal(t, services.MaxEndDate, row.EndDate)
}

func TestAssignmentEnd_ChecksWindowOrder(t *testing.T) {
	ctx, tenantID, svc, trees := newAssignmentFixture(t)
	nodeID := createDept(t, ctx, trees, tenantID, "HQ", nil)

	row, err := svc.Create(ctx, tenantID, services.CreateAssignmentInput{
		Pernr: 77, Kind: kind.Department, NodeID: nodeID,
		EffectiveDate: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	err = svc.End(ctx, tenantID, row.ID, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	requireAsgCode(t, err, 400, "ASG_INVALID_BODY")

	err = svc.End(ctx, tenantID, uuid.New(), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	requireAsgCode(t, err, 404, "ASG_NOT_FOUND")

	require.NoError(t, svc.End(ctx, tenantID, row.ID, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))

	active, err := svc.ListForNode(ctx, tenantID, kind.Department, nodeID, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestAssignmentList_FiltersByValidity(t *testing.T) {
	ctx, tenantID, svc, trees := newAssignmentFixture(t)
	nodeID := createDept(t, ctx, trees, tenantID, "HQ", nil)

	_, err := svc.Create(ctx, tenantID, services.CreateAssignmentInput{
		Pernr: 77, Kind: kind.Department, NodeID: nodeID,
		EffectiveDate: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	before, err := svc.ListForNode(ctx, tenantID, kind.Department, nodeID, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Empty(t, before)

	after, err := svc.ListForNode(ctx, tenantID, kind.Department, nodeID, time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.EqualValues(t, 77, after[0].Pernr)
}

func TestAssignmentListForSubtree_CoversDescendants(t *testing.T) {
	ctx, tenantID, svc, trees := newAssignmentFixture(t)
	rootID := createDept(t, ctx, trees, tenantID, "HQ", nil)
	childID := createDept(t, ctx, trees, tenantID, "Engineering", &rootID)
	siblingID := createDept(t, ctx, trees, tenantID, "Finance", &rootID)

	asOf := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for pernr, nodeID := range map[int64]uuid.UUID{1: rootID, 2: childID, 3: siblingID} {
		_, err := svc.Create(ctx, tenantID, services.CreateAssignmentInput{
			Pernr: pernr, Kind: kind.Department, NodeID: nodeID, EffectiveDate: asOf,
		})
		require.NoError(t, err)
	}

	all, err := svc.ListForSubtree(ctx, tenantID, kind.Department, rootID, asOf)
	require.NoError(t, err)
	require.Len(t, all, 3)

	scoped, err := svc.ListForSubtree(ctx, tenantID, kind.Department, childID, asOf)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	require.EqualValues(t, 2, scoped[0].Pernr)
}

// checkRecordingStore captures the transaction visible to node lookups so
// tests can pin where the existence check runs relative to the insert.
type checkRecordingStore struct {
	hierarchy.TreeStore
	lookups []any
}

func (s *checkRecordingStore) GetNode(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID) (hierarchy.NodeRow, error) {
	s.lookups = append(s.lookups, ctx.Value(constants.TxKey))
	return s.TreeStore.GetNode(ctx, tenantID, k, nodeID)
}

func TestAssignmentCreate_NodeCheckSharesInsertTx(t *testing.T) {
	store := &checkRecordingStore{TreeStore: persistence.NewMemoryAdjacencyStore()}
	trees := hierarchy.NewHierarchyService(hierarchy.HierarchyServiceOptions{
		Stores:     map[hierarchy.Backend]hierarchy.TreeStore{hierarchy.BackendAdjacency: store},
		BackendFor: func(kind.Kind) hierarchy.Backend { return hierarchy.BackendAdjacency },
	})
	svc := services.NewAssignmentService(newFakeAssignmentRepo(), trees)
	tenantID := uuid.New()
	txCtx := composables.WithTx(context.Background(), stubTx{})
	deptID := createDept(t, txCtx, trees, tenantID, "HQ", nil)
	store.lookups = nil

	// Without a transaction or pool the write cannot start, so the node
	// lookup must not have run either.
	_, err := svc.Create(context.Background(), tenantID, services.CreateAssignmentInput{
		Pernr: 100, Kind: kind.Department, NodeID: deptID,
	})
	require.Error(t, err)
	require.Empty(t, store.lookups)

	row, err := svc.Create(txCtx, tenantID, services.CreateAssignmentInput{
		Pernr: 100, Kind: kind.Department, NodeID: deptID,
	})
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Len(t, store.lookups, 1)
	require.Equal(t, stubTx{}, store.lookups[0])
}
