package services_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
)

func TestGetChildrenPage_RejectsNegativeWindow(t *testing.T) {
	svc := newEngine(services.BackendAdjacency)
	tenantID := uuid.New()
	root := mustCreate(t, svc, tenantID, "HQ", nil)

	_, err := svc.GetChildrenPage(context.Background(), tenantID, kind.Department, root.ID, services.PageParams{Limit: -1})
	requireCode(t, err, 400, "HIER_INVALID_QUERY")

	_, err = svc.GetChildrenPage(context.Background(), tenantID, kind.Department, root.ID, services.PageParams{Offset: -5})
	requireCode(t, err, 400, "HIER_INVALID_QUERY")
}

func TestGetChildrenPage_DefaultsAndClamps(t *testing.T) {
	svc := services.NewHierarchyService(services.HierarchyServiceOptions{
		Stores:      newEngineStores(),
		BackendFor:  func(kind.Kind) services.Backend { return services.BackendAdjacency },
		PageSize:    2,
		MaxPageSize: 3,
	})
	tenantID := uuid.New()
	root := mustCreate(t, svc, tenantID, "HQ", nil)
	for i := 0; i < 5; i++ {
		mustCreate(t, svc, tenantID, fmt.Sprintf("Dept %02d", i), &root.ID)
	}

	page, err := svc.GetChildrenPage(context.Background(), tenantID, kind.Department, root.ID, services.PageParams{})
	require.NoError(t, err)
	require.Equal(t, 2, page.Limit)
	require.Len(t, page.Items, 2)
	require.Equal(t, 5, page.Total)

	page, err = svc.GetChildrenPage(context.Background(), tenantID, kind.Department, root.ID, services.PageParams{Limit: 50})
	require.NoError(t, err)
	require.Equal(t, 3, page.Limit)
	require.Len(t, page.Items, 3)
}

func TestGetChildrenPage_WindowsAreContiguous(t *testing.T) {
	svc := newEngine(services.BackendClosure)
	tenantID := uuid.New()
	root := mustCreate(t, svc, tenantID, "HQ", nil)
	for i := 0; i < 5; i++ {
		mustCreate(t, svc, tenantID, fmt.Sprintf("Dept %02d", i), &root.ID)
	}

	var names []string
	for offset := 0; offset < 5; offset += 2 {
		page, err := svc.GetChildrenPage(context.Background(), tenantID, kind.Department, root.ID, services.PageParams{Limit: 2, Offset: offset})
		require.NoError(t, err)
		require.Equal(t, 5, page.Total)
		for _, n := range page.Items {
			names = append(names, n.Name)
		}
	}
	require.Equal(t, []string{"Dept 00", "Dept 01", "Dept 02", "Dept 03", "Dept 04"}, names)
}

func TestGetChildrenPage_OffsetPastEnd(t *testing.T) {
	svc := newEngine(services.BackendPath)
	tenantID := uuid.New()
	root := mustCreate(t, svc, tenantID, "HQ", nil)
	mustCreate(t, svc, tenantID, "Only", &root.ID)

	page, err := svc.GetChildrenPage(context.Background(), tenantID, kind.Department, root.ID, services.PageParams{Limit: 10, Offset: 40})
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.Equal(t, 1, page.Total)
	require.Equal(t, 40, page.Offset)
}

func TestGetAncestorsPage_WindowsLeafToRootChain(t *testing.T) {
	svc := newEngine(services.BackendPath)
	tenantID := uuid.New()

	var parentID *uuid.UUID
	var leaf services.Node
	for i := 0; i < 5; i++ {
		leaf = mustCreate(t, svc, tenantID, fmt.Sprintf("Level %02d", i), parentID)
		id := leaf.ID
		parentID = &id
	}

	page, err := svc.GetAncestorsPage(context.Background(), tenantID, kind.Department, leaf.ID, services.PageParams{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, 4, page.Total)
	require.Len(t, page.Items, 2)
	require.Equal(t, "Level 02", page.Items[0].Name)
	require.Equal(t, "Level 01", page.Items[1].Name)

	_, err = svc.GetAncestorsPage(context.Background(), tenantID, kind.Department, leaf.ID, services.PageParams{Limit: -1})
	requireCode(t, err, 400, "HIER_INVALID_QUERY")
}

func TestSearchNodesPage_SlicesMatches(t *testing.T) {
	svc := newEngine(services.BackendAdjacency)
	tenantID := uuid.New()
	root := mustCreate(t, svc, tenantID, "HQ", nil)
	for i := 0; i < 4; i++ {
		mustCreate(t, svc, tenantID, fmt.Sprintf("Team %02d", i), &root.ID)
	}

	page, err := svc.SearchNodesPage(context.Background(), tenantID, kind.Department, "team", services.PageParams{Limit: 3, Offset: 2})
	require.NoError(t, err)
	require.Equal(t, 4, page.Total)
	require.Len(t, page.Items, 2)
	require.Equal(t, "Team 02", page.Items[0].Name)
	require.Equal(t, "Team 03", page.Items[1].Name)
}
