package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
)

// PageParams is the limit/offset window requested by a caller. Zero values
// fall back to the service defaults; negatives are rejected.
type PageParams struct {
	Limit  int
	Offset int
}

// Page is one window of a node listing plus the total size of the full
// listing, so callers can derive whether more pages exist.
type Page struct {
	Items  []Node `json:"items"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

func (s *HierarchyService) normalizePage(p PageParams) (PageParams, error) {
	if p.Limit < 0 {
		return PageParams{}, errInvalidQuery("limit must not be negative")
	}
	if p.Offset < 0 {
		return PageParams{}, errInvalidQuery("offset must not be negative")
	}
	if p.Limit == 0 {
		p.Limit = s.pageSize
	}
	if p.Limit > s.maxPageSize {
		p.Limit = s.maxPageSize
	}
	return p, nil
}

func slicePage(items []Node, p PageParams) Page {
	total := len(items)
	start := p.Offset
	if start > total {
		start = total
	}
	end := start + p.Limit
	if end > total {
		end = total
	}
	return Page{Items: items[start:end], Total: total, Limit: p.Limit, Offset: p.Offset}
}

func (s *HierarchyService) GetChildrenPage(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, p PageParams) (*Page, error) {
	p, err := s.normalizePage(p)
	if err != nil {
		return nil, err
	}
	items, err := s.GetChildren(ctx, tenantID, k, nodeID)
	if err != nil {
		return nil, err
	}
	page := slicePage(items, p)
	return &page, nil
}

func (s *HierarchyService) GetDescendantsPage(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, p PageParams) (*Page, error) {
	p, err := s.normalizePage(p)
	if err != nil {
		return nil, err
	}
	items, err := s.GetDescendants(ctx, tenantID, k, nodeID)
	if err != nil {
		return nil, err
	}
	page := slicePage(items, p)
	return &page, nil
}

func (s *HierarchyService) GetAncestorsPage(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, p PageParams) (*Page, error) {
	p, err := s.normalizePage(p)
	if err != nil {
		return nil, err
	}
	items, err := s.GetAncestors(ctx, tenantID, k, nodeID)
	if err != nil {
		return nil, err
	}
	page := slicePage(items, p)
	return &page, nil
}

func (s *HierarchyService) SearchNodesPage(ctx context.Context, tenantID uuid.UUID, k kind.Kind, pattern string, p PageParams) (*Page, error) {
	p, err := s.normalizePage(p)
	if err != nil {
		return nil, err
	}
	items, err := s.SearchNodes(ctx, tenantID, k, pattern)
	if err != nil {
		return nil, err
	}
	page := slicePage(items, p)
	return &page, nil
}
