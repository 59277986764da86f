package services

import (
	"sync"

	"github.com/google/uuid"
)

// hierarchyCache is a per-tenant invalidating read cache. Any mutation for a
// tenant drops every cached read for that tenant.
type hierarchyCache struct {
	mu          sync.RWMutex
	entries     map[string]any
	tenantIndex map[uuid.UUID]map[string]struct{}
}

func newHierarchyCache() *hierarchyCache {
	return &hierarchyCache{
		entries:     make(map[string]any),
		tenantIndex: make(map[uuid.UUID]map[string]struct{}),
	}
}

func (c *hierarchyCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *hierarchyCache) Set(tenantID uuid.UUID, key string, value any) {
	if tenantID == uuid.Nil || key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	if _, ok := c.tenantIndex[tenantID]; !ok {
		c.tenantIndex[tenantID] = make(map[string]struct{})
	}
	c.tenantIndex[tenantID][key] = struct{}{}
}

func (c *hierarchyCache) InvalidateTenant(tenantID uuid.UUID) {
	if tenantID == uuid.Nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.tenantIndex[tenantID]
	for key := range keys {
		delete(c.entries, key)
	}
	delete(c.tenantIndex, tenantID)
}
