package catalog

import (
	"context"
	"strconv"
	"sync"
)

// MemoryStore keeps variants in process. It honours revisions exactly like
// the remote stores so callers exercise the same conflict path.
type MemoryStore struct {
	mu       sync.Mutex
	variants map[string]Variant
	rev      map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{variants: map[string]Variant{}, rev: map[string]int{}}
}

// Put seeds or replaces a variant, bumping its revision.
func (m *MemoryStore) Put(v Variant) Variant {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rev[v.ID]++
	v.Links = CloneLinks(v.Links)
	v.Revision = strconv.Itoa(m.rev[v.ID])
	m.variants[v.ID] = v
	return withLinks(v, v.Links)
}

func (m *MemoryStore) Variant(_ context.Context, variantID string) (Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variants[variantID]
	if !ok {
		return Variant{}, ErrVariantNotFound
	}
	return withLinks(v, v.Links), nil
}

func (m *MemoryStore) SwapLinks(_ context.Context, v Variant, links []Link) (Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.variants[v.ID]
	if !ok {
		return Variant{}, ErrVariantNotFound
	}
	if cur.Revision != v.Revision {
		return Variant{}, ErrRevisionConflict
	}
	m.rev[v.ID]++
	cur.Links = CloneLinks(links)
	cur.Revision = strconv.Itoa(m.rev[v.ID])
	m.variants[v.ID] = cur
	return withLinks(cur, cur.Links), nil
}

func withLinks(v Variant, links []Link) Variant {
	v.Links = CloneLinks(links)
	return v
}
