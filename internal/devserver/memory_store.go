package devserver

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps documents in-process. Data is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]Document // kind -> id -> doc
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]Document)}
}

func (m *MemoryStore) Put(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.docs[doc.Kind]
	if !ok {
		byID = make(map[string]Document)
		m.docs[doc.Kind] = byID
	}
	doc.Data = append([]byte(nil), doc.Data...)
	byID[doc.ID] = doc
	return nil
}

func (m *MemoryStore) Get(_ context.Context, kind, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[kind][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (m *MemoryStore) Find(_ context.Context, kind string, f Filter) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0)
	for _, doc := range m.docs[kind] {
		if f.match(doc) {
			out = append(out, doc)
		}
	}
	slices.SortFunc(out, func(a, b Document) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
