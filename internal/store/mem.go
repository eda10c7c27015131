package store

import (
	"context"
	"sync"
)

// Mem is an in-memory Store. It backs tests and ad hoc runs without a
// configured backend; semantics mirror the real stores (whole-document
// replace, ErrNotFound for absent collections).
type Mem struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func NewMem() *Mem {
	return &Mem{docs: map[string][]byte{}}
}

func (m *Mem) Fetch(_ context.Context, collection string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[collection]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

func (m *Mem) Replace(_ context.Context, collection string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(doc))
	copy(cp, doc)
	m.docs[collection] = cp
	return nil
}
