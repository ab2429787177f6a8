package cycle

import (
	"context"
	"sync"
)

// Store persists the whole cycle document. Load and Save always move the
// complete document; there is no per-key update and no protection against
// concurrent writers in other processes.
type Store interface {
	// Load returns the stored document. A store that has never been written
	// returns an empty document and no error. Entries that fail schema
	// validation are omitted rather than reported as errors.
	Load(ctx context.Context) (Document, error)
	// Save replaces the stored document.
	Save(ctx context.Context, doc Document) error
}

// MemoryStore keeps the document in process memory.
type MemoryStore struct {
	mu  sync.Mutex
	doc Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{doc: Document{}}
}

func (m *MemoryStore) Load(_ context.Context) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneDocument(m.doc), nil
}

func (m *MemoryStore) Save(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = cloneDocument(doc)
	return nil
}

func cloneDocument(doc Document) Document {
	out := make(Document, len(doc))
	for key, entry := range doc {
		order := make([]string, len(entry.Order))
		copy(order, entry.Order)
		out[key] = Entry{Signature: entry.Signature, Order: order, Index: entry.Index}
	}
	return out
}
