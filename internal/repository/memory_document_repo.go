package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ricirt/docqueue/internal/domain"
)

// MemoryDocumentRepository is an in-process DocumentRepository.
// It backs unit tests and STORE_BACKEND=memory; a single mutex makes
// FindAndLease atomic within the process.
type MemoryDocumentRepository struct {
	mu          sync.Mutex
	collections map[string]*memoryCollection

	// Optional error overrides; set in tests to simulate store failures.
	InsertErr       error
	FindAndLeaseErr error
	UpdateErr       error
	DeleteErr       error
}

type memoryCollection struct {
	docs  map[string]*domain.Document
	order []string
}

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{collections: make(map[string]*memoryCollection)}
}

func (m *MemoryDocumentRepository) Insert(_ context.Context, collection string, doc *domain.Document) (string, error) {
	if m.InsertErr != nil {
		return "", m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collectionLocked(collection)
	clone := cloneDocument(doc)
	clone.ID = uuid.New().String()
	c.docs[clone.ID] = clone
	c.order = append(c.order, clone.ID)
	return clone.ID, nil
}

func (m *MemoryDocumentRepository) FindAndLease(_ context.Context, collection, queueName string, now time.Time, lease domain.Lease) (*domain.Document, error) {
	if m.FindAndLeaseErr != nil {
		return nil, m.FindAndLeaseErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		return nil, domain.ErrNoItem
	}
	for _, id := range c.order {
		doc := c.docs[id]
		if !doc.Claimable(queueName, now) {
			continue
		}
		l := lease
		doc.Lease = &l
		return cloneDocument(doc), nil
	}
	return nil, domain.ErrNoItem
}

func (m *MemoryDocumentRepository) UpdateByID(_ context.Context, collection, id string, upd domain.DocumentUpdate) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.getLocked(collection, id)
	if err != nil {
		return err
	}
	if upd.TouchesLease() && doc.Lease == nil {
		return domain.ErrNotFound
	}
	upd.Apply(doc)
	return nil
}

func (m *MemoryDocumentRepository) DeleteByID(_ context.Context, collection, id string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.getLocked(collection, id); err != nil {
		return err
	}
	c := m.collections[collection]
	delete(c.docs, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryDocumentRepository) GetByID(_ context.Context, collection, id string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.getLocked(collection, id)
	if err != nil {
		return nil, err
	}
	return cloneDocument(doc), nil
}

func (m *MemoryDocumentRepository) Count(_ context.Context, collection, queueName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, doc := range c.docs {
		if doc.QueueName == queueName {
			n++
		}
	}
	return n, nil
}

// Len returns the number of documents in a collection across all queues.
func (m *MemoryDocumentRepository) Len(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[collection]; ok {
		return len(c.docs)
	}
	return 0
}

// Modify runs fn against the stored document, bypassing the queue protocol.
// Tests use it to age leases and schedules directly.
func (m *MemoryDocumentRepository) Modify(collection, id string, fn func(*domain.Document)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.getLocked(collection, id)
	if err != nil {
		return err
	}
	fn(doc)
	return nil
}

func (m *MemoryDocumentRepository) collectionLocked(name string) *memoryCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memoryCollection{docs: make(map[string]*domain.Document)}
		m.collections[name] = c
	}
	return c
}

func (m *MemoryDocumentRepository) getLocked(collection, id string) (*domain.Document, error) {
	c, ok := m.collections[collection]
	if !ok {
		return nil, domain.ErrNotFound
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

func cloneDocument(doc *domain.Document) *domain.Document {
	clone := *doc
	clone.Payload = doc.Payload.Clone()
	if doc.Lease != nil {
		l := *doc.Lease
		clone.Lease = &l
	}
	if doc.Schedule != nil {
		s := *doc.Schedule
		clone.Schedule = &s
	}
	return &clone
}

var _ DocumentRepository = (*MemoryDocumentRepository)(nil)
