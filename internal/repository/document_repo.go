package repository

import (
	"context"
	"time"

	"github.com/ricirt/docqueue/internal/domain"
)

// DocumentRepository is the document store behind every queue.
// One physical collection holds many logical queues, told apart by QueueName.
//
// Backends: memory_document_repo.go (in-process), pg_document_repo.go,
// mongo_document_repo.go and redis_document_repo.go.
type DocumentRepository interface {
	// Insert stores doc, assigns its ID and returns it.
	Insert(ctx context.Context, collection string, doc *domain.Document) (string, error)

	// FindAndLease atomically selects one document of queueName that is due at now
	// and has no live lease, attaches lease, and returns the updated document.
	// It returns domain.ErrNoItem when nothing matches.
	FindAndLease(ctx context.Context, collection, queueName string, now time.Time, lease domain.Lease) (*domain.Document, error)

	UpdateByID(ctx context.Context, collection, id string, upd domain.DocumentUpdate) error
	DeleteByID(ctx context.Context, collection, id string) error
	GetByID(ctx context.Context, collection, id string) (*domain.Document, error)
	Count(ctx context.Context, collection, queueName string) (int64, error)
}
