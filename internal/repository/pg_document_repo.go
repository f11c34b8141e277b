package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ricirt/docqueue/internal/domain"
)

type pgDocumentRepository struct {
	pool *pgxpool.Pool
}

// NewPgDocumentRepository returns a DocumentRepository backed by PostgreSQL.
// Collections share the queue_documents table and are told apart by the
// collection column; payloads are stored as JSONB.
func NewPgDocumentRepository(pool *pgxpool.Pool) DocumentRepository {
	return &pgDocumentRepository{pool: pool}
}

const documentColumns = `id::text, queue_name, payload, lease_holder, lease_expires_at,
		       lease_message, next_run, repeat`

func (r *pgDocumentRepository) Insert(ctx context.Context, collection string, doc *domain.Document) (string, error) {
	id := uuid.New().String()

	var nextRun *time.Time
	var repeat *string
	if doc.Schedule != nil {
		nr := doc.Schedule.NextRun.UTC()
		rp := string(doc.Schedule.Repeat)
		nextRun, repeat = &nr, &rp
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO queue_documents (id, collection, queue_name, payload, next_run, repeat)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		id, collection, doc.QueueName, doc.Payload, nextRun, repeat,
	)
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

// FindAndLease claims one row in a single statement. FOR UPDATE SKIP LOCKED keeps
// concurrent consumers from blocking on, or both claiming, the same row.
func (r *pgDocumentRepository) FindAndLease(ctx context.Context, collection, queueName string, now time.Time, lease domain.Lease) (*domain.Document, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE queue_documents
		SET lease_holder = $4, lease_expires_at = $5, lease_message = NULLIF($6, ''), updated_at = $3
		WHERE id = (
			SELECT id FROM queue_documents
			WHERE collection = $1
			  AND queue_name = $2
			  AND (next_run IS NULL OR next_run <= $3)
			  AND (lease_expires_at IS NULL OR lease_expires_at < $3)
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+documentColumns,
		collection, queueName, now.UTC(), lease.Holder, lease.ExpiresAt.UTC(), lease.Message,
	)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNoItem
	}
	if err != nil {
		return nil, fmt.Errorf("find and lease: %w", err)
	}
	return doc, nil
}

func (r *pgDocumentRepository) UpdateByID(ctx context.Context, collection, id string, upd domain.DocumentUpdate) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}

	set, args := buildUpdateSet(upd)
	args = append(args, collection, id)
	query := fmt.Sprintf(`UPDATE queue_documents SET %s WHERE collection = $%d AND id = $%d`,
		set, len(args)-1, len(args))
	if upd.TouchesLease() {
		query += ` AND lease_expires_at IS NOT NULL`
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgDocumentRepository) DeleteByID(ctx context.Context, collection, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}

	tag, err := r.pool.Exec(ctx,
		`DELETE FROM queue_documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgDocumentRepository) GetByID(ctx context.Context, collection, id string) (*domain.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}

	row := r.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM queue_documents WHERE collection = $1 AND id = $2`, collection, id)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (r *pgDocumentRepository) Count(ctx context.Context, collection, queueName string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_documents WHERE collection = $1 AND queue_name = $2`,
		collection, queueName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// ---- helpers ----

// scanDocument reads a single document row from any pgx row type.
func scanDocument(row pgx.Row) (*domain.Document, error) {
	var (
		doc            domain.Document
		leaseHolder    *string
		leaseExpiresAt *time.Time
		leaseMessage   *string
		nextRun        *time.Time
		repeat         *string
	)
	err := row.Scan(
		&doc.ID, &doc.QueueName, &doc.Payload,
		&leaseHolder, &leaseExpiresAt, &leaseMessage,
		&nextRun, &repeat,
	)
	if err != nil {
		return nil, err
	}

	if leaseExpiresAt != nil {
		doc.Lease = &domain.Lease{ExpiresAt: leaseExpiresAt.UTC()}
		if leaseHolder != nil {
			doc.Lease.Holder = *leaseHolder
		}
		if leaseMessage != nil {
			doc.Lease.Message = *leaseMessage
		}
	}
	if nextRun != nil {
		doc.Schedule = &domain.Schedule{NextRun: nextRun.UTC(), Repeat: domain.RepeatNone}
		if repeat != nil {
			doc.Schedule.Repeat = domain.Repeat(*repeat)
		}
	}
	return &doc, nil
}

// buildUpdateSet builds a parameterised SET clause from a DocumentUpdate.
func buildUpdateSet(u domain.DocumentUpdate) (string, []any) {
	assignments := []string{"updated_at = now()"}
	var args []any

	add := func(assignment string, val any) {
		args = append(args, val)
		assignments = append(assignments, fmt.Sprintf(assignment, len(args)))
	}

	if u.Schedule != nil {
		add("next_run = $%d", u.Schedule.NextRun.UTC())
		add("repeat = $%d", string(u.Schedule.Repeat))
	}
	switch {
	case u.ClearLease:
		assignments = append(assignments,
			"lease_holder = NULL", "lease_expires_at = NULL", "lease_message = NULL")
	default:
		if u.LeaseMessage != nil {
			add("lease_message = NULLIF($%d, '')", *u.LeaseMessage)
		}
		if u.LeaseExpiresAt != nil {
			add("lease_expires_at = $%d", u.LeaseExpiresAt.UTC())
		}
	}

	return strings.Join(assignments, ", "), args
}
