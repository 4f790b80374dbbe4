package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/didi/gendry/builder"

	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

const queueColumns = `target_id, path, priority, status, attempts, last_error, enqueued_at, updated_at`

type queueRow struct {
	TargetID   string    `db:"target_id"`
	Path       string    `db:"path"`
	Priority   int       `db:"priority"`
	Status     string    `db:"status"`
	Attempts   int       `db:"attempts"`
	LastError  string    `db:"last_error"`
	EnqueuedAt time.Time `db:"enqueued_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r *queueRow) toDomain() *domain.QueueItem {
	return &domain.QueueItem{
		TargetID:   r.TargetID,
		Path:       r.Path,
		Priority:   domain.Priority(r.Priority),
		Status:     domain.QueueStatus(r.Status),
		Attempts:   r.Attempts,
		LastError:  r.LastError,
		EnqueuedAt: r.EnqueuedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

// UpsertQueueItem inserts or replaces the queue entry for a target.
func (s *Store) UpsertQueueItem(ctx context.Context, item *domain.QueueItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue (`+queueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (target_id) DO UPDATE SET
			path = EXCLUDED.path,
			priority = EXCLUDED.priority,
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			enqueued_at = EXCLUDED.enqueued_at,
			updated_at = EXCLUDED.updated_at
	`, item.TargetID, item.Path, int(item.Priority), string(item.Status), item.Attempts,
		item.LastError, item.EnqueuedAt.UTC(), item.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving queue item: %w", err)
	}
	return nil
}

// DequeueNext moves the next queued item to processing. Rows locked by
// a concurrent dequeue are skipped rather than waited for.
func (s *Store) DequeueNext(ctx context.Context) (*domain.QueueItem, error) {
	var row queueRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE queue SET status = 'processing', updated_at = $1
		WHERE target_id = (
			SELECT target_id FROM queue
			WHERE status = 'queued'
			ORDER BY priority DESC, enqueued_at, target_id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+queueColumns, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return row.toDomain(), nil
}

// GetQueueItem retrieves the queue entry for a target.
func (s *Store) GetQueueItem(ctx context.Context, targetID string) (*domain.QueueItem, error) {
	query, args, err := builder.BuildSelect(queueTable, map[string]any{"target_id": targetID}, []string{
		"target_id", "path", "priority", "status", "attempts", "last_error", "enqueued_at", "updated_at",
	})
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	var row queueRow
	if err := s.db.GetContext(ctx, &row, rebind(s.db, query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting queue item: %w", err)
	}
	return row.toDomain(), nil
}

type statusCount struct {
	Status string `db:"status"`
	N      int    `db:"n"`
}

// GetQueueStatus counts queue entries by status.
func (s *Store) GetQueueStatus(ctx context.Context) (domain.QueueCounts, error) {
	var counts domain.QueueCounts
	var rows []statusCount
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM queue GROUP BY status`); err != nil {
		return counts, fmt.Errorf("counting queue: %w", err)
	}
	for _, r := range rows {
		storage.CountQueue(&counts, domain.QueueStatus(r.Status), r.N)
	}
	return counts, nil
}

// RequeueStale moves processing items back to queued.
func (s *Store) RequeueStale(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue SET status = 'queued', updated_at = $1 WHERE status = 'processing'`,
		time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("requeueing stale items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeueing stale items: %w", err)
	}
	return int(n), nil
}

// Stats summarises stored content.
func (s *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	st := storage.NewStats(string(domain.BackendPostgres))

	var docs []statusCount
	if err := s.db.SelectContext(ctx, &docs,
		`SELECT status, COUNT(*) AS n FROM documents WHERE deleted_at IS NULL GROUP BY status`); err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	for _, r := range docs {
		st.Documents[domain.DocumentStatus(r.Status)] = r.N
		st.TotalDocuments += r.N
	}
	if err := s.db.GetContext(ctx, &st.Tombstoned,
		`SELECT COUNT(*) FROM documents WHERE deleted_at IS NOT NULL`); err != nil {
		return nil, fmt.Errorf("counting tombstones: %w", err)
	}
	var chunks struct {
		Total    int `db:"total"`
		Embedded int `db:"embedded"`
	}
	if err := s.db.GetContext(ctx, &chunks,
		`SELECT COUNT(*) AS total, COUNT(embedding) AS embedded FROM chunks`); err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}
	st.Chunks, st.EmbeddedChunks = chunks.Total, chunks.Embedded

	queue, err := s.GetQueueStatus(ctx)
	if err != nil {
		return nil, err
	}
	st.Queue = queue
	return st, nil
}
