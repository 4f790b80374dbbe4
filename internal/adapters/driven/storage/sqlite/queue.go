package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

const queueColumns = `target_id, path, priority, status, attempts, last_error, enqueued_at, updated_at`

// UpsertQueueItem inserts or replaces the queue entry for a target.
func (s *Store) UpsertQueueItem(ctx context.Context, item *domain.QueueItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue (`+queueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target_id) DO UPDATE SET
			path = excluded.path,
			priority = excluded.priority,
			status = excluded.status,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			enqueued_at = excluded.enqueued_at,
			updated_at = excluded.updated_at
	`, item.TargetID, item.Path, int(item.Priority), string(item.Status), item.Attempts,
		item.LastError, item.EnqueuedAt.UnixNano(), item.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("saving queue item: %w", err)
	}
	return nil
}

// DequeueNext moves the next queued item to processing in a single
// statement, so concurrent callers never receive the same target.
func (s *Store) DequeueNext(ctx context.Context) (*domain.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE queue SET status = 'processing', updated_at = ?
		WHERE target_id = (
			SELECT target_id FROM queue
			WHERE status = 'queued'
			ORDER BY priority DESC, enqueued_at, target_id
			LIMIT 1
		)
		RETURNING `+queueColumns, time.Now().UnixNano())
	item, err := scanQueueItem(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrQueueEmpty
	}
	return item, err
}

// GetQueueItem retrieves the queue entry for a target.
func (s *Store) GetQueueItem(ctx context.Context, targetID string) (*domain.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue WHERE target_id = ?`, targetID)
	return scanQueueItem(row)
}

// GetQueueStatus counts queue entries by status.
func (s *Store) GetQueueStatus(ctx context.Context) (domain.QueueCounts, error) {
	var counts domain.QueueCounts
	var groups []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &groups, `SELECT status, COUNT(*) AS n FROM queue GROUP BY status`); err != nil {
		return counts, fmt.Errorf("counting queue: %w", err)
	}
	for _, g := range groups {
		storage.CountQueue(&counts, domain.QueueStatus(g.Status), g.N)
	}
	return counts, nil
}

// RequeueStale moves processing items back to queued.
func (s *Store) RequeueStale(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue SET status = 'queued', updated_at = ? WHERE status = 'processing'
	`, time.Now().UnixNano())
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
	st := storage.NewStats(string(domain.BackendSQLite))

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, deleted_at IS NOT NULL, COUNT(*) FROM documents GROUP BY 1, 2
	`)
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	for rows.Next() {
		var status string
		var tombstoned bool
		var n int
		if err := rows.Scan(&status, &tombstoned, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("counting documents: %w", err)
		}
		if tombstoned {
			st.Tombstoned += n
			continue
		}
		st.TotalDocuments += n
		st.Documents[domain.DocumentStatus(status)] += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(embedding) FROM chunks
	`).Scan(&st.Chunks, &st.EmbeddedChunks); err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}

	if st.Queue, err = s.GetQueueStatus(ctx); err != nil {
		return nil, err
	}
	if st.SchemaVersion, err = s.SchemaVersion(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

func scanQueueItem(row scanner) (*domain.QueueItem, error) {
	var item domain.QueueItem
	var priority int
	var status string
	var enqueued, updated int64
	if err := row.Scan(&item.TargetID, &item.Path, &priority, &status, &item.Attempts,
		&item.LastError, &enqueued, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning queue item: %w", err)
	}
	item.Priority = domain.Priority(priority)
	item.Status = domain.QueueStatus(status)
	item.EnqueuedAt = time.Unix(0, enqueued).UTC()
	item.UpdatedAt = time.Unix(0, updated).UTC()
	return &item, nil
}
