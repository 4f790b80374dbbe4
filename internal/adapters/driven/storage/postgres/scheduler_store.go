package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// schedulerStore implements driven.SchedulerStore on the same database.
type schedulerStore struct {
	db *sqlx.DB
}

var _ driven.SchedulerStore = (*schedulerStore)(nil)

type taskRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	Schedule    string         `db:"schedule"`
	LastRun     sql.NullTime   `db:"last_run"`
	NextRun     sql.NullTime   `db:"next_run"`
	LastError   sql.NullString `db:"last_error"`
	LastSuccess sql.NullTime   `db:"last_success"`
	Enabled     bool           `db:"enabled"`
}

func (r *taskRow) toDomain() domain.ScheduledTask {
	return domain.ScheduledTask{
		ID:          r.ID,
		Name:        r.Name,
		Schedule:    r.Schedule,
		LastRun:     nullTime(r.LastRun),
		NextRun:     nullTime(r.NextRun),
		LastError:   r.LastError.String,
		LastSuccess: nullTime(r.LastSuccess),
		Enabled:     r.Enabled,
	}
}

type resultRow struct {
	TaskID         string         `db:"task_id"`
	StartedAt      time.Time      `db:"started_at"`
	EndedAt        time.Time      `db:"ended_at"`
	Success        bool           `db:"success"`
	Error          sql.NullString `db:"error"`
	ItemsProcessed int            `db:"items_processed"`
}

const taskColumns = `id, name, schedule, last_run, next_run, last_error, last_success, enabled`

// GetTask retrieves a scheduled task by ID.
// Returns nil and no error if the task does not exist.
func (s *schedulerStore) GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = $1`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting scheduled task: %w", err)
	}
	task := row.toDomain()
	return &task, nil
}

// ListTasks returns all scheduled tasks.
func (s *schedulerStore) ListTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+taskColumns+` FROM scheduled_tasks ORDER BY id`); err != nil {
		return nil, fmt.Errorf("querying scheduled tasks: %w", err)
	}
	tasks := make([]domain.ScheduledTask, len(rows))
	for i := range rows {
		tasks[i] = rows[i].toDomain()
	}
	return tasks, nil
}

// SaveTask persists a task's state.
func (s *schedulerStore) SaveTask(ctx context.Context, task *domain.ScheduledTask) error {
	if task == nil {
		return domain.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			schedule = EXCLUDED.schedule,
			last_run = EXCLUDED.last_run,
			next_run = EXCLUDED.next_run,
			last_error = EXCLUDED.last_error,
			last_success = EXCLUDED.last_success,
			enabled = EXCLUDED.enabled
	`, task.ID, task.Name, task.Schedule, timeOrNil(task.LastRun), timeOrNil(task.NextRun),
		sql.NullString{String: task.LastError, Valid: task.LastError != ""},
		timeOrNil(task.LastSuccess), task.Enabled)
	if err != nil {
		return fmt.Errorf("saving scheduled task: %w", err)
	}
	return nil
}

// RecordResult logs a task execution result.
func (s *schedulerStore) RecordResult(ctx context.Context, result *domain.TaskResult) error {
	if result == nil {
		return domain.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_results (task_id, started_at, ended_at, success, error, items_processed)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, result.TaskID, result.StartedAt.UTC(), result.EndedAt.UTC(), result.Success,
		sql.NullString{String: result.Error, Valid: result.Error != ""}, result.ItemsProcessed)
	if err != nil {
		return fmt.Errorf("recording task result: %w", err)
	}
	return nil
}

// GetTaskHistory returns recent results for a task, most recent first.
func (s *schedulerStore) GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	var rows []resultRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT task_id, started_at, ended_at, success, error, items_processed
		FROM task_results
		WHERE task_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, taskID, sql.NullInt64{Int64: int64(limit), Valid: limit > 0}); err != nil {
		return nil, fmt.Errorf("querying task history: %w", err)
	}
	results := make([]domain.TaskResult, len(rows))
	for i, r := range rows {
		results[i] = domain.TaskResult{
			TaskID:         r.TaskID,
			StartedAt:      r.StartedAt.UTC(),
			EndedAt:        r.EndedAt.UTC(),
			Success:        r.Success,
			Error:          r.Error.String,
			ItemsProcessed: r.ItemsProcessed,
		}
	}
	return results, nil
}

// PruneHistory keeps the most recent keep results per task.
func (s *schedulerStore) PruneHistory(ctx context.Context, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM task_results
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY task_id ORDER BY started_at DESC) AS rn
				FROM task_results
			) ranked WHERE rn > $1
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("pruning task history: %w", err)
	}
	return nil
}
