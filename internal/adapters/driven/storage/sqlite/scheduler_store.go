package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// schedulerStore keeps cron task state and run history in the index
// database, so a missed run can be caught up after a restart.
type schedulerStore struct {
	store *Store
}

var _ driven.SchedulerStore = (*schedulerStore)(nil)

// cronTaskRow is a scheduled_tasks row. Times are stored as fixed-width
// text and NULL when unset.
type cronTaskRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	Schedule    string         `db:"schedule"`
	LastRun     sql.NullString `db:"last_run"`
	NextRun     sql.NullString `db:"next_run"`
	LastError   sql.NullString `db:"last_error"`
	LastSuccess sql.NullString `db:"last_success"`
	Enabled     bool           `db:"enabled"`
}

func newCronTaskRow(t *domain.ScheduledTask) cronTaskRow {
	return cronTaskRow{
		ID:          t.ID,
		Name:        t.Name,
		Schedule:    t.Schedule,
		LastRun:     textTime(formatNullableTime(t.LastRun)),
		NextRun:     textTime(formatNullableTime(t.NextRun)),
		LastError:   sql.NullString{String: t.LastError, Valid: t.LastError != ""},
		LastSuccess: textTime(formatNullableTime(t.LastSuccess)),
		Enabled:     t.Enabled,
	}
}

func (r *cronTaskRow) task() domain.ScheduledTask {
	return domain.ScheduledTask{
		ID:          r.ID,
		Name:        r.Name,
		Schedule:    r.Schedule,
		LastRun:     parseNullableTime(r.LastRun),
		NextRun:     parseNullableTime(r.NextRun),
		LastError:   r.LastError.String,
		LastSuccess: parseNullableTime(r.LastSuccess),
		Enabled:     r.Enabled,
	}
}

// runRow is a task_results row.
type runRow struct {
	TaskID         string         `db:"task_id"`
	StartedAt      string         `db:"started_at"`
	EndedAt        string         `db:"ended_at"`
	Success        bool           `db:"success"`
	Error          sql.NullString `db:"error"`
	ItemsProcessed int            `db:"items_processed"`
}

func (r *runRow) result() domain.TaskResult {
	return domain.TaskResult{
		TaskID:         r.TaskID,
		StartedAt:      parseTime(r.StartedAt),
		EndedAt:        parseTime(r.EndedAt),
		Success:        r.Success,
		Error:          r.Error.String,
		ItemsProcessed: r.ItemsProcessed,
	}
}

func textTime(v any) sql.NullString {
	s, ok := v.(string)
	return sql.NullString{String: s, Valid: ok}
}

const cronTaskSelect = `SELECT id, name, schedule, last_run, next_run, last_error, last_success, enabled FROM scheduled_tasks`

// GetTask returns nil and no error for an unknown task, which the
// scheduler treats as never having run.
func (s *schedulerStore) GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error) {
	var row cronTaskRow
	err := s.store.db.GetContext(ctx, &row, cronTaskSelect+` WHERE id = ?`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	task := row.task()
	return &task, nil
}

func (s *schedulerStore) ListTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	var rows []cronTaskRow
	if err := s.store.db.SelectContext(ctx, &rows, cronTaskSelect+` ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks := make([]domain.ScheduledTask, len(rows))
	for i := range rows {
		tasks[i] = rows[i].task()
	}
	return tasks, nil
}

// SaveTask upserts the task, including its cron expression.
func (s *schedulerStore) SaveTask(ctx context.Context, task *domain.ScheduledTask) error {
	if task == nil {
		return domain.ErrInvalidInput
	}
	_, err := s.store.db.NamedExecContext(ctx, `
		INSERT INTO scheduled_tasks (id, name, schedule, last_run, next_run, last_error, last_success, enabled)
		VALUES (:id, :name, :schedule, :last_run, :next_run, :last_error, :last_success, :enabled)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			last_run = excluded.last_run,
			next_run = excluded.next_run,
			last_error = excluded.last_error,
			last_success = excluded.last_success,
			enabled = excluded.enabled
	`, newCronTaskRow(task))
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

func (s *schedulerStore) RecordResult(ctx context.Context, result *domain.TaskResult) error {
	if result == nil {
		return domain.ErrInvalidInput
	}
	_, err := s.store.db.NamedExecContext(ctx, `
		INSERT INTO task_results (task_id, started_at, ended_at, success, error, items_processed)
		VALUES (:task_id, :started_at, :ended_at, :success, :error, :items_processed)
	`, runRow{
		TaskID:         result.TaskID,
		StartedAt:      formatTime(result.StartedAt),
		EndedAt:        formatTime(result.EndedAt),
		Success:        result.Success,
		Error:          sql.NullString{String: result.Error, Valid: result.Error != ""},
		ItemsProcessed: result.ItemsProcessed,
	})
	if err != nil {
		return fmt.Errorf("record run of %s: %w", result.TaskID, err)
	}
	return nil
}

// GetTaskHistory returns the newest runs first. Start times are fixed
// width text, so ordering by the column orders by time.
func (s *schedulerStore) GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	var rows []runRow
	if err := s.store.db.SelectContext(ctx, &rows, `
		SELECT task_id, started_at, ended_at, success, error, items_processed
		FROM task_results
		WHERE task_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, taskID, limit); err != nil {
		return nil, fmt.Errorf("task history of %s: %w", taskID, err)
	}
	results := make([]domain.TaskResult, len(rows))
	for i := range rows {
		results[i] = rows[i].result()
	}
	return results, nil
}

// PruneHistory keeps the newest keep runs of every task.
func (s *schedulerStore) PruneHistory(ctx context.Context, keep int) error {
	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM task_results
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY task_id ORDER BY started_at DESC) AS rn
				FROM task_results
			) WHERE rn > ?
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("prune task history: %w", err)
	}
	return nil
}
