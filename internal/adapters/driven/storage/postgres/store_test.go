package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage"
	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage/storagetest"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/textindex"
)

// testDSNEnv names a database the tests may freely truncate.
const testDSNEnv = "SERCHA_TEST_POSTGRES_DSN"

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDSNEnv)
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx,
		"TRUNCATE documents, chunks, queue, scheduled_tasks, task_results CASCADE")
	require.NoError(t, err)
	return store
}

func TestStore_Conformance(t *testing.T) {
	if os.Getenv(testDSNEnv) == "" {
		t.Skipf("%s not set", testDSNEnv)
	}
	storagetest.Run(t, func(t *testing.T) driven.Storage {
		return setupTestStore(t)
	})
}

func TestStore_SchemaVersion(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	v, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storage.SchemaVersion, v)
}

func TestSchedulerStore(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()
	sched := store.SchedulerStore()

	task, err := sched.GetTask(ctx, domain.TaskIDDocumentSync)
	require.NoError(t, err)
	assert.Nil(t, task)

	require.NoError(t, sched.SaveTask(ctx, &domain.ScheduledTask{
		ID: domain.TaskIDDocumentSync, Name: "Document Sync", Schedule: "@every 1h", Enabled: true,
	}))
	task, err = sched.GetTask(ctx, domain.TaskIDDocumentSync)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "@every 1h", task.Schedule)
	assert.True(t, task.LastRun.IsZero())

	start := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, sched.RecordResult(ctx, &domain.TaskResult{
			TaskID:         domain.TaskIDDocumentSync,
			StartedAt:      start.Add(time.Duration(i) * time.Minute),
			EndedAt:        start.Add(time.Duration(i)*time.Minute + time.Second),
			Success:        true,
			ItemsProcessed: i,
		}))
	}
	require.NoError(t, sched.PruneHistory(ctx, 2))
	history, err := sched.GetTaskHistory(ctx, domain.TaskIDDocumentSync, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 3, history[0].ItemsProcessed)
	assert.Equal(t, time.Second, history[0].Duration())
}

func TestTSQuery(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"", ""},
		{"fox", `(('fox'))`},
		{"brown fox", `(('brown')) & (('fox'))`},
		{`"brown fox"`, `(('brown' <-> 'fox'))`},
		{"cats OR dogs", `(('cats') | ('dogs'))`},
		{"fox -lazy", `(('fox')) & !('lazy')`},
		{"O'Brien", `(('o' <-> 'brien'))`},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, TSQuery(textindex.ParseQuery(tt.query)))
		})
	}
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `/data/a\_b\%c\\`, escapeLike(`/data/a_b%c\`))
}
