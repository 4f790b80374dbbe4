package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

func TestScheduler_RunNowRecordsSuccess(t *testing.T) {
	store := newMockSchedulerStore()
	index := &mockIndexService{drained: &domain.IndexSummary{Added: 2, Updated: 1}}
	s := NewScheduler(domain.ScheduleSettings{SyncCron: "@hourly", Roots: []string{"/notes"}}, store, index)

	res, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.ItemsProcessed)
	assert.Equal(t, []string{"/notes"}, index.syncRoots)

	task := store.task(domain.TaskIDDocumentSync)
	require.NotNil(t, task)
	assert.Empty(t, task.LastError)
	assert.False(t, task.LastSuccess.IsZero())
	assert.True(t, task.NextRun.After(task.LastRun))
	assert.Equal(t, 1, store.resultCount(domain.TaskIDDocumentSync))
	assert.Equal(t, historyKeep, store.pruned)
}

func TestScheduler_RunNowRecordsFailure(t *testing.T) {
	store := newMockSchedulerStore()
	index := &mockIndexService{syncErr: errors.New("disk gone")}
	s := NewScheduler(domain.ScheduleSettings{SyncCron: "@hourly"}, store, index)

	res, err := s.RunNow(context.Background())
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "disk gone", res.Error)

	task := store.task(domain.TaskIDDocumentSync)
	require.NotNil(t, task)
	assert.Equal(t, "disk gone", task.LastError)
	assert.True(t, task.LastSuccess.IsZero())
}

func TestScheduler_InvalidCron(t *testing.T) {
	s := NewScheduler(domain.ScheduleSettings{SyncCron: "every tuesday"}, newMockSchedulerStore(), &mockIndexService{})
	err := s.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestScheduler_DisabledBlocksUntilCancelled(t *testing.T) {
	index := &mockIndexService{}
	s := NewScheduler(domain.ScheduleSettings{}, newMockSchedulerStore(), index)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, 0, index.calls())
}

func TestScheduler_CatchesUpMissedRun(t *testing.T) {
	store := newMockSchedulerStore()
	require.NoError(t, store.SaveTask(context.Background(), &domain.ScheduledTask{
		ID:       domain.TaskIDDocumentSync,
		Name:     "Document Sync",
		Schedule: "@daily",
		NextRun:  time.Now().Add(-time.Hour),
		Enabled:  true,
	}))
	index := &mockIndexService{}
	s := NewScheduler(domain.ScheduleSettings{SyncCron: "@daily", Roots: []string{"/notes"}}, store, index)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return store.resultCount(domain.TaskIDDocumentSync) == 1 },
		time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, index.calls())
}

func TestScheduler_NewTaskWaitsForSchedule(t *testing.T) {
	store := newMockSchedulerStore()
	index := &mockIndexService{}
	s := NewScheduler(domain.ScheduleSettings{SyncCron: "@daily"}, store, index)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return store.task(domain.TaskIDDocumentSync) != nil },
		time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	task := store.task(domain.TaskIDDocumentSync)
	assert.Equal(t, "@daily", task.Schedule)
	assert.True(t, task.Enabled)
	assert.True(t, task.NextRun.After(time.Now()))
	assert.Equal(t, 0, index.calls())
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	index := &mockIndexService{block: make(chan struct{})}
	s := NewScheduler(domain.ScheduleSettings{SyncCron: "@hourly"}, newMockSchedulerStore(), index)
	ctx := context.Background()

	finished := make(chan struct{})
	go func() {
		s.tick(ctx)
		close(finished)
	}()
	assert.Eventually(t, func() bool { return index.calls() == 1 }, time.Second, 5*time.Millisecond)

	// A second tick while the first is still syncing is dropped.
	s.tick(ctx)
	assert.Equal(t, 1, index.calls())

	close(index.block)
	<-finished
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := NewScheduler(domain.ScheduleSettings{}, newMockSchedulerStore(), &mockIndexService{})
	assert.NoError(t, s.Stop())
}
