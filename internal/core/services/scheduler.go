package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-local/internal/logger"
)

var syncLog = logger.ForComponent(logger.CompSync)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// historyKeep is the number of task results retained per task.
const historyKeep = 100

// cronParser accepts standard five-field expressions and descriptors
// such as @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler runs periodic sync of the configured roots.
// Task state survives restarts through the scheduler store.
type Scheduler struct {
	settings domain.ScheduleSettings
	store    driven.SchedulerStore
	index    driving.IndexService

	mu      sync.Mutex
	cron    *cron.Cron
	stopCh  chan struct{}
	running atomic.Bool
	now     func() time.Time
}

// NewScheduler creates a scheduler. An empty SyncCron disables it.
func NewScheduler(
	settings domain.ScheduleSettings,
	store driven.SchedulerStore,
	index driving.IndexService,
) *Scheduler {
	return &Scheduler{
		settings: settings,
		store:    store,
		index:    index,
		now:      time.Now,
	}
}

// Start begins the scheduler. It blocks until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.settings.SyncCron == "" {
		syncLog.Debug("scheduler_disabled")
		<-ctx.Done()
		return nil
	}
	sched, err := cronParser.Parse(s.settings.SyncCron)
	if err != nil {
		return fmt.Errorf("%w: schedule.sync_cron %q: %v", domain.ErrInvalidConfiguration, s.settings.SyncCron, err)
	}

	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return nil // Already running
	}
	s.cron = cron.New(cron.WithParser(cronParser))
	s.stopCh = make(chan struct{})
	c, stopCh := s.cron, s.stopCh
	s.mu.Unlock()

	task, err := s.ensureTask(ctx, sched)
	if err != nil {
		syncLog.Warn("scheduler_task_init_failed", slog.String("error", err.Error()))
	}
	if _, err := c.AddFunc(s.settings.SyncCron, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	c.Start()
	syncLog.Info("scheduler_started", slog.String("cron", s.settings.SyncCron))

	// Catch up on a run missed while the process was down.
	if task != nil && !task.NextRun.After(s.now()) {
		go s.tick(ctx)
	}

	select {
	case <-ctx.Done():
	case <-stopCh:
	}
	<-c.Stop().Done()

	s.mu.Lock()
	if s.cron == c {
		s.cron = nil
	}
	s.mu.Unlock()
	return nil
}

// Stop halts the scheduler and waits for a running sync to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	close(s.stopCh)
	<-s.cron.Stop().Done()
	s.cron = nil
	return nil
}

// ensureTask creates or refreshes the sync task in the store.
func (s *Scheduler) ensureTask(ctx context.Context, sched cron.Schedule) (*domain.ScheduledTask, error) {
	task, err := s.store.GetTask(ctx, domain.TaskIDDocumentSync)
	if err != nil {
		return nil, err
	}
	if task == nil {
		task = &domain.ScheduledTask{
			ID:      domain.TaskIDDocumentSync,
			Name:    "Document Sync",
			NextRun: sched.Next(s.now()),
		}
	}
	if task.Schedule != s.settings.SyncCron {
		task.Schedule = s.settings.SyncCron
		task.NextRun = sched.Next(s.now())
	}
	task.Enabled = true
	if err := s.store.SaveTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// tick runs one sync unless the previous one is still going.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		syncLog.Info("sync_skipped_still_running")
		return
	}
	defer s.running.Store(false)
	if _, err := s.RunNow(ctx); err != nil {
		syncLog.Warn("scheduled_sync_failed", slog.String("error", err.Error()))
	}
}

// RunNow syncs the configured roots, drains the queue and records the
// outcome against the sync task.
func (s *Scheduler) RunNow(ctx context.Context) (*domain.TaskResult, error) {
	result := &domain.TaskResult{TaskID: domain.TaskIDDocumentSync, StartedAt: s.now()}

	var runErr error
	if _, err := s.index.Sync(ctx, s.settings.Roots); err != nil {
		runErr = err
	} else {
		summary, err := s.index.Drain(ctx)
		if summary != nil {
			result.ItemsProcessed = summary.Added + summary.Updated
		}
		runErr = err
	}

	result.EndedAt = s.now()
	result.Success = runErr == nil
	if runErr != nil {
		result.Error = runErr.Error()
	}
	syncLog.Info("scheduled_sync",
		slog.Bool("success", result.Success),
		slog.Int("items", result.ItemsProcessed),
		slog.Duration("took", result.Duration()))

	// Bookkeeping outlives a cancelled run.
	s.record(context.WithoutCancel(ctx), result)
	return result, runErr
}

func (s *Scheduler) record(ctx context.Context, result *domain.TaskResult) {
	task, err := s.store.GetTask(ctx, domain.TaskIDDocumentSync)
	if err != nil {
		syncLog.Warn("scheduler_get_task_failed", slog.String("error", err.Error()))
	}
	if task == nil {
		task = &domain.ScheduledTask{
			ID:       domain.TaskIDDocumentSync,
			Name:     "Document Sync",
			Schedule: s.settings.SyncCron,
			Enabled:  s.settings.SyncCron != "",
		}
	}
	task.LastRun = result.StartedAt
	if result.Success {
		task.LastError = ""
		task.LastSuccess = result.EndedAt
	} else {
		task.LastError = result.Error
	}
	if sched, err := cronParser.Parse(task.Schedule); err == nil {
		task.NextRun = sched.Next(result.EndedAt)
	}

	if err := s.store.SaveTask(ctx, task); err != nil {
		syncLog.Warn("scheduler_save_task_failed", slog.String("error", err.Error()))
	}
	if err := s.store.RecordResult(ctx, result); err != nil {
		syncLog.Warn("scheduler_record_result_failed", slog.String("error", err.Error()))
	}
	if err := s.store.PruneHistory(ctx, historyKeep); err != nil {
		syncLog.Warn("scheduler_prune_failed", slog.String("error", err.Error()))
	}
}
