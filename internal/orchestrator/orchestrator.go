// Package orchestrator coordinates crawl tasks across the registry, the
// runtime, the result store, and the terminal-event publisher. It owns the
// task lifecycle: launches, guarded terminal transitions, and stops.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/spider-orchestrator/internal/apperrors"
	"github.com/JakeFAU/spider-orchestrator/internal/metrics"
	"github.com/JakeFAU/spider-orchestrator/internal/spiders"
	"github.com/JakeFAU/spider-orchestrator/internal/tasks"
)

const defaultStopTimeout = 10 * time.Second

// Options carries the optional collaborators and tuning knobs.
type Options struct {
	// Publisher receives one event per terminal task. Nil disables publishing.
	Publisher tasks.Publisher
	// Archiver persists one audit row per terminal task. Nil disables it.
	Archiver tasks.TaskArchiver
	// StopTimeout bounds how long Stop waits for a job to drain before
	// forcing the stopped state.
	StopTimeout time.Duration
}

// Orchestrator is the facade the API talks to.
type Orchestrator struct {
	store    tasks.TaskStore
	results  tasks.ResultStore
	runtime  tasks.Runtime
	registry *spiders.Registry
	clock    tasks.Clock
	logger   *zap.Logger

	publisher   tasks.Publisher
	archiver    tasks.TaskArchiver
	stopTimeout time.Duration
}

// New wires the orchestrator together.
func New(
	store tasks.TaskStore,
	results tasks.ResultStore,
	runtime tasks.Runtime,
	registry *spiders.Registry,
	clock tasks.Clock,
	logger *zap.Logger,
	opts Options,
) *Orchestrator {
	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	return &Orchestrator{
		store:       store,
		results:     results,
		runtime:     runtime,
		registry:    registry,
		clock:       clock,
		logger:      logger,
		publisher:   opts.Publisher,
		archiver:    opts.Archiver,
		stopTimeout: stopTimeout,
	}
}

// Start creates a task for the named spider and launches it. It returns as
// soon as the job is submitted; progress is tracked through the registry.
// A launch failure is recorded on the task as failed, not returned as an
// error, so the caller still gets the task id.
func (o *Orchestrator) Start(ctx context.Context, spiderName string, kwargs tasks.Kwargs) (tasks.TaskRecord, error) {
	if _, ok := o.registry.Get(spiderName); !ok {
		return tasks.TaskRecord{}, apperrors.InvalidRequest("spider_name", fmt.Sprintf("unknown spider %q", spiderName))
	}

	record, err := o.store.Create(ctx, spiderName, kwargs)
	if err != nil {
		return tasks.TaskRecord{}, err
	}
	taskID := record.TaskID

	handle, err := o.runtime.Launch(ctx, tasks.JobSpec{
		TaskID:     taskID,
		SpiderName: spiderName,
		Kwargs:     kwargs,
	}, o)
	if err != nil {
		o.logger.Error("Failed to launch crawl job",
			zap.String("task_id", taskID),
			zap.String("spider_name", spiderName),
			zap.Error(err),
		)
		if applied, ferr := o.store.Fail(ctx, taskID, fmt.Sprintf("failed to launch: %v", err)); ferr == nil && applied {
			o.onTerminal(ctx, taskID)
		}
		return o.store.Get(ctx, taskID)
	}

	if err := o.store.MarkRunning(ctx, taskID); err != nil {
		o.logger.Error("Failed to mark task running", zap.String("task_id", taskID), zap.Error(err))
		return o.store.Get(ctx, taskID)
	}
	metrics.IncRunningTasks()

	go o.watch(taskID, handle)

	return o.store.Get(ctx, taskID)
}

// watch consumes the job's one-shot outcome and applies the guarded
// terminal transition. When a stop already owns the task the transition is
// ignored and the stop path finalizes instead.
func (o *Orchestrator) watch(taskID string, handle tasks.Handle) {
	out := <-handle.Outcome()
	defer metrics.DecRunningTasks()

	ctx := context.Background()
	if out.Err != nil {
		applied, err := o.store.Fail(ctx, taskID, out.Err.Error())
		if err != nil {
			o.logger.Error("Failed to record task failure", zap.String("task_id", taskID), zap.Error(err))
			return
		}
		if applied {
			o.onTerminal(ctx, taskID)
		}
		return
	}

	applied, err := o.store.Complete(ctx, taskID, out.Summary)
	if err != nil {
		o.logger.Error("Failed to record task completion", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	if applied {
		o.onTerminal(ctx, taskID)
	}
}

// Status returns the task record for the given id.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (tasks.TaskRecord, error) {
	return o.store.Get(ctx, taskID)
}

// List returns all task records keyed by id.
func (o *Orchestrator) List(ctx context.Context) (map[string]tasks.TaskRecord, error) {
	return o.store.ListAll(ctx)
}

// Stop asks a running task to stop and waits, bounded by the stop timeout,
// for the job to drain. The task never stays in stopping: if the job does
// not drain in time the stopped state is forced and the anomaly logged.
func (o *Orchestrator) Stop(ctx context.Context, taskID string) error {
	applied, err := o.store.BeginStop(ctx, taskID)
	if err != nil {
		return err
	}
	if !applied {
		record, err := o.store.Get(ctx, taskID)
		if err != nil {
			return err
		}
		return apperrors.NotStoppable(taskID, string(record.Status))
	}

	o.logger.Info("Stopping task", zap.String("task_id", taskID))

	handle, ok := o.runtime.Find(taskID)
	if !ok {
		// The job already tore down; nothing to wait for.
		o.logger.Warn("No live job for stopping task, finalizing directly", zap.String("task_id", taskID))
		o.finalizeStop(ctx, taskID)
		return nil
	}

	handle.Cancel()
	select {
	case <-handle.Done():
	case <-time.After(o.stopTimeout):
		o.logger.Error("Task did not stop within the deadline, forcing stopped state",
			zap.String("task_id", taskID),
			zap.Duration("stop_timeout", o.stopTimeout),
		)
		metrics.ObserveStopTimeout()
	}
	o.finalizeStop(ctx, taskID)
	return nil
}

func (o *Orchestrator) finalizeStop(ctx context.Context, taskID string) {
	applied, err := o.store.FinalizeStop(ctx, taskID)
	if err != nil {
		o.logger.Error("Failed to finalize stop", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	if applied {
		o.onTerminal(ctx, taskID)
	}
}

// Ingest stores a batch of harvested records and bumps the task's item
// count. It implements tasks.RecordSink for the runtime.
func (o *Orchestrator) Ingest(ctx context.Context, taskID string, records []tasks.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := o.results.Append(ctx, taskID, records); err != nil {
		return err
	}
	return o.store.AddItems(ctx, taskID, len(records))
}

// Results returns one page of a task's harvested records.
func (o *Orchestrator) Results(ctx context.Context, taskID string, start, limit int) (tasks.ResultWindow, error) {
	if _, err := o.store.Get(ctx, taskID); err != nil {
		return tasks.ResultWindow{}, err
	}
	return o.results.Read(ctx, taskID, start, limit)
}

// onTerminal runs the side effects of a terminal transition: metrics, the
// audit archive, and the task event. Exactly one caller wins the guarded
// transition, so these run once per task.
func (o *Orchestrator) onTerminal(ctx context.Context, taskID string) {
	record, err := o.store.Get(ctx, taskID)
	if err != nil {
		o.logger.Error("Terminal task vanished from registry", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	metrics.ObserveTaskTerminal(string(record.Status))

	o.logger.Info("Task reached terminal state",
		zap.String("task_id", taskID),
		zap.String("spider_name", record.SpiderName),
		zap.String("status", string(record.Status)),
		zap.Int("items_count", record.ItemsCount),
	)

	if o.archiver != nil {
		if err := o.archiver.Archive(ctx, record); err != nil {
			o.logger.Warn("Failed to archive task", zap.String("task_id", taskID), zap.Error(err))
		}
	}

	if o.publisher != nil {
		event := tasks.TaskEvent{
			TaskID:     record.TaskID,
			SpiderName: record.SpiderName,
			Status:     record.Status,
			ItemsCount: record.ItemsCount,
		}
		if record.EndTime != nil {
			event.FinishedAt = *record.EndTime
		}
		if _, err := o.publisher.Publish(ctx, event); err != nil {
			o.logger.Warn("Failed to publish task event", zap.String("task_id", taskID), zap.Error(err))
		}
	}
}

// Overview summarizes the registry for the monitoring endpoint.
type Overview struct {
	TotalTasks  int     `json:"total_tasks"`
	TotalItems  int     `json:"total_items"`
	SuccessRate float64 `json:"success_rate"`
}

// Stats is the monitoring payload computed from the registry.
type Stats struct {
	Overview        Overview           `json:"overview"`
	StatusBreakdown map[string]int     `json:"status_breakdown"`
	RecentTasks     []tasks.TaskRecord `json:"recent_tasks"`
}

// Stats aggregates task counts, item totals, and the success rate over
// finished tasks. The success rate counts completed against completed plus
// failed; stopped tasks are neither.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	all, err := o.store.ListAll(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		StatusBreakdown: make(map[string]int),
		RecentTasks:     []tasks.TaskRecord{},
	}
	records := make([]tasks.TaskRecord, 0, len(all))
	for _, record := range all {
		records = append(records, record)
		stats.StatusBreakdown[string(record.Status)]++
		stats.Overview.TotalItems += record.ItemsCount
	}
	stats.Overview.TotalTasks = len(records)

	completed := stats.StatusBreakdown[string(tasks.StatusCompleted)]
	failed := stats.StatusBreakdown[string(tasks.StatusFailed)]
	if ended := completed + failed; ended > 0 {
		rate := float64(completed) / float64(ended) * 100
		stats.Overview.SuccessRate = math.Round(rate*100) / 100
	}

	// Oldest-first slice of the ten most recent by start time.
	sort.Slice(records, func(i, j int) bool {
		if records[i].StartTime.Equal(records[j].StartTime) {
			return records[i].TaskID < records[j].TaskID
		}
		return records[i].StartTime.Before(records[j].StartTime)
	})
	if len(records) > 10 {
		records = records[len(records)-10:]
	}
	stats.RecentTasks = append(stats.RecentTasks, records...)

	return stats, nil
}
