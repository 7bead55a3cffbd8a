package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/spider-orchestrator/internal/metrics"
	"github.com/JakeFAU/spider-orchestrator/internal/spiders"
	"github.com/JakeFAU/spider-orchestrator/internal/tasks"
)

// Close reasons reported in job outcomes.
const (
	reasonFinished = "finished"
	reasonMaxItems = "max_items_reached"
	reasonCanceled = "canceled"
)

// job is one running crawl. It implements tasks.Handle for the orchestrator
// and spiders.Job for the collector callbacks.
type job struct {
	spec     tasks.JobSpec
	sink     tasks.RecordSink
	clock    tasks.Clock
	logger   *zap.Logger
	pipeline *spiders.Pipeline

	batchSize     int
	flushInterval time.Duration
	maxItems      int

	ctx    context.Context
	cancel context.CancelFunc

	done        chan struct{}
	outcome     chan tasks.Outcome
	once        sync.Once
	kick        chan struct{}
	stopFlush   chan struct{}
	flusherDone chan struct{}

	mu         sync.Mutex
	buffer     []tasks.Record
	emitted    int
	maxReached bool
	pages      int
	failures   int
	lastErr    error
}

var _ tasks.Handle = (*job)(nil)
var _ spiders.Job = (*job)(nil)

// Outcome returns the channel that delivers the job's single outcome.
func (j *job) Outcome() <-chan tasks.Outcome {
	return j.outcome
}

// Done is closed once the job has fully drained.
func (j *job) Done() <-chan struct{} {
	return j.done
}

// Cancel asks the job to abandon outstanding requests. In-flight responses
// still finish and already-harvested records are still delivered.
func (j *job) Cancel() {
	j.cancel()
}

// TaskID returns the owning task's ID.
func (j *job) TaskID() string {
	return j.spec.TaskID
}

// Kwargs returns the client-supplied arguments. Treat as read-only.
func (j *job) Kwargs() tasks.Kwargs {
	return j.spec.Kwargs
}

// Now returns the current time from the service clock.
func (j *job) Now() time.Time {
	return j.clock.Now()
}

// Emit runs one harvested record through the pipeline and buffers it for
// delivery. Safe to call from concurrent collector callbacks.
func (j *job) Emit(record tasks.Record) {
	j.mu.Lock()
	if j.maxReached || j.ctx.Err() != nil {
		j.mu.Unlock()
		return
	}
	if err := j.pipeline.Process(record); err != nil {
		j.mu.Unlock()
		metrics.ObserveItemDropped(spiders.DropReason(err))
		j.logger.Debug("Dropped record",
			zap.String("task_id", j.spec.TaskID),
			zap.Error(err),
		)
		return
	}
	j.buffer = append(j.buffer, record)
	j.emitted++
	full := len(j.buffer) >= j.batchSize
	reached := j.maxItems > 0 && j.emitted >= j.maxItems
	if reached {
		j.maxReached = true
	}
	j.mu.Unlock()

	if full {
		select {
		case j.kick <- struct{}{}:
		default:
		}
	}
	if reached {
		j.logger.Info("Reached max items, stopping crawl",
			zap.String("task_id", j.spec.TaskID),
			zap.Int("max_items", j.maxItems),
		)
		j.cancel()
	}
}

// run drives the crawl to completion and resolves the outcome exactly once.
func (j *job) run(collector *colly.Collector, startURLs []string) {
	defer close(j.done)

	go j.flusher()

	for _, url := range startURLs {
		if err := collector.Visit(url); err != nil {
			j.noteFailure(err)
			j.logger.Error("Failed to visit URL",
				zap.String("task_id", j.spec.TaskID),
				zap.String("url", url),
				zap.Error(err),
			)
		}
	}
	collector.Wait()

	close(j.stopFlush)
	<-j.flusherDone
	j.flush(context.Background())

	out := j.decideOutcome()
	j.logger.Info("Crawl job finished",
		zap.String("task_id", j.spec.TaskID),
		zap.String("spider_name", j.spec.SpiderName),
		zap.Int("pages", j.pageCount()),
		zap.Int("failures", j.failureCount()),
		zap.Int("items", j.emittedCount()),
		zap.String("reason", out.Summary),
		zap.Error(out.Err),
	)
	j.once.Do(func() { j.outcome <- out })
}

// flusher delivers buffered records on a timer and whenever a batch fills.
func (j *job) flusher() {
	defer close(j.flusherDone)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.flush(context.Background())
		case <-j.kick:
			j.flush(context.Background())
		case <-j.stopFlush:
			return
		}
	}
}

// flush delivers the current buffer to the sink. Only the flusher goroutine
// and the tail of run call it, so batches reach the sink in order.
func (j *job) flush(ctx context.Context) {
	j.mu.Lock()
	if len(j.buffer) == 0 {
		j.mu.Unlock()
		return
	}
	batch := j.buffer
	j.buffer = nil
	j.mu.Unlock()

	if err := j.sink.Ingest(ctx, j.spec.TaskID, batch); err != nil {
		j.logger.Warn("Failed to deliver record batch",
			zap.String("task_id", j.spec.TaskID),
			zap.Int("records", len(batch)),
			zap.Error(err),
		)
		for range batch {
			metrics.ObserveItemDropped("sink_error")
		}
		return
	}
	metrics.ObserveItemsIngested(j.spec.SpiderName, len(batch))
}

func (j *job) decideOutcome() tasks.Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch {
	case j.maxReached:
		return tasks.Outcome{Summary: reasonMaxItems}
	case j.ctx.Err() != nil:
		return tasks.Outcome{Summary: reasonCanceled}
	case j.pages == 0 && j.failures > 0:
		return tasks.Outcome{Err: fmt.Errorf("all requests failed: %w", j.lastErr)}
	default:
		return tasks.Outcome{Summary: reasonFinished}
	}
}

// halted reports whether the job should stop scheduling new requests.
func (j *job) halted() bool {
	if j.ctx.Err() != nil {
		return true
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.maxReached
}

func (j *job) notePage() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pages++
}

func (j *job) noteFailure(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failures++
	j.lastErr = err
}

func (j *job) pageCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.pages
}

func (j *job) failureCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failures
}

func (j *job) emittedCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.emitted
}
