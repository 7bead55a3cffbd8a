package tasks

import (
	"context"
	"time"
)

// TaskStore holds task records and enforces lifecycle transitions. The
// boolean returned by the guarded transitions reports whether the
// transition applied; a late callback racing a stop is simply ignored.
type TaskStore interface {
	Create(ctx context.Context, spiderName string, kwargs Kwargs) (TaskRecord, error)
	MarkRunning(ctx context.Context, taskID string) error
	Complete(ctx context.Context, taskID string, result string) (bool, error)
	Fail(ctx context.Context, taskID string, reason string) (bool, error)
	BeginStop(ctx context.Context, taskID string) (bool, error)
	FinalizeStop(ctx context.Context, taskID string) (bool, error)
	AddItems(ctx context.Context, taskID string, count int) error
	Get(ctx context.Context, taskID string) (TaskRecord, error)
	ListAll(ctx context.Context) (map[string]TaskRecord, error)
}

// ResultStore persists harvested records per task with bounded retention.
type ResultStore interface {
	Append(ctx context.Context, taskID string, records []Record) error
	Read(ctx context.Context, taskID string, start, limit int) (ResultWindow, error)
}

// RecordSink receives batches of harvested records from running jobs.
type RecordSink interface {
	Ingest(ctx context.Context, taskID string, records []Record) error
}

// Handle is the orchestrator's grip on one launched job.
type Handle interface {
	// Outcome yields the job's single terminal result. The channel is
	// buffered; the value is delivered exactly once.
	Outcome() <-chan Outcome
	// Done closes once the job goroutine has fully torn down.
	Done() <-chan struct{}
	// Cancel asks the job to abandon outstanding work.
	Cancel()
}

// Runtime launches crawl jobs and tracks their live handles. Harvested
// records flow back through the sink supplied at launch.
type Runtime interface {
	Launch(ctx context.Context, job JobSpec, sink RecordSink) (Handle, error)
	Find(taskID string) (Handle, bool)
}

// Publisher pushes terminal task events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, event TaskEvent) (string, error)
}

// TaskArchiver persists terminal task snapshots outside the process.
type TaskArchiver interface {
	Archive(ctx context.Context, record TaskRecord) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
