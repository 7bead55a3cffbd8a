// Package tasks defines core types shared across subsystems.
package tasks

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a crawl task.
type Status string

// Task status values held in the task registry.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusStopping  Status = "stopping"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// Kwargs carries per-task spider arguments supplied by the client. The
// orchestrator treats them as opaque; spiders interpret the keys they know.
type Kwargs map[string]any

// Clone returns a shallow copy so callers cannot mutate registry state.
func (k Kwargs) Clone() Kwargs {
	if k == nil {
		return nil
	}
	out := make(Kwargs, len(k))
	for key, value := range k {
		out[key] = value
	}
	return out
}

// TaskRecord is the metadata tracked for each launched crawl task.
type TaskRecord struct {
	TaskID        string     `json:"task_id"`
	SpiderName    string     `json:"spider_name"`
	Kwargs        Kwargs     `json:"kwargs,omitempty"`
	Status        Status     `json:"status"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	ItemsCount    int        `json:"items_count"`
	Result        string     `json:"result,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// Record is a single harvested item emitted by a spider.
type Record map[string]any

// JobSpec captures everything the runtime needs to launch one crawl job.
type JobSpec struct {
	TaskID     string
	SpiderName string
	Kwargs     Kwargs
}

// Outcome is the single terminal result a job runtime reports per task.
// Err nil means the crawl finished normally; Summary describes the close
// reason either way.
type Outcome struct {
	Summary string
	Err     error
}

// ResultWindow is one page of stored records for a task.
type ResultWindow struct {
	Items   []json.RawMessage
	Total   int64
	HasMore bool
}

// TaskEvent is published once per task when it reaches a terminal state.
type TaskEvent struct {
	TaskID     string    `json:"task_id"`
	SpiderName string    `json:"spider_name"`
	Status     Status    `json:"status"`
	ItemsCount int       `json:"items_count"`
	FinishedAt time.Time `json:"finished_at"`
}
