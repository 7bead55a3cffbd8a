// Package memory contains an in-memory event publisher for tests and
// single-process development runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/spider-orchestrator/internal/tasks"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []tasks.TaskEvent
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, event tasks.TaskEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return fmt.Sprintf("memory-%d", len(p.events)), nil
}

// Events returns the recorded publishes.
func (p *Publisher) Events() []tasks.TaskEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]tasks.TaskEvent, len(p.events))
	copy(out, p.events)
	return out
}
