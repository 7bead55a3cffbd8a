// Package spiders defines the named crawl behaviors the service can launch.
// A spider contributes start URLs and colly handlers; the runtime owns the
// collector, the pipeline, and delivery of whatever the spider emits.
package spiders

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/spider-orchestrator/internal/tasks"
)

// Job is the spider's view of the task it runs under.
type Job interface {
	// Emit hands one harvested record to the pipeline. Safe to call from
	// concurrent collector callbacks.
	Emit(record tasks.Record)
	// TaskID returns the owning task's ID.
	TaskID() string
	// Kwargs returns the client-supplied arguments for this task.
	Kwargs() tasks.Kwargs
	// Now returns the current time from the service clock.
	Now() time.Time
}

// Spider describes one named crawl behavior.
type Spider struct {
	Name           string
	StartURLs      []string
	AllowedDomains []string
	MaxDepth       int
	Setup          func(collector *colly.Collector, job Job)
}

// Registry resolves spider names to definitions.
type Registry struct {
	mu      sync.RWMutex
	spiders map[string]Spider
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{spiders: make(map[string]Spider)}
}

// Register adds a spider definition. Names are unique.
func (r *Registry) Register(s Spider) error {
	if s.Name == "" {
		return fmt.Errorf("spider name is required")
	}
	if s.Setup == nil {
		return fmt.Errorf("spider %s has no setup function", s.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.spiders[s.Name]; exists {
		return fmt.Errorf("spider %s is already registered", s.Name)
	}
	r.spiders[s.Name] = s
	return nil
}

// Get looks up a spider by name.
func (r *Registry) Get(name string) (Spider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.spiders[name]
	return s, ok
}

// Names returns the registered spider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.spiders))
	for name := range r.spiders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
