package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/spider-orchestrator/internal/apperrors"
	"github.com/JakeFAU/spider-orchestrator/internal/metrics"
	"github.com/JakeFAU/spider-orchestrator/internal/spiders"
	"github.com/JakeFAU/spider-orchestrator/internal/tasks"
)

type captureSink struct {
	mu      sync.Mutex
	err     error
	records []tasks.Record
}

func (s *captureSink) Ingest(ctx context.Context, taskID string, records []tasks.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *captureSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	metrics.Init()

	registry, err := spiders.DefaultRegistry(zap.NewNop())
	if err != nil {
		t.Fatalf("DefaultRegistry() error = %v", err)
	}
	config := Config{
		UserAgent:       "spider-orchestrator-test",
		RequestTimeout:  5 * time.Second,
		Delay:           0,
		Parallelism:     2,
		MaxDepthDefault: 0,
		MaxItemsDefault: 100,
		BatchSize:       2,
		FlushInterval:   50 * time.Millisecond,
	}
	clock := &fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewEngine(config, registry, clock, zap.NewNop())
}

func waitDone(t *testing.T, handle tasks.Handle) {
	t.Helper()
	select {
	case <-handle.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for job to finish")
	}
}

func readOutcome(t *testing.T, handle tasks.Handle) tasks.Outcome {
	t.Helper()
	select {
	case out := <-handle.Outcome():
		return out
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return tasks.Outcome{}
	}
}

// endlessSite serves a link graph that never runs out of pages, so crawls
// against it only end when the job is cut off.
func endlessSite(delay time.Duration) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/page/", func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		n := r.URL.Path[len("/page/"):]
		fmt.Fprintf(w,
			`<html><head><title>Page %s</title></head><body><a href="/page/%s0">a</a> <a href="/page/%s1">b</a></body></html>`,
			n, n, n,
		)
	})
	return httptest.NewServer(mux)
}

func TestEngineRunsJobToCompletion(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"slideshow": {"title": "Sample Slide Show", "author": "Yours Truly"}}`)
	}))
	defer server.Close()

	engine := newTestEngine(t)
	sink := &captureSink{}
	spec := tasks.JobSpec{
		TaskID:     "task-complete",
		SpiderName: "example_spider",
		Kwargs:     tasks.Kwargs{"start_urls": []string{server.URL}},
	}

	handle, err := engine.Launch(context.Background(), spec, sink)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	waitDone(t, handle)

	out := readOutcome(t, handle)
	if out.Err != nil || out.Summary != "finished" {
		t.Fatalf("outcome = %+v, want finished", out)
	}
	if sink.total() != 1 {
		t.Fatalf("sink received %d records, want 1", sink.total())
	}

	// The handle is removed once the job drains.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := engine.Find(spec.TaskID); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("handle still registered after job finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngineMaxItemsStopsCrawl(t *testing.T) {
	t.Parallel()

	server := endlessSite(0)
	defer server.Close()

	engine := newTestEngine(t)
	sink := &captureSink{}
	spec := tasks.JobSpec{
		TaskID:     "task-max-items",
		SpiderName: "link_spider",
		Kwargs: tasks.Kwargs{
			"start_urls": []string{server.URL + "/page/1"},
			"max_items":  3,
		},
	}

	handle, err := engine.Launch(context.Background(), spec, sink)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	waitDone(t, handle)

	out := readOutcome(t, handle)
	if out.Err != nil || out.Summary != "max_items_reached" {
		t.Fatalf("outcome = %+v, want max_items_reached", out)
	}
	if sink.total() != 3 {
		t.Fatalf("sink received %d records, want 3", sink.total())
	}
}

func TestEngineCancelStopsCrawl(t *testing.T) {
	t.Parallel()

	server := endlessSite(20 * time.Millisecond)
	defer server.Close()

	engine := newTestEngine(t)
	sink := &captureSink{}
	spec := tasks.JobSpec{
		TaskID:     "task-cancel",
		SpiderName: "link_spider",
		Kwargs: tasks.Kwargs{
			"start_urls": []string{server.URL + "/page/1"},
			"max_items":  100000,
		},
	}

	handle, err := engine.Launch(context.Background(), spec, sink)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if _, ok := engine.Find(spec.TaskID); !ok {
		t.Fatal("Find() did not return the live handle")
	}

	// Let the crawl make some progress before cutting it off.
	deadline := time.Now().Add(5 * time.Second)
	for sink.total() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no records delivered before cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}

	handle.Cancel()
	waitDone(t, handle)

	out := readOutcome(t, handle)
	if out.Err != nil || out.Summary != "canceled" {
		t.Fatalf("outcome = %+v, want canceled", out)
	}
	if sink.total() == 0 {
		t.Fatal("expected records delivered before cancellation")
	}
}

func TestEngineReportsFailureWhenNothingFetched(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	engine := newTestEngine(t)
	sink := &captureSink{}
	spec := tasks.JobSpec{
		TaskID:     "task-dead",
		SpiderName: "link_spider",
		Kwargs:     tasks.Kwargs{"start_urls": []string{deadURL}},
	}

	handle, err := engine.Launch(context.Background(), spec, sink)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	waitDone(t, handle)

	out := readOutcome(t, handle)
	if out.Err == nil {
		t.Fatalf("outcome = %+v, want error", out)
	}
	if sink.total() != 0 {
		t.Fatalf("sink received %d records, want 0", sink.total())
	}
}

func TestEngineToleratesSinkFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Only Page</title></head><body></body></html>`)
	}))
	defer server.Close()

	engine := newTestEngine(t)
	sink := &captureSink{err: errors.New("redis down")}
	spec := tasks.JobSpec{
		TaskID:     "task-sink-down",
		SpiderName: "link_spider",
		Kwargs:     tasks.Kwargs{"start_urls": []string{server.URL}},
	}

	handle, err := engine.Launch(context.Background(), spec, sink)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	waitDone(t, handle)

	out := readOutcome(t, handle)
	if out.Err != nil || out.Summary != "finished" {
		t.Fatalf("outcome = %+v, want finished despite sink failure", out)
	}
}

func TestEngineLaunchValidation(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	sink := &captureSink{}

	_, err := engine.Launch(context.Background(), tasks.JobSpec{
		TaskID:     "task-unknown",
		SpiderName: "nope_spider",
	}, sink)
	if !errors.Is(err, apperrors.ErrInvalidRequest) {
		t.Fatalf("Launch(unknown spider) error = %v, want ErrInvalidRequest", err)
	}

	// link_spider has no default start URLs, so kwargs must provide them.
	_, err = engine.Launch(context.Background(), tasks.JobSpec{
		TaskID:     "task-no-urls",
		SpiderName: "link_spider",
	}, sink)
	if !errors.Is(err, apperrors.ErrInvalidRequest) {
		t.Fatalf("Launch(no start urls) error = %v, want ErrInvalidRequest", err)
	}
}

func TestResolveSettingsKwargsOverrides(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	spider, _ := engine.registry.Get("example_spider")

	// JSON-decoded kwargs carry float64 numbers and []any lists.
	settings := engine.resolveSettings(spider, tasks.Kwargs{
		"start_urls":      []any{"https://example.com/a", "https://example.com/b"},
		"allowed_domains": []any{"example.com"},
		"max_depth":       float64(3),
		"max_items":       float64(7),
	})

	if len(settings.startURLs) != 2 || settings.startURLs[0] != "https://example.com/a" {
		t.Fatalf("startURLs = %v", settings.startURLs)
	}
	if len(settings.allowedDomains) != 1 || settings.allowedDomains[0] != "example.com" {
		t.Fatalf("allowedDomains = %v", settings.allowedDomains)
	}
	if settings.maxDepth != 3 || settings.maxItems != 7 {
		t.Fatalf("maxDepth = %d, maxItems = %d", settings.maxDepth, settings.maxItems)
	}

	// Defaults hold when kwargs are absent or malformed.
	settings = engine.resolveSettings(spider, tasks.Kwargs{
		"start_urls": []any{"https://example.com/a", 42},
		"max_items":  "lots",
	})
	if len(settings.startURLs) != 1 || settings.startURLs[0] != "https://httpbin.org/json" {
		t.Fatalf("startURLs = %v, want spider default", settings.startURLs)
	}
	if settings.maxItems != engine.config.MaxItemsDefault {
		t.Fatalf("maxItems = %d, want default %d", settings.maxItems, engine.config.MaxItemsDefault)
	}
}
