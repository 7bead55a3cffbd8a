// Package runtime launches crawl jobs on colly collectors and supervises
// their lifecycle. Each job gets its own collector, pipeline, and batching
// goroutine; the engine keeps a registry of live handles so the orchestrator
// can cancel jobs and wait for them to drain.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/spider-orchestrator/internal/apperrors"
	"github.com/JakeFAU/spider-orchestrator/internal/metrics"
	"github.com/JakeFAU/spider-orchestrator/internal/spiders"
	"github.com/JakeFAU/spider-orchestrator/internal/tasks"
)

// Config holds the crawl settings shared by every job.
type Config struct {
	UserAgent       string
	RequestTimeout  time.Duration
	Delay           time.Duration
	Parallelism     int
	MaxDepthDefault int
	MaxItemsDefault int
	BatchSize       int
	FlushInterval   time.Duration
}

// Engine implements tasks.Runtime on top of colly.
type Engine struct {
	config   Config
	registry *spiders.Registry
	clock    tasks.Clock
	logger   *zap.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// NewEngine creates an engine with no running jobs.
func NewEngine(config Config, registry *spiders.Registry, clock tasks.Clock, logger *zap.Logger) *Engine {
	return &Engine{
		config:   config,
		registry: registry,
		clock:    clock,
		logger:   logger,
		jobs:     make(map[string]*job),
	}
}

// Launch starts a crawl job for the given spec and returns its handle.
// The job runs on a context detached from ctx; callers stop it through the
// handle, not by canceling ctx.
func (e *Engine) Launch(ctx context.Context, spec tasks.JobSpec, sink tasks.RecordSink) (tasks.Handle, error) {
	spider, ok := e.registry.Get(spec.SpiderName)
	if !ok {
		return nil, apperrors.InvalidRequest("spider_name", fmt.Sprintf("unknown spider %q", spec.SpiderName))
	}

	settings := e.resolveSettings(spider, spec.Kwargs)
	if len(settings.startURLs) == 0 {
		return nil, apperrors.InvalidRequest("start_urls", fmt.Sprintf("spider %s has no start urls", spec.SpiderName))
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	j := &job{
		spec:          spec,
		sink:          sink,
		clock:         e.clock,
		logger:        e.logger,
		pipeline:      spiders.NewPipeline(),
		batchSize:     settings.batchSize,
		flushInterval: settings.flushInterval,
		maxItems:      settings.maxItems,
		ctx:           jobCtx,
		cancel:        cancel,
		done:          make(chan struct{}),
		outcome:       make(chan tasks.Outcome, 1),
		kick:          make(chan struct{}, 1),
		stopFlush:     make(chan struct{}),
		flusherDone:   make(chan struct{}),
	}

	collector, err := e.buildCollector(j, settings)
	if err != nil {
		cancel()
		return nil, err
	}
	spider.Setup(collector, j)

	e.mu.Lock()
	e.jobs[spec.TaskID] = j
	e.mu.Unlock()

	e.logger.Info("Launching crawl job",
		zap.String("task_id", spec.TaskID),
		zap.String("spider_name", spec.SpiderName),
		zap.Strings("start_urls", settings.startURLs),
		zap.Int("max_depth", settings.maxDepth),
		zap.Int("max_items", settings.maxItems),
	)

	go func() {
		j.run(collector, settings.startURLs)
		e.remove(spec.TaskID)
	}()

	return j, nil
}

// Find returns the live handle for a task, if the job is still running.
func (e *Engine) Find(taskID string) (tasks.Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[taskID]
	if !ok {
		return nil, false
	}
	return j, true
}

func (e *Engine) remove(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.jobs, taskID)
}

// jobSettings are the per-job crawl parameters after kwargs overrides.
type jobSettings struct {
	startURLs      []string
	allowedDomains []string
	maxDepth       int
	maxItems       int
	batchSize      int
	flushInterval  time.Duration
}

func (e *Engine) resolveSettings(spider spiders.Spider, kwargs tasks.Kwargs) jobSettings {
	settings := jobSettings{
		startURLs:      spider.StartURLs,
		allowedDomains: spider.AllowedDomains,
		maxDepth:       spider.MaxDepth,
		maxItems:       e.config.MaxItemsDefault,
		batchSize:      e.config.BatchSize,
		flushInterval:  e.config.FlushInterval,
	}
	if settings.maxDepth <= 0 {
		settings.maxDepth = e.config.MaxDepthDefault
	}
	if settings.batchSize <= 0 {
		settings.batchSize = 1
	}
	if settings.flushInterval <= 0 {
		settings.flushInterval = 500 * time.Millisecond
	}
	if urls, ok := stringSlice(kwargs["start_urls"]); ok && len(urls) > 0 {
		settings.startURLs = urls
	}
	if domains, ok := stringSlice(kwargs["allowed_domains"]); ok && len(domains) > 0 {
		settings.allowedDomains = domains
	}
	if depth, ok := intValue(kwargs["max_depth"]); ok && depth > 0 {
		settings.maxDepth = depth
	}
	if items, ok := intValue(kwargs["max_items"]); ok && items > 0 {
		settings.maxItems = items
	}
	return settings
}

func (e *Engine) buildCollector(j *job, settings jobSettings) (*colly.Collector, error) {
	options := []colly.CollectorOption{
		colly.UserAgent(e.config.UserAgent),
		colly.MaxDepth(settings.maxDepth),
		colly.Async(true),
	}
	if len(settings.allowedDomains) > 0 {
		options = append(options, colly.AllowedDomains(settings.allowedDomains...))
	}

	collector := colly.NewCollector(options...)
	collector.AllowURLRevisit = false
	if e.config.RequestTimeout > 0 {
		collector.SetRequestTimeout(e.config.RequestTimeout)
	}

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: e.config.Parallelism,
		Delay:       e.config.Delay,
	}); err != nil {
		return nil, apperrors.Internal("configure collector limits", err)
	}

	collector.OnRequest(func(r *colly.Request) {
		if j.halted() {
			r.Abort()
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		j.notePage()
		metrics.ObservePage(r.Request.URL.String(), "success", len(r.Body))
	})
	collector.OnError(func(r *colly.Response, err error) {
		j.noteFailure(err)
		metrics.ObservePage(r.Request.URL.String(), "error", 0)
		e.logger.Warn("Request failed",
			zap.String("task_id", j.spec.TaskID),
			zap.String("url", r.Request.URL.String()),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
	})

	return collector, nil
}
