package spiders

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/spider-orchestrator/internal/tasks"
)

// DefaultRegistry returns a registry with the built-in spiders registered.
func DefaultRegistry(logger *zap.Logger) (*Registry, error) {
	registry := NewRegistry()
	if err := registry.Register(newExampleSpider(logger)); err != nil {
		return nil, err
	}
	if err := registry.Register(newLinkSpider(logger)); err != nil {
		return nil, err
	}
	return registry, nil
}

// newExampleSpider fetches a JSON document and emits one record per page
// with the slideshow title and author fields.
func newExampleSpider(logger *zap.Logger) Spider {
	return Spider{
		Name:      "example_spider",
		StartURLs: []string{"https://httpbin.org/json"},
		MaxDepth:  1,
		Setup: func(collector *colly.Collector, job Job) {
			collector.OnResponse(func(r *colly.Response) {
				var payload struct {
					Slideshow struct {
						Title  string `json:"title"`
						Author string `json:"author"`
					} `json:"slideshow"`
					Date string `json:"date"`
				}
				if err := json.Unmarshal(r.Body, &payload); err != nil {
					logger.Warn("Discarding non-JSON response",
						zap.String("task_id", job.TaskID()),
						zap.String("url", r.Request.URL.String()),
						zap.Error(err),
					)
					return
				}
				job.Emit(tasks.Record{
					"url":        r.Request.URL.String(),
					"title":      payload.Slideshow.Title,
					"author":     payload.Slideshow.Author,
					"date":       payload.Date,
					"crawled_at": job.Now().UTC().Format(time.RFC3339),
				})
			})
		},
	}
}

// newLinkSpider follows anchors breadth-first and emits one record per page
// with its title. Start URLs come from the task kwargs.
func newLinkSpider(logger *zap.Logger) Spider {
	return Spider{
		Name: "link_spider",
		Setup: func(collector *colly.Collector, job Job) {
			collector.OnHTML("html", func(e *colly.HTMLElement) {
				job.Emit(tasks.Record{
					"url":        e.Request.URL.String(),
					"title":      strings.TrimSpace(e.ChildText("title")),
					"crawled_at": job.Now().UTC().Format(time.RFC3339),
				})
			})
			collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
				err := e.Request.Visit(e.Attr("href"))
				if err != nil && !expectedVisitError(err) {
					logger.Debug("Skipping link",
						zap.String("task_id", job.TaskID()),
						zap.String("url", e.Attr("href")),
						zap.Error(err),
					)
				}
			})
		},
	}
}

// expectedVisitError reports whether a Visit error is routine filtering
// rather than something worth logging.
func expectedVisitError(err error) bool {
	var alreadyVisited *colly.AlreadyVisitedError
	return errors.As(err, &alreadyVisited) ||
		errors.Is(err, colly.ErrMaxDepth) ||
		errors.Is(err, colly.ErrForbiddenDomain) ||
		errors.Is(err, colly.ErrMissingURL)
}
