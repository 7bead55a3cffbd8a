// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/spiders/run to launch a crawl task.
//   - GET /v1/spiders/tasks and /v1/spiders/results/{task_id} for task state
//     and harvested records.
//   - GET /v1/monitoring/stats for the registry-wide overview.
package api
