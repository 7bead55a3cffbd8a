// Package main hosts the spider orchestrator service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, spider launch, task management, and result retrieval
//     endpoints. Requests are validated, then handed to the orchestrator facade; every response carries an
//     X-Request-ID header for correlation.
//   - Orchestrator & runtime: orchestrator.Orchestrator owns the task registry (create, guarded status transitions,
//     stop handshake) while runtime.Engine owns job execution. Each launched job gets its own Colly collector with
//     async workers, per-domain parallelism and delay limits, and a detached context so an API timeout never kills
//     a running crawl.
//   - Record flow: spiders emit items through a per-job pipeline that validates URLs and drops sha256 duplicates,
//     batches survivors, and flushes them to Redis on size or interval triggers. A final drain after the collector
//     finishes guarantees nothing emitted is lost, even when the job was canceled.
//   - Persistence & fanout: harvested records live in Redis lists under crawl_results:<task_id> with a TTL refreshed
//     on append. Terminal tasks are optionally archived to Postgres as audit rows, and a compact Pub/Sub event is
//     published when a topic is configured (an in-memory publisher backs tests and local runs).
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler; a Redis fixed-window limiter guards the
//     /v1 surface when enabled. The task registry is in-process, so a single replica owns its tasks.
//
// Operational notes:
//   - Concurrency model: one goroutine pair per job (collector run + batch flusher) plus a watcher that records the
//     outcome. Stop requests cancel the job context and wait up to runtime.stop_timeout_seconds for the drain before
//     forcing the stopped state.
//   - Lifecycle guarantees: status transitions are compare-and-swap guarded, so a completion racing a stop cannot
//     resurrect a stopped task, and terminal side effects (archive row, event publish) fire exactly once.
//   - Observability: zap logs carry task IDs and spider names at key transitions; Prometheus counters/gauges track
//     pages fetched, items ingested and dropped, running tasks, and stop timeouts. Tracing is not yet wired in.
//   - Deployment: the HTTP server listens on the configured port, health endpoints (/healthz, /readyz) stay
//     lightweight, and the process reacts to SIGTERM with a graceful HTTP drain. Running jobs outlive the drain only
//     until their own timeouts expire.
//
// Quick checklist:
//   - Configure env vars: SPIDERD_SERVER_PORT, SPIDERD_REDIS_ADDR, SPIDERD_DATABASE_DSN (empty disables archiving),
//     SPIDERD_RATELIMIT_ENABLED, SPIDERD_RUNTIME_PARALLELISM, SPIDERD_RUNTIME_MAX_ITEMS_DEFAULT, and
//     SPIDERD_EVENTS_PROVIDER=noop/memory/pubsub with project and topic IDs for pubsub.
//   - Run locally: go run ./cmd/spiderd -config config.yaml (or rely solely on env overrides) with a Redis instance
//     reachable at redis.addr.
//   - Launch a crawl: POST /v1/spiders/run with {"spider_name": "example_spider"}, poll /v1/spiders/tasks/<id>, and
//     page results via /v1/spiders/results/<id>?start=0&limit=100.
package main
