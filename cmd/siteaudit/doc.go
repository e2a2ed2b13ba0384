// Package main hosts the site-audit service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, audit submission/lookup and a provider preview.
//     Submissions are validated, persisted as queued records through the audit store and enqueued for workers.
//   - Dispatcher & queue: audit IDs flow through either a bounded in-memory queue or a Pub/Sub subscription and
//     are fanned out to a fixed worker pool sized by worker.concurrency. Failed jobs are nacked and redelivered;
//     a redelivered audit that is no longer queued is acknowledged without work.
//   - Provider pipeline: each job claims its record, then calls PageSpeed, Open PageRank and SERP concurrently
//     behind per-provider rate limits. Every call is retried with a fixed backoff; once retries are exhausted the
//     deterministic fallback (seeded from the URL or domain) fills in when providers.fallback_enabled is set.
//   - Persistence & fanout: scores and provider data are written to Postgres or memory, the raw provider bundle
//     is archived to the configured BlobStore (memory/local/GCS), and a Pub/Sub notification is published when
//     pubsub.notify_topic is set. Progress events are batched to log and Prometheus sinks.
//   - Configuration & plumbing: Viper populates config from env/files (legacy names such as PAGESPEED_API_KEY are
//     honored); zap provides structured logging; Prometheus metrics are exported via /metrics; OpenTelemetry spans
//     wrap each audit and provider call.
//
// Quick checklist:
//   - Configure env vars: AUDIT_SERVER_PORT, AUDIT_WORKER_CONCURRENCY, provider keys (PAGESPEED_API_KEY,
//     OPEN_PAGERANK_API_KEY, SERPAPI_KEY), storage (AUDIT_STORAGE_*), DATABASE_URL and GOOGLE_CLOUD_PROJECT when
//     running beyond memory backends.
//   - Run locally: go run ./cmd/siteaudit serve --config config.yaml (or rely solely on env overrides).
//   - Split deployment: run "serve" for the API and "worker" for extra consumers on a shared Pub/Sub subscription.
package main
