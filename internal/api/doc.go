// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /v1/audits to submit an audit, GET /v1/audits/{audit_id} to poll it.
//   - GET /v1/audits?target_url= for history of one page.
//   - GET /v1/providers/preview and /v1/providers/health for provider checks.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
