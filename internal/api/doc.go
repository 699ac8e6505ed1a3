// Package api hosts the HTTP server, middleware, and JSON handlers that serve
// the mirrored items. Notable routes:
//   - GET /healthz and /readyz for probes; readyz fails until the first top
//     list has been published.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/top for the cached front page.
//   - GET /v1/items/{id} for one item and its reply tree, fetched on demand.
package api
