// Package main hosts the hnmirror entrypoint.
//
// Architecture overview:
//   - Item store: a bounded LRU of decoded items shared by every reader. The top list is an atomically swapped
//     slice of the current front page ids.
//   - Crawler: a frontier crawl from seed ids over each item's kids. At most max_in_flight fetches are
//     outstanding per crawl and a shared pool bounds fetches across concurrent crawls.
//   - Refresher: every interval it fetches the top ids, publishes the first top_limit of them, crawls their
//     trees and announces the finished cycle on Pub/Sub (or an in-memory publisher when none is configured).
//   - HTTP API: /v1/top lists the cached front page and /v1/items/{id} serves one item with its comment tree,
//     crawling it on demand when it is not cached. Concurrent misses for the same id share a single crawl.
//   - Plumbing: Viper loads config from file and HNMIRROR_* env vars (PORT and HOST are honored), zap logs,
//     Prometheus metrics are served on /metrics and crawl progress events go through a batching hub.
//
// Quick checklist:
//   - Run locally: go run ./cmd/hnmirror serve --config config.yaml
//   - One-off crawl: go run ./cmd/hnmirror crawl [--item 8863]
package main
