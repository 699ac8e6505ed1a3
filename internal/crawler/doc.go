// Package crawler implements the frontier crawl over the remote item graph and
// the on-demand resolution path built on top of it.
//
// A Crawler walks child ids outward from a set of seeds, fetching each id at
// most once per invocation while keeping a bounded number of fetches in
// flight. Fetched items are written to an ItemStore. A Service wraps the
// crawler with cache-first lookups for request-serving code.
package crawler
