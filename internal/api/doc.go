// Package api hosts the HTTP server, middleware, and handlers that expose the
// indexing pipeline. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawl to run a bounded crawl and return the visited URLs.
//   - POST /v1/index to run crawl, map and reduce and return the postings.
//   - POST /v1/reduce to merge partial postings lines into final postings;
//     the X-Skipped-Lines response header counts malformed input lines.
//   - GET /v1/runs and /v1/runs/{runID} to read the run ledger, when one is
//     configured. The list accepts status, limit and offset query parameters.
package api
