// Package progress provides the lifecycle events that crawl, map and reduce
// runs report, and a non-blocking Hub that batches them on a background
// goroutine before fanning them out to sinks such as Prometheus collectors or
// structured logs.
package progress
