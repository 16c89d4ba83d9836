// Package progress carries job lifecycle, batch and fetch milestones from the
// coordinator to pluggable sinks. The Hub never blocks emitters: it buffers
// events, batches them on a background goroutine, and fans batches out to
// sinks such as Prometheus collectors, structured logs, or a notification topic.
package progress
