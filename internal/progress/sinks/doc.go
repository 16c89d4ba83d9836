// Package sinks implements progress consumers: Prometheus collectors,
// structured logging, and job notifications on a publish topic. Each sink
// satisfies progress.Sink and tolerates repeated Consume/Close cycles.
package sinks
