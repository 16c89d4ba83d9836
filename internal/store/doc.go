// Package store defines interfaces for persistence dependencies (crawl results,
// job metadata, metrics snapshots). Implementations live in internal/storage;
// this package must not import database drivers or concrete clients.
package store
