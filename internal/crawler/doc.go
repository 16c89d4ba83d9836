// Package crawler holds the domain vocabulary of the crawl engine: jobs and
// their states, per-job settings, results, metrics snapshots, the tagged fetch
// Outcome, the error taxonomy, URL normalization, and the small collaborator
// interfaces (Fetcher, ContentProcessor, BlobStore, Publisher, Queue, Clock,
// IDGenerator) implemented by adapters elsewhere in the module.
package crawler
