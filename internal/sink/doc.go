// Package sink drains the per-variant ingestion buffers into batched writes
// against a durable store. Batches close on size or age, flushes retry with
// backoff on transient failures, and exhausted batches are accounted as lost
// rather than silently discarded.
package sink
