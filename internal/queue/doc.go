// Package queue implements the bounded ingestion buffers that decouple feed
// reception from persistence.
//
// Buffers are per-variant (quotes/trades/depth) to avoid head-of-line
// blocking between variants. Capacity is bounded by element count and a soft
// byte estimate; overflow behavior is configurable (block with timeout, or
// drop-oldest). The queue is the only structure in the pipeline mutated by
// more than one goroutine.
package queue
