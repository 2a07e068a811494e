// Package governor implements proactive memory backpressure. A periodic
// sampler compares the process heap estimate against a threshold; when over,
// it forces the storage sink to flush open batches, and if the next sample
// is still over it pauses the feed until a sample shows recovery.
package governor
