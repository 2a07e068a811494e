// Package router parses raw feed events into typed records, runs them
// through validation, and enqueues them into the per-variant ingestion
// buffers. Trade and depth wire messages carry arrays that fan out into one
// record per element.
package router
