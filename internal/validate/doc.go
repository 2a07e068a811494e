// Package validate implements per-record sanity checks applied between the
// feed and the ingestion queue. Rejected records are counted and dropped;
// malformed feed data is not a pipeline fault.
package validate
