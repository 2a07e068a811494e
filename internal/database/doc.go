// Package database provides the PostgreSQL connection pool for the capture
// pipeline. Schema management lives with the storage sink; this package only
// builds connection strings and pools.
package database
