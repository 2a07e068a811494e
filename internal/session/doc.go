// Package session wraps one bounded capture run: it assigns the session
// identity, starts and stops the pipeline components in order, and finalizes
// the session counters so they reconcile against everything received.
package session
