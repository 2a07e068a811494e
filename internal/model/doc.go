// Package model defines shared data types used across the capture pipeline.
//
// Conventions:
//   - Timestamps: int64 microseconds since Unix epoch (0 = not provided)
//   - Events: tagged variant (Quote/Trade/Depth) over a shared envelope
//   - An Event is owned by exactly one pipeline stage at a time and is
//     handed off, never shared
package model
