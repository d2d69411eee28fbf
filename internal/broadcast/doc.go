// Package broadcast fans one admin message out to a class of bot users.
//
// Recipients are resolved from the user store, split into fixed-size
// batches and delivered concurrently within a batch. A cooldown separates
// batches. Every delivery ends in exactly one Outcome, and the outcomes are
// folded into Counts. A Record of each run is appended to a JSON history file.
package broadcast
