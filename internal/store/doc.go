// Package store persists pipeline state in a single SQLite file shared by
// every worker process. All coordination between stages happens through the
// claim protocol: pending rows are selected and flipped to processing inside
// one immediate transaction, so each unit of work is handed to exactly one
// claimant. Claims carry a lease timestamp; stale leases are reclaimed by
// ResetStuck, and failures consume a bounded retry budget before turning
// terminal.
package store
