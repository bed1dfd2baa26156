// Package deadline runs a caller-supplied task for each key when its deadline
// is reached.
//
// A Scheduler owns one entries.Store and exactly one background worker. The
// worker sleeps until the store's first entry is due, runs the task outside
// the lock, and removes the entry only when the task reports success and the
// entry was not rescheduled or cancelled meanwhile. A failed or panicking task
// leaves the entry scheduled; it is retried after a backoff (see
// WithRetryBackoff).
//
// Schedule, Cancel and Close may be called from any goroutine.
package deadline
