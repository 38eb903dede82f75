// Package dispatch owns the lifecycle of encoding jobs.
//
// A Dispatcher deduplicates submissions per source path, keeps a bounded FIFO
// of pending jobs, and runs at most N of them at once through a Runner. Each
// job moves pending -> running -> succeeded|failed exactly once; failures are
// never retried automatically. Operators force a retry by deleting the failed
// output directory or re-introducing the source file.
//
// All job state lives behind one mutex. Runners receive a copy of the job and
// report an Outcome, so snapshots taken by status commands never race with a
// running encode.
package dispatch
