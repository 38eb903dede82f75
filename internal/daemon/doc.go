// Package daemon coordinates the long-running dashwatch process.
//
// It wires configuration, the job ledger, the dispatcher, the transcode worker
// and the watch loop into a single lifecycle with flock-based locking to
// prevent two instances from encoding the same folder. The daemon also owns
// outcome notifications and the consecutive launch-failure alert.
//
// Keep orchestration logic here: per-file decisions belong to eligibility and
// stability, per-job execution to dispatch and transcode.
package daemon
