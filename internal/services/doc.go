// Package services defines shared utilities consumed by the dispatcher, the
// transcode worker and the daemon wiring.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, source paths, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the kinds recorded in logs and the job ledger.
//
// Use these helpers when adding new failure paths so every terminal job
// carries a stable, machine-readable error kind.
package services
