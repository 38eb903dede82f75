// Package ledger keeps a SQLite history of transcode jobs.
//
// The dispatcher records every state transition through Store.Record so the
// CLI can report history after the daemon exits, and so a restarted daemon
// remembers which sources already failed. The ledger is advisory: the
// presence of manifest.mpd in an output directory remains the only proof that
// a source was processed.
//
// Schema changes bump schemaVersion in schema.go; users clear the ledger to
// adopt the new schema.
package ledger
