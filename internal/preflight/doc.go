// Package preflight provides readiness checks for the encoder binary and the
// directories dashwatch reads and writes.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failure as a warning;
//     a missing encoder is reported again per job as a launch failure.
//   - The CLI "dashwatch status" command renders the same results.
package preflight
