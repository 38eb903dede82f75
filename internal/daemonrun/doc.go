// Package daemonrun hosts the foreground daemon process started by
// "dashwatch run": logging setup, PID file, ledger, and signal handling.
package daemonrun
