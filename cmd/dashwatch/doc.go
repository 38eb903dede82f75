// Package main hosts the dashwatch CLI entrypoint and command graph.
//
// "dashwatch run" starts the watcher in the foreground; the remaining
// commands inspect the same state directory the daemon writes (ledger, lock
// and logs) without talking to a running process, so they work whether or not
// the daemon is up.
package main
