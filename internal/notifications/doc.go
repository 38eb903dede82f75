// Package notifications pushes job outcomes to ntfy.
//
// NewService returns a no-op when no topic is configured, so callers never
// check whether notifications are enabled. Delivery failures are returned to
// the caller, which logs them; they never affect job state.
package notifications
