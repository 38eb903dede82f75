// Package watch turns filesystem notifications for the watch folder into
// dispatcher submissions.
//
// Loop registers a non-recursive fsnotify watch before its startup scan so no
// arrival slips between the two, then feeds every candidate through the
// stability detector. Settled paths are re-checked with the eligibility
// filter and submitted without blocking; removals and renames cancel pending
// or running work for the old path.
package watch
