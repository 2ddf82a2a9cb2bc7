// Package scheduler runs jobs at the greenest instant their constraints allow.
//
// Each registered job owns a trigger. On every tick the Service asks the
// job's planner for the next occurrence, falls back to a cron instant when no
// forecast is usable, and dispatches the job once the occurrence is due:
//   - blocking invokers run on the engine worker pool
//   - non-blocking invokers are called on the tick goroutine and awaited elsewhere
//
// Overdue occurrences still fire while inside the job's grace period; past it
// they are counted as missed and the trigger plans the next one.
package scheduler
