// Package planner turns timing constraints and a carbon-intensity forecast
// into a concrete fire instant.
//
// Two constraint kinds exist: FixedWindow (a daily time-of-day range with
// optional day filters) and Successive (a bounded gap since the previous
// run). Both search the forecast for the greenest start with the same
// sliding-window minimum and both provide a deterministic cron fallback
// for when the forecast cannot be consulted.
//
// Planners are pure functions of (request, constraints, forecast).
package planner
