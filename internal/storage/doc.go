// Package storage persists the execution history of scheduled jobs.
//
// Two drivers exist:
//   - file: append-only JSON Lines with an in-memory tail for queries
//   - sqlite: a single SQLite database file (pure Go driver)
package storage
