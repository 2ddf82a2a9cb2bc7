// Package jobs provides the invokers a configured job can run: an external
// command, an HTTP webhook, or a log line.
package jobs
