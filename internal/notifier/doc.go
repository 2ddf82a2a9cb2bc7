// Package notifier turns job events into operator alerts.
//
// Notifications are small, high-signal messages such as "job backup
// failed" or "job report missed its window". The service subscribes to
// job.* bus events, keeps the types selected in Config.Events, and
// delivers them through a Sender.
//
// # Delivery
//
// Delivery is asynchronous: a bounded queue feeds a worker pool, sends are
// rate limited and retried with jittered backoff, and identical messages
// are suppressed for DedupWindow. The bundled Sender posts JSON to a
// webhook.
//
// # History
//
// For debugging and operator visibility, the service keeps a small in-memory
// history of recently sent notifications.
package notifier
