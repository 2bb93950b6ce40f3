// Package worker applies queued operations to a reportflow Client.
//
// Callers that must not block on the orchestration core (for example an
// upload handler delivering a planning_documents signal) enqueue a task and
// let a Worker deliver it:
//
//   - start tasks call Client.Start and never wait for the instance
//   - signal tasks call Client.Signal
//   - cancel tasks call Client.Cancel
//
// Failed tasks can be redelivered with exponential backoff (Config). Errors
// that depend only on the task itself, such as validation failures or a
// terminal instance, are returned without redelivery.
//
// Workers are decoupled from the queue backend; the in-memory and SQLite
// queues are both supported. Multiple workers may consume the same queue.
package worker
