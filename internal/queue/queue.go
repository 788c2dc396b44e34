// Package queue provides the durable job queue behind the server-side import
// pipeline. Two production backends exist - Kafka for broker deployments and
// Postgres for single-database deployments - plus an in-process backend for
// tests and single-node setups. All three satisfy the same JobQueue contract,
// so the workers never know which transport carries their jobs.
package queue

import "context"

// Queue names used by the import pipeline.
const (
	// QueueCSVParse carries one job per uploaded file awaiting parsing.
	QueueCSVParse = "CSV_PARSE"

	// QueueDataInsert carries one job per parsed chunk plus the final
	// sentinel job of each import.
	QueueDataInsert = "DATA_INSERT"
)

// Handler consumes one job payload. A non-nil error is logged by the backend
// but the job is not redelivered: retry policy lives in the pipeline's own
// bookkeeping, not in the transport.
type Handler func(ctx context.Context, payload []byte) error

// JobQueue is the transport contract shared by all backends.
//
// Lifecycle: CreateQueue and Work may be called before Start; consumption
// begins when Start is called and ends with Stop. Ready reports false until
// Start has succeeded and again after Stop.
type JobQueue interface {
	// Start begins consuming registered queues. The context bounds the
	// lifetime of all consumption; cancelling it stops the backend.
	Start(ctx context.Context) error

	// Stop releases all broker/database resources, aggregating cleanup
	// errors. Safe to call more than once.
	Stop() error

	// CreateQueue ensures the named queue exists. Idempotent.
	CreateQueue(ctx context.Context, name string) error

	// Send enqueues one payload onto the named queue. The payload is
	// marshalled to JSON.
	Send(ctx context.Context, queue string, payload any) error

	// Work registers the handler for the named queue. One handler per
	// queue; each backend consumes one message at a time per queue.
	Work(queue string, handler Handler) error

	// Ready reports whether the backend is started and able to accept
	// sends.
	Ready() bool
}
