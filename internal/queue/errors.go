package queue

import "errors"

// Sentinel errors for queue lifecycle misuse. These can be used with
// errors.Is() for error checking.
var (
	// ErrNotStarted indicates a Send or Work against a backend that has
	// not been started.
	ErrNotStarted = errors.New("queue backend not started")

	// ErrAlreadyStarted indicates a second Start call.
	ErrAlreadyStarted = errors.New("queue backend already started")

	// ErrStopped indicates an operation against a stopped backend.
	ErrStopped = errors.New("queue backend stopped")

	// ErrUnknownQueue indicates a Send to a queue that was never created.
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrHandlerExists indicates a second Work registration for one queue.
	ErrHandlerExists = errors.New("handler already registered for queue")
)
