package jobregistry

import "errors"

// Sentinel errors returned by the Dispatcher.
var (
	// ErrInvalidRequest indicates missing or malformed submission input.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrQueueFull indicates the pending queue is at capacity.
	ErrQueueFull = errors.New("download queue is full")

	// ErrDispatcherClosed indicates the dispatcher is shutting down.
	ErrDispatcherClosed = errors.New("dispatcher is shut down")
)
