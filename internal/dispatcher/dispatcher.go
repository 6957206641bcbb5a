// Package dispatcher delivers workload callbacks as CloudEvents. Delivery is
// asynchronous, retried with backoff and guarded by a circuit breaker per
// destination.
package dispatcher

import (
	"batchkit/pkg/cloudevent"
	"context"
	"errors"
)

var (
	// ErrBufferFull is returned when the event could not be queued.
	ErrBufferFull = errors.New("dispatcher buffer full, event dropped")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher is closed")
)

// Dispatcher queues callbacks for delivery.
type Dispatcher interface {
	// Dispatch queues event without blocking.
	Dispatch(event *Event) error

	// Stats returns current delivery statistics.
	Stats() Stats

	// Close drains queued events until ctx is done.
	Close(ctx context.Context) error
}

// Event is a callback addressed to a workload's callback URL. The payload
// subject is the job name.
type Event struct {
	Payload     *cloudevent.CloudEvent
	Destination string
	SigningKey  string // empty disables signing

	// Requeues counts how often the event was put back because its
	// destination circuit was open.
	Requeues int
}

// Stats holds dispatcher statistics.
type Stats struct {
	QueueDepth       int
	Queued           int64
	Delivered        int64
	Failed           int64 // failed after retries
	Dropped          int64 // buffer full or requeue limit reached
	Requeued         int64
	RetriesTotal     int64
	BreakersTotal    int
	BreakersOpen     int
	BreakersHalfOpen int
}
