package dispatcher

import (
	"batchkit/pkg/backoff"
	"batchkit/pkg/circuitbreaker"
	"batchkit/pkg/cloudevent"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryDispatcher delivers workload callbacks from a bounded in-memory
// queue with a fixed pool of workers. Events are dropped when the queue is
// full; events whose destination circuit is open are requeued after the
// breaker cooldown, up to a limit.
type MemoryDispatcher struct {
	queue    chan *Event
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	config   MemoryConfig
	logger   *slog.Logger
	metrics  MetricsRecorder
	counters counters

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

type counters struct {
	queued    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	requeued  atomic.Int64
	retries   atomic.Int64
}

// MetricsRecorder is an optional interface for recording dispatcher metrics.
type MetricsRecorder interface {
	RecordDispatcherDelivered(ctx context.Context, durationSeconds float64)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherRequeued(ctx context.Context)
	RecordDispatcherQueueSize(ctx context.Context, size int64)
}

// NewMemory creates a dispatcher and starts its workers.
func NewMemory(cfg MemoryConfig, metrics MetricsRecorder) *MemoryDispatcher {
	cfg = cfg.withDefaults()
	logger := slog.With("component", "dispatcher")

	d := &MemoryDispatcher{
		queue:  make(chan *Event, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
			IsFailure: func(err error) bool { return !cloudevent.IsClientError(err) },
			OnStateChange: func(destination string, from, to circuitbreaker.State) {
				logger.Info("Callback circuit changed", "destination", destination, "from", from, "to", to)
			},
		}),
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}
	if metrics != nil {
		go d.reportQueueSize()
	}

	d.logger.Info("Dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return d
}

func (d *MemoryDispatcher) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.metrics.RecordDispatcherQueueSize(context.Background(), int64(len(d.queue)))
		}
	}
}

// Dispatch queues an event without blocking.
func (d *MemoryDispatcher) Dispatch(event *Event) error {
	if d.closed.Load() {
		return ErrClosed
	}

	select {
	case d.queue <- event:
		d.counters.queued.Add(1)
		return nil
	default:
		d.drop(event, "buffer full")
		return ErrBufferFull
	}
}

// Stats returns current dispatcher statistics.
func (d *MemoryDispatcher) Stats() Stats {
	breakers := d.breakers.Stats()
	return Stats{
		QueueDepth:       len(d.queue),
		Queued:           d.counters.queued.Load(),
		Delivered:        d.counters.delivered.Load(),
		Failed:           d.counters.failed.Load(),
		Dropped:          d.counters.dropped.Load(),
		Requeued:         d.counters.requeued.Load(),
		RetriesTotal:     d.counters.retries.Load(),
		BreakersTotal:    breakers.Total,
		BreakersOpen:     breakers.Open,
		BreakersHalfOpen: breakers.HalfOpen,
	}
}

// Close stops accepting events, lets the workers drain the queue and waits
// for them until ctx is done.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}

	d.logger.Info("Dispatcher shutting down", "queued", len(d.queue))
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher shutdown complete",
			"delivered", d.counters.delivered.Load(),
			"failed", d.counters.failed.Load(),
			"dropped", d.counters.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.shutdown:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver sends an event through its destination's circuit breaker.
func (d *MemoryDispatcher) deliver(event *Event) {
	destination := destinationKey(event.Destination)
	logger := d.logger.With("destination", destination, "job", event.Payload.Subject, "type", event.Payload.Type)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	err := d.breakers.Do(destination, func() error {
		return d.sendWithRetry(ctx, event)
	})
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		d.requeue(event, logger)
	case err != nil:
		d.counters.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherFailed(ctx)
		}
		logger.Warn("Callback delivery failed", "error", err)
	default:
		d.counters.delivered.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherDelivered(ctx, time.Since(start).Seconds())
		}
		logger.Debug("Callback delivered", "duration", time.Since(start))
	}
}

// requeue puts event back on the queue once the breaker cooldown has
// elapsed, or drops it after defaultMaxRequeues attempts.
func (d *MemoryDispatcher) requeue(event *Event, logger *slog.Logger) {
	if event.Requeues >= defaultMaxRequeues {
		d.drop(event, "max requeues reached")
		return
	}

	event.Requeues++
	requeues := event.Requeues
	d.counters.requeued.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherRequeued(context.Background())
	}

	time.AfterFunc(d.config.BreakerCooldown, func() {
		if d.closed.Load() {
			return
		}
		select {
		case d.queue <- event:
			logger.Debug("Callback requeued", "requeues", requeues)
		default:
			d.drop(event, "buffer full on requeue")
		}
	})
}

func (d *MemoryDispatcher) drop(event *Event, reason string) {
	d.counters.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDropped(context.Background())
	}
	d.logger.Warn("Callback dropped",
		"reason", reason,
		"destination", destinationKey(event.Destination),
		"job", event.Payload.Subject,
		"type", event.Payload.Type,
		"requeues", event.Requeues,
	)
}

// sendWithRetry retries transient failures with exponential backoff. A 4xx
// response means the receiver rejected the event, so it is not retried.
func (d *MemoryDispatcher) sendWithRetry(ctx context.Context, event *Event) error {
	return backoff.Retry(ctx, d.config.MaxRetries, d.config.Backoff, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			d.counters.retries.Add(1)
		}
		err := d.sender.Send(ctx, event.Destination, event.Payload, event.SigningKey)
		if cloudevent.IsClientError(err) {
			return backoff.Permanent(err)
		}
		return err
	})
}

// destinationKey identifies the receiver of a callback URL for circuit
// breaking: the lower-cased host with the scheme's default port made
// explicit. Unparseable URLs are their own key.
func destinationKey(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()
	if port == "" {
		switch strings.ToLower(parsed.Scheme) {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(host, port)
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
