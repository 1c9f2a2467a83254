package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/logger"
)

// Delivery outcomes reported to the result hook.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeDropped   = "dropped"
)

// DefaultWriteTimeout bounds a single sink write.
const DefaultWriteTimeout = 5 * time.Second

// Dispatcher moves audit events off the request path. Events are queued in a bounded
// buffer and written by one background worker; when the buffer is full the event is dropped.
type Dispatcher struct {
	sink         service.AuditSink
	queue        chan *models.AuditEvent
	logger       logger.Logger
	warnLimiter  *rate.Limiter
	writeTimeout time.Duration
	onResult     func(outcome string)

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithResultHook registers fn to be called with each event's delivery outcome.
func WithResultHook(fn func(outcome string)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onResult = fn
	}
}

// WithWriteTimeout overrides DefaultWriteTimeout.
func WithWriteTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.writeTimeout = timeout
	}
}

// NewDispatcher creates a Dispatcher over sink and starts its worker.
func NewDispatcher(sink service.AuditSink, bufferSize int, log logger.Logger, opts ...DispatcherOption) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = constants.DefaultAuditBufferSize
	}
	d := &Dispatcher{
		sink:         sink,
		queue:        make(chan *models.AuditEvent, bufferSize),
		logger:       log.WithComponent("AuditDispatcher"),
		warnLimiter:  rate.NewLimiter(rate.Every(10*time.Second), 1),
		writeTimeout: DefaultWriteTimeout,
		onResult:     func(string) {},
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.run()
	return d
}

// Publish queues event without blocking. It reports false when the event was dropped.
func (d *Dispatcher) Publish(event *models.AuditEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(event, "dispatcher closed")
		return false
	}

	select {
	case d.queue <- event:
		return true
	default:
		d.drop(event, "audit queue full")
		return false
	}
}

func (d *Dispatcher) drop(event *models.AuditEvent, reason string) {
	n := d.dropped.Add(1)
	d.onResult(OutcomeDropped)
	if d.warnLimiter.Allow() {
		d.logger.Warn(context.Background(), "Dropping audit event",
			logger.String("reason", reason),
			logger.String("path", event.Path),
			logger.Int64("dropped_total", n),
		)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.writeTimeout)
		err := d.sink.Write(ctx, event)
		cancel()

		if err != nil {
			d.failed.Add(1)
			d.onResult(OutcomeFailed)
			d.logger.Error(ctx, "Audit sink write failed", err, logger.String("audit_id", event.ID))
			continue
		}
		d.delivered.Add(1)
		d.onResult(OutcomeDelivered)
	}
}

// Close stops accepting events, drains the queue and closes the sink.
// ctx bounds how long it waits for the drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.Warn(ctx, "Audit queue not drained before shutdown", logger.Int("pending", len(d.queue)))
		return ctx.Err()
	}
	return d.sink.Close()
}

// DispatcherStats counts events by outcome.
type DispatcherStats struct {
	Queued    int   `json:"queued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Queued:    len(d.queue),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}
