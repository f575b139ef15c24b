package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"claims_adjudicator/internal/domain"
)

// Publisher delivers a serialized event to a downstream transport.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// EventDispatcher queues domain events and delivers them from a pool of workers.
// Emit never blocks: events arriving while the queue is full are dropped and counted.
type EventDispatcher struct {
	publisher    Publisher
	queue        chan domain.Event
	workers      int
	maxAttempts  int
	retryBackoff time.Duration
	wg           sync.WaitGroup
	mu           sync.RWMutex
	closed       bool
	dropped      atomic.Int64
	delivered    atomic.Int64
	logger       *slog.Logger
}

func NewEventDispatcher(publisher Publisher, workers, queueSize int, logger *slog.Logger) *EventDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	d := &EventDispatcher{
		publisher:    publisher,
		queue:        make(chan domain.Event, queueSize),
		workers:      workers,
		maxAttempts:  3,
		retryBackoff: 100 * time.Millisecond,
		logger:       logger,
	}

	d.startWorkers()

	return d
}

func (d *EventDispatcher) Emit(ctx context.Context, event domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		d.logger.WarnContext(ctx, "Event dropped after shutdown",
			slog.String("type", string(event.Type)),
			slog.String("event_id", event.ID))
		return
	}

	select {
	case d.queue <- event:
	default:
		d.dropped.Add(1)
		d.logger.WarnContext(ctx, "Event queue full, dropping event",
			slog.String("type", string(event.Type)),
			slog.String("event_id", event.ID),
			slog.String("key", event.Key))
	}
}

// Dropped returns the number of events discarded because the queue was full or closed.
func (d *EventDispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *EventDispatcher) Delivered() int64 {
	return d.delivered.Load()
}

func (d *EventDispatcher) startWorkers() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

func (d *EventDispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Debug("Event worker started", slog.Int("worker_id", id))

	for event := range d.queue {
		d.deliver(event, id)
	}

	d.logger.Debug("Event worker stopping", slog.Int("worker_id", id))
}

func (d *EventDispatcher) deliver(event domain.Event, workerID int) {
	startTime := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("Failed to encode event",
			slog.String("type", string(event.Type)),
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()))
		return
	}

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = d.publisher.Publish(ctx, string(event.Type), payload, event.Key)
		cancel()
		if err == nil {
			break
		}
		if attempt < d.maxAttempts {
			time.Sleep(d.retryBackoff * time.Duration(attempt))
		}
	}

	duration := time.Since(startTime)

	if err != nil {
		d.logger.Error("Failed to publish event",
			slog.String("type", string(event.Type)),
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
			slog.Duration("duration", duration))
		return
	}

	d.delivered.Add(1)
	d.logger.Debug("Event published",
		slog.String("type", string(event.Type)),
		slog.String("event_id", event.ID),
		slog.Int("worker_id", workerID),
		slog.Duration("duration", duration))
}

// Shutdown stops accepting events and waits for queued events to be delivered.
func (d *EventDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Event dispatcher shutdown complete",
			slog.Int64("delivered", d.delivered.Load()),
			slog.Int64("dropped", d.dropped.Load()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event dispatcher shutdown: %w", ctx.Err())
	}
}

var _ domain.EventSink = (*EventDispatcher)(nil)
