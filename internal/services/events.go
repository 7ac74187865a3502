package services

import (
	"context"
	"log/slog"
	"sync"

	"queue-system/models"
	"queue-system/monitoring"

	"golang.org/x/time/rate"
)

// EventPublisher accepts queue events without blocking the caller.
type EventPublisher interface {
	Publish(ev models.QueueEvent) bool
}

type EventSink interface {
	Handle(ctx context.Context, ev models.QueueEvent) error
}

type EventSinkFunc func(ctx context.Context, ev models.QueueEvent) error

func (f EventSinkFunc) Handle(ctx context.Context, ev models.QueueEvent) error {
	return f(ctx, ev)
}

// EventDispatcher fans queue events out to sinks on a single background
// goroutine, so that notification I/O never runs while a ticket is being claimed.
type EventDispatcher struct {
	events  chan models.QueueEvent
	sinks   []EventSink
	limiter *rate.Limiter
	monitor *monitoring.Monitor

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewEventDispatcher(buffer int, perSecond float64, monitor *monitoring.Monitor, sinks ...EventSink) *EventDispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	var limiter *rate.Limiter
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
	}
	return &EventDispatcher{
		events:  make(chan models.QueueEvent, buffer),
		sinks:   sinks,
		limiter: limiter,
		monitor: monitor,
	}
}

func (d *EventDispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

func (d *EventDispatcher) run() {
	defer d.wg.Done()

	ctx := context.Background()
	for ev := range d.events {
		if d.limiter != nil {
			_ = d.limiter.Wait(ctx)
		}
		for _, sink := range d.sinks {
			if err := sink.Handle(ctx, ev); err != nil {
				slog.Error("queue event sink failed", "type", ev.Type, "ticket_id", ev.TicketID, "error", err)
			}
		}
	}
}

// Publish drops the event when the buffer is full or the dispatcher is shut down.
func (d *EventDispatcher) Publish(ev models.QueueEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}
	select {
	case d.events <- ev:
		return true
	default:
		d.monitor.TrackDroppedEvent()
		slog.Warn("queue event dropped, dispatch buffer full", "type", ev.Type, "ticket_id", ev.TicketID)
		return false
	}
}

// Shutdown delivers the buffered events and stops the worker.
func (d *EventDispatcher) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()

	d.wg.Wait()
	slog.Info("queue event dispatcher stopped")
}

// AuditLogSink writes every transition to the structured log.
func AuditLogSink(logger *slog.Logger) EventSink {
	return EventSinkFunc(func(ctx context.Context, ev models.QueueEvent) error {
		logger.InfoContext(ctx, "ticket transition",
			"type", ev.Type,
			"ticket_id", ev.TicketID,
			"ticket_number", ev.TicketNumber,
			"service_type", ev.ServiceType,
			"agent_id", ev.AgentID,
			"from", ev.From,
			"to", ev.To,
			"priority", ev.Priority,
			"wait", ev.Wait,
		)
		return nil
	})
}
