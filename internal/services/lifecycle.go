package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"queue-system/internal/status"
	"queue-system/models"
	"queue-system/monitoring"
)

// LifecycleController applies every status change after the claim.
type LifecycleController struct {
	store   TicketStore
	index   *QueueIndex
	calc    *PriorityCalculator
	events  EventPublisher
	monitor *monitoring.Monitor
	now     func() time.Time
	logger  *slog.Logger
}

func NewLifecycleController(store TicketStore, index *QueueIndex, calc *PriorityCalculator, events EventPublisher, monitor *monitoring.Monitor) *LifecycleController {
	return &LifecycleController{
		store:   store,
		index:   index,
		calc:    calc,
		events:  events,
		monitor: monitor,
		now:     time.Now,
		logger:  slog.Default(),
	}
}

// Close ends service of an in-progress ticket. When agentID is set only the
// holding agent may close it.
func (c *LifecycleController) Close(ctx context.Context, ticketID string, outcome models.TicketStatus, agentID string) (*models.Ticket, error) {
	if !models.CanTransition(models.StatusInProgress, outcome) {
		return nil, fmt.Errorf("close ticket %s as %q: %w", ticketID, outcome, status.ErrInvalidTransition)
	}

	now := c.now()
	holder := agentID
	ticket, err := c.store.CloseTicket(ctx, ticketID, outcome, agentID, now)
	if err != nil {
		return nil, err
	}
	if holder == "" {
		holder = ticket.AgentID
	}
	if c.index.Remove(ticketID) {
		c.logger.Warn("closed ticket was still indexed", "ticket_id", ticketID)
	}

	evType := models.EventCompleted
	if outcome == models.StatusNoShow {
		evType = models.EventNoShow
	}
	c.emit(evType, ticket, holder, models.StatusInProgress, now)
	return ticket, nil
}

// Requeue puts a no-show ticket back in line. Its arrival for ordering is the
// requeue time and its priority never drops below what it had before.
func (c *LifecycleController) Requeue(ctx context.Context, ticketID string) (*models.Ticket, error) {
	ticket, err := c.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(ticket.Status, models.StatusWaiting) {
		return nil, fmt.Errorf("requeue ticket %s from %s: %w", ticketID, ticket.Status, status.ErrInvalidTransition)
	}

	svc, err := lookupServiceType(ctx, c.store, ticket.ServiceType)
	if err != nil {
		c.logger.Warn("requeue with unknown service type, using default weight", "ticket_id", ticketID, "service_type", ticket.ServiceType)
		svc = models.ServiceType{Code: ticket.ServiceType}
	}

	now := c.now()
	next := *ticket
	next.EnqueuedAt = now
	priority := c.calc.Refresh(&next, svc, now)

	requeued, err := c.store.RequeueTicket(ctx, ticketID, ticket.ServiceType, priority, now)
	if err != nil {
		return nil, err
	}
	if err := c.index.Insert(EntryFor(requeued)); err != nil {
		c.logger.Warn("requeued ticket already indexed", "ticket_id", ticketID, "error", err)
	}
	c.monitor.SetQueueDepth(requeued.ServiceType, c.index.Depth(requeued.ServiceType))

	c.emit(models.EventRequeued, requeued, "", models.StatusNoShow, now)
	return requeued, nil
}

// Cancel withdraws a waiting ticket.
func (c *LifecycleController) Cancel(ctx context.Context, ticketID string) (*models.Ticket, error) {
	ticket, err := c.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(ticket.Status, models.StatusCancelled) {
		return nil, fmt.Errorf("cancel ticket %s from %s: %w", ticketID, ticket.Status, status.ErrInvalidTransition)
	}

	now := c.now()
	cancelled, err := c.store.CancelTicket(ctx, ticketID, ticket.ServiceType, now)
	if err != nil {
		return nil, err
	}
	if !c.index.Remove(ticketID) {
		c.logger.Warn("cancelled ticket was not indexed", "ticket_id", ticketID)
	}
	c.monitor.SetQueueDepth(cancelled.ServiceType, c.index.Depth(cancelled.ServiceType))

	c.emit(models.EventCancelled, cancelled, "", models.StatusWaiting, now)
	return cancelled, nil
}

func (c *LifecycleController) emit(evType models.QueueEventType, t *models.Ticket, agentID string, from models.TicketStatus, now time.Time) {
	c.monitor.TrackTransition(string(from), string(t.Status))
	c.events.Publish(models.QueueEvent{
		Type:         evType,
		TicketID:     t.ID,
		TicketNumber: t.Number,
		ServiceType:  t.ServiceType,
		AgentID:      agentID,
		From:         from,
		To:           t.Status,
		Priority:     t.Priority,
		Wait:         t.Wait(now),
		At:           now,
	})
}

func lookupServiceType(ctx context.Context, store TicketStore, code string) (models.ServiceType, error) {
	types, err := store.ListServiceTypes(ctx)
	if err != nil {
		return models.ServiceType{}, err
	}
	for _, st := range types {
		if st.Code == code {
			return st, nil
		}
	}
	return models.ServiceType{}, fmt.Errorf("service type %s: %w", code, status.ErrUnknownServiceType)
}
