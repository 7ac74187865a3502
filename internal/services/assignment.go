package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"queue-system/internal/status"
	"queue-system/models"
	"queue-system/monitoring"
)

// AssignmentEngine hands the best waiting ticket to an agent. A ticket is
// reserved out of the index first and then claimed with a compare-and-swap
// in the store, so two agents can never hold the same ticket.
type AssignmentEngine struct {
	store      TicketStore
	index      *QueueIndex
	events     EventPublisher
	monitor    *monitoring.Monitor
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func NewAssignmentEngine(store TicketStore, index *QueueIndex, events EventPublisher, monitor *monitoring.Monitor, maxRetries int, backoff time.Duration) *AssignmentEngine {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &AssignmentEngine{
		store:      store,
		index:      index,
		events:     events,
		monitor:    monitor,
		maxRetries: maxRetries,
		backoff:    backoff,
		now:        time.Now,
		logger:     slog.Default(),
	}
}

// CallNext claims the next ticket for agentID. An empty serviceType scans every
// service type the agent may serve, in rank order. It returns
// status.ErrNoTicketAvailable when nothing can be claimed.
func (e *AssignmentEngine) CallNext(ctx context.Context, agentID, serviceType string) (*models.Ticket, error) {
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.Active {
		return nil, fmt.Errorf("call next by %s: %w", agentID, status.ErrAgentUnavailable)
	}
	if agent.CurrentTicket != "" {
		e.monitor.TrackCallNext("agent_busy")
		return nil, fmt.Errorf("call next by %s holding %s: %w", agentID, agent.CurrentTicket, status.ErrAgentBusy)
	}

	candidates, err := e.candidates(ctx, agent, serviceType)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		entry, ok := e.index.Reserve(candidates)
		if !ok {
			e.monitor.TrackCallNext("empty")
			return nil, status.ErrNoTicketAvailable
		}
		e.monitor.SetQueueDepth(entry.ServiceType, e.index.Depth(entry.ServiceType))

		now := e.now()
		ticket, err := e.store.ClaimTicket(ctx, entry.TicketID, entry.ServiceType, agentID, now)
		if err == nil {
			e.index.Release(entry.TicketID)
			e.monitor.TrackCallNext("claimed")
			e.assigned(ticket, now)
			return ticket, nil
		}

		if errors.Is(err, status.ErrConcurrentClaim) || errors.Is(err, status.ErrTicketNotFound) {
			// The entry was stale; the ticket already left the waiting state.
			e.index.Release(entry.TicketID)
			e.monitor.TrackClaimConflict(entry.ServiceType)
			e.logger.Debug("claim conflict, retrying", "ticket_id", entry.TicketID, "agent_id", agentID, "attempt", attempt+1)
			if err := e.wait(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		if insErr := e.index.Restore(entry); insErr != nil {
			e.logger.Warn("failed to return reserved ticket to index", "ticket_id", entry.TicketID, "error", insErr)
		}
		e.monitor.SetQueueDepth(entry.ServiceType, e.index.Depth(entry.ServiceType))
		e.monitor.TrackCallNext("error")
		return nil, err
	}

	e.monitor.TrackCallNext("exhausted")
	return nil, fmt.Errorf("call next by %s after %d conflicts: %w", agentID, e.maxRetries, status.ErrNoTicketAvailable)
}

// AssignTicket is the administrative override: a specific ticket goes to a
// specific agent through the same claim path.
func (e *AssignmentEngine) AssignTicket(ctx context.Context, ticketID, agentID string) (*models.Ticket, error) {
	ticket, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != models.StatusWaiting {
		return nil, fmt.Errorf("assign ticket %s from %s: %w", ticketID, ticket.Status, status.ErrInvalidTransition)
	}
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.CanServe(ticket.ServiceType) {
		return nil, fmt.Errorf("assign %s to %s: %w", ticket.ServiceType, agentID, status.ErrServiceNotAuthorized)
	}

	removed := e.index.Take(ticketID)
	now := e.now()
	claimed, err := e.store.ClaimTicket(ctx, ticketID, ticket.ServiceType, agentID, now)
	if err != nil {
		if errors.Is(err, status.ErrConcurrentClaim) {
			e.index.Release(ticketID)
			return nil, fmt.Errorf("assign ticket %s: %w", ticketID, status.ErrInvalidTransition)
		}
		if !removed {
			e.index.Release(ticketID)
			return nil, err
		}
		if insErr := e.index.Restore(EntryFor(ticket)); insErr != nil {
			e.logger.Warn("failed to return ticket to index", "ticket_id", ticketID, "error", insErr)
		}
		return nil, err
	}
	e.index.Release(ticketID)
	if !removed {
		e.logger.Warn("assigned ticket was missing from index", "ticket_id", ticketID)
	}

	e.monitor.SetQueueDepth(claimed.ServiceType, e.index.Depth(claimed.ServiceType))
	e.assigned(claimed, now)
	return claimed, nil
}

func (e *AssignmentEngine) candidates(ctx context.Context, agent *models.Agent, serviceType string) ([]string, error) {
	if serviceType != "" {
		if !agent.CanServe(serviceType) {
			return nil, fmt.Errorf("call next %s by %s: %w", serviceType, agent.ID, status.ErrServiceNotAuthorized)
		}
		return []string{serviceType}, nil
	}

	types, err := e.store.ListServiceTypes(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]string, 0, len(types))
	for _, st := range types {
		if st.Active && agent.CanServe(st.Code) {
			candidates = append(candidates, st.Code)
		}
	}
	return candidates, nil
}

func (e *AssignmentEngine) wait(ctx context.Context, attempt int) error {
	if e.backoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(time.Duration(attempt+1) * e.backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *AssignmentEngine) assigned(t *models.Ticket, now time.Time) {
	wait := t.Wait(now)
	e.monitor.TrackTransition(string(models.StatusWaiting), string(models.StatusInProgress))
	e.monitor.TrackAssignment(t.ServiceType, wait)
	e.events.Publish(models.QueueEvent{
		Type:         models.EventAssigned,
		TicketID:     t.ID,
		TicketNumber: t.Number,
		ServiceType:  t.ServiceType,
		AgentID:      t.AgentID,
		From:         models.StatusWaiting,
		To:           models.StatusInProgress,
		Priority:     t.Priority,
		Wait:         wait,
		At:           now,
	})
}
