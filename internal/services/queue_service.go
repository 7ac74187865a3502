package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"queue-system/config"
	"queue-system/internal/status"
	"queue-system/models"
	"queue-system/monitoring"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

type EnqueueRequest struct {
	ServiceType  string               `json:"service_type" validate:"required,max=32"`
	CitizenID    string               `json:"citizen_id" validate:"required,max=64"`
	PECode       string               `json:"pe_code" validate:"omitempty,max=64"`
	SpecialNeeds []models.SpecialNeed `json:"special_needs" validate:"omitempty,dive,oneof=elderly disability pregnant appointment"`
}

// QueueService is the entry point for every queue operation. It owns the
// index and keeps it in step with the ticket store.
type QueueService struct {
	cfg       *config.Config
	store     TicketStore
	index     *QueueIndex
	calc      *PriorityCalculator
	engine    *AssignmentEngine
	lifecycle *LifecycleController
	events    EventPublisher
	monitor   *monitoring.Monitor

	rebuild singleflight.Group
	now     func() time.Time
	logger  *slog.Logger
}

func NewQueueService(cfg *config.Config, store TicketStore, index *QueueIndex, events EventPublisher, monitor *monitoring.Monitor) *QueueService {
	calc := NewPriorityCalculator(cfg)
	return &QueueService{
		cfg:       cfg,
		store:     store,
		index:     index,
		calc:      calc,
		engine:    NewAssignmentEngine(store, index, events, monitor, cfg.MaxClaimRetries, cfg.ClaimBackoff),
		lifecycle: NewLifecycleController(store, index, calc, events, monitor),
		events:    events,
		monitor:   monitor,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// Enqueue issues a new ticket and places it in line.
func (s *QueueService) Enqueue(ctx context.Context, req EnqueueRequest) (*models.Ticket, error) {
	svc, err := lookupServiceType(ctx, s.store, req.ServiceType)
	if err != nil {
		return nil, err
	}
	if !svc.Active {
		return nil, fmt.Errorf("service type %s is inactive: %w", svc.Code, status.ErrUnknownServiceType)
	}

	number, err := s.store.NextTicketNumber(ctx, svc.Prefix())
	if err != nil {
		return nil, err
	}

	now := s.now()
	ticket := &models.Ticket{
		ID:           uuid.New().String(),
		Number:       number,
		ServiceType:  svc.Code,
		CitizenID:    req.CitizenID,
		PECode:       req.PECode,
		Status:       models.StatusWaiting,
		SpecialNeeds: req.SpecialNeeds,
		CreatedAt:    now,
		UpdatedAt:    now,
		EnqueuedAt:   now,
	}
	ticket.Priority = s.calc.Compute(ticket, svc, now)

	if err := s.store.CreateTicket(ctx, ticket); err != nil {
		return nil, err
	}
	if err := s.index.Insert(EntryFor(ticket)); err != nil {
		return nil, err
	}
	s.monitor.SetQueueDepth(svc.Code, s.index.Depth(svc.Code))

	s.logger.Info("ticket enqueued",
		"ticket_id", ticket.ID,
		"ticket_number", ticket.Number,
		"service_type", ticket.ServiceType,
		"priority", ticket.Priority,
	)
	s.events.Publish(models.QueueEvent{
		Type:         models.EventEnqueued,
		TicketID:     ticket.ID,
		TicketNumber: ticket.Number,
		ServiceType:  ticket.ServiceType,
		To:           ticket.Status,
		Priority:     ticket.Priority,
		At:           now,
	})
	return ticket, nil
}

func (s *QueueService) CallNext(ctx context.Context, agentID, serviceType string) (*models.Ticket, error) {
	return s.engine.CallNext(ctx, agentID, serviceType)
}

func (s *QueueService) AssignTicket(ctx context.Context, ticketID, agentID string) (*models.Ticket, error) {
	return s.engine.AssignTicket(ctx, ticketID, agentID)
}

func (s *QueueService) CloseTicket(ctx context.Context, ticketID string, outcome models.TicketStatus, agentID string) (*models.Ticket, error) {
	return s.lifecycle.Close(ctx, ticketID, outcome, agentID)
}

func (s *QueueService) RequeueTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	return s.lifecycle.Requeue(ctx, ticketID)
}

func (s *QueueService) CancelTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	return s.lifecycle.Cancel(ctx, ticketID)
}

func (s *QueueService) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	return s.store.GetTicket(ctx, ticketID)
}

func (s *QueueService) QueueDepth(serviceType string) int {
	return s.index.Depth(serviceType)
}

// PeekNext returns the ticket call-next would pick for serviceType without
// claiming it, or nil when the line is empty.
func (s *QueueService) PeekNext(ctx context.Context, serviceType string) (*models.Ticket, error) {
	entry, ok := s.index.PeekBest(serviceType)
	if !ok {
		return nil, nil
	}
	return s.store.GetTicket(ctx, entry.TicketID)
}

// Position reports where a ticket stands and a rough wait estimate.
func (s *QueueService) Position(ctx context.Context, number string) (*models.TicketPosition, error) {
	ticket, err := s.store.GetTicketByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	pos := &models.TicketPosition{Ticket: ticket, EstimatedWait: "0"}
	if ticket.Status != models.StatusWaiting {
		return pos, nil
	}
	p, ok := s.index.Position(ticket.ID)
	if !ok {
		return pos, nil
	}
	pos.Position = p
	pos.Ahead = p - 1

	svc, err := lookupServiceType(ctx, s.store, ticket.ServiceType)
	if err != nil {
		return pos, nil
	}
	agents, err := s.servingAgents(ctx, ticket.ServiceType)
	if err != nil {
		return nil, err
	}
	pos.EstimatedWait = estimateWait(pos.Ahead, svc.EstimatedMinutes, agents).String()
	return pos, nil
}

// Stats summarises every active service type.
func (s *QueueService) Stats(ctx context.Context) ([]models.QueueStats, error) {
	types, err := s.store.ListServiceTypes(ctx)
	if err != nil {
		return nil, err
	}
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	stats := make([]models.QueueStats, 0, len(types))
	for _, st := range types {
		if !st.Active {
			continue
		}
		serving := countServing(agents, st.Code)
		depth := s.index.Depth(st.Code)
		qs := models.QueueStats{
			ServiceType:   st.Code,
			Name:          st.Name,
			TotalInQueue:  depth,
			AgentsServing: serving,
			EstimatedWait: estimateWait(depth, st.EstimatedMinutes, serving).String(),
			LastUpdated:   now,
		}
		if next, err := s.PeekNext(ctx, st.Code); err == nil && next != nil {
			qs.NextTicket = next.Number
		}
		stats = append(stats, qs)
	}
	return stats, nil
}

func (s *QueueService) servingAgents(ctx context.Context, serviceType string) (int, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return 0, err
	}
	return countServing(agents, serviceType), nil
}

func countServing(agents []*models.Agent, serviceType string) int {
	n := 0
	for _, a := range agents {
		if a.Active && a.Status != models.AgentOffline && a.CanServe(serviceType) {
			n++
		}
	}
	return n
}

// estimateWait is ceil(ahead * minutes / agents), with at least one agent assumed.
func estimateWait(ahead, minutesPerTicket, agents int) decimal.Decimal {
	if agents < 1 {
		agents = 1
	}
	return decimal.NewFromInt(int64(ahead)).
		Mul(decimal.NewFromInt(int64(minutesPerTicket))).
		Div(decimal.NewFromInt(int64(agents))).
		Ceil()
}

// RebuildIndex reloads the index from the store. Concurrent callers share
// one reload.
func (s *QueueService) RebuildIndex(ctx context.Context) (int, error) {
	v, err, _ := s.rebuild.Do("rebuild", func() (any, error) {
		changes := s.index.Track()
		defer s.index.Untrack(changes)

		waiting, err := s.store.ListAllWaiting(ctx)
		if err != nil {
			return 0, err
		}
		entries := make([]IndexEntry, len(waiting))
		for i, t := range waiting {
			entries[i] = EntryFor(t)
		}
		s.index.Reset(entries, changes)
		total := 0
		for _, st := range s.index.ServiceTypes() {
			depth := s.index.Depth(st)
			total += depth
			s.monitor.SetQueueDepth(st, depth)
		}
		s.logger.Info("queue index rebuilt", "listed", len(entries), "tickets", total)
		return total, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// AgingPass recomputes the score of every waiting ticket and reconciles the
// index with the store. It returns how many tickets changed priority.
func (s *QueueService) AgingPass(ctx context.Context) (int, error) {
	changes := s.index.Track()
	defer s.index.Untrack(changes)

	waiting, err := s.store.ListAllWaiting(ctx)
	if err != nil {
		return 0, err
	}
	types, err := s.store.ListServiceTypes(ctx)
	if err != nil {
		return 0, err
	}
	catalog := make(map[string]models.ServiceType, len(types))
	for _, st := range types {
		catalog[st.Code] = st
	}

	now := s.now()
	live := make(map[string]bool, len(waiting))
	changed := 0
	for _, t := range waiting {
		live[t.ID] = true

		svc, ok := catalog[t.ServiceType]
		if !ok {
			svc = models.ServiceType{Code: t.ServiceType}
		}
		priority := s.calc.Refresh(t, svc, now)
		if priority != t.Priority {
			updated, err := s.store.UpdatePriority(ctx, t.ID, priority, now)
			if err != nil {
				return changed, err
			}
			if !updated {
				// claimed or cancelled since the listing
				s.index.Remove(t.ID)
				delete(live, t.ID)
				continue
			}
			prev := t.Priority
			t.Priority = priority
			changed++
			s.events.Publish(models.QueueEvent{
				Type:         models.EventReprioritized,
				TicketID:     t.ID,
				TicketNumber: t.Number,
				ServiceType:  t.ServiceType,
				From:         models.StatusWaiting,
				To:           models.StatusWaiting,
				Priority:     priority,
				Wait:         t.Wait(now),
				At:           now,
			})
			s.logger.Debug("ticket reprioritized", "ticket_id", t.ID, "from", prev, "to", priority)
		}

		if !s.index.Reprioritize(t.ID, t.Priority) {
			if err := s.restoreMissing(ctx, t.ID, changes); err != nil {
				return changed, err
			}
		}
	}

	for _, e := range s.index.SnapshotAll() {
		if live[e.TicketID] {
			continue
		}
		if s.index.DropStale(e.TicketID, changes) {
			s.logger.Warn("dropped index entry with no waiting ticket", "ticket_id", e.TicketID)
		}
	}
	for code := range catalog {
		s.monitor.SetQueueDepth(code, s.index.Depth(code))
	}
	return changed, nil
}

// restoreMissing re-indexes a listed ticket the index does not hold, provided
// the store still has it waiting and nothing took it out since the listing.
func (s *QueueService) restoreMissing(ctx context.Context, ticketID string, changes *IndexChanges) error {
	if s.index.InFlight(ticketID) {
		return nil
	}
	t, err := s.store.GetTicket(ctx, ticketID)
	if errors.Is(err, status.ErrTicketNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if t.Status != models.StatusWaiting {
		return nil
	}
	if s.index.Reconcile(EntryFor(t), changes) {
		s.logger.Warn("waiting ticket was missing from index", "ticket_id", t.ID)
	}
	return nil
}

// NoShowPass requeues no-show tickets once their grace delay has passed.
// It does nothing under the manual policy.
func (s *QueueService) NoShowPass(ctx context.Context) (int, error) {
	if s.cfg.NoShowPolicy != config.NoShowAuto {
		return 0, nil
	}
	tickets, err := s.store.ListNoShow(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	requeued := 0
	for _, t := range tickets {
		if t.NoShowCount > s.cfg.MaxNoShowRequeues {
			continue
		}
		if now.Sub(t.UpdatedAt) < s.cfg.NoShowRequeueDelay {
			continue
		}
		if _, err := s.lifecycle.Requeue(ctx, t.ID); err != nil {
			if errors.Is(err, status.ErrInvalidTransition) {
				continue
			}
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// Run drives the periodic aging and no-show passes until ctx is done.
func (s *QueueService) Run(ctx context.Context) {
	interval := s.cfg.AgingInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.AgingPass(ctx); err != nil {
				s.logger.Error("aging pass failed", "error", err)
			} else if n > 0 {
				s.logger.Info("aging pass", "reprioritized", n)
			}
			if n, err := s.NoShowPass(ctx); err != nil {
				s.logger.Error("no-show pass failed", "error", err)
			} else if n > 0 {
				s.logger.Info("no-show pass", "requeued", n)
			}
		}
	}
}

// SetAgentStatus changes an agent's availability. busy is owned by the claim
// path and cannot be set directly.
func (s *QueueService) SetAgentStatus(ctx context.Context, agentID string, st models.AgentStatus) error {
	if st == models.AgentBusy {
		return fmt.Errorf("agent %s: %w", agentID, status.ErrInvalidAgentStatus)
	}
	return s.store.SetAgentStatus(ctx, agentID, st)
}

func (s *QueueService) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	return s.store.GetAgent(ctx, agentID)
}

func (s *QueueService) SyncAgent(ctx context.Context, a *models.Agent) error {
	return s.store.SaveAgent(ctx, a)
}

func (s *QueueService) SyncServiceType(ctx context.Context, st models.ServiceType) error {
	return s.store.SaveServiceType(ctx, st)
}

func (s *QueueService) RemoveServiceType(ctx context.Context, code string) error {
	return s.store.DeleteServiceType(ctx, code)
}

func (s *QueueService) ServiceTypes(ctx context.Context) ([]models.ServiceType, error) {
	return s.store.ListServiceTypes(ctx)
}
