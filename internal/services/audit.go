package services

import (
	"context"
	"fmt"

	"queue-system/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

const ticketEventsCollection = "ticket_events"

// AuditRecorder persists queue events to the ticket_events collection so
// that a ticket's history survives a Redis flush.
type AuditRecorder struct {
	app core.App
}

func NewAuditRecorder(app core.App) *AuditRecorder {
	return &AuditRecorder{app: app}
}

func (r *AuditRecorder) Handle(ctx context.Context, ev models.QueueEvent) error {
	if ev.Type == models.EventReprioritized {
		return nil
	}

	collection, err := r.app.FindCachedCollectionByNameOrId(ticketEventsCollection)
	if err != nil {
		return fmt.Errorf("find %s collection: %w", ticketEventsCollection, err)
	}

	record := core.NewRecord(collection)
	record.Set("ticket_id", ev.TicketID)
	record.Set("ticket_number", ev.TicketNumber)
	record.Set("service_type", ev.ServiceType)
	record.Set("event_type", string(ev.Type))
	record.Set("from_status", string(ev.From))
	record.Set("to_status", string(ev.To))
	record.Set("agent_id", ev.AgentID)
	record.Set("priority", ev.Priority)
	record.Set("wait_seconds", int(ev.Wait.Seconds()))
	record.Set("occurred_at", ev.At)

	if err := r.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("save %s event for %s: %w", ev.Type, ev.TicketID, err)
	}
	return nil
}

type TicketHistoryEntry struct {
	EventType  string `json:"event_type"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	AgentID    string `json:"agent_id,omitempty"`
	Priority   int    `json:"priority_score"`
	OccurredAt string `json:"occurred_at"`
}

// History returns the recorded transitions of a ticket, oldest first.
func (r *AuditRecorder) History(ticketID string, limit int) ([]TicketHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	records, err := r.app.FindRecordsByFilter(
		ticketEventsCollection,
		"ticket_id = {:ticketId}",
		"occurred_at",
		limit,
		0,
		dbx.Params{"ticketId": ticketID},
	)
	if err != nil {
		return nil, fmt.Errorf("ticket %s history: %w", ticketID, err)
	}

	history := make([]TicketHistoryEntry, 0, len(records))
	for _, rec := range records {
		history = append(history, TicketHistoryEntry{
			EventType:  rec.GetString("event_type"),
			FromStatus: rec.GetString("from_status"),
			ToStatus:   rec.GetString("to_status"),
			AgentID:    rec.GetString("agent_id"),
			Priority:   rec.GetInt("priority"),
			OccurredAt: rec.GetDateTime("occurred_at").String(),
		})
	}
	return history, nil
}
