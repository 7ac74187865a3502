package models

import (
	"time"
)

type QueueEventType string

const (
	EventEnqueued      QueueEventType = "enqueued"
	EventAssigned      QueueEventType = "assigned"
	EventCompleted     QueueEventType = "completed"
	EventNoShow        QueueEventType = "no_show"
	EventRequeued      QueueEventType = "requeued"
	EventCancelled     QueueEventType = "cancelled"
	EventReprioritized QueueEventType = "reprioritized"
)

// QueueEvent is emitted for every ticket transition.
type QueueEvent struct {
	Type         QueueEventType `json:"type"`
	TicketID     string         `json:"ticket_id"`
	TicketNumber string         `json:"ticket_number"`
	ServiceType  string         `json:"service_type"`
	AgentID      string         `json:"agent_id,omitempty"`
	From         TicketStatus   `json:"from,omitempty"`
	To           TicketStatus   `json:"to"`
	Priority     int            `json:"priority_score"`
	Wait         time.Duration  `json:"wait"`
	At           time.Time      `json:"at"`
}

type TicketPosition struct {
	Ticket        *Ticket `json:"ticket"`
	Position      int     `json:"position"` // 1-based, 0 when not waiting
	Ahead         int     `json:"ahead"`
	EstimatedWait string  `json:"estimated_wait_minutes"`
}

type QueueStats struct {
	ServiceType   string    `json:"service_type"`
	Name          string    `json:"name"`
	TotalInQueue  int       `json:"total_in_queue"`
	AgentsServing int       `json:"agents_serving"`
	EstimatedWait string    `json:"estimated_wait_minutes"`
	NextTicket    string    `json:"next_ticket,omitempty"`
	LastUpdated   time.Time `json:"last_updated"`
}
