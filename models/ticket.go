package models

import (
	"fmt"
	"strings"
	"time"
)

type TicketStatus string

const (
	StatusWaiting    TicketStatus = "waiting"
	StatusInProgress TicketStatus = "in_progress"
	StatusCompleted  TicketStatus = "completed"
	StatusNoShow     TicketStatus = "no_show"
	StatusCancelled  TicketStatus = "cancelled"
)

var ticketStatuses = []TicketStatus{
	StatusWaiting,
	StatusInProgress,
	StatusCompleted,
	StatusNoShow,
	StatusCancelled,
}

// transitions lists every legal status change. waiting -> in_progress is
// only reachable through a claim.
var transitions = map[TicketStatus][]TicketStatus{
	StatusWaiting:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusNoShow},
	StatusNoShow:     {StatusWaiting},
}

func ParseTicketStatus(s string) (TicketStatus, error) {
	for _, status := range ticketStatuses {
		if string(status) == s {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown ticket status %q", s)
}

func (s TicketStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// HoldsAgent reports whether a ticket in this status must reference an agent.
func (s TicketStatus) HoldsAgent() bool {
	return s == StatusInProgress || s == StatusCompleted
}

func CanTransition(from, to TicketStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type SpecialNeed string

const (
	NeedElderly     SpecialNeed = "elderly"
	NeedDisability  SpecialNeed = "disability"
	NeedPregnant    SpecialNeed = "pregnant"
	NeedAppointment SpecialNeed = "appointment"
)

func ParseSpecialNeeds(raw string) []SpecialNeed {
	var needs []SpecialNeed
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		switch SpecialNeed(part) {
		case NeedElderly, NeedDisability, NeedPregnant, NeedAppointment:
			needs = append(needs, SpecialNeed(part))
		}
	}
	return needs
}

func JoinSpecialNeeds(needs []SpecialNeed) string {
	parts := make([]string, len(needs))
	for i, n := range needs {
		parts[i] = string(n)
	}
	return strings.Join(parts, ",")
}

type Ticket struct {
	ID           string        `json:"id"`
	Number       string        `json:"ticket_number"`
	ServiceType  string        `json:"service_type"`
	CitizenID    string        `json:"citizen_id"`
	PECode       string        `json:"pe_code,omitempty"`
	Status       TicketStatus  `json:"status"`
	Priority     int           `json:"priority_score"`
	AgentID      string        `json:"agent_id,omitempty"`
	SpecialNeeds []SpecialNeed `json:"special_needs,omitempty"`
	NoShowCount  int           `json:"no_show_count"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	EnqueuedAt   time.Time     `json:"enqueued_at"` // ordering arrival, reset on requeue
	CalledAt     *time.Time    `json:"called_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// Consistent checks the agent/status invariant.
func (t *Ticket) Consistent() bool {
	return (t.AgentID != "") == t.Status.HoldsAgent()
}

// Wait is the time between check-in and now.
func (t *Ticket) Wait(now time.Time) time.Duration {
	if d := now.Sub(t.CreatedAt); d > 0 {
		return d
	}
	return 0
}
