package models

type ServiceType struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	TicketPrefix     string `json:"ticket_prefix"`
	PriorityWeight   int    `json:"priority_weight"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	Rank             int    `json:"rank"` // scan order when an agent calls without a service type
	Active           bool   `json:"active"`
}

func (s ServiceType) Prefix() string {
	if s.TicketPrefix != "" {
		return s.TicketPrefix
	}
	return s.Code
}
