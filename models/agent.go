package models

import "fmt"

type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentBusy      AgentStatus = "busy"
	AgentOnBreak   AgentStatus = "on_break"
	AgentOffline   AgentStatus = "offline"
)

func ParseAgentStatus(s string) (AgentStatus, error) {
	switch AgentStatus(s) {
	case AgentAvailable, AgentBusy, AgentOnBreak, AgentOffline:
		return AgentStatus(s), nil
	}
	return "", fmt.Errorf("unknown agent status %q", s)
}

type Role string

const (
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

func ParseRole(s string) Role {
	if Role(s) == RoleAdmin {
		return RoleAdmin
	}
	return RoleAgent
}

type Agent struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Role          Role        `json:"role"`
	Status        AgentStatus `json:"status"`
	Active        bool        `json:"active"`
	ServiceTypes  []string    `json:"service_types"` // empty means every service type
	CurrentTicket string      `json:"current_ticket,omitempty"`
}

func (a *Agent) CanServe(serviceType string) bool {
	if len(a.ServiceTypes) == 0 {
		return true
	}
	for _, st := range a.ServiceTypes {
		if st == serviceType {
			return true
		}
	}
	return false
}

func (a *Agent) IsAdmin() bool {
	return a.Role == RoleAdmin
}
