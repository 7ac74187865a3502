package handlers

import (
	"errors"
	"net/http"

	"queue-system/internal/services"
	"queue-system/internal/status"
	"queue-system/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type AgentHandler struct {
	queueService *services.QueueService
}

func NewAgentHandler(queueService *services.QueueService) *AgentHandler {
	return &AgentHandler{queueService: queueService}
}

// CallNext claims the next ticket for the calling agent. An empty queue is
// not an error: the response carries a nil ticket.
func (h *AgentHandler) CallNext(e *core.RequestEvent) error {
	id, err := agentID(e)
	if err != nil {
		return err
	}

	var req struct {
		ServiceType string `json:"service_type" validate:"omitempty,max=32"`
	}
	if err := bindAndValidate(e, &req); err != nil {
		return err
	}

	ticket, err := h.queueService.CallNext(e.Request.Context(), id, req.ServiceType)
	if errors.Is(err, status.ErrNoTicketAvailable) {
		return e.JSON(http.StatusOK, map[string]any{"ticket": nil, "message": "No ticket waiting"})
	}
	if err != nil {
		return fail(e, "call next", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"ticket": ticket})
}

func (h *AgentHandler) CloseTicket(e *core.RequestEvent) error {
	id, err := agentID(e)
	if err != nil {
		return err
	}

	var req struct {
		Outcome string `json:"outcome" validate:"required,oneof=completed no_show"`
	}
	if err := bindAndValidate(e, &req); err != nil {
		return err
	}

	ticketID := e.Request.PathValue("id")
	ticket, err := h.queueService.CloseTicket(e.Request.Context(), ticketID, models.TicketStatus(req.Outcome), id)
	if err != nil {
		return fail(e, "close ticket", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"ticket": ticket})
}

func (h *AgentHandler) SetStatus(e *core.RequestEvent) error {
	id, err := agentID(e)
	if err != nil {
		return err
	}

	var req struct {
		Status string `json:"status" validate:"required"`
	}
	if err := bindAndValidate(e, &req); err != nil {
		return err
	}
	st, err := models.ParseAgentStatus(req.Status)
	if err != nil {
		return apis.NewBadRequestError("Invalid status", err)
	}

	if err := h.queueService.SetAgentStatus(e.Request.Context(), id, st); err != nil {
		return fail(e, "set agent status", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"agent_id": id, "status": st})
}

func (h *AgentHandler) Me(e *core.RequestEvent) error {
	id, err := agentID(e)
	if err != nil {
		return err
	}
	agent, err := h.queueService.GetAgent(e.Request.Context(), id)
	if err != nil {
		return fail(e, "get agent", err)
	}
	return e.JSON(http.StatusOK, agent)
}
