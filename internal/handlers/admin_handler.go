package handlers

import (
	"net/http"
	"strconv"

	"queue-system/internal/services"
	"queue-system/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type AdminHandler struct {
	queueService *services.QueueService
	audit        *services.AuditRecorder
}

func NewAdminHandler(queueService *services.QueueService, audit *services.AuditRecorder) *AdminHandler {
	return &AdminHandler{
		queueService: queueService,
		audit:        audit,
	}
}

// RequeueTicket puts a no-show ticket back in line.
func (h *AdminHandler) RequeueTicket(e *core.RequestEvent) error {
	ticket, err := h.queueService.RequeueTicket(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		return fail(e, "requeue ticket", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"ticket": ticket})
}

func (h *AdminHandler) CancelTicket(e *core.RequestEvent) error {
	ticket, err := h.queueService.CancelTicket(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		return fail(e, "cancel ticket", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"ticket": ticket})
}

// CloseTicket ends an in-progress ticket on behalf of whichever agent holds
// it, for example one whose account was removed mid-service.
func (h *AdminHandler) CloseTicket(e *core.RequestEvent) error {
	var req struct {
		Outcome string `json:"outcome" validate:"required,oneof=completed no_show"`
	}
	if err := bindAndValidate(e, &req); err != nil {
		return err
	}

	ticket, err := h.queueService.CloseTicket(e.Request.Context(), e.Request.PathValue("id"), models.TicketStatus(req.Outcome), "")
	if err != nil {
		return fail(e, "close ticket", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"ticket": ticket})
}

// AssignTicket hands a specific ticket to a specific agent.
func (h *AdminHandler) AssignTicket(e *core.RequestEvent) error {
	var req struct {
		AgentID string `json:"agent_id" validate:"required"`
	}
	if err := bindAndValidate(e, &req); err != nil {
		return err
	}

	ticket, err := h.queueService.AssignTicket(e.Request.Context(), e.Request.PathValue("id"), req.AgentID)
	if err != nil {
		return fail(e, "assign ticket", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"ticket": ticket})
}

func (h *AdminHandler) RebuildIndex(e *core.RequestEvent) error {
	n, err := h.queueService.RebuildIndex(e.Request.Context())
	if err != nil {
		return fail(e, "rebuild index", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"indexed": n})
}

func (h *AdminHandler) RunAging(e *core.RequestEvent) error {
	n, err := h.queueService.AgingPass(e.Request.Context())
	if err != nil {
		return fail(e, "aging pass", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"reprioritized": n})
}

func (h *AdminHandler) TicketHistory(e *core.RequestEvent) error {
	limit := 100
	if raw := e.Request.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return apis.NewBadRequestError("Invalid limit", nil)
		}
		limit = n
	}

	ticketID := e.Request.PathValue("id")
	history, err := h.audit.History(ticketID, limit)
	if err != nil {
		return fail(e, "ticket history", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"ticket_id": ticketID, "events": history})
}
