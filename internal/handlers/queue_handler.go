// handlers/queue_handler.go
package handlers

import (
	"net/http"

	"queue-system/internal/services"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type QueueHandler struct {
	queueService *services.QueueService
}

func NewQueueHandler(queueService *services.QueueService) *QueueHandler {
	return &QueueHandler{queueService: queueService}
}

// EnqueueTicket issues a ticket from a kiosk.
func (h *QueueHandler) EnqueueTicket(e *core.RequestEvent) error {
	var req services.EnqueueRequest
	if err := bindAndValidate(e, &req); err != nil {
		return err
	}

	ticket, err := h.queueService.Enqueue(e.Request.Context(), req)
	if err != nil {
		return fail(e, "enqueue ticket", err)
	}

	pos, err := h.queueService.Position(e.Request.Context(), ticket.Number)
	if err != nil {
		// the ticket exists; the position is best effort
		return e.JSON(http.StatusCreated, map[string]any{"ticket": ticket})
	}
	return e.JSON(http.StatusCreated, pos)
}

// GetTicketPosition - ticket status and place in line by ticket number
func (h *QueueHandler) GetTicketPosition(e *core.RequestEvent) error {
	number := e.Request.PathValue("number")
	if number == "" {
		return apis.NewBadRequestError("Ticket number required", nil)
	}

	pos, err := h.queueService.Position(e.Request.Context(), number)
	if err != nil {
		return fail(e, "ticket position", err)
	}
	return e.JSON(http.StatusOK, pos)
}

// GetQueues - display board summary of every active service type
func (h *QueueHandler) GetQueues(e *core.RequestEvent) error {
	stats, err := h.queueService.Stats(e.Request.Context())
	if err != nil {
		return fail(e, "queue stats", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"queues": stats})
}

func (h *QueueHandler) PeekNext(e *core.RequestEvent) error {
	serviceType := e.Request.PathValue("serviceType")

	ticket, err := h.queueService.PeekNext(e.Request.Context(), serviceType)
	if err != nil {
		return fail(e, "peek next", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"service_type": serviceType, "ticket": ticket})
}

func (h *QueueHandler) GetDepth(e *core.RequestEvent) error {
	serviceType := e.Request.PathValue("serviceType")
	return e.JSON(http.StatusOK, map[string]any{
		"service_type": serviceType,
		"depth":        h.queueService.QueueDepth(serviceType),
	})
}
