package status

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidTransition  = errors.New("ticket: invalid status transition")
	ErrAgentBusy          = errors.New("agent: already holding an active ticket")
	ErrNoTicketAvailable  = errors.New("queue: no ticket available")
	ErrConcurrentClaim    = errors.New("ticket: claimed concurrently")
	ErrDuplicateTicket    = errors.New("ticket: duplicate ticket")
	ErrStorageUnavailable = errors.New("storage: unavailable")

	ErrTicketNotFound       = errors.New("ticket: not found")
	ErrAgentNotFound        = errors.New("agent: not found")
	ErrAgentUnavailable     = errors.New("agent: inactive")
	ErrServiceNotAuthorized = errors.New("agent: not authorized for service type")
	ErrNotTicketHolder      = errors.New("agent: ticket held by another agent")
	ErrUnknownServiceType   = errors.New("service type: unknown")
	ErrInvalidAgentStatus   = errors.New("agent: status cannot be set directly")
)

// HTTPStatus maps an error from the queue core to the code a handler should answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil, errors.Is(err, ErrNoTicketAvailable):
		return http.StatusOK
	case errors.Is(err, ErrTicketNotFound), errors.Is(err, ErrAgentNotFound), errors.Is(err, ErrUnknownServiceType):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAgentBusy), errors.Is(err, ErrDuplicateTicket), errors.Is(err, ErrConcurrentClaim):
		return http.StatusConflict
	case errors.Is(err, ErrAgentUnavailable), errors.Is(err, ErrServiceNotAuthorized), errors.Is(err, ErrNotTicketHolder):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidAgentStatus):
		return http.StatusBadRequest
	case errors.Is(err, ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
