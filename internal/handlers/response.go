package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"queue-system/internal/status"

	"github.com/go-playground/validator/v10"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// bindAndValidate decodes the request body into req and checks its tags.
func bindAndValidate(e *core.RequestEvent, req any) error {
	if err := e.BindBody(req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			return apis.NewBadRequestError("Invalid request", fields)
		}
		return apis.NewBadRequestError("Invalid request", err)
	}
	return nil
}

// fail turns a queue error into an API error with the matching status code.
func fail(e *core.RequestEvent, op string, err error) error {
	code := status.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		slog.Error(op, "path", e.Request.URL.Path, "error", err)
	} else {
		slog.Debug(op, "path", e.Request.URL.Path, "error", err)
	}
	return apis.NewApiError(code, err.Error(), nil)
}

// agentID is the id of the authenticated agent record.
func agentID(e *core.RequestEvent) (string, error) {
	if e.Auth == nil {
		return "", apis.NewUnauthorizedError("Unauthorized", nil)
	}
	return e.Auth.Id, nil
}

// RequireAdmin passes superusers and agents with the admin role.
func RequireAdmin(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Admin access required", nil)
	}
	if e.HasSuperuserAuth() || e.Auth.GetString("role") == "admin" {
		return e.Next()
	}
	return apis.NewForbiddenError("Admin access required", nil)
}
