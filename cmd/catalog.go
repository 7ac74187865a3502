package cmd

import (
	"context"
	"errors"
	"log/slog"

	"queue-system/internal/services"
	"queue-system/internal/status"
	"queue-system/models"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
)

const (
	agentsCollection       = "agents"
	serviceTypesCollection = "service_types"
)

func agentFromRecord(rec *core.Record) *models.Agent {
	var serviceTypes []string
	if raw := rec.GetString("service_types"); raw != "" && raw != "null" {
		if err := rec.UnmarshalJSONField("service_types", &serviceTypes); err != nil {
			slog.Warn("agent service_types is not a list", "agent_id", rec.Id, "error", err)
		}
	}
	return &models.Agent{
		ID:           rec.Id,
		Name:         rec.GetString("name"),
		Role:         models.ParseRole(rec.GetString("role")),
		Active:       rec.GetBool("active"),
		ServiceTypes: serviceTypes,
	}
}

func serviceTypeFromRecord(rec *core.Record) models.ServiceType {
	return models.ServiceType{
		Code:             rec.GetString("code"),
		Name:             rec.GetString("name"),
		TicketPrefix:     rec.GetString("ticket_prefix"),
		PriorityWeight:   rec.GetInt("priority_weight"),
		EstimatedMinutes: rec.GetInt("estimated_minutes"),
		Rank:             rec.GetInt("rank"),
		Active:           rec.GetBool("active"),
	}
}

// syncCatalog mirrors agents and service types from PocketBase into Redis,
// where the claim scripts can read them.
func syncCatalog(ctx context.Context, app core.App, queueService *services.QueueService) error {
	types, err := app.FindAllRecords(serviceTypesCollection)
	if err != nil {
		return err
	}
	for _, rec := range types {
		if err := queueService.SyncServiceType(ctx, serviceTypeFromRecord(rec)); err != nil {
			return err
		}
	}

	agents, err := app.FindAllRecords(agentsCollection)
	if err != nil {
		return err
	}
	for _, rec := range agents {
		if err := queueService.SyncAgent(ctx, agentFromRecord(rec)); err != nil {
			return err
		}
	}

	slog.Info("catalog synced to redis", "service_types", len(types), "agents", len(agents))
	return nil
}

func bindCatalogHooks(app *pocketbase.PocketBase, queueService *services.QueueService) {
	saveServiceType := func(e *core.RecordEvent) error {
		if err := queueService.SyncServiceType(e.Context, serviceTypeFromRecord(e.Record)); err != nil {
			// the record is saved; the next serve resyncs it
			slog.Error("failed to sync service type to redis", "code", e.Record.GetString("code"), "error", err)
		}
		return e.Next()
	}
	app.OnRecordAfterCreateSuccess(serviceTypesCollection).BindFunc(saveServiceType)
	app.OnRecordAfterUpdateSuccess(serviceTypesCollection).BindFunc(saveServiceType)
	app.OnRecordAfterDeleteSuccess(serviceTypesCollection).BindFunc(func(e *core.RecordEvent) error {
		if err := queueService.RemoveServiceType(e.Context, e.Record.GetString("code")); err != nil {
			slog.Error("failed to remove service type from redis", "code", e.Record.GetString("code"), "error", err)
		}
		return e.Next()
	})

	saveAgent := func(e *core.RecordEvent) error {
		if err := queueService.SyncAgent(e.Context, agentFromRecord(e.Record)); err != nil {
			slog.Error("failed to sync agent to redis", "agent_id", e.Record.Id, "error", err)
		}
		return e.Next()
	}
	app.OnRecordAfterCreateSuccess(agentsCollection).BindFunc(saveAgent)
	app.OnRecordAfterUpdateSuccess(agentsCollection).BindFunc(saveAgent)
	app.OnRecordAfterDeleteSuccess(agentsCollection).BindFunc(func(e *core.RecordEvent) error {
		// a deleted agent can no longer claim
		agent := agentFromRecord(e.Record)
		agent.Active = false
		if err := queueService.SyncAgent(e.Context, agent); err != nil {
			slog.Error("failed to deactivate agent in redis", "agent_id", e.Record.Id, "error", err)
		}
		if err := releaseHeldTicket(e.Context, queueService, e.Record.Id); err != nil {
			slog.Error("failed to release ticket of deleted agent", "agent_id", e.Record.Id, "error", err)
		}
		return e.Next()
	})
}

// releaseHeldTicket completes the ticket a removed agent was serving so it
// does not stay in progress forever.
func releaseHeldTicket(ctx context.Context, queueService *services.QueueService, agentID string) error {
	agent, err := queueService.GetAgent(ctx, agentID)
	if errors.Is(err, status.ErrAgentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if agent.CurrentTicket == "" {
		return nil
	}
	ticket, err := queueService.CloseTicket(ctx, agent.CurrentTicket, models.StatusCompleted, "")
	if err != nil {
		return err
	}
	slog.Warn("closed ticket held by deleted agent", "agent_id", agentID, "ticket_id", ticket.ID, "number", ticket.Number)
	return nil
}
