package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"queue-system/config"
	"queue-system/internal/services"
	"queue-system/models"
	"queue-system/monitoring"

	"github.com/alicebob/miniredis/v2"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type discardEvents struct{}

func (discardEvents) Publish(models.QueueEvent) bool { return true }

func setupStore(t *testing.T) services.TicketStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return services.NewRedisTicketStore(client)
}

func newQueueService(store services.TicketStore) *services.QueueService {
	cfg := &config.Config{MaxClaimRetries: 3, DefaultBasePriority: 100, WaitPointsPerMinute: 2, MaxWaitBonus: 200}
	return services.NewQueueService(cfg, store, services.NewQueueIndex(), discardEvents{}, monitoring.NewMonitor())
}

func setupQueueService(t *testing.T) *services.QueueService {
	t.Helper()
	return newQueueService(setupStore(t))
}

func TestServiceTypeFromRecord(t *testing.T) {
	col := core.NewBaseCollection(serviceTypesCollection)
	col.Fields.Add(
		&core.TextField{Name: "code"},
		&core.TextField{Name: "name"},
		&core.TextField{Name: "ticket_prefix"},
		&core.NumberField{Name: "priority_weight"},
		&core.NumberField{Name: "estimated_minutes"},
		&core.NumberField{Name: "rank"},
		&core.BoolField{Name: "active"},
	)
	rec := core.NewRecord(col)
	rec.Set("code", "license")
	rec.Set("name", "Licensing")
	rec.Set("ticket_prefix", "L")
	rec.Set("priority_weight", 150)
	rec.Set("estimated_minutes", 10)
	rec.Set("rank", 2)
	rec.Set("active", true)

	assert.Equal(t, models.ServiceType{
		Code:             "license",
		Name:             "Licensing",
		TicketPrefix:     "L",
		PriorityWeight:   150,
		EstimatedMinutes: 10,
		Rank:             2,
		Active:           true,
	}, serviceTypeFromRecord(rec))
}

func TestAgentFromRecord(t *testing.T) {
	col := core.NewAuthCollection(agentsCollection)
	col.Fields.Add(
		&core.TextField{Name: "name"},
		&core.TextField{Name: "role"},
		&core.BoolField{Name: "active"},
		&core.JSONField{Name: "service_types"},
	)

	rec := core.NewRecord(col)
	rec.Id = "agent-2"
	rec.Set("name", "Ben")
	rec.Set("role", "admin")
	rec.Set("active", true)
	rec.Set("service_types", []string{"license", "general"})

	agent := agentFromRecord(rec)
	assert.Equal(t, "agent-2", agent.ID)
	assert.Equal(t, models.RoleAdmin, agent.Role)
	assert.True(t, agent.Active)
	assert.Equal(t, []string{"license", "general"}, agent.ServiceTypes)

	bare := core.NewRecord(col)
	bare.Id = "agent-3"
	agent = agentFromRecord(bare)
	assert.Equal(t, models.RoleAgent, agent.Role)
	assert.Empty(t, agent.ServiceTypes, "no list means every service type")
}

func TestReleaseHeldTicket(t *testing.T) {
	qs := setupQueueService(t)
	ctx := context.Background()
	require.NoError(t, qs.SyncServiceType(ctx, models.ServiceType{Code: "general", TicketPrefix: "G", EstimatedMinutes: 5, Rank: 1, Active: true}))
	require.NoError(t, qs.SyncAgent(ctx, &models.Agent{ID: "agent-1", Active: true}))
	ticket, err := qs.Enqueue(ctx, services.EnqueueRequest{ServiceType: "general", CitizenID: "c"})
	require.NoError(t, err)
	_, err = qs.CallNext(ctx, "agent-1", "general")
	require.NoError(t, err)

	// the delete hook deactivates the agent first
	require.NoError(t, qs.SyncAgent(ctx, &models.Agent{ID: "agent-1", Active: false}))
	require.NoError(t, releaseHeldTicket(ctx, qs, "agent-1"))

	closed, err := qs.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, closed.Status)
	agent, err := qs.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, agent.CurrentTicket)

	assert.NoError(t, releaseHeldTicket(ctx, qs, "agent-1"), "nothing left to release")
	assert.NoError(t, releaseHeldTicket(ctx, qs, "never-synced"))
}

func TestQueueCommand_Depth(t *testing.T) {
	qs := setupQueueService(t)
	ctx := context.Background()
	require.NoError(t, qs.SyncServiceType(ctx, models.ServiceType{Code: "general", TicketPrefix: "G", EstimatedMinutes: 5, Rank: 1, Active: true}))
	_, err := qs.Enqueue(ctx, services.EnqueueRequest{ServiceType: "general", CitizenID: "c"})
	require.NoError(t, err)

	var out bytes.Buffer
	cmd := NewQueueCommand(qs)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"depth"})
	require.NoError(t, cmd.ExecuteContext(ctx))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "SERVICE"))
	assert.Equal(t, []string{"general", "1", "0", "5", "G001"}, strings.Fields(lines[1]))
}

func TestQueueCommand_Aging(t *testing.T) {
	var out bytes.Buffer
	cmd := NewQueueCommand(setupQueueService(t))
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"aging"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, "reprioritized 0 tickets\n", out.String())
}

func TestQueueCommand_AgingLoadsIndex(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	server := newQueueService(store)
	require.NoError(t, server.SyncServiceType(ctx, models.ServiceType{Code: "general", TicketPrefix: "G", EstimatedMinutes: 5, Rank: 1, Active: true}))
	_, err := server.Enqueue(ctx, services.EnqueueRequest{ServiceType: "general", CitizenID: "c"})
	require.NoError(t, err)

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	// a fresh process starts with an empty index
	cli := newQueueService(store)
	var out bytes.Buffer
	cmd := NewQueueCommand(cli)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"aging"})
	require.NoError(t, cmd.ExecuteContext(ctx))

	assert.Equal(t, 1, cli.QueueDepth("general"))
	assert.NotContains(t, logs.String(), "missing from index")
}

func TestQueueCommand_KioskKey(t *testing.T) {
	var out bytes.Buffer
	cmd := NewQueueCommand(setupQueueService(t))
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"kiosk-key", "lobby-1"})
	require.NoError(t, cmd.Execute())

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("lobby-1")))

	cmd.SetArgs([]string{"kiosk-key"})
	assert.Error(t, cmd.Execute())
}
