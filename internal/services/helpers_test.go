package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"queue-system/config"
	"queue-system/models"
	"queue-system/monitoring"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		MaxClaimRetries:     5,
		ClaimBackoff:        0,
		DefaultBasePriority: 100,
		WaitPointsPerMinute: 2,
		MaxWaitBonus:        200,
		NoShowBoost:         50,
		MaxNoShowBoost:      150,
		AgingInterval:       time.Minute,
		NoShowPolicy:        config.NoShowManual,
		NoShowRequeueDelay:  5 * time.Minute,
		MaxNoShowRequeues:   2,
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.QueueEvent
}

func (p *recordingPublisher) Publish(ev models.QueueEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

func (p *recordingPublisher) types() []models.QueueEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.QueueEventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

func setupTestStore(t *testing.T) (*RedisTicketStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisTicketStore(client), mr
}

type testEnv struct {
	svc   *QueueService
	store *RedisTicketStore
	mr    *miniredis.Miniredis
	pub   *recordingPublisher
	clock time.Time
}

// setupTestQueueService seeds two service types and three agents:
// agent-1 serves everything, agent-2 only license, agent-3 is inactive.
func setupTestQueueService(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	store, mr := setupTestStore(t)
	pub := &recordingPublisher{}
	env := &testEnv{
		svc:   NewQueueService(cfg, store, NewQueueIndex(), pub, monitoring.NewMonitor()),
		store: store,
		mr:    mr,
		pub:   pub,
	}
	env.setClock(testEpoch)

	ctx := context.Background()
	require.NoError(t, store.SaveServiceType(ctx, models.ServiceType{
		Code: "general", Name: "General", TicketPrefix: "G", PriorityWeight: 100, EstimatedMinutes: 5, Rank: 1, Active: true,
	}))
	require.NoError(t, store.SaveServiceType(ctx, models.ServiceType{
		Code: "license", Name: "Licensing", TicketPrefix: "L", PriorityWeight: 150, EstimatedMinutes: 10, Rank: 2, Active: true,
	}))
	require.NoError(t, store.SaveServiceType(ctx, models.ServiceType{
		Code: "archive", Name: "Archive", Rank: 3, Active: false,
	}))
	require.NoError(t, store.SaveAgent(ctx, &models.Agent{ID: "agent-1", Name: "Ana", Active: true}))
	require.NoError(t, store.SaveAgent(ctx, &models.Agent{ID: "agent-2", Name: "Ben", Active: true, ServiceTypes: []string{"license"}}))
	require.NoError(t, store.SaveAgent(ctx, &models.Agent{ID: "agent-3", Name: "Cy", Active: false}))
	return env
}

func (env *testEnv) setClock(now time.Time) {
	env.clock = now
	clock := func() time.Time { return env.clock }
	env.svc.now = clock
	env.svc.engine.now = clock
	env.svc.lifecycle.now = clock
}

// listHookStore runs afterList once, right after the first waiting listing
// is read and before the caller acts on it.
type listHookStore struct {
	TicketStore
	once      sync.Once
	afterList func()
}

func (s *listHookStore) ListAllWaiting(ctx context.Context) ([]*models.Ticket, error) {
	waiting, err := s.TicketStore.ListAllWaiting(ctx)
	if err == nil && s.afterList != nil {
		s.once.Do(s.afterList)
	}
	return waiting, err
}

// hookListing routes the service through a listHookStore.
func (env *testEnv) hookListing(afterList func()) {
	hooked := &listHookStore{TicketStore: env.store, afterList: afterList}
	env.svc.store = hooked
	env.svc.engine.store = hooked
	env.svc.lifecycle.store = hooked
}

func (env *testEnv) advance(d time.Duration) {
	env.setClock(env.clock.Add(d))
}

func (env *testEnv) enqueue(t *testing.T, serviceType string, needs ...models.SpecialNeed) *models.Ticket {
	t.Helper()
	ticket, err := env.svc.Enqueue(context.Background(), EnqueueRequest{
		ServiceType:  serviceType,
		CitizenID:    "citizen",
		SpecialNeeds: needs,
	})
	require.NoError(t, err)
	return ticket
}

// checkInvariants asserts that every ticket in the store is consistent and
// that the index holds exactly the waiting ones.
func (env *testEnv) checkInvariants(t *testing.T, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		ticket, err := env.store.GetTicket(ctx, id)
		require.NoError(t, err)
		require.True(t, ticket.Consistent(), "ticket %s status %s agent %q", id, ticket.Status, ticket.AgentID)
		require.Equal(t, ticket.Status == models.StatusWaiting, env.svc.index.Contains(id), "index membership of %s in %s", id, ticket.Status)
	}

	agents, err := env.store.ListAgents(ctx)
	require.NoError(t, err)
	for _, a := range agents {
		if a.CurrentTicket == "" {
			continue
		}
		held, err := env.store.GetTicket(ctx, a.CurrentTicket)
		require.NoError(t, err)
		require.Equal(t, models.StatusInProgress, held.Status)
		require.Equal(t, a.ID, held.AgentID)
	}
}
