package services

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"queue-system/internal/status"
	"queue-system/models"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWaitingTicket(id, number, st string, priority int, at time.Time) *models.Ticket {
	return &models.Ticket{
		ID:          id,
		Number:      number,
		ServiceType: st,
		CitizenID:   "citizen-" + id,
		Status:      models.StatusWaiting,
		Priority:    priority,
		CreatedAt:   at,
		UpdatedAt:   at,
		EnqueuedAt:  at,
	}
}

func seedAgent(t *testing.T, store *RedisTicketStore, id string) {
	t.Helper()
	require.NoError(t, store.SaveAgent(context.Background(), &models.Agent{ID: id, Name: id, Active: true}))
}

func TestRedisTicketStore_CreateAndGet(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	ticket := newWaitingTicket("t1", "G001", "general", 180, testEpoch)
	ticket.SpecialNeeds = []models.SpecialNeed{models.NeedElderly}
	require.NoError(t, store.CreateTicket(ctx, ticket))

	got, err := store.GetTicket(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "G001", got.Number)
	assert.Equal(t, models.StatusWaiting, got.Status)
	assert.Equal(t, 180, got.Priority)
	assert.Equal(t, []models.SpecialNeed{models.NeedElderly}, got.SpecialNeeds)
	assert.True(t, got.EnqueuedAt.Equal(testEpoch))
	assert.Nil(t, got.CalledAt)

	byNumber, err := store.GetTicketByNumber(ctx, "G001")
	require.NoError(t, err)
	assert.Equal(t, "t1", byNumber.ID)

	_, err = store.GetTicket(ctx, "missing")
	assert.ErrorIs(t, err, status.ErrTicketNotFound)
	_, err = store.GetTicketByNumber(ctx, "G999")
	assert.ErrorIs(t, err, status.ErrTicketNotFound)
}

func TestRedisTicketStore_CreateDuplicate(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTicket(ctx, newWaitingTicket("t1", "G001", "general", 100, testEpoch)))

	err := store.CreateTicket(ctx, newWaitingTicket("t2", "G001", "general", 100, testEpoch))
	assert.ErrorIs(t, err, status.ErrDuplicateTicket)

	err = store.CreateTicket(ctx, newWaitingTicket("t1", "G002", "general", 100, testEpoch))
	assert.ErrorIs(t, err, status.ErrDuplicateTicket)

	// the rejected number stays free
	require.NoError(t, store.CreateTicket(ctx, newWaitingTicket("t3", "G002", "general", 100, testEpoch)))
}

func TestRedisTicketStore_CreateRejectsNonWaiting(t *testing.T) {
	store, _ := setupTestStore(t)
	ticket := newWaitingTicket("t1", "G001", "general", 100, testEpoch)
	ticket.Status = models.StatusInProgress

	err := store.CreateTicket(context.Background(), ticket)
	assert.ErrorIs(t, err, status.ErrInvalidTransition)
}

func TestRedisTicketStore_NextTicketNumber(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := store.NextTicketNumber(ctx, "L")
		require.NoError(t, err)
		assert.Equal(t, "L00"+strconv.Itoa(i), n)
	}
	n, err := store.NextTicketNumber(ctx, "G")
	require.NoError(t, err)
	assert.Equal(t, "G001", n)
}

func TestRedisTicketStore_ListWaitingOrdered(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTicket(ctx, newWaitingTicket("a", "G001", "general", 100, testEpoch)))
	require.NoError(t, store.CreateTicket(ctx, newWaitingTicket("b", "G002", "general", 300, testEpoch.Add(time.Minute))))
	require.NoError(t, store.CreateTicket(ctx, newWaitingTicket("c", "L001", "license", 200, testEpoch)))

	general, err := store.ListWaiting(ctx, "general")
	require.NoError(t, err)
	require.Len(t, general, 2)
	assert.Equal(t, "b", general[0].ID)
	assert.Equal(t, "a", general[1].ID)

	all, err := store.ListAllWaiting(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	empty, err := store.ListWaiting(ctx, "passport")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRedisTicketStore_ClaimIsCompareAndSwap(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	seedAgent(t, store, "agent-1")
	seedAgent(t, store, "agent-2")
	require.NoError(t, store.CreateTicket(ctx, newWaitingTicket("t1", "G001", "general", 100, testEpoch)))

	now := testEpoch.Add(3 * time.Minute)
	claimed, err := store.ClaimTicket(ctx, "t1", "general", "agent-1", now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, claimed.Status)
	assert.Equal(t, "agent-1", claimed.AgentID)
	require.NotNil(t, claimed.CalledAt)
	assert.True(t, claimed.CalledAt.Equal(now))

	_, err = store.ClaimTicket(ctx, "t1", "general", "agent-2", now)
	assert.ErrorIs(t, err, status.ErrConcurrentClaim)

	agent, err := store.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "t1", agent.CurrentTicket)
	assert.Equal(t, models.AgentBusy, agent.Status)

	waiting, err := store.ListAllWaiting(ctx)
	require.NoError(t, err)
	assert.Empty(t, waiting)
}

func TestRedisTicketStore_ClaimRejections(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	seedAgent(t, store, "agent-1")
	require.NoError(t, store.SaveAgent(ctx, &models.Agent{ID: "agent-off", Active: false}))
	require.NoError(t, store.CreateTicket(ctx, newWaitingTicket("t1", "G001", "general", 100, testEpoch)))
	require.NoError(t, store.CreateTicket(ctx, newWaitingTicket("t2", "G002", "general", 100, testEpoch)))

	_, err := store.ClaimTicket(ctx, "missing", "general", "agent-1", testEpoch)
	assert.ErrorIs(t, err, status.ErrTicketNotFound)

	_, err = store.ClaimTicket(ctx, "t1", "general", "ghost", testEpoch)
	assert.ErrorIs(t, err, status.ErrAgentNotFound)

	_, err = store.ClaimTicket(ctx, "t1", "general", "agent-off", testEpoch)
	assert.ErrorIs(t, err, status.ErrAgentUnavailable)

	_, err = store.ClaimTicket(ctx, "t1", "general", "agent-1", testEpoch)
	require.NoError(t, err)
	_, err = store.ClaimTicket(ctx, "t2", "general", "agent-1", testEpoch)
	assert.ErrorIs(t, err, status.ErrAgentBusy)

	t2, err := store.GetTicket(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, t2.Status)
}

func TestRedisTicketStore_CloseLifecycle(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	seedAgent(t, store, "agent-1")
	seedAgent(t, store, "agent-2")
	require.NoError(t, store.CreateTicket(ctx, newWaitingTicket("t1", "G001", "general", 100, testEpoch)))
	_, err := store.ClaimTicket(ctx, "t1", "general", "agent-1", testEpoch)
	require.NoError(t, err)

	_, err = store.CloseTicket(ctx, "t1", models.StatusCompleted, "agent-2", testEpoch)
	assert.ErrorIs(t, err, status.ErrNotTicketHolder)

	_, err = store.CloseTicket(ctx, "t1", models.StatusCancelled, "agent-1", testEpoch)
	assert.ErrorIs(t, err, status.ErrInvalidTransition)

	done := testEpoch.Add(7 * time.Minute)
	closed, err := store.CloseTicket(ctx, "t1", models.StatusCompleted, "agent-1", done)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, closed.Status)
	assert.Equal(t, "agent-1", closed.AgentID)
	require.NotNil(t, closed.CompletedAt)
	assert.True(t, closed.CompletedAt.Equal(done))

	agent, err := store.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, agent.CurrentTicket)
	assert.Equal(t, models.AgentAvailable, agent.Status)

	_, err = store.CloseTicket(ctx, "t1", models.StatusCompleted, "agent-1", done)
	assert.ErrorIs(t, err, status.ErrInvalidTransition)
}

func TestRedisTicketStore_NoShowAndRequeue(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	seedAgent(t, store, "agent-1")
	require.NoError(t, store.CreateTicket(ctx, newWaitingTicket("t1", "G001", "general", 100, testEpoch)))

	_, err := store.RequeueTicket(ctx, "t1", "general", 500, testEpoch)
	assert.ErrorIs(t, err, status.ErrInvalidTransition)

	_, err = store.ClaimTicket(ctx, "t1", "general", "agent-1", testEpoch)
	require.NoError(t, err)
	missed, err := store.CloseTicket(ctx, "t1", models.StatusNoShow, "", testEpoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.StatusNoShow, missed.Status)
	assert.Empty(t, missed.AgentID)
	assert.Equal(t, 1, missed.NoShowCount)

	noShows, err := store.ListNoShow(ctx)
	require.NoError(t, err)
	require.Len(t, noShows, 1)

	later := testEpoch.Add(10 * time.Minute)
	requeued, err := store.RequeueTicket(ctx, "t1", "general", 150, later)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, requeued.Status)
	assert.Equal(t, 150, requeued.Priority)
	assert.True(t, requeued.EnqueuedAt.Equal(later))
	assert.True(t, requeued.CreatedAt.Equal(testEpoch))
	assert.Nil(t, requeued.CalledAt)

	noShows, err = store.ListNoShow(ctx)
	require.NoError(t, err)
	assert.Empty(t, noShows)
	waiting, err := store.ListWaiting(ctx, "general")
	require.NoError(t, err)
	assert.Len(t, waiting, 1)
}

func TestRedisTicketStore_Cancel(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateTicket(ctx, newWaitingTicket("t1", "G001", "general", 100, testEpoch)))

	cancelled, err := store.CancelTicket(ctx, "t1", "general", testEpoch)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	_, err = store.CancelTicket(ctx, "t1", "general", testEpoch)
	assert.ErrorIs(t, err, status.ErrInvalidTransition)

	_, err = store.CancelTicket(ctx, "missing", "general", testEpoch)
	assert.ErrorIs(t, err, status.ErrTicketNotFound)
}

func TestRedisTicketStore_UpdatePriorityOnlyWhileWaiting(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	seedAgent(t, store, "agent-1")
	require.NoError(t, store.CreateTicket(ctx, newWaitingTicket("t1", "G001", "general", 100, testEpoch)))

	ok, err := store.UpdatePriority(ctx, "t1", 140, testEpoch)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.ClaimTicket(ctx, "t1", "general", "agent-1", testEpoch)
	require.NoError(t, err)

	ok, err = store.UpdatePriority(ctx, "t1", 999, testEpoch)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetTicket(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 140, got.Priority)
}

func TestRedisTicketStore_AgentStatus(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	seedAgent(t, store, "agent-1")
	require.NoError(t, store.CreateTicket(ctx, newWaitingTicket("t1", "G001", "general", 100, testEpoch)))

	require.NoError(t, store.SetAgentStatus(ctx, "agent-1", models.AgentOnBreak))
	agent, err := store.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, models.AgentOnBreak, agent.Status)

	assert.ErrorIs(t, store.SetAgentStatus(ctx, "ghost", models.AgentAvailable), status.ErrAgentNotFound)

	_, err = store.ClaimTicket(ctx, "t1", "general", "agent-1", testEpoch)
	require.NoError(t, err)
	assert.ErrorIs(t, store.SetAgentStatus(ctx, "agent-1", models.AgentOffline), status.ErrAgentBusy)

	// resaving the profile keeps the claim state
	require.NoError(t, store.SaveAgent(ctx, &models.Agent{ID: "agent-1", Name: "Renamed", Active: true}))
	agent, err = store.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", agent.Name)
	assert.Equal(t, "t1", agent.CurrentTicket)
}

func TestRedisTicketStore_ServiceTypes(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveServiceType(ctx, models.ServiceType{Code: "license", Rank: 2, Active: true}))
	require.NoError(t, store.SaveServiceType(ctx, models.ServiceType{Code: "general", Rank: 1, PriorityWeight: 120, Active: true}))
	require.NoError(t, store.SaveServiceType(ctx, models.ServiceType{Code: "archive", Rank: 1}))

	types, err := store.ListServiceTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 3)
	assert.Equal(t, "archive", types[0].Code)
	assert.False(t, types[0].Active)
	assert.Equal(t, "general", types[1].Code)
	assert.Equal(t, 120, types[1].PriorityWeight)
	assert.Equal(t, "license", types[2].Code)

	require.NoError(t, store.DeleteServiceType(ctx, "archive"))
	types, err = store.ListServiceTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 2)
}

func TestRedisTicketStore_StorageUnavailable(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()
	seedAgent(t, store, "agent-1")
	require.NoError(t, store.CreateTicket(ctx, newWaitingTicket("t1", "G001", "general", 100, testEpoch)))

	mr.SetError("ERR server unavailable")
	_, err := store.ClaimTicket(ctx, "t1", "general", "agent-1", testEpoch)
	assert.ErrorIs(t, err, status.ErrStorageUnavailable)
	_, err = store.GetTicket(ctx, "t1")
	assert.ErrorIs(t, err, status.ErrStorageUnavailable)
	mr.SetError("")

	got, err := store.GetTicket(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, got.Status)
	assert.Empty(t, got.AgentID)
}

func TestRedisTicketStore_GetTicketDecode(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisTicketStore(db)
	defer mock.ClearExpect()

	called := testEpoch.Add(4 * time.Minute)
	mock.ExpectHGetAll("ticket:t9").SetVal(map[string]string{
		"id":            "t9",
		"number":        "L014",
		"service_type":  "license",
		"status":        "in_progress",
		"priority":      "275",
		"agent_id":      "agent-2",
		"special_needs": "pregnant,bogus",
		"no_show_count": "1",
		"created_at":    strconv.FormatInt(testEpoch.UnixNano(), 10),
		"enqueued_at":   strconv.FormatInt(testEpoch.UnixNano(), 10),
		"called_at":     strconv.FormatInt(called.UnixNano(), 10),
		"completed_at":  "",
	})

	got, err := store.GetTicket(context.Background(), "t9")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.Equal(t, 275, got.Priority)
	assert.Equal(t, []models.SpecialNeed{models.NeedPregnant}, got.SpecialNeeds)
	require.NotNil(t, got.CalledAt)
	assert.True(t, got.CalledAt.Equal(called))
	assert.Nil(t, got.CompletedAt)
	assert.True(t, got.Consistent())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisTicketStore_MockedFailures(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisTicketStore(db)
	defer mock.ClearExpect()

	mock.ExpectIncr("ticket:seq:G").SetErr(errors.New("connection refused"))
	_, err := store.NextTicketNumber(context.Background(), "G")
	assert.ErrorIs(t, err, status.ErrStorageUnavailable)

	mock.ExpectHGetAll("agent:agent-1").SetVal(map[string]string{})
	_, err = store.GetAgent(context.Background(), "agent-1")
	assert.ErrorIs(t, err, status.ErrAgentNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
