package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"queue-system/internal/status"
	"queue-system/models"

	"github.com/redis/go-redis/v9"
)

// TicketStore is the durable source of truth for tickets, agents and service types.
// Every mutation of a ticket is a single atomic unit.
type TicketStore interface {
	NextTicketNumber(ctx context.Context, prefix string) (string, error)
	CreateTicket(ctx context.Context, t *models.Ticket) error
	GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error)
	GetTicketByNumber(ctx context.Context, number string) (*models.Ticket, error)
	ListWaiting(ctx context.Context, serviceType string) ([]*models.Ticket, error)
	ListAllWaiting(ctx context.Context) ([]*models.Ticket, error)
	ListNoShow(ctx context.Context) ([]*models.Ticket, error)

	ClaimTicket(ctx context.Context, ticketID, serviceType, agentID string, now time.Time) (*models.Ticket, error)
	CloseTicket(ctx context.Context, ticketID string, outcome models.TicketStatus, agentID string, now time.Time) (*models.Ticket, error)
	RequeueTicket(ctx context.Context, ticketID, serviceType string, priority int, now time.Time) (*models.Ticket, error)
	CancelTicket(ctx context.Context, ticketID, serviceType string, now time.Time) (*models.Ticket, error)
	UpdatePriority(ctx context.Context, ticketID string, priority int, now time.Time) (bool, error)

	SaveAgent(ctx context.Context, a *models.Agent) error
	GetAgent(ctx context.Context, agentID string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]*models.Agent, error)
	SetAgentStatus(ctx context.Context, agentID string, s models.AgentStatus) error

	SaveServiceType(ctx context.Context, st models.ServiceType) error
	DeleteServiceType(ctx context.Context, code string) error
	ListServiceTypes(ctx context.Context) ([]models.ServiceType, error)
}

const (
	keyTicket         = "ticket:%s"
	keyTicketNumber   = "ticket:number:%s"
	keyTicketSeq      = "ticket:seq:%s"
	keyWaiting        = "tickets:waiting:%s"
	keyWaitingAll     = "tickets:waiting"
	keyNoShow         = "tickets:no_show"
	keyAgentPrefix    = "agent:"
	keyAgents         = "agents"
	keyServiceType    = "service_type:%s"
	keyServiceTypeSet = "service_types"
)

// Script return codes.
const (
	codeTicketNotFound = -1
	codeAgentBusy      = -2
	codeWrongStatus    = -3
	codeAgentNotFound  = -4
	codeAgentInactive  = -5
	codeNotHolder      = -6
)

var createTicketScript = redis.NewScript(`
if redis.call('SETNX', KEYS[2], ARGV[1]) == 0 then
	return 0
end
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('DEL', KEYS[2])
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[1])
return 1
`)

// claimTicketScript is the compare-and-swap at the heart of call-next:
// the ticket must still be waiting and the agent must be active and free.
var claimTicketScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then
	return -1
end
local active = redis.call('HGET', KEYS[2], 'active')
if not active then
	return -4
end
if active ~= '1' then
	return -5
end
local current = redis.call('HGET', KEYS[2], 'current_ticket')
if current and current ~= '' then
	return -2
end
if st ~= 'waiting' then
	return -3
end
redis.call('HSET', KEYS[1], 'status', 'in_progress', 'agent_id', ARGV[2], 'updated_at', ARGV[3], 'called_at', ARGV[3])
redis.call('HSET', KEYS[2], 'current_ticket', ARGV[1], 'status', 'busy')
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('SREM', KEYS[4], ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

var closeTicketScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then
	return -1
end
if st ~= 'in_progress' then
	return -3
end
local holder = redis.call('HGET', KEYS[1], 'agent_id') or ''
if ARGV[2] ~= '' and holder ~= ARGV[2] then
	return -6
end
if holder ~= '' then
	local agentKey = ARGV[4] .. holder
	if redis.call('HGET', agentKey, 'current_ticket') == ARGV[5] then
		redis.call('HSET', agentKey, 'current_ticket', '', 'status', 'available')
	end
end
if ARGV[1] == 'completed' then
	redis.call('HSET', KEYS[1], 'status', 'completed', 'updated_at', ARGV[3], 'completed_at', ARGV[3])
else
	redis.call('HSET', KEYS[1], 'status', 'no_show', 'agent_id', '', 'updated_at', ARGV[3])
	redis.call('HINCRBY', KEYS[1], 'no_show_count', 1)
	redis.call('SADD', KEYS[2], ARGV[5])
end
return redis.call('HGETALL', KEYS[1])
`)

var requeueTicketScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then
	return -1
end
if st ~= 'no_show' then
	return -3
end
redis.call('HSET', KEYS[1], 'status', 'waiting', 'priority', ARGV[2], 'enqueued_at', ARGV[3], 'updated_at', ARGV[3], 'called_at', '')
redis.call('SREM', KEYS[4], ARGV[1])
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

var cancelTicketScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then
	return -1
end
if st ~= 'waiting' then
	return -3
end
redis.call('HSET', KEYS[1], 'status', 'cancelled', 'updated_at', ARGV[2])
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[3], ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

var updatePriorityScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'waiting' then
	return 0
end
redis.call('HSET', KEYS[1], 'priority', ARGV[1], 'updated_at', ARGV[2])
return 1
`)

var setAgentStatusScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -4
end
local current = redis.call('HGET', KEYS[1], 'current_ticket')
if current and current ~= '' then
	return -2
end
redis.call('HSET', KEYS[1], 'status', ARGV[1])
return 1
`)

type RedisTicketStore struct {
	redis *redis.Client
}

func NewRedisTicketStore(redisClient *redis.Client) *RedisTicketStore {
	return &RedisTicketStore{redis: redisClient}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, status.ErrStorageUnavailable, err)
}

func ticketKey(id string) string { return fmt.Sprintf(keyTicket, id) }

func agentKey(id string) string { return keyAgentPrefix + id }

func waitingKey(serviceType string) string { return fmt.Sprintf(keyWaiting, serviceType) }

func (s *RedisTicketStore) NextTicketNumber(ctx context.Context, prefix string) (string, error) {
	seq, err := s.redis.Incr(ctx, fmt.Sprintf(keyTicketSeq, prefix)).Result()
	if err != nil {
		return "", storageErr("next ticket number", err)
	}
	return fmt.Sprintf("%s%03d", prefix, seq), nil
}

func (s *RedisTicketStore) CreateTicket(ctx context.Context, t *models.Ticket) error {
	if t.Status != models.StatusWaiting {
		return fmt.Errorf("create ticket %s in %s: %w", t.Number, t.Status, status.ErrInvalidTransition)
	}

	args := append([]any{t.ID}, encodeTicket(t)...)
	keys := []string{
		ticketKey(t.ID),
		fmt.Sprintf(keyTicketNumber, t.Number),
		waitingKey(t.ServiceType),
		keyWaitingAll,
	}

	created, err := createTicketScript.Run(ctx, s.redis, keys, args...).Int()
	if err != nil {
		return storageErr("create ticket", err)
	}
	if created == 0 {
		return fmt.Errorf("ticket %s: %w", t.Number, status.ErrDuplicateTicket)
	}
	return nil
}

func (s *RedisTicketStore) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	fields, err := s.redis.HGetAll(ctx, ticketKey(ticketID)).Result()
	if err != nil {
		return nil, storageErr("get ticket", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, status.ErrTicketNotFound)
	}
	return decodeTicket(fields), nil
}

func (s *RedisTicketStore) GetTicketByNumber(ctx context.Context, number string) (*models.Ticket, error) {
	id, err := s.redis.Get(ctx, fmt.Sprintf(keyTicketNumber, number)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("ticket %s: %w", number, status.ErrTicketNotFound)
	} else if err != nil {
		return nil, storageErr("get ticket by number", err)
	}
	return s.GetTicket(ctx, id)
}

func (s *RedisTicketStore) ListWaiting(ctx context.Context, serviceType string) ([]*models.Ticket, error) {
	return s.listFromSet(ctx, waitingKey(serviceType), models.StatusWaiting)
}

func (s *RedisTicketStore) ListAllWaiting(ctx context.Context) ([]*models.Ticket, error) {
	return s.listFromSet(ctx, keyWaitingAll, models.StatusWaiting)
}

func (s *RedisTicketStore) ListNoShow(ctx context.Context) ([]*models.Ticket, error) {
	return s.listFromSet(ctx, keyNoShow, models.StatusNoShow)
}

// listFromSet returns the set's tickets that are still in want, in queue order.
func (s *RedisTicketStore) listFromSet(ctx context.Context, setKey string, want models.TicketStatus) ([]*models.Ticket, error) {
	ids, err := s.redis.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, storageErr("list tickets", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, ticketKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, storageErr("list tickets", err)
	}

	tickets := make([]*models.Ticket, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		t := decodeTicket(fields)
		if t.Status == want {
			tickets = append(tickets, t)
		}
	}
	sort.Slice(tickets, func(i, j int) bool {
		return EntryFor(tickets[i]).before(EntryFor(tickets[j]))
	})
	return tickets, nil
}

func (s *RedisTicketStore) ClaimTicket(ctx context.Context, ticketID, serviceType, agentID string, now time.Time) (*models.Ticket, error) {
	keys := []string{ticketKey(ticketID), agentKey(agentID), waitingKey(serviceType), keyWaitingAll}
	res, err := claimTicketScript.Run(ctx, s.redis, keys, ticketID, agentID, encodeTime(now)).Result()
	if err != nil {
		return nil, storageErr("claim ticket", err)
	}
	return s.scriptTicket(ctx, "claim", ticketID, agentID, res, status.ErrConcurrentClaim)
}

func (s *RedisTicketStore) CloseTicket(ctx context.Context, ticketID string, outcome models.TicketStatus, agentID string, now time.Time) (*models.Ticket, error) {
	if outcome != models.StatusCompleted && outcome != models.StatusNoShow {
		return nil, fmt.Errorf("close ticket %s as %s: %w", ticketID, outcome, status.ErrInvalidTransition)
	}
	keys := []string{ticketKey(ticketID), keyNoShow}
	res, err := closeTicketScript.Run(ctx, s.redis, keys, string(outcome), agentID, encodeTime(now), keyAgentPrefix, ticketID).Result()
	if err != nil {
		return nil, storageErr("close ticket", err)
	}
	return s.scriptTicket(ctx, "close", ticketID, agentID, res, status.ErrInvalidTransition)
}

func (s *RedisTicketStore) RequeueTicket(ctx context.Context, ticketID, serviceType string, priority int, now time.Time) (*models.Ticket, error) {
	keys := []string{ticketKey(ticketID), waitingKey(serviceType), keyWaitingAll, keyNoShow}
	res, err := requeueTicketScript.Run(ctx, s.redis, keys, ticketID, priority, encodeTime(now)).Result()
	if err != nil {
		return nil, storageErr("requeue ticket", err)
	}
	return s.scriptTicket(ctx, "requeue", ticketID, "", res, status.ErrInvalidTransition)
}

func (s *RedisTicketStore) CancelTicket(ctx context.Context, ticketID, serviceType string, now time.Time) (*models.Ticket, error) {
	keys := []string{ticketKey(ticketID), waitingKey(serviceType), keyWaitingAll}
	res, err := cancelTicketScript.Run(ctx, s.redis, keys, ticketID, encodeTime(now)).Result()
	if err != nil {
		return nil, storageErr("cancel ticket", err)
	}
	return s.scriptTicket(ctx, "cancel", ticketID, "", res, status.ErrInvalidTransition)
}

func (s *RedisTicketStore) UpdatePriority(ctx context.Context, ticketID string, priority int, now time.Time) (bool, error) {
	updated, err := updatePriorityScript.Run(ctx, s.redis, []string{ticketKey(ticketID)}, priority, encodeTime(now)).Int()
	if err != nil {
		return false, storageErr("update priority", err)
	}
	return updated == 1, nil
}

// scriptTicket turns a transition script reply into a ticket or a taxonomy error.
// wrongStatus is what a status mismatch means for this operation.
func (s *RedisTicketStore) scriptTicket(ctx context.Context, op, ticketID, agentID string, res any, wrongStatus error) (*models.Ticket, error) {
	switch v := res.(type) {
	case []any:
		fields := make(map[string]string, len(v)/2)
		for i := 0; i+1 < len(v); i += 2 {
			k, _ := v[i].(string)
			val, _ := v[i+1].(string)
			fields[k] = val
		}
		return decodeTicket(fields), nil
	case int64:
		switch v {
		case codeTicketNotFound:
			return nil, fmt.Errorf("%s ticket %s: %w", op, ticketID, status.ErrTicketNotFound)
		case codeAgentBusy:
			return nil, fmt.Errorf("%s ticket %s by %s: %w", op, ticketID, agentID, status.ErrAgentBusy)
		case codeAgentNotFound:
			return nil, fmt.Errorf("%s ticket %s by %s: %w", op, ticketID, agentID, status.ErrAgentNotFound)
		case codeAgentInactive:
			return nil, fmt.Errorf("%s ticket %s by %s: %w", op, ticketID, agentID, status.ErrAgentUnavailable)
		case codeNotHolder:
			return nil, fmt.Errorf("%s ticket %s by %s: %w", op, ticketID, agentID, status.ErrNotTicketHolder)
		case codeWrongStatus:
			current := "unknown"
			if t, err := s.GetTicket(ctx, ticketID); err == nil {
				current = string(t.Status)
			}
			return nil, fmt.Errorf("%s ticket %s from %s: %w", op, ticketID, current, wrongStatus)
		}
	}
	return nil, storageErr(op, fmt.Errorf("unexpected script reply %v", res))
}

func (s *RedisTicketStore) SaveAgent(ctx context.Context, a *models.Agent) error {
	key := agentKey(a.ID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"id":            a.ID,
			"name":          a.Name,
			"role":          string(a.Role),
			"active":        encodeBool(a.Active),
			"service_types": strings.Join(a.ServiceTypes, ","),
		})
		// runtime state belongs to the claim path
		pipe.HSetNX(ctx, key, "status", string(models.AgentAvailable))
		pipe.HSetNX(ctx, key, "current_ticket", "")
		pipe.SAdd(ctx, keyAgents, a.ID)
		return nil
	})
	if err != nil {
		return storageErr("save agent", err)
	}
	return nil
}

func (s *RedisTicketStore) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	fields, err := s.redis.HGetAll(ctx, agentKey(agentID)).Result()
	if err != nil {
		return nil, storageErr("get agent", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("agent %s: %w", agentID, status.ErrAgentNotFound)
	}
	return decodeAgent(fields), nil
}

func (s *RedisTicketStore) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	ids, err := s.redis.SMembers(ctx, keyAgents).Result()
	if err != nil {
		return nil, storageErr("list agents", err)
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, agentKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, storageErr("list agents", err)
		}
	}

	agents := make([]*models.Agent, 0, len(ids))
	for _, cmd := range cmds {
		if fields := cmd.Val(); len(fields) > 0 {
			agents = append(agents, decodeAgent(fields))
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

func (s *RedisTicketStore) SetAgentStatus(ctx context.Context, agentID string, st models.AgentStatus) error {
	code, err := setAgentStatusScript.Run(ctx, s.redis, []string{agentKey(agentID)}, string(st)).Int()
	if err != nil {
		return storageErr("set agent status", err)
	}
	switch code {
	case codeAgentNotFound:
		return fmt.Errorf("agent %s: %w", agentID, status.ErrAgentNotFound)
	case codeAgentBusy:
		return fmt.Errorf("agent %s to %s: %w", agentID, st, status.ErrAgentBusy)
	}
	return nil
}

func (s *RedisTicketStore) SaveServiceType(ctx context.Context, st models.ServiceType) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, fmt.Sprintf(keyServiceType, st.Code), map[string]any{
			"code":              st.Code,
			"name":              st.Name,
			"ticket_prefix":     st.TicketPrefix,
			"priority_weight":   st.PriorityWeight,
			"estimated_minutes": st.EstimatedMinutes,
			"rank":              st.Rank,
			"active":            encodeBool(st.Active),
		})
		pipe.SAdd(ctx, keyServiceTypeSet, st.Code)
		return nil
	})
	if err != nil {
		return storageErr("save service type", err)
	}
	return nil
}

func (s *RedisTicketStore) DeleteServiceType(ctx context.Context, code string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, fmt.Sprintf(keyServiceType, code))
		pipe.SRem(ctx, keyServiceTypeSet, code)
		return nil
	})
	if err != nil {
		return storageErr("delete service type", err)
	}
	return nil
}

func (s *RedisTicketStore) ListServiceTypes(ctx context.Context) ([]models.ServiceType, error) {
	codes, err := s.redis.SMembers(ctx, keyServiceTypeSet).Result()
	if err != nil {
		return nil, storageErr("list service types", err)
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(codes))
	for i, code := range codes {
		cmds[i] = pipe.HGetAll(ctx, fmt.Sprintf(keyServiceType, code))
	}
	if len(codes) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, storageErr("list service types", err)
		}
	}

	types := make([]models.ServiceType, 0, len(codes))
	for _, cmd := range cmds {
		f := cmd.Val()
		if len(f) == 0 {
			continue
		}
		types = append(types, models.ServiceType{
			Code:             f["code"],
			Name:             f["name"],
			TicketPrefix:     f["ticket_prefix"],
			PriorityWeight:   atoi(f["priority_weight"]),
			EstimatedMinutes: atoi(f["estimated_minutes"]),
			Rank:             atoi(f["rank"]),
			Active:           f["active"] == "1",
		})
	}
	sort.Slice(types, func(i, j int) bool {
		if types[i].Rank != types[j].Rank {
			return types[i].Rank < types[j].Rank
		}
		return types[i].Code < types[j].Code
	})
	return types, nil
}

func encodeTicket(t *models.Ticket) []any {
	return []any{
		"id", t.ID,
		"number", t.Number,
		"service_type", t.ServiceType,
		"citizen_id", t.CitizenID,
		"pe_code", t.PECode,
		"status", string(t.Status),
		"priority", strconv.Itoa(t.Priority),
		"agent_id", t.AgentID,
		"special_needs", models.JoinSpecialNeeds(t.SpecialNeeds),
		"no_show_count", strconv.Itoa(t.NoShowCount),
		"created_at", encodeTime(t.CreatedAt),
		"updated_at", encodeTime(t.UpdatedAt),
		"enqueued_at", encodeTime(t.EnqueuedAt),
		"called_at", encodeTimePtr(t.CalledAt),
		"completed_at", encodeTimePtr(t.CompletedAt),
	}
}

func decodeTicket(f map[string]string) *models.Ticket {
	st, _ := models.ParseTicketStatus(f["status"])
	return &models.Ticket{
		ID:           f["id"],
		Number:       f["number"],
		ServiceType:  f["service_type"],
		CitizenID:    f["citizen_id"],
		PECode:       f["pe_code"],
		Status:       st,
		Priority:     atoi(f["priority"]),
		AgentID:      f["agent_id"],
		SpecialNeeds: models.ParseSpecialNeeds(f["special_needs"]),
		NoShowCount:  atoi(f["no_show_count"]),
		CreatedAt:    decodeTime(f["created_at"]),
		UpdatedAt:    decodeTime(f["updated_at"]),
		EnqueuedAt:   decodeTime(f["enqueued_at"]),
		CalledAt:     decodeTimePtr(f["called_at"]),
		CompletedAt:  decodeTimePtr(f["completed_at"]),
	}
}

func decodeAgent(f map[string]string) *models.Agent {
	st, err := models.ParseAgentStatus(f["status"])
	if err != nil {
		st = models.AgentOffline
	}
	var serviceTypes []string
	if raw := f["service_types"]; raw != "" {
		serviceTypes = strings.Split(raw, ",")
	}
	return &models.Agent{
		ID:            f["id"],
		Name:          f["name"],
		Role:          models.ParseRole(f["role"]),
		Status:        st,
		Active:        f["active"] == "1",
		ServiceTypes:  serviceTypes,
		CurrentTicket: f["current_ticket"],
	}
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func encodeTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return encodeTime(*t)
}

func decodeTime(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func decodeTimePtr(s string) *time.Time {
	t := decodeTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

func encodeBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
