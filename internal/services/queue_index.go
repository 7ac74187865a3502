package services

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"queue-system/internal/status"
	"queue-system/models"
)

type IndexEntry struct {
	TicketID    string
	ServiceType string
	Priority    int
	EnqueuedAt  time.Time
}

func EntryFor(t *models.Ticket) IndexEntry {
	return IndexEntry{
		TicketID:    t.ID,
		ServiceType: t.ServiceType,
		Priority:    t.Priority,
		EnqueuedAt:  t.EnqueuedAt,
	}
}

// before orders by priority desc, then arrival asc, then ticket id asc.
func (e IndexEntry) before(o IndexEntry) bool {
	if e.Priority != o.Priority {
		return e.Priority > o.Priority
	}
	if !e.EnqueuedAt.Equal(o.EnqueuedAt) {
		return e.EnqueuedAt.Before(o.EnqueuedAt)
	}
	return e.TicketID < o.TicketID
}

// IndexChanges records the inserts and removals applied to an index after
// Track was called. A store listing taken after Track is merged against it so
// that claims, cancels and enqueues racing with the listing are not undone.
type IndexChanges struct {
	removed  map[string]bool
	inserted map[string]IndexEntry
}

// QueueIndex is the in-memory ordered view of waiting tickets per service type.
// It is a cache of the ticket store and is rebuilt from it with Reset.
type QueueIndex struct {
	mu       sync.RWMutex
	queues   map[string][]IndexEntry
	where    map[string]string // ticket id -> service type
	inflight map[string]bool   // taken out for a claim that has not settled
	trackers map[*IndexChanges]struct{}
}

func NewQueueIndex() *QueueIndex {
	return &QueueIndex{
		queues:   make(map[string][]IndexEntry),
		where:    make(map[string]string),
		inflight: make(map[string]bool),
		trackers: make(map[*IndexChanges]struct{}),
	}
}

// Track starts recording changes. Call it before reading the store and
// Untrack once the listing has been applied.
func (q *QueueIndex) Track() *IndexChanges {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := &IndexChanges{removed: make(map[string]bool), inserted: make(map[string]IndexEntry)}
	q.trackers[c] = struct{}{}
	return c
}

func (q *QueueIndex) Untrack(c *IndexChanges) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.trackers, c)
}

func (q *QueueIndex) Insert(e IndexEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.where[e.TicketID]; ok {
		return fmt.Errorf("index insert %s: %w", e.TicketID, status.ErrDuplicateTicket)
	}
	q.insertLocked(e)
	return nil
}

func (q *QueueIndex) insertLocked(e IndexEntry) {
	queue := q.queues[e.ServiceType]
	pos := sort.Search(len(queue), func(i int) bool { return e.before(queue[i]) })
	q.queues[e.ServiceType] = slices.Insert(queue, pos, e)
	q.where[e.TicketID] = e.ServiceType
	for c := range q.trackers {
		c.inserted[e.TicketID] = e
		delete(c.removed, e.TicketID)
	}
}

// Remove reports whether the ticket was present.
func (q *QueueIndex) Remove(ticketID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.removeLocked(ticketID)
	return ok
}

func (q *QueueIndex) removeLocked(ticketID string) (IndexEntry, bool) {
	st, ok := q.where[ticketID]
	if !ok {
		return IndexEntry{}, false
	}
	queue := q.queues[st]
	i := slices.IndexFunc(queue, func(e IndexEntry) bool { return e.TicketID == ticketID })
	delete(q.where, ticketID)
	if i < 0 {
		return IndexEntry{}, false
	}
	e := queue[i]
	queue = slices.Delete(queue, i, i+1)
	if len(queue) == 0 {
		delete(q.queues, st)
	} else {
		q.queues[st] = queue
	}
	for c := range q.trackers {
		c.removed[ticketID] = true
		delete(c.inserted, ticketID)
	}
	return e, true
}

func (q *QueueIndex) PeekBest(serviceType string) (IndexEntry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	queue := q.queues[serviceType]
	if len(queue) == 0 {
		return IndexEntry{}, false
	}
	return queue[0], true
}

// Reserve removes and returns the best entry of the first non-empty
// service type, scanning serviceTypes in order. The ticket stays in flight
// until Release or Restore.
func (q *QueueIndex) Reserve(serviceTypes []string) (IndexEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, st := range serviceTypes {
		queue := q.queues[st]
		if len(queue) == 0 {
			continue
		}
		e, _ := q.removeLocked(queue[0].TicketID)
		q.inflight[e.TicketID] = true
		return e, true
	}
	return IndexEntry{}, false
}

// Take removes a specific ticket and marks it in flight. It reports whether
// the ticket was indexed.
func (q *QueueIndex) Take(ticketID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.removeLocked(ticketID)
	q.inflight[ticketID] = true
	return ok
}

// Release ends the in-flight state of a ticket that has left the waiting
// state. Trackers see it as removed.
func (q *QueueIndex) Release(ticketID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, ticketID)
	for c := range q.trackers {
		c.removed[ticketID] = true
		delete(c.inserted, ticketID)
	}
}

// Restore puts back an entry whose claim failed and releases it.
func (q *QueueIndex) Restore(e IndexEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, e.TicketID)
	if _, ok := q.where[e.TicketID]; ok {
		return fmt.Errorf("index restore %s: %w", e.TicketID, status.ErrDuplicateTicket)
	}
	q.insertLocked(e)
	return nil
}

func (q *QueueIndex) InFlight(ticketID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.inflight[ticketID]
}

// Reconcile inserts an entry a store listing found missing. It refuses when
// the ticket is indexed, in flight, or was removed since c started.
func (q *QueueIndex) Reconcile(e IndexEntry, c *IndexChanges) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.where[e.TicketID]; ok || q.inflight[e.TicketID] {
		return false
	}
	if c != nil && c.removed[e.TicketID] {
		return false
	}
	q.insertLocked(e)
	return true
}

// DropStale removes an entry a store listing did not contain, unless it was
// inserted since c started.
func (q *QueueIndex) DropStale(ticketID string, c *IndexChanges) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if c != nil {
		if _, ok := c.inserted[ticketID]; ok {
			return false
		}
	}
	_, ok := q.removeLocked(ticketID)
	return ok
}

// Reprioritize is a no-op when the ticket is no longer indexed.
func (q *QueueIndex) Reprioritize(ticketID string, priority int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.removeLocked(ticketID)
	if !ok {
		return false
	}
	e.Priority = priority
	q.insertLocked(e)
	return true
}

func (q *QueueIndex) Depth(serviceType string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queues[serviceType])
}

func (q *QueueIndex) Contains(ticketID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.where[ticketID]
	return ok
}

// Position returns the 1-based place of a ticket within its service type.
func (q *QueueIndex) Position(ticketID string) (int, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	st, ok := q.where[ticketID]
	if !ok {
		return 0, false
	}
	i := slices.IndexFunc(q.queues[st], func(e IndexEntry) bool { return e.TicketID == ticketID })
	if i < 0 {
		return 0, false
	}
	return i + 1, true
}

func (q *QueueIndex) Snapshot(serviceType string) []IndexEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return slices.Clone(q.queues[serviceType])
}

func (q *QueueIndex) SnapshotAll() []IndexEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var all []IndexEntry
	for _, queue := range q.queues {
		all = append(all, queue...)
	}
	return all
}

func (q *QueueIndex) ServiceTypes() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	types := make([]string, 0, len(q.queues))
	for st := range q.queues {
		types = append(types, st)
	}
	sort.Strings(types)
	return types
}

// Reset replaces the whole index with a store listing. With a non-nil c the
// listing is merged with the changes made since c started: removed and
// in-flight tickets are left out and newer inserts win. Duplicate ticket ids
// keep the first entry.
func (q *QueueIndex) Reset(entries []IndexEntry, c *IndexChanges) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var inserted map[string]IndexEntry
	if c != nil {
		inserted = maps.Clone(c.inserted)
	}

	q.queues = make(map[string][]IndexEntry)
	q.where = make(map[string]string, len(entries))
	apply := func(e IndexEntry) {
		if _, ok := q.where[e.TicketID]; ok || q.inflight[e.TicketID] {
			return
		}
		q.insertLocked(e)
	}
	for _, e := range entries {
		if c != nil && c.removed[e.TicketID] {
			continue
		}
		if newer, ok := inserted[e.TicketID]; ok {
			e = newer
			delete(inserted, e.TicketID)
		}
		apply(e)
	}
	for _, e := range inserted {
		apply(e)
	}
}
