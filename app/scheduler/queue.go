package scheduler

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// QueuedRecord is the in-memory snapshot of a waiting dispatch record
type QueuedRecord struct {
	ID        string
	Phone     string
	Text      string
	Forced    bool
	CreatedAt time.Time
}

// compareQueued orders forced records first, then newest first
func compareQueued(a, b QueuedRecord) int {
	if a.Forced != b.Forced {
		if a.Forced {
			return -1
		}
		return 1
	}
	return b.CreatedAt.Compare(a.CreatedAt)
}

// PendingQueue is an ordered deque of admitted records, unique by id
type PendingQueue struct {
	mu    sync.Mutex
	items []QueuedRecord
	index map[string]struct{}
}

func NewPendingQueue() *PendingQueue {
	return &PendingQueue{index: make(map[string]struct{})}
}

// Merge adds records that are not queued yet, refreshes the ones that are, and re-sorts the whole
// queue. It returns the number of newly added records.
func (q *PendingQueue) Merge(records []QueuedRecord) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	added := 0
	for _, r := range records {
		if _, ok := q.index[r.ID]; ok {
			i := slices.IndexFunc(q.items, func(it QueuedRecord) bool { return it.ID == r.ID })
			if i >= 0 {
				q.items[i] = r
			}
			continue
		}
		q.index[r.ID] = struct{}{}
		q.items = append(q.items, r)
		added++
	}
	slices.SortStableFunc(q.items, compareQueued)
	return added
}

// PopFront removes and returns up to n records from the head of the queue
func (q *PendingQueue) PopFront(n int) []QueuedRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.items) == 0 {
		return nil
	}
	n = min(n, len(q.items))
	out := slices.Clone(q.items[:n])
	q.items = slices.Delete(q.items, 0, n)
	for _, r := range out {
		delete(q.index, r.ID)
	}
	return out
}

// Remove drops the record with id, reporting whether it was queued
func (q *PendingQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.index[id]; !ok {
		return false
	}
	delete(q.index, id)
	q.items = slices.DeleteFunc(q.items, func(it QueuedRecord) bool { return it.ID == id })
	return true
}

// Clear empties the queue and returns how many records it held
func (q *PendingQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	q.index = make(map[string]struct{})
	return n
}

func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queue in dispatch order
func (q *PendingQueue) Snapshot() []QueuedRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// AwaitingEntry tracks one dispatch id waiting for a delivery report
type AwaitingEntry struct {
	ID          string
	Attempts    int
	FirstSentAt time.Time
}

// AwaitingSet is the unordered set of dispatch ids sent to the gateway and not yet resolved
type AwaitingSet struct {
	mu    sync.Mutex
	items map[string]AwaitingEntry
}

func NewAwaitingSet() *AwaitingSet {
	return &AwaitingSet{items: make(map[string]AwaitingEntry)}
}

// Add inserts entries. An id already present keeps the higher attempt count and the earlier send time.
func (s *AwaitingSet) Add(entries ...AwaitingEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if cur, ok := s.items[e.ID]; ok {
			e.Attempts = max(e.Attempts, cur.Attempts)
			if !cur.FirstSentAt.IsZero() && (e.FirstSentAt.IsZero() || cur.FirstSentAt.Before(e.FirstSentAt)) {
				e.FirstSentAt = cur.FirstSentAt
			}
		}
		s.items[e.ID] = e
	}
}

// Drain returns every entry ordered by id and clears the set
func (s *AwaitingSet) Drain() []AwaitingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AwaitingEntry, 0, len(s.items))
	for _, e := range s.items {
		out = append(out, e)
	}
	s.items = make(map[string]AwaitingEntry)
	slices.SortFunc(out, func(a, b AwaitingEntry) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *AwaitingSet) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}

func (s *AwaitingSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	return ok
}

// Clear empties the set and returns how many ids it held
func (s *AwaitingSet) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.items)
	s.items = make(map[string]AwaitingEntry)
	return n
}

func (s *AwaitingSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
