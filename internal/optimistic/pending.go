package optimistic

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/ghostbridge/internal/ir"
)

// PendingMutation is a sent mutation not yet confirmed by the engine.
type PendingMutation struct {
	ID     ir.MutationID
	SentAt time.Time
	// ExpiresAfter is informational; zero means never.
	ExpiresAfter time.Duration
}

// Expired reports whether the mutation is overdue at now.
func (m PendingMutation) Expired(now time.Time) bool {
	return m.ExpiresAfter > 0 && now.Sub(m.SentAt) >= m.ExpiresAfter
}

// PendingTable tracks in-flight mutations ordered by id. It never acts on
// expiry itself; callers decide what an overdue mutation means.
//
// Thread-safety: PendingTable is safe for concurrent use.
type PendingTable struct {
	mu      sync.Mutex
	entries []PendingMutation
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{}
}

// Add records m. Ids are expected to arrive in increasing order; an out of
// order id is inserted in place.
func (t *PendingTable) Add(m PendingMutation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.entries)
	if n == 0 || t.entries[n-1].ID < m.ID {
		t.entries = append(t.entries, m)
		return
	}
	i := sort.Search(n, func(i int) bool { return t.entries[i].ID >= m.ID })
	if i < n && t.entries[i].ID == m.ID {
		t.entries[i] = m
		return
	}
	t.entries = append(t.entries, PendingMutation{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = m
}

// Resolve removes every mutation with id <= upTo and returns how many were
// removed. The engine applies mutations in order, so confirming one
// confirms all earlier ones.
func (t *PendingTable) Resolve(upTo ir.MutationID) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].ID > upTo })
	if i == 0 {
		return 0
	}
	t.entries = append(t.entries[:0], t.entries[i:]...)
	return i
}

// Expired lists overdue mutations at now without removing them.
func (t *PendingTable) Expired(now time.Time) []PendingMutation {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []PendingMutation
	for _, m := range t.entries {
		if m.Expired(now) {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the number of pending mutations.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns a copy of the pending mutations in id order.
func (t *PendingTable) Snapshot() []PendingMutation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]PendingMutation(nil), t.entries...)
}
