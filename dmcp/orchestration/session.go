package orchestration

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/executor"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
)

// HistoryEntry is one handled request of a session.
type HistoryEntry struct {
	Query     string
	Plan      *plan.ExecutionPlan
	Records   []executor.Record
	Degraded  bool
	Escalated bool
	Error     string // empty on success
	Timestamp time.Time
}

type sessionRegistry struct {
	mu      sync.Mutex
	limit   int
	entries map[string][]HistoryEntry
}

func newSessionRegistry(limit int) *sessionRegistry {
	return &sessionRegistry{limit: limit, entries: make(map[string][]HistoryEntry)}
}

func (s *sessionRegistry) append(id string, entry HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.entries[id], entry)
	if s.limit > 0 && len(h) > s.limit {
		h = slices.Clone(h[len(h)-s.limit:])
	}
	s.entries[id] = h
}

func (s *sessionRegistry) history(id string) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries[id])
}

func (s *sessionRegistry) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

func (s *sessionRegistry) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.entries))
}
