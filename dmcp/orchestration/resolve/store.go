package resolve

import (
	"sync"

	"github.com/armon/go-radix"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
)

// Entry is one published context value.
type Entry struct {
	Key   string
	Value any
	Tool  string // publishing tool
	Step  int    // publishing step index
	Seq   uint64 // publication order, higher is newer
}

// Store is the key/value space of one execution. Keys are never removed;
// publishing an existing key replaces its value with the newer one.
type Store struct {
	mu   sync.RWMutex
	tree *radix.Tree
	seq  uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{tree: radix.New()}
}

// Put stores value under key.
func (s *Store) Put(key string, value any, tool string, step int) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.tree.Insert(key, &Entry{Key: key, Value: value, Tool: tool, Step: step, Seq: s.seq})
}

// Get returns the entry stored under key.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tree.Get(key)
	if !ok {
		return Entry{}, false
	}
	return *v.(*Entry), true
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Keys returns every key in lexicographic order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, s.tree.Len())
	s.tree.Walk(func(k string, _ interface{}) bool {
		keys = append(keys, k)
		return false
	})
	return keys
}

// Entries returns every entry in key order.
func (s *Store) Entries() []Entry {
	return s.WithPrefix("")
}

// WithPrefix returns the entries whose key starts with prefix, in key order.
func (s *Store) WithPrefix(prefix string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	s.tree.WalkPrefix(prefix, func(_ string, v interface{}) bool {
		out = append(out, *v.(*Entry))
		return false
	})
	return out
}

// Snapshot returns a deep copy of the key/value space.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, s.tree.Len())
	s.tree.Walk(func(k string, v interface{}) bool {
		out[k] = plan.CloneValue(v.(*Entry).Value)
		return false
	})
	return out
}
