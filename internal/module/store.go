package module

import "sync"

// Store holds the current value of every variable of every registered
// module, keyed by module id and variable name. Values are canonical; callers
// receive copies of table values.
type Store struct {
	mu     sync.RWMutex
	values map[string]map[string]any
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{values: make(map[string]map[string]any)}
}

// reset replaces a module's entry with the given values.
func (s *Store) reset(moduleID string, values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[moduleID] = values
}

// Get returns a copy of one value.
func (s *Store) Get(moduleID, name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vals, ok := s.values[moduleID]
	if !ok {
		return nil, false
	}
	v, ok := vals[name]
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Values returns a copy of a module's values.
func (s *Store) Values(moduleID string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vals, ok := s.values[moduleID]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(vals))
	for k, v := range vals {
		out[k] = deepCopy(v)
	}
	return out
}

// Has reports whether the store has an entry for the module.
func (s *Store) Has(moduleID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[moduleID]
	return ok
}

// swap stores v and returns the previous value. changed is false when the
// value was already equal and nothing was written.
func (s *Store) swap(moduleID, name string, v any) (old any, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vals := s.values[moduleID]
	if vals == nil {
		vals = make(map[string]any)
		s.values[moduleID] = vals
	}
	old = vals[name]
	if valuesEqual(old, v) {
		return old, false
	}
	vals[name] = v
	return old, true
}

// compareAndSwap stores v only if the current value equals expected.
func (s *Store) compareAndSwap(moduleID, name string, expected, v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	vals := s.values[moduleID]
	if vals == nil || !valuesEqual(vals[name], expected) {
		return false
	}
	vals[name] = v
	return true
}
