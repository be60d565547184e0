package engine

import "sync"

// State maps information titles to extracted values for one session.
// Values can be overwritten but never removed.
type State struct {
	mu     sync.RWMutex
	values map[string]string
	order  []string
}

func NewState() *State {
	return &State{values: make(map[string]string)}
}

func (s *State) Set(title, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[title]; !ok {
		s.order = append(s.order, title)
	}
	s.values[title] = value
}

func (s *State) Get(title string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[title]
	return v, ok
}

// Values returns a copy of the state.
func (s *State) Values() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Titles returns the titles in the order they were first written.
func (s *State) Titles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
