// Package convo keeps per-call conversation history. Each active call
// owns exactly one History, created on first use and removed when the
// call ends; nothing persists across calls or process restarts.
package convo

import (
	"errors"
	"fmt"
	"sync"
)

// Roles a turn may carry.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrUnknownCall is returned when a turn is appended for a call that
// has no history. The controller always creates history at session
// start, so hitting this means events arrived out of order.
var ErrUnknownCall = errors.New("convo: unknown call")

// Turn is one message in a conversation
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History is the ordered conversation for one call. The first turn is
// always the system persona; user and assistant turns alternate after it.
type History struct {
	turns []Turn
}

// Turns returns a copy of the accumulated turns
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns including the system turn
func (h *History) Len() int {
	return len(h.turns)
}

// Store maps call identifiers to their conversation history
type Store struct {
	mu      sync.RWMutex
	persona string
	calls   map[string]*History
}

// NewStore creates a Store seeding every new history with the given
// system persona text
func NewStore(persona string) *Store {
	return &Store{
		persona: persona,
		calls:   make(map[string]*History),
	}
}

// Ensure returns the history for callID, creating it with the system
// turn if the call is new
func (s *Store) Ensure(callID string) *History {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.calls[callID]; ok {
		return h
	}
	h := &History{turns: []Turn{{Role: RoleSystem, Content: s.persona}}}
	s.calls[callID] = h
	return h
}

// Append adds a turn to an existing call's history. The call must have
// been created with Ensure first.
func (s *Store) Append(callID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.calls[callID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCall, callID)
	}
	h.turns = append(h.turns, Turn{Role: role, Content: content})
	return nil
}

// Turns returns a snapshot of the call's history, or nil when the call
// is unknown
func (s *Store) Turns(callID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.calls[callID]
	if !ok {
		return nil
	}
	return h.Turns()
}

// Has reports whether the call currently owns a history
func (s *Store) Has(callID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.calls[callID]
	return ok
}

// Delete removes the call's history. Deleting an unknown call is a
// no-op; call teardown paths overlap and must not error on each other.
func (s *Store) Delete(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, callID)
}

// ActiveCalls returns how many calls currently hold history. A non-zero
// value after all calls have ended is a leak.
func (s *Store) ActiveCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}
