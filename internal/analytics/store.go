package analytics

import (
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// EventStore is a concurrency-safe in-memory store for received envelopes.
// Envelopes are kept in a map keyed by ID with a separate slice maintaining
// arrival order.
type EventStore struct {
	mu       sync.RWMutex
	events   map[string]*Envelope
	orderIDs []string
}

// NewEventStore returns an initialized EventStore.
func NewEventStore() *EventStore {
	return &EventStore{
		events:   make(map[string]*Envelope),
		orderIDs: make([]string, 0),
	}
}

// Add stores env, assigning an ID when it has none, and returns the stored
// ID. It returns an error if an envelope with the same ID already exists.
func (s *EventStore) Add(env Envelope) (string, error) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[env.ID]; exists {
		return "", fmt.Errorf("event %q already exists", env.ID)
	}
	s.events[env.ID] = &env
	s.orderIDs = append(s.orderIDs, env.ID)
	return env.ID, nil
}

// Get returns a copy of the envelope with the given ID.
func (s *EventStore) Get(id string) (*Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %q not found", id)
	}
	return copyEnvelope(e), nil
}

// List returns envelopes in arrival order. A non-empty kind filters by
// Envelope.Kind; limit <= 0 returns every match, otherwise the most recent
// limit matches.
func (s *EventStore) List(kind string, limit int) []Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Envelope, 0, len(s.orderIDs))
	for _, id := range s.orderIDs {
		e := s.events[id]
		if kind != "" && e.Kind != kind {
			continue
		}
		matched = append(matched, *copyEnvelope(e))
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// Len returns the number of stored envelopes.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orderIDs)
}

// copyEnvelope returns a copy of src whose CWV map and conversion are
// independent of the store.
func copyEnvelope(src *Envelope) *Envelope {
	dst := *src
	if src.CWV != nil {
		dst.CWV = maps.Clone(src.CWV)
	}
	if src.Conversion != nil {
		c := *src.Conversion
		dst.Conversion = &c
	}
	return &dst
}
