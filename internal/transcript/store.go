// Package transcript holds the ordered, append-only list of conversation entries of a session.
package transcript

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	"github.com/google/uuid"
)

// ErrMessageNotFound is returned by MutateContent when no entry carries the requested id.
var ErrMessageNotFound = errors.New("message not found")

// Store is an ordered list of messages. Entries are never reordered or removed; the only mutation allowed
// after Append is replacing the content of a single entry through MutateContent. The zero value is ready to use.
type Store struct {
	mu       sync.Mutex
	seq      uint64
	messages []models.Message
	index    map[string]int
}

// NextID returns a fresh message id. Ids combine a per-store sequence number with a random UUID, so they are
// increasing within a store and never reused.
func (s *Store) NextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("%d-%s", s.seq, uuid.New().String())
}

// Append adds entries to the end of the transcript in the given order. Entries without an id get one from
// NextID.
func (s *Store) Append(entries ...models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index == nil {
		s.index = make(map[string]int)
	}
	for _, e := range entries {
		if e.ID == "" {
			s.seq++
			e.ID = fmt.Sprintf("%d-%s", s.seq, uuid.New().String())
		}
		s.index[e.ID] = len(s.messages)
		s.messages = append(s.messages, e)
	}
}

// MutateContent replaces the content of the entry identified by id with update(previous content). The update
// runs while the store is locked, so calls are applied exactly once and in call order.
func (s *Store) MutateContent(id string, update func(prev string) string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("mutate %s: %w", id, ErrMessageNotFound)
	}
	s.messages[i].Content = update(s.messages[i].Content)
	return nil
}

// Snapshot returns a copy of the current ordered list of entries.
func (s *Store) Snapshot() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}
