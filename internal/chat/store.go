package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/fansphere/realtime/pkg/protocol"
)

// Store holds the messages of one conversation. Message identity is the
// id: a duplicate delivery after reconnect never creates a second entry,
// it replaces the held copy only when fresher. The session goroutine
// writes; the rendering layer reads, so access is locked.
type Store struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]protocol.Message
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{byID: make(map[string]protocol.Message)}
}

// freshness is the timestamp used to compare duplicate deliveries:
// edited_at when present, created_at otherwise.
func freshness(m protocol.Message) time.Time {
	if m.EditedAt != nil {
		return *m.EditedAt
	}
	return m.CreatedAt
}

// Add inserts a message. For an already-held id the incoming copy wins
// only when strictly fresher. It reports whether the store changed.
func (s *Store) Add(msg protocol.Message) bool {
	if msg.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[msg.ID]
	if ok {
		if !freshness(msg).After(freshness(existing)) {
			return false
		}
		// Preserve a local read mark across a replacement.
		if existing.IsRead {
			msg.IsRead = true
		}
		s.byID[msg.ID] = msg
		return true
	}

	s.byID[msg.ID] = msg
	s.order = append(s.order, msg.ID)
	return true
}

// Edit applies a message_edited payload in place. It reports the updated
// message and whether the id was held.
func (s *Store) Edit(edit protocol.MessageEdit) (protocol.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[edit.ID]
	if !ok {
		return protocol.Message{}, false
	}
	msg.Content = edit.NewContent
	editedAt := edit.EditedAt
	msg.EditedAt = &editedAt
	s.byID[edit.ID] = msg
	return msg, true
}

// Delete removes a message. It reports whether the id was held.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, held := range s.order {
		if held == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// MarkRead flags the given messages read and returns the ids that
// actually transitioned. Marking an already-read or unknown id is a
// no-op, which makes the call idempotent.
func (s *Store) MarkRead(ids []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for _, id := range ids {
		msg, ok := s.byID[id]
		if !ok || msg.IsRead {
			continue
		}
		msg.IsRead = true
		s.byID[id] = msg
		changed = append(changed, id)
	}
	return changed
}

// Get returns a held message.
func (s *Store) Get(id string) (protocol.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.byID[id]
	return msg, ok
}

// Len returns the number of held messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Messages returns the conversation ordered by created_at.
func (s *Store) Messages() []protocol.Message {
	s.mu.RLock()
	out := make([]protocol.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
