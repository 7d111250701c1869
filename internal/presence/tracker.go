// Package presence tracks online/offline status shared across channels.
package presence

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fansphere/realtime/internal/router"
	"github.com/fansphere/realtime/pkg/protocol"
)

// Tracker is the shared presence table. It is updated only by inbound
// status frames and read by whatever needs to render indicators, so it is
// safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]protocol.PresenceRecord
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]protocol.PresenceRecord)}
}

// Apply records a status transition. A frame without last_seen stamps the
// arrival time.
func (t *Tracker) Apply(frame protocol.UserStatusFrame) {
	if frame.UserID == "" {
		return
	}
	last := time.Now()
	if frame.LastSeen != nil {
		last = *frame.LastSeen
	}

	t.mu.Lock()
	t.records[frame.UserID] = protocol.PresenceRecord{
		UserID:   frame.UserID,
		Status:   frame.Status,
		LastSeen: last,
	}
	t.mu.Unlock()
}

// Get returns the record for a user.
func (t *Tracker) Get(userID string) (protocol.PresenceRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[userID]
	return rec, ok
}

// Online reports whether the user's last known status is online.
func (t *Tracker) Online(userID string) bool {
	rec, ok := t.Get(userID)
	return ok && rec.Status == protocol.StatusOnline
}

// Snapshot returns a copy of every tracked record.
func (t *Tracker) Snapshot() []protocol.PresenceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]protocol.PresenceRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	return out
}

// Bind registers the tracker on a router for every status frame name the
// platform emits.
func (t *Tracker) Bind(r *router.Router) {
	apply := func(raw json.RawMessage) error {
		var frame protocol.UserStatusFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return err
		}
		t.Apply(frame)
		return nil
	}
	r.Handle(protocol.TypeUserStatus, apply)
	r.Handle(protocol.TypeFriendStatusUpdate, apply)
	r.Handle(protocol.TypeStatusUpdate, apply)
}
