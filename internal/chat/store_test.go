package chat_test

import (
	"testing"
	"time"

	"github.com/fansphere/realtime/internal/chat"
	"github.com/fansphere/realtime/pkg/protocol"
)

func msg(id, content string, createdAt time.Time) protocol.Message {
	return protocol.Message{
		ID:        id,
		Content:   content,
		Sender:    protocol.User{ID: "u1", Username: "alice"},
		CreatedAt: createdAt,
	}
}

func TestStoreAddAndOrder(t *testing.T) {
	s := chat.NewStore()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	// Inserted out of created_at order on purpose.
	if !s.Add(msg("m2", "second", base.Add(time.Minute))) {
		t.Error("Add of a new message should report a change")
	}
	if !s.Add(msg("m1", "first", base)) {
		t.Error("Add of a new message should report a change")
	}

	got := s.Messages()
	if len(got) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(got))
	}
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Errorf("Messages not ordered by created_at: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestStoreDuplicateDeliveryIsNoOp(t *testing.T) {
	s := chat.NewStore()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	original := msg("m1", "hello", base)
	s.Add(original)

	// Same frame replayed after a reconnect.
	if s.Add(original) {
		t.Error("Replayed identical message should not change the store")
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 message after duplicate delivery, got %d", s.Len())
	}
}

func TestStoreFresherCopyWinsAndKeepsReadMark(t *testing.T) {
	s := chat.NewStore()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.Add(msg("m1", "hello", base))
	s.MarkRead([]string{"m1"})

	edited := msg("m1", "hello, world", base)
	editedAt := base.Add(time.Minute)
	edited.EditedAt = &editedAt
	if !s.Add(edited) {
		t.Fatal("Fresher copy should replace the held message")
	}

	got, ok := s.Get("m1")
	if !ok {
		t.Fatal("Message disappeared")
	}
	if got.Content != "hello, world" {
		t.Errorf("Expected edited content, got %q", got.Content)
	}
	if !got.IsRead {
		t.Error("Local read mark was lost across the replacement")
	}

	// Stale copy arriving later must not roll the edit back.
	if s.Add(msg("m1", "hello", base)) {
		t.Error("Stale copy should not replace a fresher one")
	}
}

func TestStoreEdit(t *testing.T) {
	s := chat.NewStore()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.Add(msg("m1", "hello", base))

	updated, ok := s.Edit(protocol.MessageEdit{
		ID:         "m1",
		NewContent: "hi there",
		EditedAt:   base.Add(time.Minute),
	})
	if !ok {
		t.Fatal("Edit of a held message should succeed")
	}
	if updated.Content != "hi there" {
		t.Errorf("Expected new content, got %q", updated.Content)
	}
	if updated.EditedAt == nil {
		t.Error("EditedAt should be stamped")
	}

	if _, ok := s.Edit(protocol.MessageEdit{ID: "missing"}); ok {
		t.Error("Edit of an unknown id should report false")
	}
}

func TestStoreDelete(t *testing.T) {
	s := chat.NewStore()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.Add(msg("m1", "hello", base))

	if !s.Delete("m1") {
		t.Error("Delete of a held message should report true")
	}
	if s.Delete("m1") {
		t.Error("Second delete should report false")
	}
	if s.Len() != 0 {
		t.Errorf("Expected empty store, got %d messages", s.Len())
	}
	if got := s.Messages(); len(got) != 0 {
		t.Errorf("Messages still lists %d entries after delete", len(got))
	}
}

func TestStoreMarkReadIdempotent(t *testing.T) {
	s := chat.NewStore()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.Add(msg("m1", "a", base))
	s.Add(msg("m2", "b", base.Add(time.Second)))

	changed := s.MarkRead([]string{"m1", "m2", "missing"})
	if len(changed) != 2 {
		t.Errorf("Expected 2 transitions, got %d", len(changed))
	}

	changed = s.MarkRead([]string{"m1", "m2"})
	if len(changed) != 0 {
		t.Errorf("Second MarkRead should transition nothing, got %d", len(changed))
	}
}
