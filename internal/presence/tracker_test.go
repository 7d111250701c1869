package presence_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fansphere/realtime/internal/presence"
	"github.com/fansphere/realtime/internal/router"
	"github.com/fansphere/realtime/internal/session"
	"github.com/fansphere/realtime/pkg/protocol"
)

func TestTrackerApplyAndLookup(t *testing.T) {
	tracker := presence.NewTracker()

	tracker.Apply(protocol.UserStatusFrame{UserID: "u1", Status: protocol.StatusOnline})
	if !tracker.Online("u1") {
		t.Error("u1 should be online")
	}

	tracker.Apply(protocol.UserStatusFrame{UserID: "u1", Status: protocol.StatusOffline})
	if tracker.Online("u1") {
		t.Error("u1 should be offline after the transition")
	}
	rec, ok := tracker.Get("u1")
	if !ok || rec.Status != protocol.StatusOffline {
		t.Errorf("Unexpected record %+v", rec)
	}

	if tracker.Online("never-seen") {
		t.Error("Unknown user should not be online")
	}
}

func TestTrackerStampsLastSeen(t *testing.T) {
	tracker := presence.NewTracker()
	seen := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	tracker.Apply(protocol.UserStatusFrame{UserID: "u1", Status: protocol.StatusOffline, LastSeen: &seen})
	rec, _ := tracker.Get("u1")
	if !rec.LastSeen.Equal(seen) {
		t.Errorf("Expected last_seen %v, got %v", seen, rec.LastSeen)
	}

	before := time.Now()
	tracker.Apply(protocol.UserStatusFrame{UserID: "u2", Status: protocol.StatusOnline})
	rec, _ = tracker.Get("u2")
	if rec.LastSeen.Before(before) {
		t.Error("Missing last_seen should be stamped with the arrival time")
	}
}

func TestTrackerIgnoresEmptyUserID(t *testing.T) {
	tracker := presence.NewTracker()
	tracker.Apply(protocol.UserStatusFrame{Status: protocol.StatusOnline})
	if got := len(tracker.Snapshot()); got != 0 {
		t.Errorf("Frame without user_id created %d records", got)
	}
}

func TestTrackerBindHandlesAllStatusFrames(t *testing.T) {
	tracker := presence.NewTracker()
	r := router.New(nil)
	tracker.Bind(r)

	frames := []string{
		`{"type":"user_status","user_id":"u1","status":"online"}`,
		`{"type":"friend_status_update","user_id":"u2","status":"online"}`,
		`{"type":"status_update","user_id":"u3","status":"online"}`,
	}
	for _, frame := range frames {
		env, err := protocol.DecodeEnvelope([]byte(frame))
		if err != nil {
			t.Fatalf("DecodeEnvelope failed: %v", err)
		}
		r.Dispatch(env)
	}

	for _, userID := range []string{"u1", "u2", "u3"} {
		if !tracker.Online(userID) {
			t.Errorf("Expected %s online after dispatch", userID)
		}
	}
}

type fakeConn struct {
	readCh chan []byte
	closed chan struct{}
	once   sync.Once
}

var _ session.Conn = (*fakeConn)(nil)

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.readCh:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake" }

type fakeDialer struct{ conn *fakeConn }

var _ session.Dialer = (*fakeDialer)(nil)

func (d *fakeDialer) Dial(ctx context.Context, url string) (session.Conn, error) {
	return d.conn, nil
}

func TestChannelFeedsSharedTracker(t *testing.T) {
	conn := &fakeConn{readCh: make(chan []byte, 16), closed: make(chan struct{})}
	tracker := presence.NewTracker()
	ch, err := presence.NewChannel(presence.ChannelConfig{
		BaseURL: "ws://relay.test",
		Dialer:  &fakeDialer{conn: conn},
		Tracker: tracker,
		Tuning:  session.Tuning{HeartbeatInterval: time.Hour},
	})
	if err != nil {
		t.Fatalf("NewChannel failed: %v", err)
	}
	defer ch.Close()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn.readCh <- []byte(`{"type":"status_update","user_id":"u9","status":"online"}`)

	deadline := time.Now().Add(2 * time.Second)
	for !tracker.Online("u9") {
		if time.Now().After(deadline) {
			t.Fatal("Tracker never saw the status frame")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if ch.Tracker() != tracker {
		t.Error("Channel should expose the shared tracker")
	}
}
