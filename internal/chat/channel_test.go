package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fansphere/realtime/internal/chat"
	"github.com/fansphere/realtime/internal/presence"
	"github.com/fansphere/realtime/internal/session"
	"github.com/fansphere/realtime/pkg/protocol"
)

type fakeConn struct {
	mu      sync.Mutex
	readCh  chan []byte
	closed  chan struct{}
	once    sync.Once
	written [][]byte
}

var _ session.Conn = (*fakeConn)(nil)

func newFakeConn() *fakeConn {
	return &fakeConn{readCh: make(chan []byte, 16), closed: make(chan struct{})}
}

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

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	c.written = append(c.written, buf)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake" }

func (c *fakeConn) push(frame string) { c.readCh <- []byte(frame) }

// lastFrame decodes the most recent written frame into out.
func (c *fakeConn) lastFrame(t *testing.T, out any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.written) == 0 {
		t.Fatal("No frame was written")
	}
	if err := json.Unmarshal(c.written[len(c.written)-1], out); err != nil {
		t.Fatalf("Written frame did not decode: %v", err)
	}
}

type fakeDialer struct {
	mu     sync.Mutex
	fail   bool
	connCh chan *fakeConn
}

var _ session.Dialer = (*fakeDialer)(nil)

func newFakeDialer() *fakeDialer {
	return &fakeDialer{connCh: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (session.Conn, error) {
	d.mu.Lock()
	fail := d.fail
	d.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.connCh <- conn
	return conn, nil
}

type chatEvents struct {
	established chan []protocol.Participant
	messages    chan protocol.Message
	edited      chan protocol.Message
	deleted     chan string
	typing      chan bool
	read        chan []string
	status      chan string
	serverErr   chan string
	lost        chan error
}

func newChatEvents() *chatEvents {
	return &chatEvents{
		established: make(chan []protocol.Participant, 8),
		messages:    make(chan protocol.Message, 8),
		edited:      make(chan protocol.Message, 8),
		deleted:     make(chan string, 8),
		typing:      make(chan bool, 8),
		read:        make(chan []string, 8),
		status:      make(chan string, 8),
		serverErr:   make(chan string, 8),
		lost:        make(chan error, 8),
	}
}

func (e *chatEvents) sink() chat.Events {
	return chat.Events{
		OnEstablished:    func(p []protocol.Participant) { e.established <- p },
		OnMessage:        func(m protocol.Message) { e.messages <- m },
		OnMessageEdited:  func(m protocol.Message) { e.edited <- m },
		OnMessageDeleted: func(id, by string) { e.deleted <- id },
		OnTyping:         func(u protocol.User, isTyping bool) { e.typing <- isTyping },
		OnRead:           func(ids []string, userID string) { e.read <- ids },
		OnUserStatus:     func(userID, status string) { e.status <- userID + ":" + status },
		OnServerError:    func(msg string) { e.serverErr <- msg },
		OnConnectionLost: func(err error) { e.lost <- err },
	}
}

func openChannel(t *testing.T, dialer *fakeDialer, events chat.Events, pres *presence.Tracker) (*chat.Channel, *fakeConn) {
	t.Helper()
	ch, err := chat.NewChannel(chat.ChannelConfig{
		BaseURL:        "ws://relay.test",
		ConversationID: "c1",
		Dialer:         dialer,
		Events:         events,
		Presence:       pres,
		TypingIdle:     time.Hour,
		Tuning: session.Tuning{
			HeartbeatInterval: time.Hour,
			BackoffBase:       time.Millisecond,
			MaxAttempts:       1,
		},
	})
	if err != nil {
		t.Fatalf("NewChannel failed: %v", err)
	}
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	select {
	case conn := <-dialer.connCh:
		return ch, conn
	case <-time.After(2 * time.Second):
		t.Fatal("Channel never dialed")
		return nil, nil
	}
}

func TestChannelEstablishedRoster(t *testing.T) {
	dialer := newFakeDialer()
	events := newChatEvents()
	ch, conn := openChannel(t, dialer, events.sink(), nil)
	defer ch.Close()

	conn.push(`{"type":"connection_established","user_id":"u1","participants":[` +
		`{"id":"u1","username":"alice"},{"id":"u2","username":"bob","is_online":true}]}`)

	select {
	case roster := <-events.established:
		if len(roster) != 2 {
			t.Errorf("Expected 2 participants, got %d", len(roster))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnEstablished never fired")
	}
	if got := ch.Participants(); len(got) != 2 || got[1].Username != "bob" {
		t.Errorf("Participants roster not retained: %+v", got)
	}
}

func TestChannelDuplicateMessageSuppressed(t *testing.T) {
	dialer := newFakeDialer()
	events := newChatEvents()
	ch, conn := openChannel(t, dialer, events.sink(), nil)
	defer ch.Close()

	frame := `{"type":"message","message":{"id":"m1","content":"hi","sender":{"id":"u2","username":"bob"},"created_at":"2026-08-24T12:00:00Z"}}`
	conn.push(frame)
	conn.push(frame)

	select {
	case msg := <-events.messages:
		if msg.ID != "m1" {
			t.Errorf("Expected message m1, got %s", msg.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnMessage never fired")
	}

	// A marker frame after the duplicate proves it was processed and dropped.
	conn.push(`{"type":"typing","user":{"id":"u2"},"is_typing":true}`)
	select {
	case <-events.typing:
	case <-time.After(2 * time.Second):
		t.Fatal("Marker frame never arrived")
	}

	select {
	case msg := <-events.messages:
		t.Errorf("Duplicate delivery surfaced a second OnMessage: %s", msg.ID)
	default:
	}
	if got := len(ch.Messages()); got != 1 {
		t.Errorf("Expected 1 held message, got %d", got)
	}
}

func TestChannelEditAndDelete(t *testing.T) {
	dialer := newFakeDialer()
	events := newChatEvents()
	ch, conn := openChannel(t, dialer, events.sink(), nil)
	defer ch.Close()

	conn.push(`{"type":"message","message":{"id":"m1","content":"hi","sender":{"id":"u2","username":"bob"},"created_at":"2026-08-24T12:00:00Z"}}`)
	<-events.messages

	conn.push(`{"type":"message_edited","message":{"id":"m1","new_content":"hello","edited_at":"2026-08-24T12:01:00Z"}}`)
	select {
	case msg := <-events.edited:
		if msg.Content != "hello" {
			t.Errorf("Expected edited content 'hello', got %q", msg.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnMessageEdited never fired")
	}

	conn.push(`{"type":"message_deleted","message_id":"m1","deleted_by":"u2"}`)
	select {
	case id := <-events.deleted:
		if id != "m1" {
			t.Errorf("Expected deletion of m1, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnMessageDeleted never fired")
	}
	if got := len(ch.Messages()); got != 0 {
		t.Errorf("Deleted message still held, %d messages", got)
	}
}

func TestChannelReadReceipt(t *testing.T) {
	dialer := newFakeDialer()
	events := newChatEvents()
	ch, conn := openChannel(t, dialer, events.sink(), nil)
	defer ch.Close()

	conn.push(`{"type":"message","message":{"id":"m1","content":"hi","sender":{"id":"u2","username":"bob"},"created_at":"2026-08-24T12:00:00Z"}}`)
	<-events.messages

	conn.push(`{"type":"read","message_ids":["m1"],"user_id":"u2"}`)
	select {
	case ids := <-events.read:
		if len(ids) != 1 || ids[0] != "m1" {
			t.Errorf("Unexpected read receipt ids %v", ids)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnRead never fired")
	}
	if msgs := ch.Messages(); len(msgs) != 1 || !msgs[0].IsRead {
		t.Error("Read receipt did not mark the held message")
	}
}

func TestChannelFeedsPresenceTracker(t *testing.T) {
	dialer := newFakeDialer()
	events := newChatEvents()
	tracker := presence.NewTracker()
	ch, conn := openChannel(t, dialer, events.sink(), tracker)
	defer ch.Close()

	conn.push(`{"type":"user_status","user_id":"u2","status":"online"}`)
	select {
	case got := <-events.status:
		if got != "u2:online" {
			t.Errorf("Unexpected status event %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnUserStatus never fired")
	}
	if !tracker.Online("u2") {
		t.Error("Presence tracker was not fed from the chat channel")
	}
}

func TestChannelServerError(t *testing.T) {
	dialer := newFakeDialer()
	events := newChatEvents()
	ch, conn := openChannel(t, dialer, events.sink(), nil)
	defer ch.Close()

	conn.push(`{"type":"error","message":"Message cannot be empty."}`)
	select {
	case msg := <-events.serverErr:
		if msg != "Message cannot be empty." {
			t.Errorf("Unexpected server error %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnServerError never fired")
	}
	if ch.State() != session.Open {
		t.Errorf("Server error must not close the channel, state %v", ch.State())
	}
}

func TestChannelOutboundFrames(t *testing.T) {
	dialer := newFakeDialer()
	events := newChatEvents()
	ch, conn := openChannel(t, dialer, events.sink(), nil)
	defer ch.Close()
	ctx := context.Background()

	if err := ch.Send(ctx, "hello there", "m9"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	var sendFrame protocol.SendMessageFrame
	conn.lastFrame(t, &sendFrame)
	if sendFrame.Type != protocol.TypeMessage || sendFrame.Message != "hello there" || sendFrame.ReplyTo != "m9" {
		t.Errorf("Unexpected message frame %+v", sendFrame)
	}

	if err := ch.SendTyping(ctx, true); err != nil {
		t.Fatalf("SendTyping failed: %v", err)
	}
	var typingFrame protocol.SendTypingFrame
	conn.lastFrame(t, &typingFrame)
	if typingFrame.Type != protocol.TypeTyping || !typingFrame.IsTyping {
		t.Errorf("Unexpected typing frame %+v", typingFrame)
	}

	if err := ch.MarkRead(ctx, []string{"m1", "m2"}); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	var readFrame protocol.MarkReadFrame
	conn.lastFrame(t, &readFrame)
	if readFrame.Type != protocol.TypeRead || len(readFrame.MessageIDs) != 2 {
		t.Errorf("Unexpected read frame %+v", readFrame)
	}

	if err := ch.Delete(ctx, "m1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	var delFrame protocol.DeleteMessageFrame
	conn.lastFrame(t, &delFrame)
	if delFrame.Type != protocol.TypeDeleteMessage || delFrame.MessageID != "m1" {
		t.Errorf("Unexpected delete frame %+v", delFrame)
	}

	if err := ch.Edit(ctx, "m1", "fixed"); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	var editFrame protocol.EditMessageFrame
	conn.lastFrame(t, &editFrame)
	if editFrame.Type != protocol.TypeEditMessage || editFrame.NewContent != "fixed" {
		t.Errorf("Unexpected edit frame %+v", editFrame)
	}
}

func TestChannelConnectionLostAfterExhaustion(t *testing.T) {
	dialer := newFakeDialer()
	events := newChatEvents()
	ch, conn := openChannel(t, dialer, events.sink(), nil)
	defer ch.Close()

	dialer.mu.Lock()
	dialer.fail = true
	dialer.mu.Unlock()
	conn.Close()

	select {
	case err := <-events.lost:
		if !errors.Is(err, session.ErrReconnectExhausted) {
			t.Errorf("Expected ErrReconnectExhausted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnectionLost never fired")
	}
	if ch.State() != session.Closed {
		t.Errorf("Expected state Closed, got %v", ch.State())
	}
}
