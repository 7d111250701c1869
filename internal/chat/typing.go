package chat

import (
	"sync"
	"time"
)

// DefaultTypingIdle is the inactivity gap after which typing stops.
const DefaultTypingIdle = 1500 * time.Millisecond

// TypingNotifier debounces outbound typing frames. Keystroke emits
// typing:true at most once per idle-to-typing transition and arms an
// inactivity timer; when the timer expires with no further input it emits
// typing:false exactly once. Frame volume is therefore bounded
// independent of keystroke rate.
type TypingNotifier struct {
	idle time.Duration
	send func(isTyping bool)

	mu     sync.Mutex
	active bool
	timer  *time.Timer
}

// NewTypingNotifier constructs a notifier. A non-positive idle duration
// takes DefaultTypingIdle. send is invoked outside the notifier's lock.
func NewTypingNotifier(idle time.Duration, send func(isTyping bool)) *TypingNotifier {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &TypingNotifier{idle: idle, send: send}
}

// Keystroke records local input activity.
func (t *TypingNotifier) Keystroke() {
	t.mu.Lock()
	started := false
	if !t.active {
		t.active = true
		started = true
	}
	if t.timer == nil {
		t.timer = time.AfterFunc(t.idle, t.expire)
	} else {
		t.timer.Reset(t.idle)
	}
	t.mu.Unlock()

	if started {
		t.send(true)
	}
}

func (t *TypingNotifier) expire() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.mu.Unlock()

	t.send(false)
}

// Stop cancels the pending timer without emitting a stop frame. Used when
// the channel closes.
func (t *TypingNotifier) Stop() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.active = false
	t.mu.Unlock()
}
