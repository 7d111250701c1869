package relay

import (
	"context"
	"sync"
)

// Backbone is the pluggable publish/subscribe layer that fans frames out
// across relay processes. A single-process relay runs on the in-memory
// implementation; deployments with several relay processes share a Redis
// backbone so a frame published by one process reaches subscribers on all
// of them.
type Backbone interface {
	// Publish delivers payload to every subscriber of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers fn for topic and returns an unsubscribe
	// function. fn is invoked once per published payload.
	Subscribe(ctx context.Context, topic string, fn func(payload []byte)) (func(), error)

	// Close releases backbone resources.
	Close() error
}

// MemoryBackbone is the in-process Backbone.
type MemoryBackbone struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]func([]byte)
}

// NewMemoryBackbone constructs an empty in-process backbone.
func NewMemoryBackbone() *MemoryBackbone {
	return &MemoryBackbone{subs: make(map[string]map[int]func([]byte))}
}

func (b *MemoryBackbone) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	fns := make([]func([]byte), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(payload)
	}
	return nil
}

func (b *MemoryBackbone) Subscribe(_ context.Context, topic string, fn func(payload []byte)) (func(), error) {
	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func([]byte))
	}
	b.subs[topic][id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs[topic], id)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
		b.mu.Unlock()
	}, nil
}

func (b *MemoryBackbone) Close() error {
	b.mu.Lock()
	b.subs = make(map[string]map[int]func([]byte))
	b.mu.Unlock()
	return nil
}

var _ Backbone = (*MemoryBackbone)(nil)
