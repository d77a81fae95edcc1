package mafather

import (
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// Message Dispatch Bus
// ============================================================================

// SubscriptionID identifies one subscriber; pass it to Unsubscribe.
type SubscriptionID uint64

// FrameHandler receives frames from the chat stream.
type FrameHandler func(Frame)

type subscriber struct {
	id SubscriptionID
	fn FrameHandler
}

// Bus fans frames out to subscribers in registration order. The subscriber
// slice is never mutated in place, so Publish can iterate a snapshot while
// Subscribe/Unsubscribe run.
type Bus struct {
	mu     sync.Mutex
	nextID SubscriptionID
	subs   []subscriber
	log    *zap.Logger
}

// NewBus returns an empty bus. log may be nil.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log}
}

// Subscribe registers fn and returns its id.
func (b *Bus) Subscribe(fn FrameHandler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	next := make([]subscriber, len(b.subs), len(b.subs)+1)
	copy(next, b.subs)
	b.subs = append(next, subscriber{id: id, fn: fn})
	return id
}

// Unsubscribe removes the subscriber with id. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id != id {
			continue
		}
		next := make([]subscriber, 0, len(b.subs)-1)
		next = append(next, b.subs[:i]...)
		b.subs = append(next, b.subs[i+1:]...)
		return
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers f to every current subscriber, one after another. A
// subscriber that panics is logged and skipped.
func (b *Bus) Publish(f Frame) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		b.deliver(s, f)
	}
}

func (b *Bus) deliver(s subscriber, f Frame) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber panicked",
				zap.Uint64("subscription", uint64(s.id)),
				zap.String("frame_type", f.Type),
				zap.Any("panic", r))
		}
	}()
	s.fn(f)
}
