package bus

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler receives an emitted payload.
type Handler func(Payload)

// Subscription identifies one handler registration returned by On.
type Subscription struct {
	kind Kind
	id   uint64
}

// Kind returns the event kind the subscription listens to.
func (s Subscription) Kind() Kind { return s.kind }

type registration struct {
	id uint64
	fn Handler
}

// Bus is the in-process event dispatcher. Handlers registered with On run
// synchronously in registration order; channel subscribers registered with
// Subscribe receive every event whose kind starts with their namespace.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]registration
	seq      uint64
	subs     map[int]*subscription
	next     int
	logger   *zap.Logger
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates a new event bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[Kind][]registration),
		subs:     make(map[int]*subscription),
		logger:   logger,
	}
}

// On registers fn for events of the given kind. Registering the same
// function twice yields two independent subscriptions.
func (b *Bus) On(kind Kind, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.handlers[kind] = append(b.handlers[kind], registration{id: b.seq, fn: fn})
	return Subscription{kind: kind, id: b.seq}
}

// OnPayload registers a handler typed to the payload T, using T's kind.
func OnPayload[T Payload](b *Bus, fn func(T)) Subscription {
	var zero T
	return b.On(zero.Kind(), func(p Payload) {
		if v, ok := p.(T); ok {
			fn(v)
		}
	})
}

// Off removes exactly the registration identified by sub. Returns false if
// it was already removed.
func (b *Bus) Off(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.handlers[sub.kind]
	for i, r := range regs {
		if r.id != sub.id {
			continue
		}
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, sub.kind)
		} else {
			b.handlers[sub.kind] = next
		}
		return true
	}
	return false
}

// Listeners returns the number of handlers registered for kind.
func (b *Bus) Listeners(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

// Emit delivers p to every handler registered for its kind, then to matching
// channel subscribers. A panicking handler is logged and skipped.
func (b *Bus) Emit(p Payload) {
	kind := p.Kind()
	b.mu.RLock()
	regs := b.handlers[kind]
	b.mu.RUnlock()

	for _, r := range regs {
		b.invoke(kind, r, p)
	}
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: p})
}

func (b *Bus) invoke(kind Kind, r registration, p Payload) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event handler panicked",
				zap.String("kind", string(kind)),
				zap.Uint64("subscription", r.id),
				zap.Any("panic", rec),
			)
		}
	}()
	r.fn(p)
}

// Publish sends an event to all channel subscribers whose namespace is a
// prefix of evt.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(string(evt.Kind), sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				// Drop event if subscriber is full (non-blocking).
			}
		}
	}
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
