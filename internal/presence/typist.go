package presence

import (
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/clock"
	"go.uber.org/zap"
)

// Signaler sends outbound typing events.
type Signaler interface {
	Typing(conversationID string) error
	StopTyping(conversationID string) error
}

// Typist emits one typing event per burst of keystrokes and a stop event
// once the user goes quiet.
type Typist struct {
	sig     Signaler
	clock   clock.Clock
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	active string
	timer  clock.Timer
	epoch  uint64
}

func NewTypist(sig Signaler, c clock.Clock, timeout time.Duration, logger *zap.Logger) *Typist {
	if c == nil {
		c = clock.Real()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Typist{sig: sig, clock: c, timeout: timeout, logger: logger}
}

// Keystroke notes input in conversationID. Switching conversations stops the
// previous burst first.
func (t *Typist) Keystroke(conversationID string) {
	if conversationID == "" {
		return
	}
	t.mu.Lock()
	prev := t.active
	start := prev != conversationID
	if t.timer != nil {
		t.timer.Stop()
	}
	t.active = conversationID
	t.epoch++
	epoch := t.epoch
	t.timer = t.clock.AfterFunc(t.timeout, func() { t.expire(epoch) })
	t.mu.Unlock()

	if start && prev != "" {
		t.send(t.sig.StopTyping, prev, "stop_typing")
	}
	if start {
		t.send(t.sig.Typing, conversationID, "typing")
	}
}

// Stop ends the current burst immediately.
func (t *Typist) Stop() {
	t.mu.Lock()
	conv := t.active
	t.resetLocked()
	t.mu.Unlock()
	if conv != "" {
		t.send(t.sig.StopTyping, conv, "stop_typing")
	}
}

// Active returns the conversation with a burst in progress.
func (t *Typist) Active() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Typist) expire(epoch uint64) {
	t.mu.Lock()
	if epoch != t.epoch || t.active == "" {
		t.mu.Unlock()
		return
	}
	conv := t.active
	t.resetLocked()
	t.mu.Unlock()
	t.send(t.sig.StopTyping, conv, "stop_typing")
}

func (t *Typist) resetLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.active = ""
	t.epoch++
}

func (t *Typist) send(fn func(string) error, conversationID, event string) {
	if err := fn(conversationID); err != nil {
		t.logger.Debug("typing signal not sent", zap.String("event", event), zap.String("conversation_id", conversationID), zap.Error(err))
	}
}
