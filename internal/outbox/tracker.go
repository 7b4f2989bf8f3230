package outbox

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"go.uber.org/zap"
)

const tempPrefix = "temp_"

// NewTempID returns a fresh temporary message id. It doubles as the
// clientMessageId the server echoes back.
func NewTempID() string {
	return tempPrefix + uuid.NewString()
}

// IsTempID reports whether id was issued by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}

// Tracker guards outgoing operations: at most one send per conversation and
// at most one edit/delete/retry per message at a time.
type Tracker struct {
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	sending  map[string]struct{}
	inflight map[string]struct{}
}

// NewTracker creates a Tracker that reports outcomes on b.
func NewTracker(b *bus.Bus, met *metrics.Metrics, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		bus:      b,
		metrics:  met,
		logger:   logger,
		sending:  make(map[string]struct{}),
		inflight: make(map[string]struct{}),
	}
}

// BeginSend claims the send slot for conversationID. It returns false if a
// send is already in flight there. The returned release is safe to call more
// than once.
func (t *Tracker) BeginSend(conversationID string) (release func(), ok bool) {
	return t.claim(t.sending, conversationID)
}

// Sending reports whether a send is in flight for conversationID.
func (t *Tracker) Sending(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sending[conversationID]
	return ok
}

// Acquire claims messageID for a single mutating operation.
func (t *Tracker) Acquire(messageID string) (release func(), ok bool) {
	return t.claim(t.inflight, messageID)
}

func (t *Tracker) claim(set map[string]struct{}, key string) (func(), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := set[key]; busy {
		return func() {}, false
	}
	set[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(set, key)
			t.mu.Unlock()
		})
	}, true
}

// Ack records a confirmed send.
func (t *Tracker) Ack(conversationID, tempID, serverID string) {
	t.metrics.Send("sent")
	t.logger.Info("message sent",
		zap.String("conversation_id", conversationID),
		zap.String("client_msg_id", tempID),
		zap.String("server_msg_id", serverID))
	if t.bus != nil {
		t.bus.Emit(bus.SendAck{ConversationID: conversationID, TempID: tempID, ServerID: serverID})
	}
}

// Fail records a failed send.
func (t *Tracker) Fail(conversationID, tempID string, err error) {
	t.metrics.Send("failed")
	t.logger.Error("failed to send message",
		zap.String("conversation_id", conversationID),
		zap.String("client_msg_id", tempID),
		zap.Error(err))
	if t.bus != nil {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		t.bus.Emit(bus.SendFailed{ConversationID: conversationID, TempID: tempID, Err: msg})
	}
}
