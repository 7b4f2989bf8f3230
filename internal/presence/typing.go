// Package presence tracks who is typing and whether the local client is
// focused.
package presence

import (
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/clock"
	"go.uber.org/zap"
)

// DefaultTimeout drops a typist who has gone quiet without a stop event.
const DefaultTimeout = 3 * time.Second

type typist struct {
	userID string
	name   string
	timer  clock.Timer
	seq    uint64
}

// Typing is the set of remote users typing, per conversation.
type Typing struct {
	bus     *bus.Bus
	clock   clock.Clock
	timeout time.Duration
	selfID  string
	logger  *zap.Logger

	mu    sync.Mutex
	convs map[string][]*typist
	seq   uint64
	subs  []bus.Subscription
}

// NewTyping creates a tracker. Events from selfID are ignored.
func NewTyping(b *bus.Bus, c clock.Clock, timeout time.Duration, selfID string, logger *zap.Logger) *Typing {
	if c == nil {
		c = clock.Real()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Typing{
		bus:     b,
		clock:   c,
		timeout: timeout,
		selfID:  selfID,
		logger:  logger,
		convs:   make(map[string][]*typist),
	}
}

// Start subscribes to pushed typing events.
func (t *Typing) Start() {
	subs := []bus.Subscription{
		bus.OnPayload(t.bus, func(p bus.UserTyping) { t.Started(p.ConversationID, p.UserID, p.UserName) }),
		bus.OnPayload(t.bus, func(p bus.UserStopTyping) { t.Stopped(p.ConversationID, p.UserID) }),
		bus.OnPayload(t.bus, func(bus.Disconnected) { t.Clear() }),
	}
	t.mu.Lock()
	t.subs = append(t.subs, subs...)
	t.mu.Unlock()
}

// Stop unsubscribes and drops all state.
func (t *Typing) Stop() {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()
	for _, s := range subs {
		t.bus.Off(s)
	}
	t.Clear()
}

// Started records userID typing in conversationID, refreshing its timeout.
func (t *Typing) Started(conversationID, userID, name string) {
	if userID == "" || userID == t.selfID {
		return
	}
	t.mu.Lock()
	list := t.convs[conversationID]
	i := slices.IndexFunc(list, func(e *typist) bool { return e.userID == userID })
	if i >= 0 {
		list[i].timer.Stop()
		list[i].seq, list[i].timer = t.expireLocked(conversationID, userID)
		t.mu.Unlock()
		return
	}
	if name == "" {
		name = userID
	}
	e := &typist{userID: userID, name: name}
	e.seq, e.timer = t.expireLocked(conversationID, userID)
	t.convs[conversationID] = append(list, e)
	users := t.namesLocked(conversationID)
	t.mu.Unlock()
	t.emit(conversationID, users)
}

// Stopped removes userID from conversationID.
func (t *Typing) Stopped(conversationID, userID string) {
	t.mu.Lock()
	if !t.removeLocked(conversationID, userID) {
		t.mu.Unlock()
		return
	}
	users := t.namesLocked(conversationID)
	t.mu.Unlock()
	t.emit(conversationID, users)
}

// Users returns the names typing in conversationID in the order they started.
func (t *Typing) Users(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.namesLocked(conversationID)
}

// Clear drops every typist.
func (t *Typing) Clear() {
	t.mu.Lock()
	convs := t.convs
	t.convs = make(map[string][]*typist)
	t.mu.Unlock()
	for id, list := range convs {
		for _, e := range list {
			e.timer.Stop()
		}
		if len(list) > 0 {
			t.emit(id, nil)
		}
	}
}

func (t *Typing) expireLocked(conversationID, userID string) (uint64, clock.Timer) {
	t.seq++
	seq := t.seq
	return seq, t.clock.AfterFunc(t.timeout, func() {
		t.mu.Lock()
		list := t.convs[conversationID]
		i := slices.IndexFunc(list, func(e *typist) bool { return e.userID == userID })
		if i < 0 || list[i].seq != seq {
			t.mu.Unlock()
			return
		}
		t.removeLocked(conversationID, userID)
		users := t.namesLocked(conversationID)
		t.mu.Unlock()
		t.logger.Debug("typing timed out", zap.String("conversation_id", conversationID), zap.String("user_id", userID))
		t.emit(conversationID, users)
	})
}

func (t *Typing) removeLocked(conversationID, userID string) bool {
	list := t.convs[conversationID]
	i := slices.IndexFunc(list, func(e *typist) bool { return e.userID == userID })
	if i < 0 {
		return false
	}
	list[i].timer.Stop()
	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(t.convs, conversationID)
	} else {
		t.convs[conversationID] = list
	}
	return true
}

func (t *Typing) namesLocked(conversationID string) []string {
	list := t.convs[conversationID]
	if len(list) == 0 {
		return nil
	}
	names := make([]string, len(list))
	for i, e := range list {
		names[i] = e.name
	}
	return names
}

func (t *Typing) emit(conversationID string, users []string) {
	if t.bus != nil {
		t.bus.Emit(bus.TypingChanged{ConversationID: conversationID, Users: users})
	}
}
