package timeline

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/clock"
	"github.com/matheus3301/chatsync/internal/mention"
)

var (
	t0    = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	self  = chat.User{ID: "me", FullName: "Me"}
	other = chat.User{ID: "u1", FullName: "Ann"}
)

type fakeService struct {
	mu      sync.Mutex
	clk     clock.Clock
	history map[string][]*chat.Message
	convs   map[string]*chat.Conversation

	listErr   error
	listCalls []int
	listGate  chan struct{}
	inList    int
	sendErr   error
	sendGate  chan struct{}
	inSend    int
	noEcho    bool
	sent      []api.SendRequest
	nextID    int
	editErr   error
	deleteErr error
	deleted   []string
	added     []string
	removed   []string
	search    []*chat.Message
}

func newFakeService(clk clock.Clock) *fakeService {
	return &fakeService{
		clk:     clk,
		history: make(map[string][]*chat.Message),
		convs:   make(map[string]*chat.Conversation),
	}
}

// seed fills conversationID with n messages m1..mn from other, one minute apart.
func (f *fakeService) seed(conversationID string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := make([]*chat.Message, n)
	for i := range n {
		h[i] = &chat.Message{
			ID:             fmt.Sprintf("%s-m%d", conversationID, i+1),
			ConversationID: conversationID,
			Sender:         other,
			Content:        fmt.Sprintf("message %d", i+1),
			Type:           chat.Text,
			CreatedAt:      t0.Add(-time.Duration(n-i) * time.Minute),
		}
	}
	f.history[conversationID] = h
}

func (f *fakeService) ListMessages(_ context.Context, conversationID string, page, limit int) (api.Page, error) {
	f.mu.Lock()
	f.inList++
	gate := f.listGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inList--
	f.listCalls = append(f.listCalls, page)
	if f.listErr != nil {
		return api.Page{}, f.listErr
	}
	h := f.history[conversationID]
	end := len(h) - (page-1)*limit
	if end <= 0 {
		return api.Page{}, nil
	}
	start := max(0, end-limit)
	out := make([]*chat.Message, 0, end-start)
	for _, m := range h[start:end] {
		out = append(out, m.Clone())
	}
	return api.Page{Messages: out, HasMore: start > 0}, nil
}

func (f *fakeService) SendMessage(_ context.Context, conversationID string, req api.SendRequest) (*chat.Message, error) {
	f.mu.Lock()
	f.inSend++
	gate := f.sendGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inSend--
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	msg := &chat.Message{
		ID:             fmt.Sprintf("srv%d", f.nextID),
		ConversationID: conversationID,
		Sender:         self,
		Content:        req.Content,
		Type:           req.MessageType,
		CreatedAt:      f.clk.Now(),
	}
	if !f.noEcho {
		msg.ClientMessageID = req.ClientMessageID
	}
	return msg, nil
}

func (f *fakeService) listing() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inList
}

func (f *fakeService) sending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inSend
}

func (f *fakeService) EditMessage(_ context.Context, messageID, content string) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return nil, f.editErr
	}
	at := f.clk.Now()
	return &chat.Message{ID: messageID, Content: content, IsEdited: true, EditedAt: &at}, nil
}

func (f *fakeService) DeleteMessage(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return f.deleteErr
}

func (f *fakeService) SearchMessages(_ context.Context, _, _ string, _, _ int) ([]*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.search, nil
}

func (f *fakeService) AddReaction(_ context.Context, messageID, emoji string) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, messageID+emoji)
	return &chat.Message{ID: messageID}, nil
}

func (f *fakeService) RemoveReaction(_ context.Context, messageID, emoji string) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, messageID+emoji)
	return &chat.Message{ID: messageID}, nil
}

func (f *fakeService) GetConversation(_ context.Context, id string) (*chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	if !ok {
		return nil, &api.Error{Status: 404, Message: "conversation not found"}
	}
	out := *c
	return &out, nil
}

type fakeRooms struct {
	mu      sync.Mutex
	joinErr error
	joins   []string
	leaves  []string
}

func (r *fakeRooms) JoinConversation(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins = append(r.joins, id)
	return r.joinErr
}

func (r *fakeRooms) LeaveConversation(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves = append(r.leaves, id)
	return nil
}

func (r *fakeRooms) joined() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.joins)
}

type fakeUnread struct {
	mu     sync.Mutex
	incs   map[string]int
	marked []string
}

func (u *fakeUnread) IncrementUnreadCount(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.incs == nil {
		u.incs = make(map[string]int)
	}
	u.incs[id]++
}

func (u *fakeUnread) MarkConversationAsRead(_ context.Context, id string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.marked = append(u.marked, id)
	return nil
}

func (u *fakeUnread) markedCount(id string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, m := range u.marked {
		if m == id {
			n++
		}
	}
	return n
}

func (u *fakeUnread) increments(id string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.incs[id]
}

type fakeConvs struct {
	mu        sync.Mutex
	refreshes int
	touched   []string
	cached    map[string]chat.Conversation
}

func (c *fakeConvs) Refresh(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	return nil
}

func (c *fakeConvs) Touch(m *chat.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touched = append(c.touched, m.ID)
	return true
}

func (c *fakeConvs) Cached(id string) (chat.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.cached[id]
	return conv, ok
}

func (c *fakeConvs) refreshCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes
}

type fakeTypist struct {
	mu    sync.Mutex
	keys  []string
	stops int
}

func (t *fakeTypist) Keystroke(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys = append(t.keys, id)
}

func (t *fakeTypist) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
}

type fakeSink struct {
	mu       sync.Mutex
	messages []string
	mentions []string
}

func (s *fakeSink) NotifyMessage(m *chat.Message, _ chat.Conversation, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m.ID)
	return nil
}

func (s *fakeSink) notified() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

func (s *fakeSink) mentioned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.mentions)
}

func (s *fakeSink) NotifyMention(m *chat.Message, _ chat.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mentions = append(s.mentions, m.ID)
	return nil
}

type blurrable struct {
	mu      sync.Mutex
	blurred bool
}

func (b *blurrable) Focused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.blurred
}

type harness struct {
	engine *Engine
	svc    *fakeService
	rooms  *fakeRooms
	unread *fakeUnread
	convs  *fakeConvs
	typist *fakeTypist
	sink   *fakeSink
	focus  *blurrable
	bus    *bus.Bus
	clk    *clock.Fake
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	clk := clock.NewFake(t0)
	h := &harness{
		svc:    newFakeService(clk),
		rooms:  &fakeRooms{},
		unread: &fakeUnread{},
		convs:  &fakeConvs{cached: map[string]chat.Conversation{}},
		typist: &fakeTypist{},
		sink:   &fakeSink{},
		focus:  &blurrable{},
		bus:    bus.New(nil),
		clk:    clk,
	}
	opts := DefaultOptions(self)
	for _, fn := range mutate {
		fn(&opts)
	}
	h.engine = New(Deps{
		Service:       h.svc,
		Rooms:         h.rooms,
		Unread:        h.unread,
		Conversations: h.convs,
		Typist:        h.typist,
		Mentions:      mention.NewCoordinator(self.ID),
		Notifier:      h.sink,
		Focus:         h.focus,
		Bus:           h.bus,
		Clock:         clk,
	}, opts)
	h.engine.Start(context.Background())
	t.Cleanup(h.engine.Stop)
	return h
}

func (h *harness) selectConv(t *testing.T, id string) {
	t.Helper()
	conv := chat.Conversation{ID: id, Type: chat.Direct}
	if c, ok := h.svc.convs[id]; ok {
		conv = *c
	}
	if err := h.engine.SelectConversation(context.Background(), conv); err != nil {
		t.Fatalf("SelectConversation(%s) error = %v", id, err)
	}
}

func ids(msgs []*chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func isChronological(msgs []*chat.Message) bool {
	return slices.IsSortedFunc(msgs, func(a, b *chat.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
