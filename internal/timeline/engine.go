// Package timeline owns the active conversation's message list and
// reconciles optimistic local changes with server responses and pushes.
package timeline

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/clock"
	"github.com/matheus3301/chatsync/internal/dedup"
	"github.com/matheus3301/chatsync/internal/mention"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/notify"
	"github.com/matheus3301/chatsync/internal/outbox"
	"go.uber.org/zap"
)

// Service is the persistence side of messages.
type Service interface {
	ListMessages(ctx context.Context, conversationID string, page, limit int) (api.Page, error)
	SendMessage(ctx context.Context, conversationID string, req api.SendRequest) (*chat.Message, error)
	EditMessage(ctx context.Context, messageID, content string) (*chat.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	SearchMessages(ctx context.Context, conversationID, query string, limit, skip int) ([]*chat.Message, error)
	AddReaction(ctx context.Context, messageID, emoji string) (*chat.Message, error)
	RemoveReaction(ctx context.Context, messageID, emoji string) (*chat.Message, error)
	GetConversation(ctx context.Context, id string) (*chat.Conversation, error)
}

// Rooms subscribes the event stream to a conversation.
type Rooms interface {
	JoinConversation(ctx context.Context, conversationID string) error
	LeaveConversation(ctx context.Context, conversationID string) error
}

// Unread is the slice of the unread store the engine drives.
type Unread interface {
	IncrementUnreadCount(conversationID string)
	MarkConversationAsRead(ctx context.Context, conversationID string) error
}

// Conversations is the slice of the conversation directory the engine drives.
type Conversations interface {
	Refresh(ctx context.Context) error
	Touch(msg *chat.Message) bool
	Cached(id string) (chat.Conversation, bool)
}

// Typist signals outbound typing.
type Typist interface {
	Keystroke(conversationID string)
	Stop()
}

// Focus reports whether the client window has focus.
type Focus interface {
	Focused() bool
}

// Options tunes the engine.
type Options struct {
	Self           chat.User
	PageSize       int
	MaxJumpPages   int
	SearchLimit    int
	MatchWindow    time.Duration
	HeuristicMatch bool
	PendingLimit   int
}

// DefaultOptions returns the stock paging and matching settings.
func DefaultOptions(self chat.User) Options {
	return Options{
		Self:           self,
		PageSize:       15,
		MaxJumpPages:   20,
		SearchLimit:    20,
		MatchWindow:    5 * time.Second,
		HeuristicMatch: true,
		PendingLimit:   100,
	}
}

// Deps are the engine's collaborators. Unread, Conversations, Typist,
// Mentions, Notifier and Focus are optional.
type Deps struct {
	Service       Service
	Rooms         Rooms
	Unread        Unread
	Conversations Conversations
	Typist        Typist
	Mentions      *mention.Coordinator
	Notifier      notify.Sink
	Focus         Focus
	Tracker       *outbox.Tracker
	Bus           *bus.Bus
	Clock         clock.Clock
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// Snapshot is a copy of the engine's visible state.
type Snapshot struct {
	Conversation *chat.Conversation
	Messages     []*chat.Message
	Page         int
	HasMore      bool
	Loading      bool
}

// Engine is the message reconciliation engine for the active conversation.
type Engine struct {
	svc     Service
	rooms   Rooms
	unread  Unread
	convs   Conversations
	typist  Typist
	mention *mention.Coordinator
	sink    notify.Sink
	focus   Focus
	tracker *outbox.Tracker
	bus     *bus.Bus
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
	opts    Options
	seen    *dedup.Window

	mu       sync.Mutex
	active   *chat.Conversation
	gen      uint64
	messages []*chat.Message
	page     int
	hasMore  bool
	loading  bool
	pending  map[string][]*chat.Message
	draft    string
	subs     []bus.Subscription
}

// New builds an engine. Missing Clock, Logger and Tracker get defaults.
func New(d Deps, opts Options) *Engine {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Tracker == nil {
		d.Tracker = outbox.NewTracker(d.Bus, d.Metrics, d.Logger)
	}
	if d.Notifier == nil {
		d.Notifier = notify.Disabled{}
	}
	def := DefaultOptions(opts.Self)
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.MaxJumpPages <= 0 {
		opts.MaxJumpPages = def.MaxJumpPages
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = def.SearchLimit
	}
	if opts.MatchWindow <= 0 {
		opts.MatchWindow = def.MatchWindow
	}
	if opts.PendingLimit <= 0 {
		opts.PendingLimit = def.PendingLimit
	}
	return &Engine{
		svc:     d.Service,
		rooms:   d.Rooms,
		unread:  d.Unread,
		convs:   d.Conversations,
		typist:  d.Typist,
		mention: d.Mentions,
		sink:    d.Notifier,
		focus:   d.Focus,
		tracker: d.Tracker,
		bus:     d.Bus,
		clock:   d.Clock,
		metrics: d.Metrics,
		logger:  d.Logger,
		opts:    opts,
		seen:    dedup.New(dedup.MessageOptions(), d.Clock),
		pending: make(map[string][]*chat.Message),
	}
}

// Start registers the push handlers. Handlers never block; network follow-ups
// run on their own goroutines bound to ctx.
func (e *Engine) Start(ctx context.Context) {
	subs := []bus.Subscription{
		bus.OnPayload(e.bus, func(p bus.NewMessage) { e.onNewMessage(ctx, p) }),
		bus.OnPayload(e.bus, func(p bus.MessageEdited) { e.onMessageEdited(ctx, p) }),
		bus.OnPayload(e.bus, func(p bus.MessageDeleted) { e.onMessageDeleted(ctx, p) }),
		bus.OnPayload(e.bus, func(p bus.ReactionUpdated) { e.onReactionUpdated(ctx, p) }),
		bus.OnPayload(e.bus, e.onMessagesRead),
		bus.OnPayload(e.bus, func(p bus.GroupUpdated) { e.onGroupUpdated(ctx, p) }),
		bus.OnPayload(e.bus, e.onUserMentioned),
		bus.OnPayload(e.bus, func(p bus.Connected) { e.onConnected(ctx, p) }),
		bus.OnPayload(e.bus, func(bus.ForceLogout) { e.Reset() }),
	}
	e.mu.Lock()
	e.subs = append(e.subs, subs...)
	e.mu.Unlock()
}

// Stop removes the push handlers.
func (e *Engine) Stop() {
	e.mu.Lock()
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()
	for _, s := range subs {
		e.bus.Off(s)
	}
}

// SelectConversation makes conv the active conversation: it leaves the
// previous room, joins the new one, loads the first page, merges queued
// pushes and marks the conversation read. A failed join is logged and does
// not stop the selection.
func (e *Engine) SelectConversation(ctx context.Context, conv chat.Conversation) error {
	e.mu.Lock()
	var prev string
	if e.active != nil {
		prev = e.active.ID
	}
	e.gen++
	gen := e.gen
	c := conv
	e.active = &c
	e.messages = nil
	e.page = 0
	e.hasMore = true
	e.loading = true
	e.draft = ""
	e.mu.Unlock()

	if e.typist != nil {
		e.typist.Stop()
	}
	e.setMentionCandidates(conv)
	e.emit(conv.ID, "select")

	if prev != "" && prev != conv.ID {
		if err := e.rooms.LeaveConversation(ctx, prev); err != nil {
			e.logger.Warn("leave conversation failed", zap.String("conversation_id", prev), zap.Error(err))
		}
	}
	if err := e.rooms.JoinConversation(ctx, conv.ID); err != nil {
		e.logger.Warn("join conversation failed", zap.String("conversation_id", conv.ID), zap.Error(err))
	}

	page, err := e.svc.ListMessages(ctx, conv.ID, 1, e.opts.PageSize)

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return nil
	}
	e.loading = false
	if err != nil {
		e.hasMore = false
		e.mu.Unlock()
		e.emit(conv.ID, "load_failed")
		return fmt.Errorf("load messages for %s: %w", conv.ID, err)
	}
	msgs := make([]*chat.Message, 0, len(page.Messages))
	for _, m := range page.Messages {
		msgs = append(msgs, confirmed(m))
	}
	chat.SortMessages(msgs)
	for _, m := range e.pending[conv.ID] {
		if indexByID(msgs, m.ID) < 0 {
			msgs = chat.InsertChronological(msgs, confirmed(m))
		}
	}
	delete(e.pending, conv.ID)
	e.messages = msgs
	e.page = 1
	e.hasMore = page.HasMore
	e.mu.Unlock()
	e.emit(conv.ID, "loaded")

	if e.unread != nil {
		if err := e.unread.MarkConversationAsRead(ctx, conv.ID); err != nil {
			e.logger.Warn("mark read on select failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		}
	}
	return nil
}

// SelectConversationByID fetches the conversation and selects it.
func (e *Engine) SelectConversationByID(ctx context.Context, id string) error {
	conv, err := e.svc.GetConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("get conversation %s: %w", id, err)
	}
	return e.SelectConversation(ctx, *conv)
}

// Active returns the active conversation id, or "".
func (e *Engine) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeIDLocked()
}

// Snapshot returns a deep copy of the visible state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{Page: e.page, HasMore: e.hasMore, Loading: e.loading}
	if e.active != nil {
		c := *e.active
		s.Conversation = &c
	}
	s.Messages = make([]*chat.Message, len(e.messages))
	for i, m := range e.messages {
		s.Messages[i] = m.Clone()
	}
	return s
}

// Pending returns how many pushed messages are queued for conversationID.
func (e *Engine) Pending(conversationID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending[conversationID])
}

// Draft returns the compose text.
func (e *Engine) Draft() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft
}

// Reset drops the selection, queued pushes and dedup history.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.gen++
	e.active = nil
	e.messages = nil
	e.page = 0
	e.hasMore = false
	e.loading = false
	e.pending = make(map[string][]*chat.Message)
	e.draft = ""
	e.mu.Unlock()
	e.seen.Reset()
	if e.typist != nil {
		e.typist.Stop()
	}
	if e.mention != nil {
		e.mention.Close()
	}
	e.emit("", "reset")
}

func (e *Engine) activeIDLocked() string {
	if e.active == nil {
		return ""
	}
	return e.active.ID
}

func (e *Engine) setMentionCandidates(conv chat.Conversation) {
	if e.mention == nil {
		return
	}
	e.mention.Close()
	var users []chat.User
	if conv.Type == chat.Group {
		for _, p := range conv.Participants {
			users = append(users, p.User)
		}
	}
	e.mention.SetCandidates(users)
}

func (e *Engine) emit(conversationID, reason string) {
	if e.bus != nil {
		e.bus.Emit(bus.TimelineUpdated{ConversationID: conversationID, Reason: reason})
	}
}

func (e *Engine) focused() bool {
	return e.focus == nil || e.focus.Focused()
}

// confirmed returns a copy of a server message marked as sent.
func confirmed(m *chat.Message) *chat.Message {
	c := m.Clone()
	c.Status = chat.StatusSent
	c.Optimistic = false
	c.Error = ""
	return c
}

func indexByID(msgs []*chat.Message, id string) int {
	return slices.IndexFunc(msgs, func(m *chat.Message) bool { return m.ID == id })
}
