// Package directory caches the conversation list and carries the
// conversation and group membership commands.
package directory

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
	"go.uber.org/zap"
)

// DefaultTTL is how long a fetched list is served from cache.
const DefaultTTL = 5 * time.Minute

// Service is the persistence side of conversations.
type Service interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	GetConversation(ctx context.Context, id string) (*chat.Conversation, error)
	CreateOrGetConversation(ctx context.Context, participantID string) (*chat.Conversation, error)
	CreateGroup(ctx context.Context, req api.GroupRequest) (*chat.Conversation, error)
	AddParticipants(ctx context.Context, conversationID string, userIDs []string) (*chat.Conversation, error)
	RemoveParticipant(ctx context.Context, conversationID, userID string) (*chat.Conversation, error)
	UpdateGroup(ctx context.Context, conversationID string, upd api.GroupUpdate) (*chat.Conversation, error)
}

// Directory is the cached conversation list, newest activity first.
type Directory struct {
	svc    Service
	bus    *bus.Bus
	clock  clock.Clock
	ttl    time.Duration
	selfID string
	logger *zap.Logger

	mu        sync.Mutex
	convs     []*chat.Conversation
	fetchedAt time.Time
	valid     bool
	subs      []bus.Subscription
}

func New(svc Service, b *bus.Bus, c clock.Clock, ttl time.Duration, selfID string, logger *zap.Logger) *Directory {
	if c == nil {
		c = clock.Real()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{svc: svc, bus: b, clock: c, ttl: ttl, selfID: selfID, logger: logger}
}

// Start keeps the list current from pushed events.
func (d *Directory) Start(ctx context.Context) {
	subs := []bus.Subscription{
		bus.OnPayload(d.bus, func(p bus.NewMessage) {
			if !d.Touch(p.Message) {
				go d.refreshLogged(ctx)
			}
		}),
		bus.OnPayload(d.bus, func(p bus.GroupUpdated) {
			go d.reload(ctx, p.ConversationID)
		}),
		bus.OnPayload(d.bus, func(bus.ForceLogout) { d.Clear() }),
	}
	d.mu.Lock()
	d.subs = append(d.subs, subs...)
	d.mu.Unlock()
}

func (d *Directory) Stop() {
	d.mu.Lock()
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()
	for _, s := range subs {
		d.bus.Off(s)
	}
}

// List returns the conversations, fetching when the cache is cold or stale.
func (d *Directory) List(ctx context.Context) ([]chat.Conversation, error) {
	d.mu.Lock()
	fresh := d.valid && d.clock.Now().Sub(d.fetchedAt) < d.ttl
	if fresh {
		out := d.copyLocked()
		d.mu.Unlock()
		return out, nil
	}
	d.mu.Unlock()
	if err := d.Refresh(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.copyLocked(), nil
}

// Refresh replaces the cache from the server.
func (d *Directory) Refresh(ctx context.Context) error {
	convs, err := d.svc.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	list := make([]*chat.Conversation, len(convs))
	for i := range convs {
		list[i] = cloneConversation(&convs[i])
	}
	sortByActivity(list)

	d.mu.Lock()
	d.convs = list
	d.fetchedAt = d.clock.Now()
	d.valid = true
	d.mu.Unlock()

	d.emit(len(list))
	return nil
}

func (d *Directory) refreshLogged(ctx context.Context) {
	if err := d.Refresh(ctx); err != nil {
		d.logger.Warn("conversation refresh failed", zap.Error(err))
	}
}

func (d *Directory) reload(ctx context.Context, id string) {
	conv, err := d.svc.GetConversation(ctx, id)
	if err != nil {
		d.logger.Warn("conversation reload failed", zap.String("conversation_id", id), zap.Error(err))
		return
	}
	d.upsert(conv)
}

// Invalidate forces the next List to fetch.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	d.valid = false
	d.mu.Unlock()
}

// Clear drops the cache.
func (d *Directory) Clear() {
	d.mu.Lock()
	d.convs = nil
	d.valid = false
	d.mu.Unlock()
}

// Cached returns a conversation without touching the network.
func (d *Directory) Cached(id string) (chat.Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := d.indexLocked(id); i >= 0 {
		return *cloneConversation(d.convs[i]), true
	}
	return chat.Conversation{}, false
}

// Get returns a conversation from cache, fetching it if unknown.
func (d *Directory) Get(ctx context.Context, id string) (chat.Conversation, error) {
	if c, ok := d.Cached(id); ok {
		return c, nil
	}
	conv, err := d.svc.GetConversation(ctx, id)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("get conversation %s: %w", id, err)
	}
	d.upsert(conv)
	return *cloneConversation(conv), nil
}

// Touch records msg as its conversation's last message and moves the
// conversation to the top. It reports whether the conversation was cached.
func (d *Directory) Touch(msg *chat.Message) bool {
	if msg == nil {
		return false
	}
	d.mu.Lock()
	i := d.indexLocked(msg.ConversationID)
	if i < 0 {
		d.mu.Unlock()
		return false
	}
	c := d.convs[i]
	c.LastMessage = &chat.LastMessage{
		Sender:      msg.Sender,
		Content:     msg.Content,
		MessageType: msg.Type,
		CreatedAt:   msg.CreatedAt,
	}
	if msg.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = msg.CreatedAt
	}
	sortByActivity(d.convs)
	n := len(d.convs)
	d.mu.Unlock()
	d.emit(n)
	return true
}

// Title is the display title of conv for the current user.
func (d *Directory) Title(conv chat.Conversation) string {
	return conv.DisplayTitle(d.selfID)
}

// StartDirect opens (or creates) the direct conversation with userID.
func (d *Directory) StartDirect(ctx context.Context, userID string) (chat.Conversation, error) {
	conv, err := d.svc.CreateOrGetConversation(ctx, userID)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("start conversation with %s: %w", userID, err)
	}
	d.upsert(conv)
	return *cloneConversation(conv), nil
}

func (d *Directory) CreateGroup(ctx context.Context, title string, participantIDs []string) (chat.Conversation, error) {
	conv, err := d.svc.CreateGroup(ctx, api.GroupRequest{Title: title, ParticipantIDs: participantIDs})
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("create group: %w", err)
	}
	d.upsert(conv)
	return *cloneConversation(conv), nil
}

func (d *Directory) AddParticipants(ctx context.Context, conversationID string, userIDs []string) (chat.Conversation, error) {
	conv, err := d.svc.AddParticipants(ctx, conversationID, userIDs)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("add participants to %s: %w", conversationID, err)
	}
	d.upsert(conv)
	return *cloneConversation(conv), nil
}

// RemoveParticipant removes userID from a group. Removing someone the cache
// already shows as absent is a no-op.
func (d *Directory) RemoveParticipant(ctx context.Context, conversationID, userID string) (chat.Conversation, error) {
	if c, ok := d.Cached(conversationID); ok && !c.HasParticipant(userID) {
		d.logger.Debug("participant already absent", zap.String("conversation_id", conversationID), zap.String("user_id", userID))
		return c, nil
	}
	conv, err := d.svc.RemoveParticipant(ctx, conversationID, userID)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("remove participant from %s: %w", conversationID, err)
	}
	d.upsert(conv)
	return *cloneConversation(conv), nil
}

func (d *Directory) UpdateGroup(ctx context.Context, conversationID, title string) (chat.Conversation, error) {
	conv, err := d.svc.UpdateGroup(ctx, conversationID, api.GroupUpdate{Title: title})
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("update group %s: %w", conversationID, err)
	}
	d.upsert(conv)
	return *cloneConversation(conv), nil
}

func (d *Directory) upsert(conv *chat.Conversation) {
	if conv == nil || conv.ID == "" {
		return
	}
	c := cloneConversation(conv)
	d.mu.Lock()
	if i := d.indexLocked(c.ID); i >= 0 {
		d.convs[i] = c
	} else {
		d.convs = append(d.convs, c)
	}
	sortByActivity(d.convs)
	n := len(d.convs)
	d.mu.Unlock()
	d.emit(n)
}

func (d *Directory) indexLocked(id string) int {
	return slices.IndexFunc(d.convs, func(c *chat.Conversation) bool { return c.ID == id })
}

func (d *Directory) copyLocked() []chat.Conversation {
	out := make([]chat.Conversation, len(d.convs))
	for i, c := range d.convs {
		out[i] = *cloneConversation(c)
	}
	return out
}

func (d *Directory) emit(n int) {
	if d.bus != nil {
		d.bus.Emit(bus.DirectoryUpdated{Count: n})
	}
}

func cloneConversation(c *chat.Conversation) *chat.Conversation {
	out := *c
	out.Participants = slices.Clone(c.Participants)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

func sortByActivity(list []*chat.Conversation) {
	slices.SortStableFunc(list, func(a, b *chat.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
}
