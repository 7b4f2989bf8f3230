package directory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeService struct {
	mu      sync.Mutex
	convs   []chat.Conversation
	lists   int
	removed []string
	err     error
}

func (f *fakeService) ListConversations(context.Context) ([]chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.convs), nil
}

func (f *fakeService) find(id string) (*chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.convs {
		if f.convs[i].ID == id {
			c := f.convs[i]
			return &c, nil
		}
	}
	return nil, api.ErrNotFound
}

func (f *fakeService) GetConversation(_ context.Context, id string) (*chat.Conversation, error) {
	return f.find(id)
}

func (f *fakeService) CreateOrGetConversation(_ context.Context, userID string) (*chat.Conversation, error) {
	return &chat.Conversation{ID: "d-" + userID, Type: chat.Direct, UpdatedAt: t0.Add(time.Hour)}, nil
}

func (f *fakeService) CreateGroup(_ context.Context, req api.GroupRequest) (*chat.Conversation, error) {
	return &chat.Conversation{ID: "g-new", Type: chat.Group, Title: req.Title}, nil
}

func (f *fakeService) AddParticipants(_ context.Context, id string, userIDs []string) (*chat.Conversation, error) {
	c, err := f.find(id)
	if err != nil {
		return nil, err
	}
	for _, u := range userIDs {
		c.Participants = append(c.Participants, chat.Participant{User: chat.User{ID: u}})
	}
	return c, nil
}

func (f *fakeService) RemoveParticipant(_ context.Context, id, userID string) (*chat.Conversation, error) {
	f.mu.Lock()
	f.removed = append(f.removed, userID)
	f.mu.Unlock()
	c, err := f.find(id)
	if err != nil {
		return nil, err
	}
	c.Participants = slices.DeleteFunc(c.Participants, func(p chat.Participant) bool { return p.User.ID == userID })
	return c, nil
}

func (f *fakeService) UpdateGroup(_ context.Context, id string, upd api.GroupUpdate) (*chat.Conversation, error) {
	c, err := f.find(id)
	if err != nil {
		return nil, err
	}
	c.Title = upd.Title
	return c, nil
}

func seeded() *fakeService {
	return &fakeService{convs: []chat.Conversation{
		{ID: "old", Type: chat.Direct, UpdatedAt: t0},
		{ID: "grp", Type: chat.Group, Title: "Team", UpdatedAt: t0.Add(time.Minute), Participants: []chat.Participant{
			{User: chat.User{ID: "me", FullName: "Me"}},
			{User: chat.User{ID: "u1", FullName: "Ann"}},
		}},
	}}
}

func newDirectory(svc Service) (*Directory, *clock.Fake, *bus.Bus) {
	clk := clock.NewFake(t0)
	b := bus.New(nil)
	return New(svc, b, clk, 5*time.Minute, "me", nil), clk, b
}

func ids(convs []chat.Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

func TestListCachesWithinTTL(t *testing.T) {
	svc := seeded()
	d, clk, _ := newDirectory(svc)

	convs, err := d.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"grp", "old"}, ids(convs))

	_, _ = d.List(context.Background())
	assert.Equal(t, 1, svc.lists)

	clk.Advance(6 * time.Minute)
	_, _ = d.List(context.Background())
	assert.Equal(t, 2, svc.lists)

	d.Invalidate()
	_, _ = d.List(context.Background())
	assert.Equal(t, 3, svc.lists)
}

func TestListError(t *testing.T) {
	d, _, _ := newDirectory(&fakeService{err: errors.New("down")})
	_, err := d.List(context.Background())
	assert.Error(t, err)
}

func TestTouchMovesConversationToTop(t *testing.T) {
	d, _, b := newDirectory(seeded())
	require.NoError(t, d.Refresh(context.Background()))
	var updates int
	bus.OnPayload(b, func(bus.DirectoryUpdated) { updates++ })

	ok := d.Touch(&chat.Message{ConversationID: "old", Content: "hi", CreatedAt: t0.Add(time.Hour)})
	require.True(t, ok)
	convs, _ := d.List(context.Background())
	assert.Equal(t, []string{"old", "grp"}, ids(convs))
	assert.Equal(t, "hi", convs[0].LastMessage.Content)
	assert.Equal(t, 1, updates)

	assert.False(t, d.Touch(&chat.Message{ConversationID: "missing"}))
}

func TestNewMessagePushTouchesCache(t *testing.T) {
	d, _, b := newDirectory(seeded())
	require.NoError(t, d.Refresh(context.Background()))
	d.Start(context.Background())
	defer d.Stop()

	b.Emit(bus.NewMessage{ConversationID: "old", Message: &chat.Message{ConversationID: "old", Content: "yo", CreatedAt: t0.Add(time.Hour)}})
	c, ok := d.Cached("old")
	require.True(t, ok)
	assert.Equal(t, "yo", c.LastMessage.Content)
}

func TestGroupUpdatedReloads(t *testing.T) {
	svc := seeded()
	d, _, b := newDirectory(svc)
	require.NoError(t, d.Refresh(context.Background()))
	d.Start(context.Background())
	defer d.Stop()

	svc.mu.Lock()
	svc.convs[1].Title = "Renamed"
	svc.mu.Unlock()
	b.Emit(bus.GroupUpdated{ConversationID: "grp", Action: "title_updated", NewTitle: "Renamed"})

	assert.Eventually(t, func() bool {
		c, _ := d.Cached("grp")
		return c.Title == "Renamed"
	}, time.Second, 5*time.Millisecond)
}

func TestRemoveParticipantIdempotent(t *testing.T) {
	svc := seeded()
	d, _, _ := newDirectory(svc)
	require.NoError(t, d.Refresh(context.Background()))

	c, err := d.RemoveParticipant(context.Background(), "grp", "u1")
	require.NoError(t, err)
	assert.False(t, c.HasParticipant("u1"))

	_, err = d.RemoveParticipant(context.Background(), "grp", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, svc.removed, "second removal never reaches the server")
}

func TestGroupCommandsUpdateCache(t *testing.T) {
	svc := seeded()
	d, _, _ := newDirectory(svc)
	require.NoError(t, d.Refresh(context.Background()))

	_, err := d.AddParticipants(context.Background(), "grp", []string{"u2"})
	require.NoError(t, err)
	c, _ := d.Cached("grp")
	assert.True(t, c.HasParticipant("u2"))

	_, err = d.UpdateGroup(context.Background(), "grp", "New")
	require.NoError(t, err)
	c, _ = d.Cached("grp")
	assert.Equal(t, "New", d.Title(c))

	g, err := d.CreateGroup(context.Background(), "Fresh", []string{"u1"})
	require.NoError(t, err)
	_, ok := d.Cached(g.ID)
	assert.True(t, ok)

	direct, err := d.StartDirect(context.Background(), "u9")
	require.NoError(t, err)
	convs, _ := d.List(context.Background())
	assert.Equal(t, direct.ID, convs[0].ID)
}

func TestCachedReturnsCopy(t *testing.T) {
	d, _, _ := newDirectory(seeded())
	require.NoError(t, d.Refresh(context.Background()))
	c, _ := d.Cached("grp")
	c.Participants[0].User.ID = "mutated"
	again, _ := d.Cached("grp")
	assert.Equal(t, "me", again.Participants[0].User.ID)
}

func TestTitleFallsBackToParticipants(t *testing.T) {
	d, _, _ := newDirectory(seeded())
	conv := chat.Conversation{Participants: []chat.Participant{
		{User: chat.User{ID: "me", FullName: "Me"}},
		{User: chat.User{ID: "u1", FullName: "Ann"}},
	}}
	assert.Equal(t, "Ann", d.Title(conv))
}
