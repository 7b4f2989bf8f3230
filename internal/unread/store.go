package unread

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/clock"
	"github.com/matheus3301/chatsync/internal/dedup"
	"github.com/matheus3301/chatsync/internal/metrics"
	"go.uber.org/zap"
)

// Service is the server side of unread counts.
type Service interface {
	UnreadCounts(ctx context.Context) (api.UnreadCounts, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
	MarkAllRead(ctx context.Context) error
}

// Snapshot is a copy of the unread state.
type Snapshot struct {
	PerConversation map[string]int
	Total           int
}

// Listener is called with a fresh snapshot after every change.
type Listener func(Snapshot)

type listenerEntry struct {
	id uint64
	fn Listener
}

// Store is the authoritative client-side cache of unread counts. Total is
// always the sum of the per-conversation counts, and no count drops below zero.
type Store struct {
	svc      Service
	bus      *bus.Bus
	clock    clock.Clock
	window   *dedup.Window
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu        sync.Mutex
	counts    map[string]int
	total     int
	listeners []listenerEntry
	nextID    uint64
	subs      []bus.Subscription
	reconcile clock.Timer
	running   bool
}

// Options configures a Store.
type Options struct {
	Dedup             dedup.Options
	ReconcileInterval time.Duration
}

// DefaultOptions returns the stock dedup window and a five minute reconcile.
func DefaultOptions() Options {
	return Options{Dedup: dedup.UnreadOptions(), ReconcileInterval: 5 * time.Minute}
}

// NewStore creates an empty store.
func NewStore(svc Service, b *bus.Bus, c clock.Clock, opts Options, met *metrics.Metrics, logger *zap.Logger) *Store {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		svc:      svc,
		bus:      b,
		clock:    c,
		window:   dedup.New(opts.Dedup, c),
		interval: opts.ReconcileInterval,
		metrics:  met,
		logger:   logger,
		counts:   make(map[string]int),
	}
}

// Start subscribes to pushed counts, refetches on connect and begins the
// periodic reconcile.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	subs := []bus.Subscription{
		bus.OnPayload(s.bus, func(p bus.UnreadCountUpdated) {
			s.ApplyServerCount(p.ConversationID, p.UnreadCount)
		}),
		bus.OnPayload(s.bus, func(bus.Connected) {
			go s.refetch(ctx)
		}),
		bus.OnPayload(s.bus, func(bus.ForceLogout) {
			s.Clear()
		}),
	}

	s.mu.Lock()
	s.subs = subs
	s.armReconcileLocked(ctx)
	s.mu.Unlock()
}

// Stop removes subscriptions and stops the reconcile timer.
func (s *Store) Stop() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.running = false
	if s.reconcile != nil {
		s.reconcile.Stop()
		s.reconcile = nil
	}
	s.mu.Unlock()
	for _, sub := range subs {
		s.bus.Off(sub)
	}
}

func (s *Store) armReconcileLocked(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.reconcile = s.clock.AfterFunc(s.interval, func() {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		s.armReconcileLocked(ctx)
		s.mu.Unlock()
		go s.refetch(ctx)
	})
}

func (s *Store) refetch(ctx context.Context) {
	if _, err := s.FetchUnreadCounts(ctx); err != nil {
		s.logger.Warn("unread refetch failed", zap.Error(err))
	}
}

// FetchUnreadCounts replaces the whole snapshot with the server's.
func (s *Store) FetchUnreadCounts(ctx context.Context) (Snapshot, error) {
	counts, err := s.svc.UnreadCounts(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch unread counts: %w", err)
	}
	s.mu.Lock()
	s.counts = make(map[string]int, len(counts.Conversations))
	total := 0
	for id, n := range counts.Conversations {
		if n < 0 {
			n = 0
		}
		s.counts[id] = n
		total += n
	}
	s.total = total
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if total != counts.Total {
		s.logger.Debug("server unread total differs from sum", zap.Int("server_total", counts.Total), zap.Int("sum", total))
	}
	s.notify(snap)
	return snap, nil
}

// MarkConversationAsRead zeroes the conversation locally, then confirms with
// the server. A server failure is returned but the local zero is kept.
func (s *Store) MarkConversationAsRead(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	prev := s.counts[conversationID]
	changed := prev > 0
	if changed {
		s.counts[conversationID] = 0
		s.total = max(0, s.total-prev)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.notify(snap)
	}
	if err := s.svc.MarkConversationRead(ctx, conversationID); err != nil {
		s.logger.Warn("mark read not confirmed", zap.String("conversation_id", conversationID), zap.Error(err))
		return fmt.Errorf("mark conversation %s read: %w", conversationID, err)
	}
	if s.bus != nil {
		s.bus.Emit(bus.ConversationRead{ConversationID: conversationID})
	}
	return nil
}

// MarkAllAsRead clears every count locally, then confirms with the server.
func (s *Store) MarkAllAsRead(ctx context.Context) error {
	s.mu.Lock()
	changed := s.total > 0
	s.counts = make(map[string]int)
	s.total = 0
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.notify(snap)
	}
	if err := s.svc.MarkAllRead(ctx); err != nil {
		s.logger.Warn("mark all read not confirmed", zap.Error(err))
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

// IncrementUnreadCount adds one unread message locally.
func (s *Store) IncrementUnreadCount(conversationID string) {
	s.mu.Lock()
	s.counts[conversationID]++
	s.total++
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// ApplyServerCount sets a pushed count. An identical (conversation, count)
// pair seen inside the dedup window is ignored. Returns whether it applied.
func (s *Store) ApplyServerCount(conversationID string, count int) bool {
	if count < 0 {
		count = 0
	}
	if !s.window.Allow(fmt.Sprintf("%s_%d", conversationID, count)) {
		s.metrics.DuplicatePush("unread_count_updated")
		return false
	}
	s.mu.Lock()
	prev := s.counts[conversationID]
	s.counts[conversationID] = count
	s.total += count - prev
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if prev != count {
		s.notify(snap)
	}
	return true
}

// Clear drops all state, as on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	s.counts = make(map[string]int)
	s.total = 0
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.window.Reset()
	s.notify(snap)
}

func (s *Store) Count(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[conversationID]
}

func (s *Store) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers l and returns its unsubscribe function.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: l})
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.listeners = slices.DeleteFunc(s.listeners, func(e listenerEntry) bool { return e.id == id })
		s.mu.Unlock()
	}
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{PerConversation: maps.Clone(s.counts), Total: s.total}
}

func (s *Store) notify(snap Snapshot) {
	s.mu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, e := range s.listeners {
		ls = append(ls, e.fn)
	}
	s.mu.Unlock()

	for _, l := range ls {
		s.call(l, snap)
	}
	if s.bus != nil {
		s.bus.Emit(bus.UnreadChanged{PerConversation: snap.PerConversation, Total: snap.Total})
	}
}

func (s *Store) call(l Listener, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("unread listener panicked", zap.Any("panic", r))
		}
	}()
	l(snap)
}
