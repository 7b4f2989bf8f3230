package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/clock"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by requests issued without a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrNoCredential is recorded when Connect runs without a credential.
	ErrNoCredential = errors.New("no credential")
	// ErrUnauthorized is returned by dialers when the server rejects the credential.
	ErrUnauthorized = errors.New("unauthorized")
)

// RoomError is returned when the server refuses a join or leave request.
type RoomError struct {
	Op             string
	ConversationID string
	Reason         string
}

func (e *RoomError) Error() string {
	return fmt.Sprintf("%s conversation %s: %s", e.Op, e.ConversationID, e.Reason)
}

// Status is a point-in-time view of the manager.
type Status struct {
	State         status.State
	Attempts      int
	Exhausted     bool
	Healthy       bool
	LastProbeOK   time.Time
	LastProbeSent time.Time
}

// Manager owns the single event-stream connection: dialing, reconnect
// backoff, health probes and acknowledged requests. Inbound events are
// decoded and emitted on the bus from the read goroutine.
type Manager struct {
	cfg     Config
	dialer  Dialer
	bus     *bus.Bus
	machine *status.Machine
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu            sync.Mutex
	credential    string
	conn          Conn
	gen           uint64
	epoch         uint64
	dialing       bool
	auto          bool
	everConnected bool
	attempts      int
	exhausted     bool
	reconnect     clock.Timer
	probeTimer    clock.Timer
	probeDeadline clock.Timer
	awaiting      uint64
	probeSentAt   time.Time
	lastProbeOK   time.Time
	healthy       bool
	nextAck       uint64
	pending       map[uint64]chan wire.Frame
}

// NewManager creates a disconnected manager. A nil clock uses the real clock.
func NewManager(cfg Config, d Dialer, b *bus.Bus, m *status.Machine, c clock.Clock, met *metrics.Metrics, logger *zap.Logger) *Manager {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		dialer:  d,
		bus:     b,
		machine: m,
		clock:   c,
		metrics: met,
		logger:  logger,
		pending: make(map[uint64]chan wire.Frame),
	}
}

// SetCredential replaces the credential used by subsequent dials.
func (m *Manager) SetCredential(credential string) {
	m.mu.Lock()
	m.credential = credential
	m.mu.Unlock()
}

// Connect establishes the connection. It is a no-op while connected or
// dialing. A non-empty credential replaces the stored one. Failures never
// surface as errors: they schedule a reconnect and are reported on the bus.
func (m *Manager) Connect(ctx context.Context, credential string) {
	m.mu.Lock()
	if credential != "" {
		m.credential = credential
	}
	if m.conn != nil || m.dialing {
		m.mu.Unlock()
		return
	}
	m.dialing = true
	m.auto = true
	m.stopReconnectLocked()
	token := m.credential
	m.mu.Unlock()

	m.transition(status.Connecting)

	if token == "" {
		m.dialFailed(ErrNoCredential)
		return
	}

	dctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	conn, err := m.dialer.Dial(dctx, m.cfg.URL, token)
	cancel()
	if err != nil {
		m.dialFailed(err)
		return
	}

	m.mu.Lock()
	m.dialing = false
	if !m.auto {
		// Disconnect was called while dialing.
		m.mu.Unlock()
		_ = conn.Close()
		m.transition(status.Disconnected)
		return
	}
	m.conn = conn
	m.gen++
	gen := m.gen
	reconnected := m.everConnected
	m.everConnected = true
	m.attempts = 0
	m.exhausted = false
	m.healthy = true
	m.awaiting = 0
	m.lastProbeOK = m.clock.Now()
	m.mu.Unlock()

	m.logger.Info("event stream connected", zap.String("url", m.cfg.URL), zap.Bool("reconnected", reconnected))
	go m.readLoop(conn, gen)
	m.transition(status.Connected)
	m.emit(bus.Connected{Reconnected: reconnected})

	m.mu.Lock()
	if m.gen == gen && m.conn != nil {
		m.armProbeLocked(gen)
	}
	m.mu.Unlock()
}

func (m *Manager) dialFailed(err error) {
	m.mu.Lock()
	m.dialing = false
	m.mu.Unlock()
	m.logger.Warn("event stream connect failed", zap.Error(err))
	m.transition(status.Disconnected)
	m.emit(bus.Disconnected{Reason: err.Error(), WillRetry: m.willRetry()})
	m.scheduleReconnect()
}

func (m *Manager) willRetry() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auto && m.attempts < m.cfg.MaxReconnectAttempts
}

// scheduleReconnect arms the next backoff attempt, or emits the terminal
// event once when attempts are exhausted.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if !m.auto || m.reconnect != nil || m.conn != nil || m.dialing {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		if m.exhausted {
			m.mu.Unlock()
			return
		}
		m.exhausted = true
		attempts := m.attempts
		m.mu.Unlock()
		m.logger.Error("max reconnect attempts reached", zap.Int("attempts", attempts))
		m.emit(bus.MaxReconnectAttempts{Attempts: attempts})
		return
	}
	m.attempts++
	n := m.attempts
	delay := m.cfg.Backoff(n)
	m.armReconnectLocked(delay)
	m.mu.Unlock()

	m.metrics.Reconnect()
	m.logger.Info("reconnect scheduled", zap.Int("attempt", n), zap.Duration("delay", delay))
	m.emit(bus.Reconnecting{Attempt: n, Delay: delay})
}

func (m *Manager) armReconnectLocked(delay time.Duration) {
	ep := m.epoch
	m.reconnect = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.epoch != ep || !m.auto {
			m.mu.Unlock()
			return
		}
		m.reconnect = nil
		m.mu.Unlock()
		m.Connect(context.Background(), "")
	})
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

// Disconnect tears the connection down and stops probes and reconnects.
func (m *Manager) Disconnect() {
	m.teardown("client disconnect", false)
}

// ForceReconnect tears the connection down and dials again after the force
// reconnect delay, resetting the attempt counter and the exhausted state.
func (m *Manager) ForceReconnect() {
	m.teardown("force reconnect", true)

	m.mu.Lock()
	m.attempts = 0
	m.exhausted = false
	m.auto = true
	m.stopReconnectLocked()
	m.armReconnectLocked(m.cfg.ForceReconnectDelay)
	m.mu.Unlock()
	m.logger.Info("force reconnect scheduled", zap.Duration("delay", m.cfg.ForceReconnectDelay))
}

func (m *Manager) teardown(reason string, retry bool) {
	m.mu.Lock()
	m.auto = false
	m.epoch++
	m.stopReconnectLocked()
	conn := m.conn
	pending := m.detachLocked()
	m.mu.Unlock()

	failPending(pending)
	if conn == nil {
		return
	}
	_ = conn.Close()
	m.logger.Info("event stream closed", zap.String("reason", reason))
	m.transition(status.Disconnected)
	m.emit(bus.Disconnected{Reason: reason, WillRetry: retry})
}

// detachLocked clears connection state and returns the waiting requests.
func (m *Manager) detachLocked() map[uint64]chan wire.Frame {
	m.conn = nil
	m.gen++
	m.healthy = false
	m.awaiting = 0
	if m.probeTimer != nil {
		m.probeTimer.Stop()
		m.probeTimer = nil
	}
	if m.probeDeadline != nil {
		m.probeDeadline.Stop()
		m.probeDeadline = nil
	}
	pending := m.pending
	m.pending = make(map[uint64]chan wire.Frame)
	return pending
}

func failPending(pending map[uint64]chan wire.Frame) {
	for _, ch := range pending {
		close(ch)
	}
}

// EnsureConnection reports whether the connection is healthy, starting a
// connect when it is not.
func (m *Manager) EnsureConnection(ctx context.Context) bool {
	if m.Healthy() {
		return true
	}
	m.Connect(ctx, "")
	return m.Healthy()
}

// Healthy reports whether a connection exists and its last probe succeeded.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.healthy
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:         m.machine.Current(),
		Attempts:      m.attempts,
		Exhausted:     m.exhausted,
		Healthy:       m.conn != nil && m.healthy,
		LastProbeOK:   m.lastProbeOK,
		LastProbeSent: m.probeSentAt,
	}
}

func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		f, err := wire.Parse(data)
		if err != nil {
			m.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if f.IsAck() {
			m.resolveAck(f)
			continue
		}
		m.metrics.Push(f.Event)
		p, err := wire.Decode(f)
		if errors.Is(err, wire.ErrUnknownEvent) {
			m.logger.Debug("ignoring unknown event", zap.String("event", f.Event))
			continue
		}
		if err != nil {
			m.logger.Warn("dropping invalid event", zap.String("event", f.Event), zap.Error(err))
			continue
		}
		m.emit(p)
	}
}

func (m *Manager) handleClose(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	pending := m.detachLocked()
	retry := m.auto
	m.mu.Unlock()

	failPending(pending)
	_ = conn.Close()
	m.logger.Warn("event stream lost", zap.Error(cause))
	m.transition(status.Disconnected)
	m.emit(bus.Disconnected{Reason: cause.Error(), WillRetry: retry})
	if retry {
		m.scheduleReconnect()
	}
}

func (m *Manager) resolveAck(f wire.Frame) {
	m.mu.Lock()
	ch, ok := m.pending[f.Ack]
	if ok {
		delete(m.pending, f.Ack)
		m.mu.Unlock()
		ch <- f
		return
	}
	m.mu.Unlock()
	m.handlePong(f.Ack)
}

func (m *Manager) armProbeLocked(gen uint64) {
	if m.cfg.ProbeInterval <= 0 {
		return
	}
	m.probeTimer = m.clock.AfterFunc(m.cfg.ProbeInterval, func() { m.probe(gen) })
}

func (m *Manager) probe(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.nextAck++
	id := m.nextAck
	now := m.clock.Now()
	m.awaiting = id
	m.probeSentAt = now
	if m.probeDeadline != nil {
		m.probeDeadline.Stop()
	}
	m.probeDeadline = m.clock.AfterFunc(m.cfg.ProbeTimeout, func() { m.probeExpired(gen, id) })
	m.armProbeLocked(gen)
	m.mu.Unlock()

	frame, err := wire.Encode(wire.EventPing, wire.Ping{Timestamp: now.UnixMilli()}, id)
	if err != nil {
		m.logger.Error("encode probe", zap.Error(err))
		return
	}
	if err := conn.WriteMessage(frame); err != nil {
		m.logger.Debug("probe write failed", zap.Error(err))
	}
}

func (m *Manager) probeExpired(gen, id uint64) {
	m.mu.Lock()
	if gen != m.gen || m.awaiting != id {
		m.mu.Unlock()
		return
	}
	wasHealthy := m.healthy
	m.healthy = false
	m.mu.Unlock()

	m.metrics.ProbeTimeout()
	m.logger.Warn("health probe timed out", zap.Uint64("probe", id))
	if wasHealthy {
		m.transition(status.Degraded)
		m.emit(bus.HealthChanged{Healthy: false})
	}
}

// handlePong honours only the reply to the most recent probe.
func (m *Manager) handlePong(id uint64) {
	m.mu.Lock()
	if id == 0 || id != m.awaiting {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	latency := now.Sub(m.probeSentAt)
	m.awaiting = 0
	m.lastProbeOK = now
	wasHealthy := m.healthy
	m.healthy = true
	if m.probeDeadline != nil {
		m.probeDeadline.Stop()
		m.probeDeadline = nil
	}
	m.mu.Unlock()

	m.metrics.ProbeLatency(latency)
	if !wasHealthy {
		m.logger.Info("health restored", zap.Duration("latency", latency))
		m.transition(status.Connected)
		m.emit(bus.HealthChanged{Healthy: true, Latency: latency})
	}
}

// Request sends an acknowledged event and waits for the reply payload.
func (m *Manager) Request(ctx context.Context, event string, data any) (json.RawMessage, error) {
	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", event, ErrNotConnected)
	}
	m.nextAck++
	id := m.nextAck
	ch := make(chan wire.Frame, 1)
	m.pending[id] = ch
	m.mu.Unlock()

	frame, err := wire.Encode(event, data, id)
	if err != nil {
		m.dropPending(id)
		return nil, err
	}
	if err := conn.WriteMessage(frame); err != nil {
		m.dropPending(id)
		return nil, fmt.Errorf("send %s: %w", event, err)
	}

	if _, ok := ctx.Deadline(); !ok && m.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.RequestTimeout)
		defer cancel()
	}
	select {
	case f, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: %w", event, ErrNotConnected)
		}
		return f.Data, nil
	case <-ctx.Done():
		m.dropPending(id)
		return nil, fmt.Errorf("%s: %w", event, ctx.Err())
	}
}

func (m *Manager) dropPending(id uint64) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// Send writes a fire-and-forget event.
func (m *Manager) Send(event string, data any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%s: %w", event, ErrNotConnected)
	}
	frame, err := wire.Encode(event, data, 0)
	if err != nil {
		return err
	}
	return conn.WriteMessage(frame)
}

// JoinConversation subscribes to a conversation room.
func (m *Manager) JoinConversation(ctx context.Context, conversationID string) error {
	return m.room(ctx, "join", wire.EventJoinConversation, conversationID)
}

// LeaveConversation unsubscribes from a conversation room.
func (m *Manager) LeaveConversation(ctx context.Context, conversationID string) error {
	return m.room(ctx, "leave", wire.EventLeaveConversation, conversationID)
}

func (m *Manager) room(ctx context.Context, op, event, conversationID string) error {
	raw, err := m.Request(ctx, event, conversationID)
	if err != nil {
		return err
	}
	var ack wire.RoomAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return fmt.Errorf("decode %s ack: %w", event, err)
	}
	if !ack.Success {
		reason := ack.Error
		if reason == "" {
			reason = "rejected"
		}
		return &RoomError{Op: op, ConversationID: conversationID, Reason: reason}
	}
	return nil
}

// Typing tells the conversation the local user is typing.
func (m *Manager) Typing(conversationID string) error {
	return m.Send(wire.EventTyping, wire.TypingData{ConversationID: conversationID})
}

// StopTyping tells the conversation the local user stopped typing.
func (m *Manager) StopTyping(conversationID string) error {
	return m.Send(wire.EventStopTyping, wire.TypingData{ConversationID: conversationID})
}

func (m *Manager) transition(to status.State) {
	if err := m.machine.Transition(to); err != nil {
		m.logger.Debug("state transition skipped", zap.Error(err))
	}
}

func (m *Manager) emit(p bus.Payload) {
	if m.bus != nil {
		m.bus.Emit(p)
	}
}
