package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTyping() (*Typing, *clock.Fake, *bus.Bus) {
	clk := clock.NewFake(time.Unix(0, 0))
	b := bus.New(nil)
	return NewTyping(b, clk, 3*time.Second, "me", nil), clk, b
}

func TestTypingStartStop(t *testing.T) {
	tp, _, b := newTyping()
	tp.Start()
	defer tp.Stop()

	var changes []bus.TypingChanged
	bus.OnPayload(b, func(p bus.TypingChanged) { changes = append(changes, p) })

	b.Emit(bus.UserTyping{ConversationID: "c1", UserID: "u1", UserName: "Ann"})
	b.Emit(bus.UserTyping{ConversationID: "c1", UserID: "u2", UserName: "Bo"})
	b.Emit(bus.UserTyping{ConversationID: "c1", UserID: "u1", UserName: "Ann"})
	assert.Equal(t, []string{"Ann", "Bo"}, tp.Users("c1"))

	b.Emit(bus.UserStopTyping{ConversationID: "c1", UserID: "u1"})
	assert.Equal(t, []string{"Bo"}, tp.Users("c1"))
	require.Len(t, changes, 3, "repeat typing event does not re-emit")
}

func TestTypingIgnoresSelf(t *testing.T) {
	tp, _, _ := newTyping()
	tp.Started("c1", "me", "Me")
	assert.Empty(t, tp.Users("c1"))
}

func TestTypingTimesOut(t *testing.T) {
	tp, clk, _ := newTyping()
	tp.Started("c1", "u1", "Ann")

	clk.Advance(2 * time.Second)
	tp.Started("c1", "u1", "Ann")
	clk.Advance(2 * time.Second)
	assert.Equal(t, []string{"Ann"}, tp.Users("c1"), "refresh extends timeout")

	clk.Advance(time.Second)
	assert.Empty(t, tp.Users("c1"))
	assert.Equal(t, 0, clk.Pending())
}

func TestTypingClearedOnDisconnect(t *testing.T) {
	tp, _, b := newTyping()
	tp.Start()
	defer tp.Stop()
	tp.Started("c1", "u1", "")
	assert.Equal(t, []string{"u1"}, tp.Users("c1"), "name falls back to id")

	b.Emit(bus.Disconnected{Reason: "eof", WillRetry: true})
	assert.Empty(t, tp.Users("c1"))
}

type recordingSignaler struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSignaler) Typing(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "typing:"+id)
	return nil
}

func (r *recordingSignaler) StopTyping(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "stop:"+id)
	return nil
}

func TestTypistOnePerBurst(t *testing.T) {
	sig := &recordingSignaler{}
	clk := clock.NewFake(time.Unix(0, 0))
	ty := NewTypist(sig, clk, 3*time.Second, nil)

	ty.Keystroke("c1")
	clk.Advance(time.Second)
	ty.Keystroke("c1")
	clk.Advance(2 * time.Second)
	ty.Keystroke("c1")
	assert.Equal(t, []string{"typing:c1"}, sig.events)

	clk.Advance(3 * time.Second)
	assert.Equal(t, []string{"typing:c1", "stop:c1"}, sig.events)
	assert.Empty(t, ty.Active())
}

func TestTypistStopAndSwitch(t *testing.T) {
	sig := &recordingSignaler{}
	clk := clock.NewFake(time.Unix(0, 0))
	ty := NewTypist(sig, clk, 3*time.Second, nil)

	ty.Keystroke("c1")
	ty.Keystroke("c2")
	ty.Stop()
	ty.Stop()
	clk.Advance(5 * time.Second)

	assert.Equal(t, []string{"typing:c1", "stop:c1", "typing:c2", "stop:c2"}, sig.events)
}

func TestFocusDefaultsToFocused(t *testing.T) {
	var f Focus
	assert.True(t, f.Focused())
	f.SetFocused(false)
	assert.False(t, f.Focused())
}
