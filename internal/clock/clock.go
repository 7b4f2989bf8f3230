package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time source used by every component that compares or schedules
// against wall-clock time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing. Returns false if it already fired
	// or was already stopped.
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Fake is a manually advanced Clock for tests. Timers fire synchronously
// inside Advance, on the caller's goroutine.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*fakeTimer
}

type fakeTimer struct {
	f    *Fake
	id   int
	at   time.Time
	fire func()
}

// NewFake returns a Fake clock positioned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, timers: make(map[int]*fakeTimer)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{f: f, id: f.seq, at: f.now.Add(d), fire: fn}
	f.timers[t.id] = t
	return t
}

// Advance moves the clock forward by d, firing every timer whose deadline
// falls inside the interval in deadline order. Timers armed by fired
// callbacks are honoured if they fall inside the interval too.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.earliest(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		delete(f.timers, next.id)
		if next.at.After(f.now) {
			f.now = next.at
		}
		f.mu.Unlock()
		next.fire()
	}
}

// Pending returns the number of armed timers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func (f *Fake) earliest(limit time.Time) *fakeTimer {
	due := make([]*fakeTimer, 0, len(f.timers))
	for _, t := range f.timers {
		if !t.at.After(limit) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].id < due[j].id
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

func (t *fakeTimer) Stop() bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	if _, ok := t.f.timers[t.id]; !ok {
		return false
	}
	delete(t.f.timers, t.id)
	return true
}
