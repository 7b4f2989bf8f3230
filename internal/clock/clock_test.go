package clock

import (
	"testing"
	"time"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	var order []string
	f.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	f.AfterFunc(time.Second, func() { order = append(order, "a") })
	f.AfterFunc(2*time.Second, func() { order = append(order, "b") })

	f.Advance(2 * time.Second)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v, want [a b]", order)
	}
	if f.Pending() != 1 {
		t.Errorf("pending = %d, want 1", f.Pending())
	}
	f.Advance(time.Second)
	if len(order) != 3 || order[2] != "c" {
		t.Errorf("order = %v, want [a b c]", order)
	}
}

func TestFakeStop(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	fired := false
	tm := f.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Error("first Stop() = false, want true")
	}
	if tm.Stop() {
		t.Error("second Stop() = true, want false")
	}
	f.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFakeRearmWithinAdvance(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		f.AfterFunc(time.Second, tick)
	}
	f.AfterFunc(time.Second, tick)

	f.Advance(5 * time.Second)
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
	if got := f.Now(); !got.Equal(time.Unix(5, 0)) {
		t.Errorf("now = %v, want %v", got, time.Unix(5, 0))
	}
}

func TestFakeNowDuringCallback(t *testing.T) {
	start := time.Unix(100, 0)
	f := NewFake(start)
	var seen time.Time
	f.AfterFunc(2*time.Second, func() { seen = f.Now() })
	f.Advance(10 * time.Second)
	if !seen.Equal(start.Add(2 * time.Second)) {
		t.Errorf("now inside callback = %v, want %v", seen, start.Add(2*time.Second))
	}
}
