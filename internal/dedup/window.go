package dedup

import (
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/matheus3301/chatsync/internal/clock"
)

// Options configures a Window.
type Options struct {
	// Window is how long a key suppresses repeats. Zero remembers keys until
	// they are evicted.
	Window time.Duration
	// Retain and PurgeAbove drop keys older than Retain once more than
	// PurgeAbove keys are tracked.
	Retain     time.Duration
	PurgeAbove int
	// MaxEntries and TrimTo keep only the newest TrimTo keys once more than
	// MaxEntries are tracked.
	MaxEntries int
	TrimTo     int
}

// UnreadOptions are the settings used for pushed unread counts.
func UnreadOptions() Options {
	return Options{Window: time.Second, Retain: time.Minute, PurgeAbove: 50}
}

// MessageOptions are the settings used for pushed messages.
func MessageOptions() Options {
	return Options{MaxEntries: 100, TrimTo: 50}
}

// Window remembers recently seen keys in insertion order.
type Window struct {
	mu    sync.Mutex
	opts  Options
	clock clock.Clock
	seen  *orderedmap.OrderedMap[string, time.Time]
}

// New creates a Window. A nil clock uses the real clock.
func New(opts Options, c clock.Clock) *Window {
	if c == nil {
		c = clock.Real()
	}
	return &Window{
		opts:  opts,
		clock: c,
		seen:  orderedmap.NewOrderedMap[string, time.Time](),
	}
}

// Allow records key and reports whether it was not seen inside the window.
func (w *Window) Allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	if at, ok := w.seen.Get(key); ok {
		if w.opts.Window == 0 || now.Sub(at) < w.opts.Window {
			return false
		}
		w.seen.Delete(key)
	}
	w.seen.Set(key, now)
	w.evict(now)
	return true
}

// Seen reports whether key is tracked, without recording it.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen.Get(key)
	return ok
}

// Forget drops key so the next Allow accepts it.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen.Delete(key)
}

// Len returns the number of tracked keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seen.Len()
}

// Reset drops every key.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = orderedmap.NewOrderedMap[string, time.Time]()
}

func (w *Window) evict(now time.Time) {
	if w.opts.Retain > 0 && w.seen.Len() > w.opts.PurgeAbove {
		var stale []string
		for el := w.seen.Front(); el != nil; el = el.Next() {
			if now.Sub(el.Value) <= w.opts.Retain {
				break
			}
			stale = append(stale, el.Key)
		}
		for _, k := range stale {
			w.seen.Delete(k)
		}
	}
	if w.opts.MaxEntries > 0 && w.seen.Len() > w.opts.MaxEntries {
		excess := w.seen.Len() - w.opts.TrimTo
		var drop []string
		for el := w.seen.Front(); el != nil && len(drop) < excess; el = el.Next() {
			drop = append(drop, el.Key)
		}
		for _, k := range drop {
			w.seen.Delete(k)
		}
	}
}
