package mention

import (
	"sync"

	"github.com/matheus3301/chatsync/internal/chat"
)

// Coordinator tracks autocomplete state for one compose box.
type Coordinator struct {
	mu         sync.Mutex
	selfID     string
	candidates []chat.User
	text       string
	cursor     int
	trigger    Trigger
	open       bool
	matches    []chat.User
	index      int
}

// NewCoordinator returns a closed coordinator. selfID is never suggested.
func NewCoordinator(selfID string) *Coordinator {
	return &Coordinator{selfID: selfID}
}

// SetCandidates replaces the users that can be mentioned, typically a
// group's participants.
func (c *Coordinator) SetCandidates(users []chat.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = c.candidates[:0]
	for _, u := range users {
		if u.ID != c.selfID {
			c.candidates = append(c.candidates, u)
		}
	}
	c.refilterLocked()
}

// Update feeds the current draft and reports whether suggestions are showing.
func (c *Coordinator) Update(text string, cursor int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text, c.cursor = text, cursor
	t, ok := Detect(text, cursor)
	if !ok {
		c.closeLocked()
		return false
	}
	if !c.open || t != c.trigger {
		c.index = 0
	}
	c.trigger, c.open = t, true
	c.refilterLocked()
	return len(c.matches) > 0
}

// Open reports whether suggestions are showing.
func (c *Coordinator) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && len(c.matches) > 0
}

// Term is the search term after the '@'.
func (c *Coordinator) Term() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trigger.Term
}

func (c *Coordinator) Matches() []chat.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.User(nil), c.matches...)
}

// Selected returns the highlighted suggestion.
func (c *Coordinator) Selected() (chat.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || len(c.matches) == 0 {
		return chat.User{}, false
	}
	return c.matches[c.index], true
}

// Next moves the highlight down, wrapping to the top.
func (c *Coordinator) Next() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.matches); n > 0 {
		c.index = (c.index + 1) % n
	}
}

// Prev moves the highlight up, wrapping to the bottom.
func (c *Coordinator) Prev() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.matches); n > 0 {
		c.index = (c.index - 1 + n) % n
	}
}

// Close hides suggestions until the next trigger.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// Select inserts the highlighted user into the last draft and closes.
func (c *Coordinator) Select() (text string, cursor int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || len(c.matches) == 0 {
		return c.text, c.cursor, false
	}
	u := c.matches[c.index]
	text, cursor = Insert(c.text, c.cursor, u.ID, u.FullName)
	c.text, c.cursor = text, cursor
	c.closeLocked()
	return text, cursor, true
}

func (c *Coordinator) refilterLocked() {
	if !c.open {
		c.matches = nil
		return
	}
	c.matches = Filter(c.candidates, c.trigger.Term)
	if c.index >= len(c.matches) {
		c.index = 0
	}
}

func (c *Coordinator) closeLocked() {
	c.open = false
	c.trigger = Trigger{}
	c.matches = nil
	c.index = 0
}
