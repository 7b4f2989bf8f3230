package timeline

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/chat"
)

// LoadResult describes a page prepended by LoadOlder.
type LoadResult struct {
	// Added is the number of messages prepended.
	Added int
	// PreviousCount is the list length before the prepend, used to keep the
	// reader's scroll anchor.
	PreviousCount int
	HasMore       bool
}

// LoadOlder fetches the next older page and prepends it. It is a no-op while
// a load is running or when no older pages remain.
func (e *Engine) LoadOlder(ctx context.Context) (LoadResult, error) {
	e.mu.Lock()
	convID := e.activeIDLocked()
	if convID == "" {
		e.mu.Unlock()
		return LoadResult{}, ErrNoConversation
	}
	if e.loading || !e.hasMore {
		res := LoadResult{PreviousCount: len(e.messages), HasMore: e.hasMore}
		e.mu.Unlock()
		return res, nil
	}
	e.loading = true
	next := e.page + 1
	gen := e.gen
	e.mu.Unlock()

	page, err := e.svc.ListMessages(ctx, convID, next, e.opts.PageSize)

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return LoadResult{}, nil
	}
	e.loading = false
	if err != nil {
		e.mu.Unlock()
		return LoadResult{}, fmt.Errorf("load page %d of %s: %w", next, convID, err)
	}
	res := LoadResult{PreviousCount: len(e.messages)}
	if len(page.Messages) == 0 {
		e.hasMore = false
	} else {
		var added int
		e.messages, added = prependOlder(e.messages, page.Messages)
		res.Added = added
		e.page = next
		e.hasMore = page.HasMore
	}
	res.HasMore = e.hasMore
	e.mu.Unlock()

	if res.Added > 0 {
		e.emit(convID, "older")
	}
	return res, nil
}

// prependOlder merges older server messages into msgs, skipping ids already
// present, and keeps the list in creation order.
func prependOlder(msgs, older []*chat.Message) ([]*chat.Message, int) {
	fresh := make([]*chat.Message, 0, len(older))
	for _, m := range older {
		if indexByID(msgs, m.ID) < 0 && indexByID(fresh, m.ID) < 0 {
			fresh = append(fresh, confirmed(m))
		}
	}
	if len(fresh) == 0 {
		return msgs, 0
	}
	out := make([]*chat.Message, 0, len(fresh)+len(msgs))
	out = append(out, fresh...)
	out = append(out, msgs...)
	chat.SortMessages(out)
	return out, len(fresh)
}
