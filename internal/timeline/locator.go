package timeline

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/matheus3301/chatsync/internal/chat"
	"go.uber.org/zap"
)

// JumpResult locates a message within the loaded list.
type JumpResult struct {
	Message *chat.Message
	Index   int
	// PagesFetched counts the older pages loaded to reach the message.
	PagesFetched int
}

// JumpTo makes messageID present in the list, fetching older pages up to the
// page budget. A message that is not found within the budget, or before
// history runs out, yields ErrMessageNotFound; fetch failures are returned
// as they are.
func (e *Engine) JumpTo(ctx context.Context, messageID string) (JumpResult, error) {
	e.mu.Lock()
	convID := e.activeIDLocked()
	if convID == "" {
		e.mu.Unlock()
		return JumpResult{}, ErrNoConversation
	}
	if i := indexByID(e.messages, messageID); i >= 0 {
		res := JumpResult{Message: e.messages[i].Clone(), Index: i}
		e.mu.Unlock()
		return res, nil
	}
	if e.loading {
		e.mu.Unlock()
		return JumpResult{}, ErrOperationInFlight
	}
	if !e.hasMore {
		e.mu.Unlock()
		return JumpResult{}, fmt.Errorf("jump to %s: %w", messageID, ErrMessageNotFound)
	}
	e.loading = true
	start := e.page + 1
	gen := e.gen
	e.mu.Unlock()

	var (
		collected []*chat.Message
		fetched   int
		lastPage  = start - 1
		hasMore   = true
		found     bool
		fetchErr  error
	)
	for p := start; p < start+e.opts.MaxJumpPages; p++ {
		page, err := e.svc.ListMessages(ctx, convID, p, e.opts.PageSize)
		if err != nil {
			fetchErr = fmt.Errorf("jump to %s: load page %d: %w", messageID, p, err)
			break
		}
		fetched++
		if len(page.Messages) == 0 {
			hasMore = false
			break
		}
		collected = append(slices.Clone(page.Messages), collected...)
		lastPage, hasMore = p, page.HasMore
		if indexByID(page.Messages, messageID) >= 0 {
			found = true
			break
		}
		if !page.HasMore {
			break
		}
	}

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return JumpResult{}, fmt.Errorf("jump to %s: %w", messageID, ErrNoConversation)
	}
	e.loading = false
	if fetchErr != nil {
		e.mu.Unlock()
		return JumpResult{}, fetchErr
	}
	if !found {
		e.mu.Unlock()
		e.logger.Info("jump target not in history", zap.String("msg_id", messageID), zap.Int("pages", fetched))
		return JumpResult{}, fmt.Errorf("jump to %s: %w", messageID, ErrMessageNotFound)
	}
	e.messages, _ = prependOlder(e.messages, collected)
	e.page = lastPage
	e.hasMore = hasMore
	i := indexByID(e.messages, messageID)
	res := JumpResult{Message: e.messages[i].Clone(), Index: i, PagesFetched: fetched}
	e.mu.Unlock()

	e.emit(convID, "jump")
	return res, nil
}

// Search runs a server-side search in the active conversation.
func (e *Engine) Search(ctx context.Context, query string) ([]*chat.Message, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, ErrEmptyContent
	}
	convID := e.Active()
	if convID == "" {
		return nil, ErrNoConversation
	}
	msgs, err := e.svc.SearchMessages(ctx, convID, q, e.opts.SearchLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", convID, err)
	}
	return msgs, nil
}
