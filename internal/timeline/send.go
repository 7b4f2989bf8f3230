package timeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/outbox"
	"go.uber.org/zap"
)

// SendMessage appends an optimistic text message to the active conversation
// and sends it. Only one send per conversation may be in flight. On failure
// the message stays visible with status failed and is returned with the
// error.
func (e *Engine) SendMessage(ctx context.Context, content string, replyTo *chat.Message) (*chat.Message, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil, ErrEmptyContent
	}
	convID := e.Active()
	if convID == "" {
		return nil, ErrNoConversation
	}
	release, ok := e.tracker.BeginSend(convID)
	if !ok {
		return nil, ErrSendInFlight
	}
	defer release()

	msg := e.optimistic(convID, chat.Text, text, replyTo)
	e.appendOptimistic(convID, msg, true)

	req := api.SendRequest{Content: text, MessageType: chat.Text, ClientMessageID: msg.ID}
	if replyTo != nil {
		req.ReplyTo = replyTo.ID
	}
	return e.deliver(ctx, convID, msg.ID, req)
}

// SendImage sends an already uploaded image with an optional caption.
func (e *Engine) SendImage(ctx context.Context, imageID, caption string, replyTo *chat.Message) (*chat.Message, error) {
	if imageID == "" {
		return nil, ErrMissingAttachment
	}
	convID := e.Active()
	if convID == "" {
		return nil, ErrNoConversation
	}
	caption = strings.TrimSpace(caption)
	msg := e.optimistic(convID, chat.Image, caption, replyTo)
	msg.Attachment = &chat.Attachment{Filename: imageID, OriginalName: "image", FileType: "image/jpeg"}
	e.appendOptimistic(convID, msg, false)

	req := api.SendRequest{Content: caption, MessageType: chat.Image, ImageID: imageID, ClientMessageID: msg.ID}
	if replyTo != nil {
		req.ReplyTo = replyTo.ID
	}
	return e.deliver(ctx, convID, msg.ID, req)
}

// RetryMessage re-issues a failed operation: a failed send is resent under a
// fresh temporary id, a failed delete is deleted again.
func (e *Engine) RetryMessage(ctx context.Context, messageID string) (*chat.Message, error) {
	e.mu.Lock()
	i := indexByID(e.messages, messageID)
	if i < 0 {
		e.mu.Unlock()
		return nil, ErrMessageNotFound
	}
	status := e.messages[i].Status
	e.mu.Unlock()

	switch status {
	case chat.StatusDeleteFailed:
		return nil, e.DeleteMessage(ctx, messageID)
	case chat.StatusFailed:
	default:
		return nil, ErrNotRetryable
	}

	release, ok := e.tracker.Acquire(messageID)
	if !ok {
		return nil, ErrOperationInFlight
	}
	defer release()

	e.mu.Lock()
	i = indexByID(e.messages, messageID)
	if i < 0 || e.messages[i].Status != chat.StatusFailed {
		e.mu.Unlock()
		return nil, ErrNotRetryable
	}
	m := e.messages[i]
	if m.Type == chat.Image && (m.Attachment == nil || m.Attachment.Filename == "") {
		e.mu.Unlock()
		return nil, ErrMissingAttachment
	}
	convID := e.activeIDLocked()
	tempID := outbox.NewTempID()
	m.ID = tempID
	m.ClientMessageID = tempID
	m.Status = chat.StatusSending
	m.Error = ""
	req := api.SendRequest{Content: m.Content, MessageType: m.Type, ClientMessageID: tempID}
	if m.Type == "" {
		req.MessageType = chat.Text
	}
	if m.Type == chat.Image {
		req.ImageID = m.Attachment.Filename
	}
	if m.ReplyTo != nil {
		req.ReplyTo = m.ReplyTo.ID
	}
	e.mu.Unlock()
	e.emit(convID, "retry")

	return e.deliver(ctx, convID, tempID, req)
}

func (e *Engine) optimistic(convID string, typ chat.MessageType, content string, replyTo *chat.Message) *chat.Message {
	tempID := outbox.NewTempID()
	msg := &chat.Message{
		ID:              tempID,
		ConversationID:  convID,
		Sender:          e.opts.Self,
		Content:         content,
		Type:            typ,
		CreatedAt:       e.clock.Now(),
		ClientMessageID: tempID,
		Status:          chat.StatusSending,
		Optimistic:      true,
	}
	if replyTo != nil {
		msg.ReplyTo = &chat.MessageRef{ID: replyTo.ID, Content: replyTo.Content, Sender: replyTo.Sender}
	}
	return msg
}

func (e *Engine) appendOptimistic(convID string, msg *chat.Message, clearDraft bool) {
	e.mu.Lock()
	if e.activeIDLocked() == convID {
		e.messages = append(e.messages, msg)
	}
	if clearDraft {
		e.draft = ""
	}
	e.mu.Unlock()

	if clearDraft {
		if e.typist != nil {
			e.typist.Stop()
		}
		if e.mention != nil {
			e.mention.Close()
		}
	}
	e.emit(convID, "send")
}

// deliver sends req and reconciles the temporary message tempID with the
// outcome. Only tempID is ever replaced.
func (e *Engine) deliver(ctx context.Context, convID, tempID string, req api.SendRequest) (*chat.Message, error) {
	server, err := e.svc.SendMessage(ctx, convID, req)
	if err != nil {
		var failed *chat.Message
		e.mu.Lock()
		if i := indexByID(e.messages, tempID); i >= 0 {
			e.messages[i].Status = chat.StatusFailed
			e.messages[i].Error = err.Error()
			failed = e.messages[i].Clone()
		}
		e.mu.Unlock()
		e.tracker.Fail(convID, tempID, err)
		e.emit(convID, "send_failed")
		return failed, fmt.Errorf("send message: %w", err)
	}

	sent := confirmed(server)
	if sent.ConversationID == "" {
		sent.ConversationID = convID
	}
	if sent.ClientMessageID == "" {
		sent.ClientMessageID = tempID
	}
	e.seen.Allow(sent.ID + "_" + convID)

	e.mu.Lock()
	if i := indexByID(e.messages, tempID); i >= 0 {
		if j := indexByID(e.messages, sent.ID); j >= 0 {
			e.messages = slices.Delete(e.messages, i, i+1)
		} else {
			e.messages[i] = sent
		}
	}
	out := sent.Clone()
	e.mu.Unlock()

	e.tracker.Ack(convID, tempID, sent.ID)
	if e.convs != nil {
		e.convs.Touch(out)
	}
	e.emit(convID, "sent")
	return out, nil
}

// EditMessage optimistically replaces a message's content. A server failure
// restores the previous content and edit state.
func (e *Engine) EditMessage(ctx context.Context, messageID, content string) (*chat.Message, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil, ErrEmptyContent
	}
	if outbox.IsTempID(messageID) {
		return nil, ErrNotRetryable
	}
	release, ok := e.tracker.Acquire(messageID)
	if !ok {
		return nil, ErrOperationInFlight
	}
	defer release()

	e.mu.Lock()
	i := indexByID(e.messages, messageID)
	if i < 0 {
		e.mu.Unlock()
		return nil, ErrMessageNotFound
	}
	m := e.messages[i]
	prevContent, prevEdited, prevEditedAt := m.Content, m.IsEdited, m.EditedAt
	now := e.clock.Now()
	m.Content = text
	m.IsEdited = true
	m.EditedAt = &now
	convID := e.activeIDLocked()
	e.mu.Unlock()
	e.emit(convID, "edit")

	server, err := e.svc.EditMessage(ctx, messageID, text)

	e.mu.Lock()
	i = indexByID(e.messages, messageID)
	if err != nil {
		if i >= 0 && e.messages[i].Content == text {
			e.messages[i].Content = prevContent
			e.messages[i].IsEdited = prevEdited
			e.messages[i].EditedAt = prevEditedAt
		}
		e.mu.Unlock()
		e.logger.Warn("edit failed, reverted", zap.String("msg_id", messageID), zap.Error(err))
		e.emit(convID, "edit_reverted")
		return nil, fmt.Errorf("edit message %s: %w", messageID, err)
	}
	var out *chat.Message
	if i >= 0 {
		if server != nil && server.ID == messageID {
			e.messages[i].Content = server.Content
			e.messages[i].IsEdited = server.IsEdited
			if server.EditedAt != nil {
				e.messages[i].EditedAt = server.EditedAt
			}
		}
		out = e.messages[i].Clone()
	}
	e.mu.Unlock()
	return out, nil
}

// DeleteMessage optimistically removes a message. If the server refuses, the
// message is restored at its chronological position with status
// delete_failed. A failed send is only removed locally, one still being sent
// cannot be deleted, and one the server no longer has counts as deleted.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	release, ok := e.tracker.Acquire(messageID)
	if !ok {
		return ErrOperationInFlight
	}
	defer release()

	e.mu.Lock()
	i := indexByID(e.messages, messageID)
	if i < 0 {
		e.mu.Unlock()
		return ErrMessageNotFound
	}
	removed := e.messages[i]
	if removed.Status == chat.StatusSending {
		e.mu.Unlock()
		return ErrOperationInFlight
	}
	e.messages = slices.Delete(e.messages, i, i+1)
	convID := e.activeIDLocked()
	gen := e.gen
	e.mu.Unlock()
	e.emit(convID, "delete")

	if outbox.IsTempID(messageID) {
		return nil
	}

	err := e.svc.DeleteMessage(ctx, messageID)
	if err == nil || errors.Is(err, api.ErrNotFound) {
		return nil
	}

	e.mu.Lock()
	if e.gen == gen && indexByID(e.messages, messageID) < 0 {
		removed.Status = chat.StatusDeleteFailed
		removed.Error = "failed to delete message"
		e.messages = chat.InsertChronological(e.messages, removed)
	}
	e.mu.Unlock()
	e.logger.Warn("delete failed, restored", zap.String("msg_id", messageID), zap.Error(err))
	e.emit(convID, "delete_restored")
	return fmt.Errorf("delete message %s: %w", messageID, err)
}

// ToggleReaction adds emoji from the current user, or removes it if already
// present. The reaction set itself arrives by push.
func (e *Engine) ToggleReaction(ctx context.Context, messageID, emoji string) error {
	e.mu.Lock()
	i := indexByID(e.messages, messageID)
	if i < 0 {
		e.mu.Unlock()
		return ErrMessageNotFound
	}
	self := e.opts.Self.ID
	mine := slices.ContainsFunc(e.messages[i].Reactions, func(r chat.Reaction) bool {
		return r.Emoji == emoji && r.User.ID == self
	})
	e.mu.Unlock()

	var err error
	if mine {
		_, err = e.svc.RemoveReaction(ctx, messageID, emoji)
	} else {
		_, err = e.svc.AddReaction(ctx, messageID, emoji)
	}
	if err != nil {
		return fmt.Errorf("toggle reaction on %s: %w", messageID, err)
	}
	return nil
}

// UpdateDraft records compose input at cursor (a rune offset). It signals
// typing and, in group conversations, feeds mention autocomplete. It
// reports whether mention suggestions are showing.
func (e *Engine) UpdateDraft(text string, cursor int) bool {
	e.mu.Lock()
	e.draft = text
	convID := e.activeIDLocked()
	group := e.active != nil && e.active.Type == chat.Group
	e.mu.Unlock()

	if convID == "" {
		return false
	}
	if e.typist != nil {
		if strings.TrimSpace(text) == "" {
			e.typist.Stop()
		} else {
			e.typist.Keystroke(convID)
		}
	}
	if e.mention == nil || !group {
		return false
	}
	return e.mention.Update(text, cursor)
}

// SelectMention inserts the highlighted suggestion into the draft.
func (e *Engine) SelectMention() (string, int, bool) {
	if e.mention == nil {
		return "", 0, false
	}
	text, cursor, ok := e.mention.Select()
	if ok {
		e.mu.Lock()
		e.draft = text
		e.mu.Unlock()
	}
	return text, cursor, ok
}
