package timeline

import (
	"context"
	"slices"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/notify"
	"go.uber.org/zap"
)

func (e *Engine) onNewMessage(ctx context.Context, p bus.NewMessage) {
	msg := p.Message
	if msg == nil || msg.ID == "" {
		return
	}
	convID := p.ConversationID
	if !e.seen.Allow(msg.ID + "_" + convID) {
		e.metrics.DuplicatePush("new_message")
		e.logger.Debug("duplicate message push", zap.String("msg_id", msg.ID), zap.String("conversation_id", convID))
		return
	}
	incoming := confirmed(msg)
	if incoming.ConversationID == "" {
		incoming.ConversationID = convID
	}
	own := msg.Sender.ID == e.opts.Self.ID

	e.mu.Lock()
	activeID := e.activeIDLocked()
	active := activeID == convID
	// The first page replaces the list when it lands, so pushes for the
	// conversation being loaded wait in its pending queue.
	queue := !active || e.loading
	if !queue {
		if i := e.matchLocked(incoming); i >= 0 {
			if incoming.ClientMessageID == "" {
				incoming.ClientMessageID = e.messages[i].ClientMessageID
			}
			e.messages[i] = incoming
		} else {
			e.messages = chat.InsertChronological(e.messages, incoming)
		}
	} else {
		q := append(e.pending[convID], incoming)
		if len(q) > e.opts.PendingLimit {
			q = q[len(q)-e.opts.PendingLimit:]
		}
		e.pending[convID] = q
	}
	note := incoming.Clone()
	e.mu.Unlock()

	if !queue {
		e.emit(convID, "push")
	}

	switch {
	case own:
		if !active {
			go e.markRead(ctx, convID, "own message")
		}
	case active && e.focused():
		go e.markRead(ctx, convID, "auto")
	case !active && e.unread != nil:
		e.unread.IncrementUnreadCount(convID)
	}

	if notify.ShouldNotify(note, e.opts.Self.ID, activeID, e.focused()) {
		conv := e.conversationFor(convID, note.Sender)
		go func() {
			if err := e.sink.NotifyMessage(note, conv, e.opts.Self.ID); err != nil {
				e.logger.Debug("message notification failed", zap.Error(err))
			}
		}()
	}
}

// matchLocked finds the local entry a pushed message confirms: same server
// id, then the echoed client id, then an optimistic entry from the same
// sender with the same content created within the match window.
func (e *Engine) matchLocked(m *chat.Message) int {
	if i := indexByID(e.messages, m.ID); i >= 0 {
		return i
	}
	if m.ClientMessageID != "" {
		return slices.IndexFunc(e.messages, func(x *chat.Message) bool {
			return x.ClientMessageID == m.ClientMessageID || x.ID == m.ClientMessageID
		})
	}
	if !e.opts.HeuristicMatch {
		return -1
	}
	return slices.IndexFunc(e.messages, func(x *chat.Message) bool {
		if !x.Optimistic || x.Sender.ID != m.Sender.ID || x.Content != m.Content {
			return false
		}
		d := x.CreatedAt.Sub(m.CreatedAt)
		return d.Abs() < e.opts.MatchWindow
	})
}

func (e *Engine) markRead(ctx context.Context, convID, reason string) {
	if e.unread == nil {
		return
	}
	if err := e.unread.MarkConversationAsRead(ctx, convID); err != nil {
		e.logger.Warn("mark read failed", zap.String("conversation_id", convID), zap.String("reason", reason), zap.Error(err))
	}
}

func (e *Engine) conversationFor(convID string, sender chat.User) chat.Conversation {
	if e.convs != nil {
		if c, ok := e.convs.Cached(convID); ok {
			return c
		}
	}
	return chat.Conversation{ID: convID, Type: chat.Direct, Participants: []chat.Participant{{User: sender}}}
}

func (e *Engine) refreshConversations(ctx context.Context) {
	if e.convs == nil {
		return
	}
	if err := e.convs.Refresh(ctx); err != nil {
		e.logger.Warn("conversation refresh failed", zap.Error(err))
	}
}

func (e *Engine) onMessageEdited(ctx context.Context, p bus.MessageEdited) {
	if !e.updateActive(p.ConversationID, p.MessageID, func(m *chat.Message) {
		m.Content = p.NewContent
		m.IsEdited = p.IsEdited
		if !p.EditedAt.IsZero() {
			at := p.EditedAt
			m.EditedAt = &at
		}
	}) {
		go e.refreshConversations(ctx)
		return
	}
	e.emit(p.ConversationID, "edited")
}

func (e *Engine) onMessageDeleted(ctx context.Context, p bus.MessageDeleted) {
	e.mu.Lock()
	if e.activeIDLocked() != p.ConversationID {
		e.mu.Unlock()
		go e.refreshConversations(ctx)
		return
	}
	i := indexByID(e.messages, p.MessageID)
	if i >= 0 {
		e.messages = slices.Delete(e.messages, i, i+1)
	}
	e.mu.Unlock()
	if i >= 0 {
		e.emit(p.ConversationID, "deleted")
	}
}

func (e *Engine) onReactionUpdated(ctx context.Context, p bus.ReactionUpdated) {
	if !e.updateActive(p.ConversationID, p.MessageID, func(m *chat.Message) {
		m.Reactions = slices.Clone(p.Reactions)
	}) {
		go e.refreshConversations(ctx)
		return
	}
	e.emit(p.ConversationID, "reactions")
}

func (e *Engine) onMessagesRead(p bus.MessagesRead) {
	reader := p.ReadBy.User.ID
	if reader == "" {
		return
	}
	e.mu.Lock()
	if e.activeIDLocked() != p.ConversationID {
		e.mu.Unlock()
		return
	}
	changed := false
	for _, m := range e.messages {
		if slices.Contains(p.MessageIDs, m.ID) && !m.ReadByUser(reader) {
			m.ReadBy = append(m.ReadBy, p.ReadBy)
			changed = true
		}
	}
	e.mu.Unlock()
	if changed {
		e.emit(p.ConversationID, "read")
	}
}

// onGroupUpdated refreshes the active conversation's metadata. The message
// list is left as is.
func (e *Engine) onGroupUpdated(ctx context.Context, p bus.GroupUpdated) {
	if e.Active() != p.ConversationID {
		return
	}
	go func() {
		conv, err := e.svc.GetConversation(ctx, p.ConversationID)
		if err != nil {
			e.logger.Warn("group refresh failed", zap.String("conversation_id", p.ConversationID), zap.Error(err))
			return
		}
		e.mu.Lock()
		if e.activeIDLocked() != conv.ID {
			e.mu.Unlock()
			return
		}
		c := *conv
		e.active = &c
		e.mu.Unlock()
		e.setMentionCandidates(c)
		e.emit(conv.ID, "group_updated")
	}()
}

func (e *Engine) onUserMentioned(p bus.UserMentioned) {
	if p.Message == nil {
		return
	}
	msg := p.Message.Clone()
	go func() {
		if err := e.sink.NotifyMention(msg, p.MentionedBy); err != nil {
			e.logger.Debug("mention notification failed", zap.Error(err))
		}
	}()
}

// onConnected rejoins the active room after every (re)connect.
func (e *Engine) onConnected(ctx context.Context, _ bus.Connected) {
	convID := e.Active()
	if convID == "" {
		return
	}
	go func() {
		if err := e.rooms.JoinConversation(ctx, convID); err != nil {
			e.logger.Warn("rejoin conversation failed", zap.String("conversation_id", convID), zap.Error(err))
		}
	}()
}

// updateActive applies fn to a message of the active conversation. It
// reports false when conversationID is not active.
func (e *Engine) updateActive(conversationID, messageID string, fn func(*chat.Message)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeIDLocked() != conversationID {
		return false
	}
	if i := indexByID(e.messages, messageID); i >= 0 {
		fn(e.messages[i])
	}
	return true
}
