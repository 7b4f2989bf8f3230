// Package notify decides when an incoming message deserves a desktop
// notification and delivers it.
package notify

import (
	"github.com/gen2brain/beeep"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/mention"
	"go.uber.org/zap"
)

const bodyLimit = 100

// ShouldNotify reports whether msg needs a notification: it is not from the
// current user, and its conversation is not both active and focused.
func ShouldNotify(msg *chat.Message, selfID, activeID string, focused bool) bool {
	if msg == nil || msg.Sender.ID == selfID {
		return false
	}
	return !(focused && msg.ConversationID == activeID)
}

// Sink delivers notifications.
type Sink interface {
	NotifyMessage(msg *chat.Message, conv chat.Conversation, selfID string) error
	NotifyMention(msg *chat.Message, mentionedBy chat.User) error
}

// Disabled drops every notification.
type Disabled struct{}

func (Disabled) NotifyMessage(*chat.Message, chat.Conversation, string) error { return nil }
func (Disabled) NotifyMention(*chat.Message, chat.User) error                 { return nil }

// DesktopSink shows OS notifications through beeep.
type DesktopSink struct {
	icon   string
	logger *zap.Logger
	send   func(title, body string) error
}

// NewDesktopSink creates a sink using icon, which may be empty.
func NewDesktopSink(icon string, logger *zap.Logger) *DesktopSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &DesktopSink{icon: icon, logger: logger}
	s.send = func(title, body string) error {
		return beeep.Notify(title, body, s.icon)
	}
	return s
}

func (s *DesktopSink) NotifyMessage(msg *chat.Message, conv chat.Conversation, selfID string) error {
	return s.deliver(MessageTitle(msg, conv, selfID), Body(msg))
}

func (s *DesktopSink) NotifyMention(msg *chat.Message, mentionedBy chat.User) error {
	return s.deliver(senderName(mentionedBy)+" mentioned you", Body(msg))
}

func (s *DesktopSink) deliver(title, body string) error {
	if err := s.send(title, body); err != nil {
		s.logger.Warn("desktop notification failed", zap.String("title", title), zap.Error(err))
		return err
	}
	return nil
}

// MessageTitle names the sender, and the group for group conversations.
func MessageTitle(msg *chat.Message, conv chat.Conversation, selfID string) string {
	name := senderName(msg.Sender)
	if conv.Type == chat.Group {
		return name + " in " + conv.DisplayTitle(selfID)
	}
	return "New message from " + name
}

// Body is the display text of msg with mention tokens cleaned and long text
// truncated.
func Body(msg *chat.Message) string {
	if msg.Type == chat.Image {
		return "📷 Sent an image"
	}
	body := []rune(mention.CleanForDisplay(msg.Content))
	if len(body) > bodyLimit {
		return string(body[:bodyLimit-3]) + "..."
	}
	return string(body)
}

func senderName(u chat.User) string {
	if u.FullName == "" {
		return "Someone"
	}
	return u.FullName
}
