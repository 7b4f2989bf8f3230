package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/chatsync/internal/bus"
)

// ErrUnknownEvent is returned by Decode for event names without a payload type.
var ErrUnknownEvent = errors.New("unknown event")

// Inbound event names.
const (
	EventConnected          = "connected"
	EventNewMessage         = "new_message"
	EventMessageEdited      = "message_edited"
	EventMessageDeleted     = "message_deleted"
	EventUserTyping         = "user_typing"
	EventUserStopTyping     = "user_stop_typing"
	EventUnreadCountUpdated = "unread_count_updated"
	EventReactionUpdated    = "message_reaction_updated"
	EventMessagesRead       = "messages_read"
	EventGroupUpdated       = "group_updated"
	EventUserMentioned      = "user_mentioned"
	EventForceLogout        = "force_logout"
)

type decoder func(json.RawMessage) (bus.Payload, error)

// inbound maps every server event name to its payload decoder.
var inbound = map[string]decoder{
	EventConnected:          decodeInto[bus.ServerReady](nil),
	EventNewMessage:         decodeInto(validateNewMessage),
	EventMessageEdited:      decodeInto(validateEdited),
	EventMessageDeleted:     decodeInto(validateDeleted),
	EventUserTyping:         decodeInto(validateTyping),
	EventUserStopTyping:     decodeInto(validateStopTyping),
	EventUnreadCountUpdated: decodeInto(validateUnread),
	EventReactionUpdated:    decodeInto(validateReaction),
	EventMessagesRead:       decodeInto(validateRead),
	EventGroupUpdated:       decodeInto(validateGroup),
	EventUserMentioned:      decodeInto(validateMentioned),
	EventForceLogout:        decodeInto[bus.ForceLogout](nil),
}

// Decode converts an inbound frame into its typed payload.
func Decode(f Frame) (bus.Payload, error) {
	dec, ok := inbound[f.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
	p, err := dec(f.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return p, nil
}

func decodeInto[T bus.Payload](validate func(*T) error) decoder {
	return func(raw json.RawMessage) (bus.Payload, error) {
		var v T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, err
			}
		}
		if validate != nil {
			if err := validate(&v); err != nil {
				return nil, err
			}
		}
		return v, nil
	}
}

var errMissingConversation = errors.New("missing conversationId")

func validateNewMessage(p *bus.NewMessage) error {
	if p.Message == nil || p.Message.ID == "" {
		return errors.New("missing message")
	}
	if p.ConversationID == "" {
		p.ConversationID = p.Message.ConversationID
	}
	if p.Message.ConversationID == "" {
		p.Message.ConversationID = p.ConversationID
	}
	if p.ConversationID == "" {
		return errMissingConversation
	}
	return nil
}

func validateMentioned(p *bus.UserMentioned) error {
	if p.Message == nil {
		return errors.New("missing message")
	}
	if p.ConversationID == "" {
		p.ConversationID = p.Message.ConversationID
	}
	if p.ConversationID == "" {
		return errMissingConversation
	}
	return nil
}

func validateEdited(p *bus.MessageEdited) error {
	return requireIDs(p.ConversationID, p.MessageID)
}

func validateDeleted(p *bus.MessageDeleted) error {
	return requireIDs(p.ConversationID, p.MessageID)
}

func validateReaction(p *bus.ReactionUpdated) error {
	return requireIDs(p.ConversationID, p.MessageID)
}

func validateTyping(p *bus.UserTyping) error {
	return requireIDs(p.ConversationID, p.UserID)
}

func validateStopTyping(p *bus.UserStopTyping) error {
	return requireIDs(p.ConversationID, p.UserID)
}

func validateUnread(p *bus.UnreadCountUpdated) error {
	if p.ConversationID == "" {
		return errMissingConversation
	}
	if p.UnreadCount < 0 {
		p.UnreadCount = 0
	}
	return nil
}

func validateRead(p *bus.MessagesRead) error {
	if p.ConversationID == "" {
		return errMissingConversation
	}
	return nil
}

func validateGroup(p *bus.GroupUpdated) error {
	if p.ConversationID == "" {
		return errMissingConversation
	}
	return nil
}

func requireIDs(conversationID, id string) error {
	if conversationID == "" {
		return errMissingConversation
	}
	if id == "" {
		return errors.New("missing id")
	}
	return nil
}
