package bus

import (
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

// Kind names an event. Each kind carries exactly one payload type.
type Kind string

// Payload is implemented by every event payload.
type Payload interface {
	Kind() Kind
}

// Event is the envelope delivered to channel subscribers.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   Payload
}

const (
	KindConnected            Kind = "conn.connected"
	KindDisconnected         Kind = "conn.disconnected"
	KindReconnecting         Kind = "conn.reconnecting"
	KindMaxReconnectAttempts Kind = "conn.max_reconnect_attempts"
	KindHealthChanged        Kind = "conn.health_changed"
	KindStateChanged         Kind = "conn.state_changed"
	KindServerReady          Kind = "conn.server_ready"

	KindNewMessage         Kind = "chat.new_message"
	KindMessageEdited      Kind = "chat.message_edited"
	KindMessageDeleted     Kind = "chat.message_deleted"
	KindUserTyping         Kind = "chat.user_typing"
	KindUserStopTyping     Kind = "chat.user_stop_typing"
	KindUnreadCountUpdated Kind = "chat.unread_count_updated"
	KindReactionUpdated    Kind = "chat.reaction_updated"
	KindMessagesRead       Kind = "chat.messages_read"
	KindGroupUpdated       Kind = "chat.group_updated"
	KindUserMentioned      Kind = "chat.user_mentioned"
	KindConversationRead   Kind = "chat.conversation_read"

	KindForceLogout Kind = "auth.force_logout"

	KindUnreadChanged Kind = "unread.changed"

	KindSendAck    Kind = "message.send_ack"
	KindSendFailed Kind = "message.send_failed"

	KindTimelineUpdated Kind = "timeline.updated"

	KindTypingChanged Kind = "presence.typing_changed"

	KindDirectoryUpdated Kind = "directory.updated"
)

// Connected is emitted when the event stream is established.
type Connected struct {
	Reconnected bool
}

// Disconnected is emitted when the event stream closes.
type Disconnected struct {
	Reason    string
	WillRetry bool
}

// Reconnecting is emitted when a reconnect attempt is scheduled.
type Reconnecting struct {
	Attempt int
	Delay   time.Duration
}

// MaxReconnectAttempts is emitted once when automatic reconnects stop.
type MaxReconnectAttempts struct {
	Attempts int
}

// HealthChanged is emitted when the probe result flips.
type HealthChanged struct {
	Healthy bool
	Latency time.Duration
}

// ServerReady carries the server's greeting after connect.
type ServerReady struct {
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	Transport string    `json:"transport"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage is a pushed message.
type NewMessage struct {
	ConversationID string        `json:"conversationId"`
	Message        *chat.Message `json:"message"`
	WasMentioned   bool          `json:"wasMentioned"`
}

// MessageEdited is a pushed edit.
type MessageEdited struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	NewContent     string    `json:"newContent"`
	IsEdited       bool      `json:"isEdited"`
	EditedAt       time.Time `json:"editedAt"`
}

// MessageDeleted is a pushed deletion.
type MessageDeleted struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// UserTyping reports another user started typing.
type UserTyping struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
}

// UserStopTyping reports another user stopped typing.
type UserStopTyping struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// UnreadCountUpdated is the server's count for one conversation.
type UnreadCountUpdated struct {
	ConversationID string `json:"conversationId"`
	UnreadCount    int    `json:"unreadCount"`
}

// ReactionUpdated replaces a message's reaction set.
type ReactionUpdated struct {
	ConversationID string          `json:"conversationId"`
	MessageID      string          `json:"messageId"`
	Reactions      []chat.Reaction `json:"reactions"`
}

// MessagesRead reports read receipts added by another participant.
type MessagesRead struct {
	ConversationID string           `json:"conversationId"`
	MessageIDs     []string         `json:"messageIds"`
	ReadBy         chat.ReadReceipt `json:"readBy"`
}

// GroupUpdated reports a structural change to a group conversation.
type GroupUpdated struct {
	ConversationID string `json:"conversationId"`
	Action         string `json:"action"`
	NewTitle       string `json:"newTitle,omitempty"`
}

// UserMentioned is pushed when the current user is mentioned.
type UserMentioned struct {
	ConversationID string        `json:"conversationId"`
	Message        *chat.Message `json:"message"`
	MentionedBy    chat.User     `json:"mentionedBy"`
}

// ConversationRead is emitted locally after a conversation is marked read.
type ConversationRead struct {
	ConversationID string
}

// ForceLogout is pushed when the server terminates the session.
type ForceLogout struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// UnreadChanged carries the full unread snapshot after a mutation.
type UnreadChanged struct {
	PerConversation map[string]int
	Total           int
}

// SendAck reports a confirmed send.
type SendAck struct {
	ConversationID string
	TempID         string
	ServerID       string
}

// SendFailed reports a failed send.
type SendFailed struct {
	ConversationID string
	TempID         string
	Err            string
}

// TimelineUpdated is emitted whenever the active message list changes.
type TimelineUpdated struct {
	ConversationID string
	Reason         string
}

// TypingChanged carries the set of users typing in a conversation.
type TypingChanged struct {
	ConversationID string
	Users          []string
}

// DirectoryUpdated is emitted after the conversation list is replaced.
type DirectoryUpdated struct {
	Count int
}

func (Connected) Kind() Kind            { return KindConnected }
func (Disconnected) Kind() Kind         { return KindDisconnected }
func (Reconnecting) Kind() Kind         { return KindReconnecting }
func (MaxReconnectAttempts) Kind() Kind { return KindMaxReconnectAttempts }
func (HealthChanged) Kind() Kind        { return KindHealthChanged }
func (ServerReady) Kind() Kind          { return KindServerReady }
func (NewMessage) Kind() Kind           { return KindNewMessage }
func (MessageEdited) Kind() Kind        { return KindMessageEdited }
func (MessageDeleted) Kind() Kind       { return KindMessageDeleted }
func (UserTyping) Kind() Kind           { return KindUserTyping }
func (UserStopTyping) Kind() Kind       { return KindUserStopTyping }
func (UnreadCountUpdated) Kind() Kind   { return KindUnreadCountUpdated }
func (ReactionUpdated) Kind() Kind      { return KindReactionUpdated }
func (MessagesRead) Kind() Kind         { return KindMessagesRead }
func (GroupUpdated) Kind() Kind         { return KindGroupUpdated }
func (UserMentioned) Kind() Kind        { return KindUserMentioned }
func (ConversationRead) Kind() Kind     { return KindConversationRead }
func (ForceLogout) Kind() Kind          { return KindForceLogout }
func (UnreadChanged) Kind() Kind        { return KindUnreadChanged }
func (SendAck) Kind() Kind              { return KindSendAck }
func (SendFailed) Kind() Kind           { return KindSendFailed }
func (TimelineUpdated) Kind() Kind      { return KindTimelineUpdated }
func (TypingChanged) Kind() Kind        { return KindTypingChanged }
func (DirectoryUpdated) Kind() Kind     { return KindDirectoryUpdated }
