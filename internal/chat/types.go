package chat

import (
	"sort"
	"strings"
	"time"
)

// ConversationType distinguishes one-to-one from multi-party conversations.
type ConversationType string

const (
	Direct ConversationType = "direct"
	Group  ConversationType = "group"
)

// MessageType is the content kind of a message.
type MessageType string

const (
	Text  MessageType = "text"
	Image MessageType = "image"
)

// Status is the client-side delivery state of a message.
type Status string

const (
	StatusSending      Status = "sending"
	StatusSent         Status = "sent"
	StatusFailed       Status = "failed"
	StatusDeleteFailed Status = "delete_failed"
)

// Retryable reports whether a message in this status may be re-issued.
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusDeleteFailed
}

// User is a participant identity as returned by the server.
type User struct {
	ID       string `json:"_id"`
	FullName string `json:"fullName"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Participant is a conversation member.
type Participant struct {
	User     User      `json:"user"`
	Role     string    `json:"role,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
}

// LastMessage is the conversation list preview.
type LastMessage struct {
	Sender      User        `json:"sender"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Conversation is the server-owned conversation record.
type Conversation struct {
	ID           string           `json:"_id"`
	Type         ConversationType `json:"type"`
	Participants []Participant    `json:"participants"`
	LastMessage  *LastMessage     `json:"lastMessage,omitempty"`
	Title        string           `json:"title,omitempty"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// HasParticipant reports whether userID is a member.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.User.ID == userID {
			return true
		}
	}
	return false
}

// DisplayTitle returns the explicit title, or one derived from the other
// participants' names.
func (c *Conversation) DisplayTitle(selfID string) string {
	if c.Title != "" {
		return c.Title
	}
	var names []string
	for _, p := range c.Participants {
		if p.User.ID == selfID {
			continue
		}
		names = append(names, p.User.FullName)
	}
	if len(names) == 0 {
		return "Conversation"
	}
	return strings.Join(names, ", ")
}

// MessageRef is the reply-to summary embedded in a message.
type MessageRef struct {
	ID      string `json:"_id"`
	Content string `json:"content"`
	Sender  User   `json:"sender"`
}

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	FileType     string `json:"fileType"`
	FileSize     int64  `json:"fileSize"`
}

// Reaction is one (emoji, user) pair.
type Reaction struct {
	Emoji string `json:"emoji"`
	User  User   `json:"user"`
}

// ReadReceipt records when a user read a message.
type ReadReceipt struct {
	User   User      `json:"user"`
	ReadAt time.Time `json:"readAt"`
}

// Message is a chat message. Status, Optimistic and Error are local state
// and never sent to or read from the server.
type Message struct {
	ID              string        `json:"_id"`
	ConversationID  string        `json:"conversation"`
	Sender          User          `json:"sender"`
	Content         string        `json:"content"`
	Type            MessageType   `json:"messageType"`
	ReplyTo         *MessageRef   `json:"replyTo,omitempty"`
	Attachment      *Attachment   `json:"attachment,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	IsEdited        bool          `json:"isEdited"`
	EditedAt        *time.Time    `json:"editedAt,omitempty"`
	Reactions       []Reaction    `json:"reactions,omitempty"`
	ReadBy          []ReadReceipt `json:"readBy,omitempty"`
	ClientMessageID string        `json:"clientMessageId,omitempty"`

	Status     Status `json:"-"`
	Optimistic bool   `json:"-"`
	Error      string `json:"-"`
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	c := *m
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		c.ReplyTo = &r
	}
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	if m.EditedAt != nil {
		e := *m.EditedAt
		c.EditedAt = &e
	}
	c.Reactions = append([]Reaction(nil), m.Reactions...)
	c.ReadBy = append([]ReadReceipt(nil), m.ReadBy...)
	return &c
}

// ReadByUser reports whether userID has a read receipt on m.
func (m *Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.User.ID == userID {
			return true
		}
	}
	return false
}

// SortMessages orders messages by creation time, keeping the relative order
// of equal timestamps.
func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// InsertChronological inserts m after every message created at or before it.
func InsertChronological(msgs []*Message, m *Message) []*Message {
	i := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].CreatedAt.After(m.CreatedAt)
	})
	msgs = append(msgs, nil)
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	return msgs
}

// Preview truncates content for list and notification display.
func Preview(content string, limit int) string {
	r := []rune(content)
	if len(r) <= limit {
		return content
	}
	return string(r[:limit]) + "..."
}
