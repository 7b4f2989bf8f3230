package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/matheus3301/chatsync/internal/chat"
)

// Page is one page of a conversation's history, oldest first.
type Page struct {
	Messages []*chat.Message
	HasMore  bool
}

// SendRequest is the body of a message send.
type SendRequest struct {
	Content         string           `json:"content"`
	MessageType     chat.MessageType `json:"messageType"`
	ReplyTo         string           `json:"replyTo,omitempty"`
	ImageID         string           `json:"imageId,omitempty"`
	ClientMessageID string           `json:"clientMessageId,omitempty"`
}

// GroupRequest creates a group conversation.
type GroupRequest struct {
	Title          string   `json:"title"`
	ParticipantIDs []string `json:"participantIds"`
}

// GroupUpdate changes group details.
type GroupUpdate struct {
	Title string `json:"title,omitempty"`
}

// UnreadCounts is the server's unread snapshot.
type UnreadCounts struct {
	Conversations map[string]int `json:"conversations"`
	Total         int            `json:"total"`
}

func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var out []chat.Conversation
	if _, err := c.doJSON(ctx, http.MethodGet, "/chat/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	var out chat.Conversation
	if _, err := c.doJSON(ctx, http.MethodGet, "/chat/conversations/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrGetConversation returns the direct conversation with participantID,
// creating it if needed.
func (c *Client) CreateOrGetConversation(ctx context.Context, participantID string) (*chat.Conversation, error) {
	var out chat.Conversation
	body := map[string]string{"participantId": participantID}
	if _, err := c.doJSON(ctx, http.MethodPost, "/chat/conversations", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages fetches page (1-based) of a conversation's history.
func (c *Client) ListMessages(ctx context.Context, conversationID string, page, limit int) (Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	var msgs []*chat.Message
	pg, err := c.doJSON(ctx, http.MethodGet, "/chat/conversations/"+url.PathEscape(conversationID)+"/messages", q, nil, &msgs)
	if err != nil {
		return Page{}, err
	}
	out := Page{Messages: msgs}
	if pg != nil {
		out.HasMore = pg.HasMore
	} else {
		out.HasMore = len(msgs) == limit
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID string, req SendRequest) (*chat.Message, error) {
	var out chat.Message
	if _, err := c.doJSON(ctx, http.MethodPost, "/chat/conversations/"+url.PathEscape(conversationID)+"/messages", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EditMessage(ctx context.Context, messageID, content string) (*chat.Message, error) {
	var out chat.Message
	body := map[string]string{"content": content}
	if _, err := c.doJSON(ctx, http.MethodPut, "/chat/messages/"+url.PathEscape(messageID), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, "/chat/messages/"+url.PathEscape(messageID), nil, nil, nil)
	return err
}

// SearchMessages runs a server-side content search within a conversation.
func (c *Client) SearchMessages(ctx context.Context, conversationID, query string, limit, skip int) ([]*chat.Message, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("skip", strconv.Itoa(skip))
	var out []*chat.Message
	if _, err := c.doJSON(ctx, http.MethodGet, "/chat/conversations/"+url.PathEscape(conversationID)+"/messages/search", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddReaction(ctx context.Context, messageID, emoji string) (*chat.Message, error) {
	var out chat.Message
	body := map[string]string{"emoji": emoji}
	if _, err := c.doJSON(ctx, http.MethodPost, "/chat/messages/"+url.PathEscape(messageID)+"/reactions", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveReaction(ctx context.Context, messageID, emoji string) (*chat.Message, error) {
	var out chat.Message
	body := map[string]string{"emoji": emoji}
	if _, err := c.doJSON(ctx, http.MethodDelete, "/chat/messages/"+url.PathEscape(messageID)+"/reactions", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateGroup(ctx context.Context, req GroupRequest) (*chat.Conversation, error) {
	var out chat.Conversation
	if _, err := c.doJSON(ctx, http.MethodPost, "/chat/groups", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddParticipants(ctx context.Context, conversationID string, userIDs []string) (*chat.Conversation, error) {
	var out chat.Conversation
	body := map[string][]string{"participantIds": userIDs}
	if _, err := c.doJSON(ctx, http.MethodPost, "/chat/groups/"+url.PathEscape(conversationID)+"/participants", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveParticipant(ctx context.Context, conversationID, userID string) (*chat.Conversation, error) {
	var out chat.Conversation
	path := "/chat/groups/" + url.PathEscape(conversationID) + "/participants/" + url.PathEscape(userID)
	if _, err := c.doJSON(ctx, http.MethodDelete, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateGroup(ctx context.Context, conversationID string, upd GroupUpdate) (*chat.Conversation, error) {
	var out chat.Conversation
	if _, err := c.doJSON(ctx, http.MethodPut, "/chat/groups/"+url.PathEscape(conversationID), nil, upd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UnreadCounts(ctx context.Context) (UnreadCounts, error) {
	var out UnreadCounts
	if _, err := c.doJSON(ctx, http.MethodGet, "/chat/unread/unread-counts", nil, nil, &out); err != nil {
		return UnreadCounts{}, err
	}
	if out.Conversations == nil {
		out.Conversations = make(map[string]int)
	}
	return out, nil
}

func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/chat/unread/mark-read/"+url.PathEscape(conversationID), nil, nil, nil)
	return err
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/chat/unread/mark-all-read", nil, nil, nil)
	return err
}
