package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/api", "tok", 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListMessagesPagination(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/conversations/c1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %s, want 2", got)
		}
		if got := r.URL.Query().Get("limit"); got != "15" {
			t.Errorf("limit = %s, want 15", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"data":       []map[string]any{{"_id": "m1", "content": "hello"}},
			"pagination": map[string]any{"currentPage": 2, "limit": 15, "hasMore": true},
		})
	})

	page, err := c.ListMessages(context.Background(), "c1", 2, 15)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != "m1" {
		t.Errorf("messages = %+v", page.Messages)
	}
	if !page.HasMore {
		t.Error("HasMore = false, want true")
	}
}

func TestSendMessageCarriesClientID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req SendRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatal(err)
		}
		if req.ClientMessageID != "temp_1" || req.Content != "hi" || req.MessageType != chat.Text {
			t.Errorf("request = %+v", req)
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"data":    map[string]any{"_id": "srv1", "content": "hi", "clientMessageId": "temp_1"},
		})
	})

	msg, err := c.SendMessage(context.Background(), "c1", SendRequest{Content: "hi", MessageType: chat.Text, ClientMessageID: "temp_1"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if msg.ID != "srv1" || msg.ClientMessageID != "temp_1" {
		t.Errorf("message = %+v", msg)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		target error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]any{"success": false, "message": "nope"})
			})
			err := c.DeleteMessage(context.Background(), "m1")
			if !errors.Is(err, tt.target) {
				t.Errorf("error = %v, want %v", err, tt.target)
			}
			var apiErr *Error
			if !errors.As(err, &apiErr) || apiErr.Message != "nope" {
				t.Errorf("error = %#v, want *Error with message", err)
			}
		})
	}
}

func TestUnsuccessfulEnvelopeIsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "conversation locked"})
	})
	if err := c.MarkConversationRead(context.Background(), "c1"); err == nil {
		t.Error("MarkConversationRead() expected error for success=false")
	}
}

func TestUnreadCounts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/unread/unread-counts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"conversations": map[string]int{"c1": 2, "c2": 1}, "total": 3},
		})
	})
	counts, err := c.UnreadCounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts.Total != 3 || counts.Conversations["c1"] != 2 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestNewClientValidatesURL(t *testing.T) {
	if _, err := NewClient("", "", 0); err == nil {
		t.Error("expected error for empty url")
	}
	if _, err := NewClient("chat.example.com", "", 0); err == nil {
		t.Error("expected error for url without scheme")
	}
}
