package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/matheus3301/chatsync/internal/bus"
)

func TestDecodeNewMessageFillsConversation(t *testing.T) {
	raw := `{"event":"new_message","data":{"conversationId":"c1","message":{"_id":"m1","content":"hi","sender":{"_id":"u2","fullName":"Ana"},"createdAt":"2024-05-01T10:00:00Z"}}}`
	f, err := Parse([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	p, err := Decode(f)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	nm, ok := p.(bus.NewMessage)
	if !ok {
		t.Fatalf("payload type = %T, want bus.NewMessage", p)
	}
	if nm.Message.ConversationID != "c1" {
		t.Errorf("message conversation = %q, want c1", nm.Message.ConversationID)
	}
	if nm.Message.Sender.FullName != "Ana" {
		t.Errorf("sender = %q, want Ana", nm.Message.Sender.FullName)
	}
	if nm.Kind() != bus.KindNewMessage {
		t.Errorf("kind = %s", nm.Kind())
	}
}

func TestDecodeRejectsInvalidPayloads(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  string
	}{
		{"new message without message", EventNewMessage, `{"conversationId":"c1"}`},
		{"unread without conversation", EventUnreadCountUpdated, `{"unreadCount":3}`},
		{"edit without message id", EventMessageEdited, `{"conversationId":"c1","newContent":"x"}`},
		{"typing without user", EventUserTyping, `{"conversationId":"c1"}`},
		{"malformed json", EventMessageDeleted, `{"conversationId":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(Frame{Event: tt.event, Data: json.RawMessage(tt.data)})
			if err == nil {
				t.Errorf("Decode(%s, %s) expected error", tt.event, tt.data)
			}
		})
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := Decode(Frame{Event: "new_announcement"})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("error = %v, want ErrUnknownEvent", err)
	}
}

func TestDecodeClampsNegativeUnread(t *testing.T) {
	p, err := Decode(Frame{Event: EventUnreadCountUpdated, Data: json.RawMessage(`{"conversationId":"c1","unreadCount":-2}`)})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.(bus.UnreadCountUpdated).UnreadCount; got != 0 {
		t.Errorf("unreadCount = %d, want 0", got)
	}
}

func TestEveryInboundKindIsDistinct(t *testing.T) {
	seen := make(map[bus.Kind]string)
	for name := range inbound {
		p, err := decodeZero(name)
		if err != nil {
			continue
		}
		if other, dup := seen[p.Kind()]; dup {
			t.Errorf("events %s and %s share kind %s", name, other, p.Kind())
		}
		seen[p.Kind()] = name
	}
	if len(seen) != 2 {
		// Only payloads without validation decode from an empty body.
		t.Errorf("decoded %d empty payloads, want 2 (connected, force_logout)", len(seen))
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	b, err := Encode(EventJoinConversation, "c1", 7)
	if err != nil {
		t.Fatal(err)
	}
	f, err := Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if f.Event != EventJoinConversation || f.Ack != 7 || string(f.Data) != `"c1"` {
		t.Errorf("frame = %+v", f)
	}
	if f.IsAck() {
		t.Error("request frame reported as ack")
	}
	if !(Frame{Event: EventAck, Ack: 7}).IsAck() {
		t.Error("ack frame not reported as ack")
	}
}

func TestParseRequiresEvent(t *testing.T) {
	if _, err := Parse([]byte(`{"data":{}}`)); err == nil {
		t.Error("Parse() expected error for missing event")
	}
}

func decodeZero(name string) (bus.Payload, error) {
	return inbound[name](nil)
}
