package chat

import (
	"encoding/json"
	"testing"
	"time"
)

func TestInsertChronological(t *testing.T) {
	base := time.Unix(1000, 0)
	msgs := []*Message{
		{ID: "a", CreatedAt: base},
		{ID: "c", CreatedAt: base.Add(2 * time.Second)},
	}
	msgs = InsertChronological(msgs, &Message{ID: "b", CreatedAt: base.Add(time.Second)})
	msgs = InsertChronological(msgs, &Message{ID: "d", CreatedAt: base.Add(time.Hour)})
	msgs = InsertChronological(msgs, &Message{ID: "z", CreatedAt: base.Add(-time.Hour)})

	want := []string{"z", "a", "b", "c", "d"}
	for i, m := range msgs {
		if m.ID != want[i] {
			t.Fatalf("msgs[%d] = %s, want %s (all: %v)", i, m.ID, want[i], ids(msgs))
		}
	}
}

func TestLocalFieldsNotSerialized(t *testing.T) {
	m := Message{ID: "m1", Status: StatusFailed, Optimistic: true, Error: "boom"}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"Status", "Optimistic", "Error"} {
		if _, ok := raw[k]; ok {
			t.Errorf("local field %s serialized", k)
		}
	}
	if raw["_id"] != "m1" {
		t.Errorf("_id = %v, want m1", raw["_id"])
	}
}

func TestDisplayTitle(t *testing.T) {
	c := Conversation{Participants: []Participant{
		{User: User{ID: "me", FullName: "Me"}},
		{User: User{ID: "u2", FullName: "Ana"}},
	}}
	if got := c.DisplayTitle("me"); got != "Ana" {
		t.Errorf("DisplayTitle = %q, want Ana", got)
	}
	c.Title = "Sales"
	if got := c.DisplayTitle("me"); got != "Sales" {
		t.Errorf("DisplayTitle = %q, want Sales", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := &Message{ID: "m", Reactions: []Reaction{{Emoji: "👍"}}, ReplyTo: &MessageRef{ID: "r"}}
	c := m.Clone()
	c.Reactions[0].Emoji = "x"
	c.ReplyTo.ID = "changed"
	if m.Reactions[0].Emoji != "👍" || m.ReplyTo.ID != "r" {
		t.Error("Clone shares state with original")
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("hello", 10); got != "hello" {
		t.Errorf("Preview = %q", got)
	}
	if got := Preview("héllo world", 5); got != "héllo..." {
		t.Errorf("Preview = %q, want héllo...", got)
	}
}

func ids(msgs []*Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
