// Package mention detects, inserts and renders @mention tokens in message
// text. Tokens are stored as @[DisplayName](userID). All cursor positions
// are rune offsets.
package mention

import (
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/matheus3301/chatsync/internal/chat"
)

var tokenRE = regexp.MustCompile(`@\[([^\]]+)\]\(([^)\s]+)\)`)

// Trigger is an in-progress mention: the '@' at Start and the term typed
// after it up to the cursor.
type Trigger struct {
	Start int
	Term  string
}

// Detect finds the mention being typed at cursor. The nearest '@' before the
// cursor counts when nothing between it and the cursor is whitespace and it
// starts the text or follows whitespace.
func Detect(text string, cursor int) (Trigger, bool) {
	r := []rune(text)
	if cursor <= 0 || cursor > len(r) {
		return Trigger{}, false
	}
	for i := cursor - 1; i >= 0; i-- {
		c := r[i]
		if unicode.IsSpace(c) {
			return Trigger{}, false
		}
		if c != '@' {
			continue
		}
		if i > 0 && !unicode.IsSpace(r[i-1]) {
			return Trigger{}, false
		}
		return Trigger{Start: i, Term: string(r[i+1 : cursor])}, true
	}
	return Trigger{}, false
}

// Token formats the stored form of a mention.
func Token(userID, displayName string) string {
	return "@[" + displayName + "](" + userID + ")"
}

// Insert replaces the trigger ending at cursor with a token and a trailing
// space. With no trigger the token is inserted at the cursor. It returns the
// new text and cursor.
func Insert(text string, cursor int, userID, displayName string) (string, int) {
	r := []rune(text)
	cursor = max(0, min(cursor, len(r)))
	start := cursor
	if t, ok := Detect(text, cursor); ok {
		start = t.Start
	}
	tok := []rune(Token(userID, displayName) + " ")

	out := make([]rune, 0, len(r)+len(tok))
	out = append(out, r[:start]...)
	out = append(out, tok...)
	out = append(out, r[cursor:]...)
	return string(out), start + len(tok)
}

// CleanForDisplay rewrites every token to @DisplayName.
func CleanForDisplay(content string) string {
	return tokenRE.ReplaceAllString(content, "@$1")
}

// ExtractUserIDs returns the distinct mentioned user ids in order of first
// appearance.
func ExtractUserIDs(content string) []string {
	var ids []string
	for _, m := range tokenRE.FindAllStringSubmatch(content, -1) {
		if !slices.Contains(ids, m[2]) {
			ids = append(ids, m[2])
		}
	}
	return ids
}

// Mentions reports whether content mentions userID.
func Mentions(content, userID string) bool {
	return slices.Contains(ExtractUserIDs(content), userID)
}

// Filter returns the users whose name or email contains term, ignoring case.
func Filter(users []chat.User, term string) []chat.User {
	term = strings.ToLower(term)
	var out []chat.User
	for _, u := range users {
		if u.FullName == "" {
			continue
		}
		if strings.Contains(strings.ToLower(u.FullName), term) ||
			strings.Contains(strings.ToLower(u.Email), term) {
			out = append(out, u)
		}
	}
	return out
}
