// Package history holds the conversation log threaded through each turn.
//
// A History is an owned value. Components read a Window of it; only the
// orchestrator appends, and appending returns a new History so a caller
// holding the old value never observes the change.
package history

import (
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is an append-only ordered message log. The zero value is empty and ready to use.
type History struct {
	messages []Message
}

// New builds a History from previously stored messages.
func New(messages ...Message) History {
	return History{messages: append([]Message(nil), messages...)}
}

// Len returns the number of stored messages.
func (h History) Len() int { return len(h.messages) }

// Messages returns a copy of every stored message.
func (h History) Messages() []Message {
	return append([]Message(nil), h.messages...)
}

// AppendTurn records one user and one assistant message.
func (h History) AppendTurn(question, answer string) History {
	next := make([]Message, len(h.messages), len(h.messages)+2)
	copy(next, h.messages)
	next = append(next,
		Message{Role: RoleUser, Content: question},
		Message{Role: RoleAssistant, Content: answer},
	)
	return History{messages: next}
}

// Window returns at most the last k messages. k <= 0 yields an empty window.
func (h History) Window(k int) Window {
	if k <= 0 || len(h.messages) == 0 {
		return Window{}
	}
	start := len(h.messages) - k
	if start < 0 {
		start = 0
	}
	return Window{messages: append([]Message(nil), h.messages[start:]...)}
}

// Window is a read-only slice of recent history as seen by prompts.
type Window struct {
	messages []Message
}

func (w Window) Len() int { return len(w.messages) }

func (w Window) Messages() []Message {
	return append([]Message(nil), w.messages...)
}

// String renders the window one "role: content" line per message.
func (w Window) String() string {
	lines := make([]string, 0, len(w.messages))
	for _, m := range w.messages {
		lines = append(lines, string(m.Role)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
