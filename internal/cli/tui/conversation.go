package tui

import (
	"strings"

	"github.com/optimiscs/ZhimoWanxiang/internal/cli/stream"
)

// Message display statuses.
const (
	statusLocal   = "local"   // user message, immutable once submitted
	statusLoading = "loading" // assistant placeholder, reply in flight
	statusAI      = "ai"      // finalized assistant reply
	statusError   = "error"   // turn failed, content holds the error text
)

// message is one UI-visible conversation entry.
type message struct {
	Role       string // user or assistant
	Status     string
	Content    string
	Thinking   string // transient status line shown while IsThinking
	IsThinking bool
}

// conversation is a pure reducer over turn events: the transport emits
// callbacks, the TUI folds them in here and re-renders from the result.
// One turn is in flight at most; its placeholder is always the last
// message.
type conversation struct {
	messages []message

	// mismatch records a disagreement between the concatenated
	// fragments and the final payload. The final payload wins; the
	// caller logs the discrepancy.
	mismatch bool
}

// seed preloads prior history (system messages already filtered by the
// server shape used; filter again to be safe).
func (c *conversation) seed(history []message) {
	for _, m := range history {
		if m.Role == "system" {
			continue
		}
		c.messages = append(c.messages, m)
	}
}

// beginTurn appends the user entry and the assistant placeholder.
func (c *conversation) beginTurn(userText string) {
	c.mismatch = false
	c.messages = append(c.messages,
		message{Role: "user", Status: statusLocal, Content: userText},
		message{Role: "assistant", Status: statusLoading, IsThinking: true},
	)
}

// inFlight reports whether the last message is an unfinished placeholder.
func (c *conversation) inFlight() bool {
	if len(c.messages) == 0 {
		return false
	}
	return c.messages[len(c.messages)-1].Status == statusLoading
}

func (c *conversation) placeholder() *message {
	if !c.inFlight() {
		return nil
	}
	return &c.messages[len(c.messages)-1]
}

// applyThinking updates the placeholder's status line without touching
// its content.
func (c *conversation) applyThinking(s stream.ThinkingStatus) {
	p := c.placeholder()
	if p == nil {
		return
	}
	p.Thinking = s.Message
	p.IsThinking = true
}

// applyUpdate appends one fragment and clears the thinking state.
func (c *conversation) applyUpdate(fragment string) {
	p := c.placeholder()
	if p == nil {
		return
	}
	p.Content += fragment
	p.IsThinking = false
	p.Thinking = ""
}

// applySuccess finalizes the turn. The final payload is ground truth:
// when it disagrees with the concatenated fragments the payload wins
// and the mismatch flag is raised for the caller to log.
func (c *conversation) applySuccess(r stream.Result) {
	p := c.placeholder()
	if p == nil {
		return
	}
	if p.Content != r.Content {
		c.mismatch = true
		p.Content = r.Content
	}
	p.Status = statusAI
	p.IsThinking = false
	p.Thinking = ""
}

// applyError finalizes the turn with an error-labeled entry. No retry
// is automatic; the user resubmits.
func (c *conversation) applyError(err error) {
	p := c.placeholder()
	if p == nil {
		return
	}
	p.Status = statusError
	p.Content = "错误: " + err.Error()
	p.IsThinking = false
	p.Thinking = ""
}

// lastError returns the error text of the last message if it failed.
func (c *conversation) lastError() string {
	if len(c.messages) == 0 {
		return ""
	}
	last := c.messages[len(c.messages)-1]
	if last.Status != statusError {
		return ""
	}
	return last.Content
}

// plain renders the conversation without styling, one block per
// message. Used by tests; the TUI view adds styling on top.
func (c *conversation) plain() string {
	var b strings.Builder
	for _, m := range c.messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		if m.IsThinking && m.Content == "" {
			b.WriteString(m.Thinking)
		} else {
			b.WriteString(m.Content)
		}
		b.WriteString("\n")
	}
	return b.String()
}
