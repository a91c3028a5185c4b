package types

// SessionSettings are the per-session model parameters.
type SessionSettings struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	EnableSearch bool    `json:"enable_search"`
}

// ChatSession is a server-held conversation. The id key is `_id` on
// the wire.
type ChatSession struct {
	ID        string          `json:"_id"`
	UserID    string          `json:"user_id"`
	Title     string          `json:"title"`
	Settings  SessionSettings `json:"settings"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// SessionList wraps the session collection.
type SessionList struct {
	Sessions []ChatSession `json:"sessions"`
	Total    int           `json:"total"`
}

// CreateSessionRequest creates a session, optionally seeded with the
// assistant's welcome message.
type CreateSessionRequest struct {
	InitializeConversation bool `json:"initialize_conversation"`
}

// ChatMessage is one message of a session history.
type ChatMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"` // user, assistant, system
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// MessageList wraps a session's message history.
type MessageList struct {
	SessionID string        `json:"session_id"`
	Messages  []ChatMessage `json:"messages"`
}
