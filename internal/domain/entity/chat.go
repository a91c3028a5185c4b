package entity

import "time"

// Default session settings applied when a session is created without
// explicit overrides.
const (
	DefaultModel       = "deepseek/deepseek-chat-v3-0324:online"
	DefaultTemperature = 0.2
	DefaultTitle       = "新对话"
)

// SessionSettings holds the per-session model parameters.
type SessionSettings struct {
	Model        string
	Temperature  float64
	EnableSearch bool
}

// DefaultSessionSettings returns the settings a new session starts with.
func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		Model:        DefaultModel,
		Temperature:  DefaultTemperature,
		EnableSearch: true,
	}
}

// ChatSession is a monitoring conversation owned by a single user.
type ChatSession struct {
	ID        string
	UserID    string
	Title     string
	Settings  SessionSettings
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatMessage is a single message in a session history.
type ChatMessage struct {
	ID        string
	SessionID string
	Role      string // user, assistant, system
	Content   string
	CreatedAt time.Time
}

// ThinkingStatus describes a non-content progress update emitted while
// the model is working (searching, analyzing).
type ThinkingStatus struct {
	Status  string
	Message string
}

// StreamChunk is one unit of a streaming model reply. Warning carries a
// non-fatal problem (for example a failed history save) that must not
// interrupt the stream.
type StreamChunk struct {
	Text     string
	Thinking *ThinkingStatus
	Warning  string
	IsEnd    bool
	Error    string
}
