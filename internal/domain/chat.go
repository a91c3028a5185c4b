package domain

import (
	"context"

	"github.com/optimiscs/ZhimoWanxiang/internal/domain/entity"
)

// ============ Usecase-level DTOs ============

// TurnRequest is one chat turn submitted against a session.
type TurnRequest struct {
	UserID    string
	SessionID string
	Message   string
	Images    []string // optional image references attached to the turn
	Model     string   // optional per-turn model override
}

// TurnResponse is the complete assistant reply for a non-streaming turn.
type TurnResponse struct {
	SessionID string
	MessageID string
	Content   string
}

// ============ Repository interfaces ============

// SessionRepository stores chat sessions.
type SessionRepository interface {
	// Create persists a new session
	Create(ctx context.Context, session *entity.ChatSession) error

	// GetByID finds a session by ID
	GetByID(ctx context.Context, sessionID string) (*entity.ChatSession, error)

	// ListByUser returns all sessions of a user, newest first
	ListByUser(ctx context.Context, userID string) ([]*entity.ChatSession, error)

	// UpdateTitle renames a session
	UpdateTitle(ctx context.Context, sessionID, title string) error

	// UpdateSettings replaces the session settings
	UpdateSettings(ctx context.Context, sessionID string, settings entity.SessionSettings) error

	// Touch bumps the session updated_at timestamp
	Touch(ctx context.Context, sessionID string) error

	// Delete removes a session and its messages
	Delete(ctx context.Context, sessionID string) error
}

// MessageRepository stores session message history.
type MessageRepository interface {
	// Append persists a message at the end of a session history
	Append(ctx context.Context, msg *entity.ChatMessage) error

	// ListBySession returns the full history of a session, oldest first
	ListBySession(ctx context.Context, sessionID string) ([]*entity.ChatMessage, error)

	// CountBySessionAndRole counts messages of one role in a session
	CountBySessionAndRole(ctx context.Context, sessionID, role string) (int, error)
}

// ============ Infrastructure interfaces ============

// ModelClient streams completions from the upstream model provider.
type ModelClient interface {
	// StreamCompletion sends the conversation history and returns a channel
	// of reply chunks. The channel is closed after the terminal chunk.
	StreamCompletion(ctx context.Context, messages []*entity.ChatMessage, settings entity.SessionSettings) (<-chan entity.StreamChunk, error)
}

// ============ Usecase interface ============

// ChatUsecase covers session lifecycle and chat turns.
type ChatUsecase interface {
	// CreateSession creates a session for a user. When initialize is true
	// the session is seeded with the system prompt and a welcome message.
	CreateSession(ctx context.Context, userID string, initialize bool) (*entity.ChatSession, error)

	// ListSessions returns the sessions of a user, newest first
	ListSessions(ctx context.Context, userID string) ([]*entity.ChatSession, error)

	// GetSession returns a session after checking ownership
	GetSession(ctx context.Context, userID, sessionID string) (*entity.ChatSession, error)

	// DeleteSession removes a session after checking ownership
	DeleteSession(ctx context.Context, userID, sessionID string) error

	// RenameSession changes the session title
	RenameSession(ctx context.Context, userID, sessionID, title string) error

	// UpdateSettings replaces the session model settings
	UpdateSettings(ctx context.Context, userID, sessionID string, settings entity.SessionSettings) error

	// ListMessages returns the session history, oldest first
	ListMessages(ctx context.Context, userID, sessionID string) ([]*entity.ChatMessage, error)

	// ExportMessages returns the history without system messages, for download
	ExportMessages(ctx context.Context, userID, sessionID string) ([]*entity.ChatMessage, error)

	// SendMessage runs a complete non-streaming turn
	SendMessage(ctx context.Context, req *TurnRequest) (*TurnResponse, error)

	// SubmitTurn validates and stores the user message of a streaming turn.
	// The reply is produced by a following StreamReply call.
	SubmitTurn(ctx context.Context, req *TurnRequest) error

	// StreamReply streams the assistant reply to the most recent user
	// message and persists it once the stream completes.
	StreamReply(ctx context.Context, userID, sessionID string) (<-chan entity.StreamChunk, error)
}
