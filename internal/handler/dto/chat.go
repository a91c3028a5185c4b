package dto

import (
	"time"

	"github.com/optimiscs/ZhimoWanxiang/internal/domain/entity"
)

// CreateSessionRequest is the session creation body. When
// InitializeConversation is set the session is seeded with the system
// prompt and a welcome message.
type CreateSessionRequest struct {
	InitializeConversation bool `json:"initialize_conversation"`
}

// UpdateTitleRequest renames a session.
type UpdateTitleRequest struct {
	Title string `json:"title" binding:"required"`
}

// UpdateSettingsRequest changes per-session model parameters.
type UpdateSettingsRequest struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	EnableSearch bool    `json:"enable_search"`
}

// StreamRequest is the body of the stream POST and the non-streaming
// message POST.
type StreamRequest struct {
	Message string   `json:"message" binding:"required"`
	Images  []string `json:"images,omitempty"`
	Model   string   `json:"model,omitempty"`
}

// SessionSettingsResponse mirrors entity.SessionSettings on the wire.
type SessionSettingsResponse struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	EnableSearch bool    `json:"enable_search"`
}

// SessionResponse is the public view of a chat session. The id key is
// `_id` to match what the dashboard frontend expects.
type SessionResponse struct {
	ID        string                  `json:"_id"`
	UserID    string                  `json:"user_id"`
	Title     string                  `json:"title"`
	Settings  SessionSettingsResponse `json:"settings"`
	CreatedAt string                  `json:"created_at"`
	UpdatedAt string                  `json:"updated_at"`
}

// SessionListResponse wraps the session collection.
type SessionListResponse struct {
	Sessions []*SessionResponse `json:"sessions"`
	Total    int                `json:"total"`
}

// MessageResponse is the public view of a chat message.
type MessageResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// MessageListResponse wraps a session's message history.
type MessageListResponse struct {
	SessionID string             `json:"session_id"`
	Messages  []*MessageResponse `json:"messages"`
}

// SendMessageResponse is the non-streaming turn result.
type SendMessageResponse struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// ExportResponse is the downloadable chat transcript.
type ExportResponse struct {
	SessionID  string             `json:"session_id"`
	Title      string             `json:"title"`
	ExportedAt string             `json:"exported_at"`
	Messages   []*MessageResponse `json:"messages"`
}

// ToSessionResponse converts entity.ChatSession to SessionResponse.
func ToSessionResponse(s *entity.ChatSession) *SessionResponse {
	return &SessionResponse{
		ID:     s.ID,
		UserID: s.UserID,
		Title:  s.Title,
		Settings: SessionSettingsResponse{
			Model:        s.Settings.Model,
			Temperature:  s.Settings.Temperature,
			EnableSearch: s.Settings.EnableSearch,
		},
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.Format(time.RFC3339),
	}
}

// ToSessionListResponse converts a slice of sessions.
func ToSessionListResponse(sessions []*entity.ChatSession) *SessionListResponse {
	out := make([]*SessionResponse, len(sessions))
	for i, s := range sessions {
		out[i] = ToSessionResponse(s)
	}
	return &SessionListResponse{Sessions: out, Total: len(out)}
}

// ToMessageResponse converts entity.ChatMessage to MessageResponse.
func ToMessageResponse(m *entity.ChatMessage) *MessageResponse {
	return &MessageResponse{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

// ToMessageListResponse converts a message history.
func ToMessageListResponse(sessionID string, messages []*entity.ChatMessage) *MessageListResponse {
	out := make([]*MessageResponse, len(messages))
	for i, m := range messages {
		out[i] = ToMessageResponse(m)
	}
	return &MessageListResponse{SessionID: sessionID, Messages: out}
}
