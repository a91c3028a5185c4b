package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/optimiscs/ZhimoWanxiang/internal/domain"
	"github.com/optimiscs/ZhimoWanxiang/internal/domain/entity"
)

const (
	// systemPrompt seeds every initialized session.
	systemPrompt = "你是智墨万象舆情监测平台的智能助手，负责舆情分析、新闻解读和公关策略建议。" +
		"回答时基于事实，引用检索到的信息时注明来源，无法确认的内容明确说明。"

	// welcomeMessage is the assistant greeting for initialized sessions.
	welcomeMessage = "您好！我是智墨万象舆情助手。您可以向我咨询热点事件分析、舆情走势判断或公关应对建议。"

	// titleMaxRunes is the prefix length used when deriving a session
	// title from the first user message.
	titleMaxRunes = 30

	maxMessageLen = 10000
)

// chatUsecase implements domain.ChatUsecase. It owns session lifecycle,
// message history and the bridge to the model client.
type chatUsecase struct {
	modelClient domain.ModelClient
	sessionRepo domain.SessionRepository
	messageRepo domain.MessageRepository
	userRepo    domain.UserRepository
	logger      *slog.Logger
}

// NewChatUsecase creates the chat usecase.
func NewChatUsecase(
	modelClient domain.ModelClient,
	sessionRepo domain.SessionRepository,
	messageRepo domain.MessageRepository,
	userRepo domain.UserRepository,
	logger *slog.Logger,
) domain.ChatUsecase {
	return &chatUsecase{
		modelClient: modelClient,
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		userRepo:    userRepo,
		logger:      logger,
	}
}

// CreateSession creates a session. With initialize set, the session is
// seeded with the system prompt and an assistant welcome message.
func (u *chatUsecase) CreateSession(ctx context.Context, userID string, initialize bool) (*entity.ChatSession, error) {
	if _, err := u.userRepo.GetByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("user not found or invalid: %w", err)
	}

	now := time.Now()
	session := &entity.ChatSession{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     entity.DefaultTitle,
		Settings:  entity.DefaultSessionSettings(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := u.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if initialize {
		seed := []*entity.ChatMessage{
			{ID: uuid.New().String(), SessionID: session.ID, Role: "system", Content: systemPrompt, CreatedAt: now},
			{ID: uuid.New().String(), SessionID: session.ID, Role: "assistant", Content: welcomeMessage, CreatedAt: now.Add(time.Millisecond)},
		}
		for _, msg := range seed {
			if err := u.messageRepo.Append(ctx, msg); err != nil {
				return nil, fmt.Errorf("failed to seed session: %w", err)
			}
		}
	}

	u.logger.Info("session created", "session_id", session.ID, "user_id", userID, "initialized", initialize)
	return session, nil
}

// ListSessions returns the sessions of a user, newest first.
func (u *chatUsecase) ListSessions(ctx context.Context, userID string) ([]*entity.ChatSession, error) {
	sessions, err := u.sessionRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// GetSession returns a session after the ownership check.
func (u *chatUsecase) GetSession(ctx context.Context, userID, sessionID string) (*entity.ChatSession, error) {
	return u.ownedSession(ctx, userID, sessionID)
}

// DeleteSession removes a session and its history.
func (u *chatUsecase) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if _, err := u.ownedSession(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := u.sessionRepo.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	u.logger.Info("session deleted", "session_id", sessionID, "user_id", userID)
	return nil
}

// RenameSession changes the session title.
func (u *chatUsecase) RenameSession(ctx context.Context, userID, sessionID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.NewInvalidInputError("title is required")
	}
	if len([]rune(title)) > 100 {
		return domain.NewInvalidInputError("title too long (max 100 characters)")
	}
	if _, err := u.ownedSession(ctx, userID, sessionID); err != nil {
		return err
	}
	return u.sessionRepo.UpdateTitle(ctx, sessionID, title)
}

// UpdateSettings replaces the session model settings.
func (u *chatUsecase) UpdateSettings(ctx context.Context, userID, sessionID string, settings entity.SessionSettings) error {
	if settings.Model == "" {
		settings.Model = entity.DefaultModel
	}
	if settings.Temperature < 0 || settings.Temperature > 2 {
		return domain.NewInvalidInputError("temperature must be between 0 and 2")
	}
	if _, err := u.ownedSession(ctx, userID, sessionID); err != nil {
		return err
	}
	return u.sessionRepo.UpdateSettings(ctx, sessionID, settings)
}

// ListMessages returns the session history, oldest first.
func (u *chatUsecase) ListMessages(ctx context.Context, userID, sessionID string) ([]*entity.ChatMessage, error) {
	if _, err := u.ownedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	messages, err := u.messageRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// ExportMessages returns the history for download, system messages removed.
func (u *chatUsecase) ExportMessages(ctx context.Context, userID, sessionID string) ([]*entity.ChatMessage, error) {
	messages, err := u.ListMessages(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	exported := make([]*entity.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}
		exported = append(exported, msg)
	}
	return exported, nil
}

// SendMessage runs a complete non-streaming turn: the user message is
// stored, the full reply collected, stored and returned.
func (u *chatUsecase) SendMessage(ctx context.Context, req *domain.TurnRequest) (*domain.TurnResponse, error) {
	session, err := u.submitUserMessage(ctx, req)
	if err != nil {
		return nil, err
	}

	history, err := u.messageRepo.ListBySession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	streamCh, err := u.modelClient.StreamCompletion(ctx, history, session.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to start completion: %w", err)
	}

	var full strings.Builder
	for chunk := range streamCh {
		if chunk.Error != "" {
			return nil, fmt.Errorf("streaming error: %s", chunk.Error)
		}
		full.WriteString(chunk.Text)
	}

	reply := &entity.ChatMessage{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		Role:      "assistant",
		Content:   full.String(),
		CreatedAt: time.Now(),
	}
	if err := u.messageRepo.Append(ctx, reply); err != nil {
		return nil, fmt.Errorf("failed to save reply: %w", err)
	}
	if err := u.sessionRepo.Touch(ctx, req.SessionID); err != nil {
		u.logger.Warn("failed to touch session", "error", err, "session_id", req.SessionID)
	}

	return &domain.TurnResponse{
		SessionID: req.SessionID,
		MessageID: reply.ID,
		Content:   reply.Content,
	}, nil
}

// SubmitTurn stores the user message of a streaming turn. The reply is
// produced by the StreamReply call that follows.
func (u *chatUsecase) SubmitTurn(ctx context.Context, req *domain.TurnRequest) error {
	_, err := u.submitUserMessage(ctx, req)
	return err
}

// StreamReply streams the assistant reply to the most recent user message
// and persists it once the stream ends. A failed save is reported as a
// warning chunk, not an error.
func (u *chatUsecase) StreamReply(ctx context.Context, userID, sessionID string) (<-chan entity.StreamChunk, error) {
	session, err := u.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	history, err := u.messageRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if len(history) == 0 || history[len(history)-1].Role != "user" {
		return nil, domain.NewInvalidInputError("no pending user message to reply to")
	}

	streamCh, err := u.modelClient.StreamCompletion(ctx, history, session.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to start completion: %w", err)
	}

	out := make(chan entity.StreamChunk, 100)

	go func() {
		defer close(out)

		var full strings.Builder
		failed := false

		for chunk := range streamCh {
			if chunk.Error != "" {
				failed = true
				out <- chunk
				break
			}
			full.WriteString(chunk.Text)

			if chunk.IsEnd {
				// Persist the reply before signalling the end so a
				// follow-up history fetch sees it
				if warn := u.saveReply(sessionID, full.String()); warn != "" {
					out <- entity.StreamChunk{Warning: warn}
				}
				out <- chunk
				return
			}
			out <- chunk
		}

		if !failed {
			// Upstream closed without a terminal chunk
			if warn := u.saveReply(sessionID, full.String()); warn != "" {
				out <- entity.StreamChunk{Warning: warn}
			}
			out <- entity.StreamChunk{IsEnd: true}
		}
	}()

	return out, nil
}

// saveReply persists the assistant message, returning a warning string
// on failure. Uses a fresh context so a dropped client connection does
// not lose the history write.
func (u *chatUsecase) saveReply(sessionID, content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply := &entity.ChatMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      "assistant",
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := u.messageRepo.Append(ctx, reply); err != nil {
		u.logger.Error("failed to save assistant reply", "error", err, "session_id", sessionID)
		return "assistant reply could not be saved to history"
	}
	if err := u.sessionRepo.Touch(ctx, sessionID); err != nil {
		u.logger.Warn("failed to touch session", "error", err, "session_id", sessionID)
	}
	return ""
}

// submitUserMessage validates the turn, stores the user message, sets the
// session title from the first user message and applies a per-turn model
// override.
func (u *chatUsecase) submitUserMessage(ctx context.Context, req *domain.TurnRequest) (*entity.ChatSession, error) {
	if err := validateTurnRequest(req); err != nil {
		return nil, err
	}

	session, err := u.ownedSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}

	if req.Model != "" && req.Model != session.Settings.Model {
		settings := session.Settings
		settings.Model = req.Model
		if err := u.sessionRepo.UpdateSettings(ctx, req.SessionID, settings); err != nil {
			return nil, fmt.Errorf("failed to apply model override: %w", err)
		}
		session.Settings = settings
	}

	userCount, err := u.messageRepo.CountBySessionAndRole(ctx, req.SessionID, "user")
	if err != nil {
		return nil, fmt.Errorf("failed to count user messages: %w", err)
	}

	content := req.Message
	if len(req.Images) > 0 {
		var b strings.Builder
		b.WriteString(content)
		for _, img := range req.Images {
			b.WriteString("\n![image](")
			b.WriteString(img)
			b.WriteString(")")
		}
		content = b.String()
	}

	msg := &entity.ChatMessage{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		Role:      "user",
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := u.messageRepo.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	// The first user message names the conversation
	if userCount == 0 {
		title := deriveTitle(req.Message)
		if err := u.sessionRepo.UpdateTitle(ctx, req.SessionID, title); err != nil {
			u.logger.Warn("failed to set session title", "error", err, "session_id", req.SessionID)
		} else {
			session.Title = title
		}
	}

	return session, nil
}

// ownedSession loads a session and verifies the caller owns it. Unknown
// sessions are not-found; foreign sessions are forbidden.
func (u *chatUsecase) ownedSession(ctx context.Context, userID, sessionID string) (*entity.ChatSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.NewInvalidInputError("session id is required")
	}
	session, err := u.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, domain.NewForbiddenError("session belongs to another user")
	}
	return session, nil
}

// validateTurnRequest checks the turn payload.
func validateTurnRequest(req *domain.TurnRequest) error {
	if req == nil {
		return domain.ErrInvalidInput
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return domain.NewInvalidInputError("session id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return domain.NewInvalidInputError("message is required")
	}
	if len(req.Message) > maxMessageLen {
		return domain.NewInvalidInputError(fmt.Sprintf("message too long (max %d characters)", maxMessageLen))
	}
	return nil
}

// deriveTitle derives a session title from the first user message:
// a 30-rune prefix, with an ellipsis when truncated.
func deriveTitle(message string) string {
	trimmed := strings.TrimSpace(message)
	// Collapse newlines, titles render on one line
	trimmed = strings.ReplaceAll(trimmed, "\n", " ")
	runes := []rune(trimmed)
	if len(runes) <= titleMaxRunes {
		if trimmed == "" {
			return entity.DefaultTitle
		}
		return trimmed
	}
	return string(runes[:titleMaxRunes]) + "..."
}
