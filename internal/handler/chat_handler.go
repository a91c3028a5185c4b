package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/protocol/sse"

	"github.com/optimiscs/ZhimoWanxiang/internal/domain"
	"github.com/optimiscs/ZhimoWanxiang/internal/domain/entity"
	"github.com/optimiscs/ZhimoWanxiang/internal/handler/dto"
)

// ChatHandler handles session lifecycle and chat turns.
type ChatHandler struct {
	usecase domain.ChatUsecase
	logger  *slog.Logger
}

// NewChatHandler creates the chat handler.
func NewChatHandler(usecase domain.ChatUsecase, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		usecase: usecase,
		logger:  logger,
	}
}

// CreateSession creates a chat session.
// POST /api/v1/chat/sessions
func (h *ChatHandler) CreateSession(ctx context.Context, c *app.RequestContext) {
	userID := currentUserID(c)
	if userID == "" {
		ErrorResponse(c, domain.ErrUnauthorized)
		return
	}

	// Body is optional; an empty POST creates a bare session
	var req dto.CreateSessionRequest
	if len(c.Request.Body()) > 0 {
		if err := c.BindJSON(&req); err != nil {
			h.logger.Error("invalid create session request", "error", err)
			ErrorResponse(c, domain.ErrInvalidInput)
			return
		}
	}

	session, err := h.usecase.CreateSession(ctx, userID, req.InitializeConversation)
	if err != nil {
		h.logger.Error("failed to create session", "error", err, "user_id", userID)
		ErrorResponse(c, err)
		return
	}

	CreatedResponse(c, dto.ToSessionResponse(session))
}

// ListSessions lists the user's sessions, newest first.
// GET /api/v1/chat/sessions
func (h *ChatHandler) ListSessions(ctx context.Context, c *app.RequestContext) {
	userID := currentUserID(c)
	if userID == "" {
		ErrorResponse(c, domain.ErrUnauthorized)
		return
	}

	sessions, err := h.usecase.ListSessions(ctx, userID)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err, "user_id", userID)
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, dto.ToSessionListResponse(sessions))
}

// GetSession returns one session.
// GET /api/v1/chat/sessions/:id
func (h *ChatHandler) GetSession(ctx context.Context, c *app.RequestContext) {
	userID := currentUserID(c)
	sessionID := c.Param("id")

	session, err := h.usecase.GetSession(ctx, userID, sessionID)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, dto.ToSessionResponse(session))
}

// DeleteSession removes a session and its history.
// DELETE /api/v1/chat/sessions/:id
func (h *ChatHandler) DeleteSession(ctx context.Context, c *app.RequestContext) {
	userID := currentUserID(c)
	sessionID := c.Param("id")

	if err := h.usecase.DeleteSession(ctx, userID, sessionID); err != nil {
		h.logger.Error("failed to delete session", "error", err, "session_id", sessionID)
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, map[string]string{"message": "session deleted"})
}

// UpdateTitle renames a session.
// PUT /api/v1/chat/sessions/:id/title
func (h *ChatHandler) UpdateTitle(ctx context.Context, c *app.RequestContext) {
	userID := currentUserID(c)
	sessionID := c.Param("id")

	var req dto.UpdateTitleRequest
	if err := c.BindJSON(&req); err != nil {
		ErrorResponse(c, domain.ErrInvalidInput)
		return
	}

	if err := h.usecase.RenameSession(ctx, userID, sessionID, req.Title); err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, map[string]string{"title": req.Title})
}

// UpdateSettings replaces the session model settings.
// PUT /api/v1/chat/sessions/:id/settings
func (h *ChatHandler) UpdateSettings(ctx context.Context, c *app.RequestContext) {
	userID := currentUserID(c)
	sessionID := c.Param("id")

	var req dto.UpdateSettingsRequest
	if err := c.BindJSON(&req); err != nil {
		ErrorResponse(c, domain.ErrInvalidInput)
		return
	}

	settings := entity.SessionSettings{
		Model:        req.Model,
		Temperature:  req.Temperature,
		EnableSearch: req.EnableSearch,
	}
	if err := h.usecase.UpdateSettings(ctx, userID, sessionID, settings); err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, dto.SessionSettingsResponse(settings))
}

// ListMessages returns the session history.
// GET /api/v1/chat/sessions/:id/messages
func (h *ChatHandler) ListMessages(ctx context.Context, c *app.RequestContext) {
	userID := currentUserID(c)
	sessionID := c.Param("id")

	messages, err := h.usecase.ListMessages(ctx, userID, sessionID)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, dto.ToMessageListResponse(sessionID, messages))
}

// SendMessage runs a complete non-streaming turn.
// POST /api/v1/chat/sessions/:id/messages
func (h *ChatHandler) SendMessage(ctx context.Context, c *app.RequestContext) {
	userID := currentUserID(c)
	sessionID := c.Param("id")

	var req dto.StreamRequest
	if err := c.BindJSON(&req); err != nil {
		ErrorResponse(c, domain.ErrInvalidInput)
		return
	}

	resp, err := h.usecase.SendMessage(ctx, &domain.TurnRequest{
		UserID:    userID,
		SessionID: sessionID,
		Message:   req.Message,
		Images:    req.Images,
		Model:     req.Model,
	})
	if err != nil {
		h.logger.Error("send message failed", "error", err, "session_id", sessionID)
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, dto.SendMessageResponse{
		SessionID: resp.SessionID,
		MessageID: resp.MessageID,
		Content:   resp.Content,
	})
}

// ExportChat returns the session transcript as a JSON download with
// system messages filtered out.
// GET /api/v1/chat/export-chat/:id
func (h *ChatHandler) ExportChat(ctx context.Context, c *app.RequestContext) {
	userID := currentUserID(c)
	sessionID := c.Param("id")

	session, err := h.usecase.GetSession(ctx, userID, sessionID)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	messages, err := h.usecase.ExportMessages(ctx, userID, sessionID)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	export := &dto.ExportResponse{
		SessionID:  sessionID,
		Title:      session.Title,
		ExportedAt: time.Now().Format(time.RFC3339),
	}
	export.Messages = make([]*dto.MessageResponse, len(messages))
	for i, m := range messages {
		export.Messages[i] = dto.ToMessageResponse(m)
	}

	c.Response.Header.Set("Content-Disposition", `attachment; filename="chat-`+sessionID+`.json"`)
	SuccessResponse(c, export)
}

// SubmitStreamTurn stores the user message of a streaming turn. The
// dashboard follows up with a GET on the same path to read the reply.
// POST /api/v1/chat/sessions/:id/stream
func (h *ChatHandler) SubmitStreamTurn(ctx context.Context, c *app.RequestContext) {
	userID := currentUserID(c)
	sessionID := c.Param("id")

	var req dto.StreamRequest
	if err := c.BindJSON(&req); err != nil {
		ErrorResponse(c, domain.ErrInvalidInput)
		return
	}

	err := h.usecase.SubmitTurn(ctx, &domain.TurnRequest{
		UserID:    userID,
		SessionID: sessionID,
		Message:   req.Message,
		Images:    req.Images,
		Model:     req.Model,
	})
	if err != nil {
		h.logger.Error("submit turn failed", "error", err, "session_id", sessionID)
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, map[string]string{"session_id": sessionID})
}

// StreamReply serves the assistant reply as an SSE stream:
// start, optional ready and thinking events, unnamed data fragments,
// then done. Failures surface as an error event; a warning event means
// the reply streamed fine but could not be saved.
// GET /api/v1/chat/sessions/:id/stream
func (h *ChatHandler) StreamReply(ctx context.Context, c *app.RequestContext) {
	userID := currentUserID(c)
	sessionID := c.Param("id")

	streamCh, err := h.usecase.StreamReply(ctx, userID, sessionID)
	if err != nil {
		h.logger.Error("stream reply failed", "error", err, "session_id", sessionID)
		ErrorResponse(c, err)
		return
	}

	// Status must be set before the SSE writer takes over the response
	c.SetStatusCode(consts.StatusOK)
	writer := sse.NewWriter(c)
	defer writer.Close()

	if err := h.writeJSONEvent(writer, "start", map[string]string{"session_id": sessionID}); err != nil {
		h.logger.Error("failed to write start event", "error", err)
		return
	}
	if err := writer.WriteEvent("", "ready", nil); err != nil {
		h.logger.Error("failed to write ready event", "error", err)
		return
	}

	for chunk := range streamCh {
		switch {
		case chunk.Error != "":
			h.logger.Error("stream error", "error", chunk.Error, "session_id", sessionID)
			if err := h.writeJSONEvent(writer, "error", map[string]string{"error": chunk.Error}); err != nil {
				h.logger.Error("failed to write error event", "error", err)
			}
			return

		case chunk.Thinking != nil:
			thinking := map[string]string{
				"status":  chunk.Thinking.Status,
				"message": chunk.Thinking.Message,
			}
			if err := h.writeJSONEvent(writer, "thinking", thinking); err != nil {
				h.logger.Error("failed to write thinking event", "error", err)
				return
			}

		case chunk.Warning != "":
			if err := writer.WriteEvent("", "warning", []byte(chunk.Warning)); err != nil {
				h.logger.Error("failed to write warning event", "error", err)
				return
			}

		case chunk.Text != "":
			// Unnamed data event, the dashboard appends it verbatim
			if err := writer.WriteEvent("", "", []byte(chunk.Text)); err != nil {
				h.logger.Error("failed to write data event", "error", err)
				return
			}
		}

		if chunk.IsEnd {
			if err := writer.WriteEvent("", "done", []byte("[DONE]")); err != nil {
				h.logger.Error("failed to write done event", "error", err)
			}
			return
		}
	}

	// Channel closed without a terminal chunk; close the turn anyway
	if err := writer.WriteEvent("", "done", []byte("[DONE]")); err != nil {
		h.logger.Error("failed to write done event", "error", err)
	}
}

// writeJSONEvent marshals data with sonic and sends it as a named event.
// Writer.WriteEvent flushes on every call.
func (h *ChatHandler) writeJSONEvent(writer *sse.Writer, event string, data interface{}) error {
	payload, err := sonic.Marshal(data)
	if err != nil {
		return err
	}
	return writer.WriteEvent("", event, payload)
}
