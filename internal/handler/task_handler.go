package handler

import (
	"context"
	"log/slog"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/optimiscs/ZhimoWanxiang/internal/domain"
	"github.com/optimiscs/ZhimoWanxiang/internal/handler/dto"
)

// TaskHandler handles background analysis tasks.
type TaskHandler struct {
	usecase domain.TaskUsecase
	logger  *slog.Logger
}

// NewTaskHandler creates the task handler.
func NewTaskHandler(usecase domain.TaskUsecase, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		usecase: usecase,
		logger:  logger,
	}
}

// AnalyzeNews submits an article for background opinion analysis and
// returns the pollable task.
// POST /api/v1/chat/analyze-news
func (h *TaskHandler) AnalyzeNews(ctx context.Context, c *app.RequestContext) {
	userID := currentUserID(c)
	if userID == "" {
		ErrorResponse(c, domain.ErrUnauthorized)
		return
	}

	var req dto.AnalyzeNewsRequest
	if err := c.BindJSON(&req); err != nil {
		ErrorResponse(c, domain.ErrInvalidInput)
		return
	}

	task, err := h.usecase.AnalyzeNews(ctx, &domain.AnalyzeNewsRequest{
		UserID:  userID,
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		h.logger.Error("analyze news failed", "error", err, "user_id", userID)
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, dto.ToTaskResponse(task))
}

// PRStrategy submits a PR strategy request.
// POST /api/v1/chat/pr-strategy
func (h *TaskHandler) PRStrategy(ctx context.Context, c *app.RequestContext) {
	userID := currentUserID(c)
	if userID == "" {
		ErrorResponse(c, domain.ErrUnauthorized)
		return
	}

	var req dto.PRStrategyRequest
	if err := c.BindJSON(&req); err != nil {
		ErrorResponse(c, domain.ErrInvalidInput)
		return
	}

	task, err := h.usecase.PRStrategy(ctx, &domain.PRStrategyRequest{
		UserID:      userID,
		Event:       req.Event,
		Sentiment:   req.Sentiment,
		Constraints: req.Constraints,
	})
	if err != nil {
		h.logger.Error("pr strategy failed", "error", err, "user_id", userID)
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, dto.ToTaskResponse(task))
}

// TaskStatus returns the current state of a background task.
// GET /api/v1/chat/task-status/:id
func (h *TaskHandler) TaskStatus(ctx context.Context, c *app.RequestContext) {
	taskID := c.Param("id")
	if taskID == "" {
		ErrorResponse(c, domain.ErrInvalidInput)
		return
	}

	task, err := h.usecase.GetTask(ctx, taskID)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, dto.ToTaskResponse(task))
}
