package dto

import (
	"time"

	"github.com/optimiscs/ZhimoWanxiang/internal/domain/entity"
)

// AnalyzeNewsRequest submits an article for background opinion analysis.
type AnalyzeNewsRequest struct {
	Title   string `json:"title"`
	Content string `json:"content" binding:"required"`
}

// PRStrategyRequest asks for a PR response plan for an ongoing event.
type PRStrategyRequest struct {
	Event       string `json:"event" binding:"required"`
	Sentiment   string `json:"sentiment,omitempty"`
	Constraints string `json:"constraints,omitempty"`
}

// TaskResponse is the pollable view of a background task.
type TaskResponse struct {
	TaskID    string `json:"task_id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ToTaskResponse converts entity.AnalysisTask to TaskResponse.
func ToTaskResponse(t *entity.AnalysisTask) *TaskResponse {
	return &TaskResponse{
		TaskID:    t.ID,
		Kind:      t.Kind,
		Status:    t.Status,
		Result:    t.Result,
		Error:     t.Error,
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
		UpdatedAt: t.UpdatedAt.Format(time.RFC3339),
	}
}
