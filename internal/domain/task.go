package domain

import (
	"context"

	"github.com/optimiscs/ZhimoWanxiang/internal/domain/entity"
)

// AnalyzeNewsRequest asks for a public-opinion analysis of one news item.
type AnalyzeNewsRequest struct {
	UserID  string
	Title   string
	Content string
}

// PRStrategyRequest asks for a PR response strategy for an ongoing event.
type PRStrategyRequest struct {
	UserID      string
	Event       string
	Sentiment   string // optional overall sentiment hint
	Constraints string // optional constraints on the strategy
}

// TaskUsecase runs long model invocations in the background and exposes
// their status for polling.
type TaskUsecase interface {
	// AnalyzeNews starts a news analysis task and returns it immediately.
	// Identical content submitted within the cache window returns the
	// finished cached task instead of starting a new one.
	AnalyzeNews(ctx context.Context, req *AnalyzeNewsRequest) (*entity.AnalysisTask, error)

	// PRStrategy starts a PR strategy task and returns it immediately
	PRStrategy(ctx context.Context, req *PRStrategyRequest) (*entity.AnalysisTask, error)

	// GetTask returns the current state of a task
	GetTask(ctx context.Context, taskID string) (*entity.AnalysisTask, error)
}
