package entity

import "time"

// Task kinds handled by the background analysis worker.
const (
	TaskKindNewsAnalysis = "news_analysis"
	TaskKindPRStrategy   = "pr_strategy"
)

// Task statuses.
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// AnalysisTask is a background model invocation tracked by ID so the
// client can poll for the result.
type AnalysisTask struct {
	ID        string
	Kind      string
	Status    string
	Result    string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTerminal reports whether the task has finished, successfully or not.
func (t *AnalysisTask) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}
