package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/optimiscs/ZhimoWanxiang/internal/domain"
	"github.com/optimiscs/ZhimoWanxiang/internal/domain/entity"
)

const (
	// analysisCacheTTL keeps finished news analyses around so repeated
	// submissions of the same article reuse the result.
	analysisCacheTTL = time.Hour

	// taskRetention bounds how long finished tasks stay pollable.
	taskRetention = 2 * time.Hour

	analysisTimeout = 5 * time.Minute
)

// taskUsecase implements domain.TaskUsecase with an in-memory registry.
// Tasks do not survive a restart; clients resubmit after an unknown-task
// response.
type taskUsecase struct {
	modelClient domain.ModelClient
	logger      *slog.Logger

	mu    sync.Mutex
	tasks map[string]*entity.AnalysisTask
	cache map[string]cacheEntry // content hash -> finished task
}

type cacheEntry struct {
	taskID   string
	cachedAt time.Time
}

// NewTaskUsecase creates the background analysis usecase.
func NewTaskUsecase(modelClient domain.ModelClient, logger *slog.Logger) domain.TaskUsecase {
	return &taskUsecase{
		modelClient: modelClient,
		logger:      logger,
		tasks:       make(map[string]*entity.AnalysisTask),
		cache:       make(map[string]cacheEntry),
	}
}

// AnalyzeNews starts a news analysis task. Identical content within the
// cache window returns the finished cached task.
func (u *taskUsecase) AnalyzeNews(ctx context.Context, req *domain.AnalyzeNewsRequest) (*entity.AnalysisTask, error) {
	if req == nil || strings.TrimSpace(req.Content) == "" {
		return nil, domain.NewInvalidInputError("news content is required")
	}

	key := contentHash(req.Title + "\n" + req.Content)

	u.mu.Lock()
	if entry, ok := u.cache[key]; ok && time.Since(entry.cachedAt) < analysisCacheTTL {
		if task, ok := u.tasks[entry.taskID]; ok && task.Status == entity.TaskStatusCompleted {
			u.mu.Unlock()
			u.logger.Debug("news analysis served from cache", "task_id", task.ID)
			return cloneTask(task), nil
		}
	}
	u.mu.Unlock()

	prompt := fmt.Sprintf(
		"请对以下新闻进行舆情分析，输出：1) 事件摘要 2) 情感倾向 3) 传播风险评估 4) 需要关注的舆论焦点。\n\n标题：%s\n\n正文：\n%s",
		req.Title, req.Content)

	task := u.startTask(entity.TaskKindNewsAnalysis, prompt, key)
	return cloneTask(task), nil
}

// PRStrategy starts a PR strategy task.
func (u *taskUsecase) PRStrategy(ctx context.Context, req *domain.PRStrategyRequest) (*entity.AnalysisTask, error) {
	if req == nil || strings.TrimSpace(req.Event) == "" {
		return nil, domain.NewInvalidInputError("event description is required")
	}

	var b strings.Builder
	b.WriteString("请针对以下舆情事件制定公关应对策略，输出：1) 态势研判 2) 回应口径建议 3) 分阶段行动计划 4) 风险提示。\n\n事件：\n")
	b.WriteString(req.Event)
	if req.Sentiment != "" {
		b.WriteString("\n\n当前舆论倾向：")
		b.WriteString(req.Sentiment)
	}
	if req.Constraints != "" {
		b.WriteString("\n\n约束条件：")
		b.WriteString(req.Constraints)
	}

	task := u.startTask(entity.TaskKindPRStrategy, b.String(), "")
	return cloneTask(task), nil
}

// GetTask returns the current state of a task.
func (u *taskUsecase) GetTask(ctx context.Context, taskID string) (*entity.AnalysisTask, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	task, ok := u.tasks[taskID]
	if !ok {
		return nil, domain.NewNotFoundError("Task", taskID)
	}
	return cloneTask(task), nil
}

// startTask registers a pending task and launches the model call in the
// background. cacheKey is empty for uncached kinds.
func (u *taskUsecase) startTask(kind, prompt, cacheKey string) *entity.AnalysisTask {
	now := time.Now()
	task := &entity.AnalysisTask{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    entity.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	u.mu.Lock()
	u.tasks[task.ID] = task
	u.evictExpiredLocked()
	u.mu.Unlock()

	go u.runTask(task.ID, prompt, cacheKey)

	u.logger.Info("analysis task started", "task_id", task.ID, "kind", kind)
	return task
}

// runTask performs the model call and records the outcome.
func (u *taskUsecase) runTask(taskID, prompt, cacheKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
	defer cancel()

	u.setStatus(taskID, entity.TaskStatusRunning, "", "")

	messages := []*entity.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}
	settings := entity.DefaultSessionSettings()

	streamCh, err := u.modelClient.StreamCompletion(ctx, messages, settings)
	if err != nil {
		u.logger.Error("analysis task failed to start completion", "task_id", taskID, "error", err)
		u.setStatus(taskID, entity.TaskStatusFailed, "", "model request failed")
		return
	}

	var full strings.Builder
	for chunk := range streamCh {
		if chunk.Error != "" {
			u.logger.Error("analysis task stream failed", "task_id", taskID, "error", chunk.Error)
			u.setStatus(taskID, entity.TaskStatusFailed, "", chunk.Error)
			return
		}
		full.WriteString(chunk.Text)
	}

	u.setStatus(taskID, entity.TaskStatusCompleted, full.String(), "")

	if cacheKey != "" {
		u.mu.Lock()
		u.cache[cacheKey] = cacheEntry{taskID: taskID, cachedAt: time.Now()}
		u.mu.Unlock()
	}

	u.logger.Info("analysis task completed", "task_id", taskID, "result_len", full.Len())
}

func (u *taskUsecase) setStatus(taskID, status, result, errMsg string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	task, ok := u.tasks[taskID]
	if !ok {
		return
	}
	task.Status = status
	task.Result = result
	task.Error = errMsg
	task.UpdatedAt = time.Now()
}

// evictExpiredLocked drops finished tasks past retention. Caller holds mu.
func (u *taskUsecase) evictExpiredLocked() {
	cutoff := time.Now().Add(-taskRetention)
	for id, task := range u.tasks {
		if task.IsTerminal() && task.UpdatedAt.Before(cutoff) {
			delete(u.tasks, id)
		}
	}
	for key, entry := range u.cache {
		if entry.cachedAt.Before(cutoff) {
			delete(u.cache, key)
		}
	}
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func cloneTask(t *entity.AnalysisTask) *entity.AnalysisTask {
	copied := *t
	return &copied
}
