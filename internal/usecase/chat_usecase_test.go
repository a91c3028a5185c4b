package usecase

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/optimiscs/ZhimoWanxiang/internal/domain"
	"github.com/optimiscs/ZhimoWanxiang/internal/domain/entity"
)

// In-memory SessionRepository.
type testSessionRepository struct {
	sessions map[string]*entity.ChatSession
}

func newTestSessionRepository() *testSessionRepository {
	return &testSessionRepository{sessions: make(map[string]*entity.ChatSession)}
}

func (r *testSessionRepository) Create(ctx context.Context, session *entity.ChatSession) error {
	copied := *session
	r.sessions[session.ID] = &copied
	return nil
}

func (r *testSessionRepository) GetByID(ctx context.Context, sessionID string) (*entity.ChatSession, error) {
	if s, ok := r.sessions[sessionID]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, domain.NewNotFoundError("Session", sessionID)
}

func (r *testSessionRepository) ListByUser(ctx context.Context, userID string) ([]*entity.ChatSession, error) {
	var out []*entity.ChatSession
	for _, s := range r.sessions {
		if s.UserID == userID {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *testSessionRepository) UpdateTitle(ctx context.Context, sessionID, title string) error {
	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.NewNotFoundError("Session", sessionID)
	}
	s.Title = title
	return nil
}

func (r *testSessionRepository) UpdateSettings(ctx context.Context, sessionID string, settings entity.SessionSettings) error {
	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.NewNotFoundError("Session", sessionID)
	}
	s.Settings = settings
	return nil
}

func (r *testSessionRepository) Touch(ctx context.Context, sessionID string) error {
	return nil
}

func (r *testSessionRepository) Delete(ctx context.Context, sessionID string) error {
	if _, ok := r.sessions[sessionID]; !ok {
		return domain.NewNotFoundError("Session", sessionID)
	}
	delete(r.sessions, sessionID)
	return nil
}

// In-memory MessageRepository.
type testMessageRepository struct {
	messages   []*entity.ChatMessage
	appendErr  error
	appendCnt  int
	failAfterN int // fail appends after N successes, 0 disables
}

func newTestMessageRepository() *testMessageRepository {
	return &testMessageRepository{}
}

func (r *testMessageRepository) Append(ctx context.Context, msg *entity.ChatMessage) error {
	r.appendCnt++
	if r.appendErr != nil && (r.failAfterN == 0 || r.appendCnt > r.failAfterN) {
		return r.appendErr
	}
	copied := *msg
	r.messages = append(r.messages, &copied)
	return nil
}

func (r *testMessageRepository) ListBySession(ctx context.Context, sessionID string) ([]*entity.ChatMessage, error) {
	var out []*entity.ChatMessage
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			copied := *m
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *testMessageRepository) CountBySessionAndRole(ctx context.Context, sessionID, role string) (int, error) {
	count := 0
	for _, m := range r.messages {
		if m.SessionID == sessionID && m.Role == role {
			count++
		}
	}
	return count, nil
}

// Scripted ModelClient.
type testModelClient struct {
	chunks []entity.StreamChunk
	err    error
}

func (c *testModelClient) StreamCompletion(ctx context.Context, messages []*entity.ChatMessage, settings entity.SessionSettings) (<-chan entity.StreamChunk, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make(chan entity.StreamChunk, len(c.chunks)+1)
	for _, chunk := range c.chunks {
		out <- chunk
	}
	close(out)
	return out, nil
}

func newChatFixture(model *testModelClient) (domain.ChatUsecase, *testSessionRepository, *testMessageRepository) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	sessionRepo := newTestSessionRepository()
	messageRepo := newTestMessageRepository()
	uc := NewChatUsecase(model, sessionRepo, messageRepo, newTestUserRepository(), logger)
	return uc, sessionRepo, messageRepo
}

func TestCreateSession(t *testing.T) {
	t.Run("uninitialized session has defaults and no messages", func(t *testing.T) {
		uc, _, messageRepo := newChatFixture(&testModelClient{})

		session, err := uc.CreateSession(context.Background(), "user-1", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if session.Title != entity.DefaultTitle {
			t.Errorf("title = %q, want %q", session.Title, entity.DefaultTitle)
		}
		if session.Settings.Model != entity.DefaultModel {
			t.Errorf("model = %q, want %q", session.Settings.Model, entity.DefaultModel)
		}
		if session.Settings.Temperature != entity.DefaultTemperature {
			t.Errorf("temperature = %v, want %v", session.Settings.Temperature, entity.DefaultTemperature)
		}
		if !session.Settings.EnableSearch {
			t.Error("search should be enabled by default")
		}
		if len(messageRepo.messages) != 0 {
			t.Errorf("expected no seeded messages, got %d", len(messageRepo.messages))
		}
	})

	t.Run("initialized session seeds system prompt and welcome", func(t *testing.T) {
		uc, _, messageRepo := newChatFixture(&testModelClient{})

		session, err := uc.CreateSession(context.Background(), "user-1", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		msgs, _ := messageRepo.ListBySession(context.Background(), session.ID)
		if len(msgs) != 2 {
			t.Fatalf("expected 2 seeded messages, got %d", len(msgs))
		}
		if msgs[0].Role != "system" {
			t.Errorf("first message role = %q, want system", msgs[0].Role)
		}
		if msgs[1].Role != "assistant" {
			t.Errorf("second message role = %q, want assistant", msgs[1].Role)
		}
	})
}

func TestSessionOwnership(t *testing.T) {
	uc, _, _ := newChatFixture(&testModelClient{})

	session, err := uc.CreateSession(context.Background(), "owner", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("owner can read", func(t *testing.T) {
		if _, err := uc.GetSession(context.Background(), "owner", session.ID); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("other user is forbidden", func(t *testing.T) {
		_, err := uc.GetSession(context.Background(), "intruder", session.ID)
		if !domain.IsForbidden(err) {
			t.Errorf("expected forbidden error, got %v", err)
		}
	})

	t.Run("unknown session is not found", func(t *testing.T) {
		_, err := uc.GetSession(context.Background(), "owner", uuid.New().String())
		if !domain.IsNotFound(err) {
			t.Errorf("expected not-found error, got %v", err)
		}
	})

	t.Run("delete by other user is forbidden", func(t *testing.T) {
		err := uc.DeleteSession(context.Background(), "intruder", session.ID)
		if !domain.IsForbidden(err) {
			t.Errorf("expected forbidden error, got %v", err)
		}
	})
}

func TestSubmitTurnTitleDerivation(t *testing.T) {
	tests := []struct {
		name      string
		message   string
		wantTitle string
	}{
		{
			name:      "short message used verbatim",
			message:   "分析一下这条新闻",
			wantTitle: "分析一下这条新闻",
		},
		{
			name:      "long message truncated to 30 runes with ellipsis",
			message:   strings.Repeat("舆", 40),
			wantTitle: strings.Repeat("舆", 30) + "...",
		},
		{
			name:      "newlines collapsed",
			message:   "第一行\n第二行",
			wantTitle: "第一行 第二行",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc, sessionRepo, _ := newChatFixture(&testModelClient{})
			session, _ := uc.CreateSession(context.Background(), "user-1", true)

			err := uc.SubmitTurn(context.Background(), &domain.TurnRequest{
				UserID:    "user-1",
				SessionID: session.ID,
				Message:   tt.message,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			stored := sessionRepo.sessions[session.ID]
			if stored.Title != tt.wantTitle {
				t.Errorf("title = %q, want %q", stored.Title, tt.wantTitle)
			}
		})
	}

	t.Run("second message does not rename", func(t *testing.T) {
		uc, sessionRepo, _ := newChatFixture(&testModelClient{})
		session, _ := uc.CreateSession(context.Background(), "user-1", false)

		_ = uc.SubmitTurn(context.Background(), &domain.TurnRequest{
			UserID: "user-1", SessionID: session.ID, Message: "第一条",
		})
		_ = uc.SubmitTurn(context.Background(), &domain.TurnRequest{
			UserID: "user-1", SessionID: session.ID, Message: "第二条",
		})

		if got := sessionRepo.sessions[session.ID].Title; got != "第一条" {
			t.Errorf("title = %q, want %q", got, "第一条")
		}
	})
}

func TestSubmitTurnValidation(t *testing.T) {
	uc, _, _ := newChatFixture(&testModelClient{})
	session, _ := uc.CreateSession(context.Background(), "user-1", false)

	tests := []struct {
		name string
		req  *domain.TurnRequest
	}{
		{"empty message", &domain.TurnRequest{UserID: "user-1", SessionID: session.ID, Message: "   "}},
		{"blank session id", &domain.TurnRequest{UserID: "user-1", SessionID: "  ", Message: "hi"}},
		{"oversized message", &domain.TurnRequest{UserID: "user-1", SessionID: session.ID, Message: strings.Repeat("a", maxMessageLen+1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := uc.SubmitTurn(context.Background(), tt.req); !domain.IsInvalidInput(err) {
				t.Errorf("expected invalid-input error, got %v", err)
			}
		})
	}
}

func TestStreamReply(t *testing.T) {
	t.Run("fragments forwarded and reply persisted", func(t *testing.T) {
		model := &testModelClient{chunks: []entity.StreamChunk{
			{Thinking: &entity.ThinkingStatus{Status: "analyzing", Message: "working"}},
			{Text: "监测"},
			{Text: "结果"},
			{IsEnd: true},
		}}
		uc, _, messageRepo := newChatFixture(model)
		session, _ := uc.CreateSession(context.Background(), "user-1", false)
		_ = uc.SubmitTurn(context.Background(), &domain.TurnRequest{
			UserID: "user-1", SessionID: session.ID, Message: "查询",
		})

		streamCh, err := uc.StreamReply(context.Background(), "user-1", session.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var fragments []string
		sawThinking := false
		sawEnd := false
		for chunk := range streamCh {
			if chunk.Thinking != nil {
				sawThinking = true
			}
			if chunk.Text != "" {
				fragments = append(fragments, chunk.Text)
			}
			if chunk.IsEnd {
				sawEnd = true
			}
		}

		if !sawThinking {
			t.Error("expected a thinking chunk")
		}
		if !sawEnd {
			t.Error("expected a terminal chunk")
		}
		if got := strings.Join(fragments, ""); got != "监测结果" {
			t.Errorf("accumulated text = %q, want %q", got, "监测结果")
		}

		msgs, _ := messageRepo.ListBySession(context.Background(), session.ID)
		last := msgs[len(msgs)-1]
		if last.Role != "assistant" || last.Content != "监测结果" {
			t.Errorf("persisted reply = %+v, want assistant/监测结果", last)
		}
	})

	t.Run("no pending user message", func(t *testing.T) {
		uc, _, _ := newChatFixture(&testModelClient{})
		session, _ := uc.CreateSession(context.Background(), "user-1", true)

		// History ends with the welcome assistant message
		_, err := uc.StreamReply(context.Background(), "user-1", session.ID)
		if !domain.IsInvalidInput(err) {
			t.Errorf("expected invalid-input error, got %v", err)
		}
	})

	t.Run("failed save surfaces as warning chunk", func(t *testing.T) {
		model := &testModelClient{chunks: []entity.StreamChunk{
			{Text: "部分"},
			{IsEnd: true},
		}}
		uc, _, messageRepo := newChatFixture(model)
		session, _ := uc.CreateSession(context.Background(), "user-1", false)
		_ = uc.SubmitTurn(context.Background(), &domain.TurnRequest{
			UserID: "user-1", SessionID: session.ID, Message: "查询",
		})

		// Fail writes from here on, the user message is already stored
		messageRepo.appendErr = domain.NewInternalError(context.DeadlineExceeded)

		streamCh, err := uc.StreamReply(context.Background(), "user-1", session.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		sawWarning := false
		sawEnd := false
		deadline := time.After(5 * time.Second)
		for {
			select {
			case chunk, ok := <-streamCh:
				if !ok {
					if !sawWarning {
						t.Error("expected a warning chunk")
					}
					if !sawEnd {
						t.Error("expected a terminal chunk")
					}
					return
				}
				if chunk.Warning != "" {
					sawWarning = true
				}
				if chunk.IsEnd {
					sawEnd = true
				}
				if chunk.Error != "" {
					t.Errorf("save failure must not become a stream error, got %q", chunk.Error)
				}
			case <-deadline:
				t.Fatal("stream did not finish")
			}
		}
	})

	t.Run("model error forwarded as error chunk", func(t *testing.T) {
		model := &testModelClient{chunks: []entity.StreamChunk{
			{IsEnd: true, Error: "model unavailable"},
		}}
		uc, _, _ := newChatFixture(model)
		session, _ := uc.CreateSession(context.Background(), "user-1", false)
		_ = uc.SubmitTurn(context.Background(), &domain.TurnRequest{
			UserID: "user-1", SessionID: session.ID, Message: "查询",
		})

		streamCh, err := uc.StreamReply(context.Background(), "user-1", session.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		sawError := false
		for chunk := range streamCh {
			if chunk.Error != "" {
				sawError = true
			}
		}
		if !sawError {
			t.Error("expected an error chunk")
		}
	})
}

func TestExportMessagesFiltersSystem(t *testing.T) {
	uc, _, _ := newChatFixture(&testModelClient{})
	session, _ := uc.CreateSession(context.Background(), "user-1", true)
	_ = uc.SubmitTurn(context.Background(), &domain.TurnRequest{
		UserID: "user-1", SessionID: session.ID, Message: "导出测试",
	})

	exported, err := uc.ExportMessages(context.Background(), "user-1", session.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, msg := range exported {
		if msg.Role == "system" {
			t.Error("system messages must not be exported")
		}
	}
	// Welcome + user message survive
	if len(exported) != 2 {
		t.Errorf("exported %d messages, want 2", len(exported))
	}
}

func TestUpdateSettings(t *testing.T) {
	uc, sessionRepo, _ := newChatFixture(&testModelClient{})
	session, _ := uc.CreateSession(context.Background(), "user-1", false)

	t.Run("valid settings stored", func(t *testing.T) {
		err := uc.UpdateSettings(context.Background(), "user-1", session.ID, entity.SessionSettings{
			Model:        "anthropic/claude-sonnet",
			Temperature:  0.7,
			EnableSearch: false,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := sessionRepo.sessions[session.ID].Settings
		if got.Model != "anthropic/claude-sonnet" || got.Temperature != 0.7 || got.EnableSearch {
			t.Errorf("settings = %+v", got)
		}
	})

	t.Run("empty model falls back to default", func(t *testing.T) {
		err := uc.UpdateSettings(context.Background(), "user-1", session.ID, entity.SessionSettings{Temperature: 0.5})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := sessionRepo.sessions[session.ID].Settings.Model; got != entity.DefaultModel {
			t.Errorf("model = %q, want default", got)
		}
	})

	t.Run("temperature out of range rejected", func(t *testing.T) {
		err := uc.UpdateSettings(context.Background(), "user-1", session.ID, entity.SessionSettings{Temperature: 3.5})
		if !domain.IsInvalidInput(err) {
			t.Errorf("expected invalid-input error, got %v", err)
		}
	})
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"plain", "hello", "hello"},
		{"exactly 30 runes", strings.Repeat("a", 30), strings.Repeat("a", 30)},
		{"31 runes truncated", strings.Repeat("a", 31), strings.Repeat("a", 30) + "..."},
		{"whitespace only falls back", "   ", entity.DefaultTitle},
		{"surrounding space trimmed", "  查询热点  ", "查询热点"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveTitle(tt.message); got != tt.want {
				t.Errorf("deriveTitle(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}
