// Package llm talks to an OpenAI-compatible chat completion endpoint
// and converts its stream into domain chunks.
package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	hzclient "github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/network/standard"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/optimiscs/ZhimoWanxiang/internal/config"
	"github.com/optimiscs/ZhimoWanxiang/internal/domain"
	"github.com/optimiscs/ZhimoWanxiang/internal/domain/entity"
	"github.com/optimiscs/ZhimoWanxiang/pkg/sse"
)

// client implements domain.ModelClient.
type client struct {
	httpClient *hzclient.Client
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewClient creates the model provider client.
func NewClient(cfg config.ModelConfig, logger *slog.Logger) (domain.ModelClient, error) {
	// The standard dialer is required for response body streaming,
	// netpoll does not support it
	c, err := hzclient.NewClient(
		hzclient.WithDialTimeout(10*time.Second),
		hzclient.WithMaxIdleConnDuration(60*time.Second),
		hzclient.WithResponseBodyStream(true),
		hzclient.WithDialer(standard.NewDialer()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &client{
		httpClient: c,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.DefaultModel,
		timeout:    cfg.Timeout,
		logger:     logger,
	}, nil
}

// Wire types for the chat/completions endpoint.
type completionRequest struct {
	Model       string              `json:"model"`
	Messages    []completionMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	Stream      bool                `json:"stream"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StreamCompletion sends the conversation and returns a channel of chunks.
func (c *client) StreamCompletion(ctx context.Context, messages []*entity.ChatMessage, settings entity.SessionSettings) (<-chan entity.StreamChunk, error) {
	model := settings.Model
	if model == "" {
		model = c.model
	}

	wireMessages := make([]completionMessage, 0, len(messages))
	for _, m := range messages {
		wireMessages = append(wireMessages, completionMessage{Role: m.Role, Content: m.Content})
	}

	body, err := sonic.Marshal(completionRequest{
		Model:       model,
		Messages:    wireMessages,
		Temperature: settings.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()

	req.SetMethod(consts.MethodPost)
	req.SetRequestURI(c.baseURL + "/chat/completions")
	req.Header.SetContentTypeBytes([]byte("application/json"))
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")
	req.SetBody(body)

	if err := c.httpClient.Do(ctx, req, resp); err != nil {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
		return nil, fmt.Errorf("model request failed: %w", err)
	}

	if resp.StatusCode() != 200 {
		statusCode := resp.StatusCode()
		respBody := resp.Body()
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
		return nil, fmt.Errorf("model request failed with HTTP status %d: %s", statusCode, string(respBody))
	}

	out := make(chan entity.StreamChunk, 100)

	go func() {
		defer func() {
			close(out)
			protocol.ReleaseRequest(req)
			protocol.ReleaseResponse(resp)
		}()

		// Progress updates before the first content token
		if settings.EnableSearch {
			out <- entity.StreamChunk{Thinking: &entity.ThinkingStatus{
				Status:  "searching",
				Message: "正在检索相关舆情信息",
			}}
		}
		out <- entity.StreamChunk{Thinking: &entity.ThinkingStatus{
			Status:  "analyzing",
			Message: "正在分析",
		}}

		bodyStream := resp.BodyStream()
		if bodyStream == nil {
			out <- entity.StreamChunk{IsEnd: true, Error: "model response body stream is nil"}
			return
		}

		c.relayStream(ctx, bodyStream, out)
	}()

	return out, nil
}

// relayStream converts the provider event stream into domain chunks.
func (c *client) relayStream(ctx context.Context, body io.Reader, out chan<- entity.StreamChunk) {
	reader := sse.NewReader(body)
	for {
		if ctx.Err() != nil {
			out <- entity.StreamChunk{IsEnd: true, Error: "cancelled"}
			return
		}

		ev, err := reader.Next()
		if err == io.EOF {
			out <- entity.StreamChunk{IsEnd: true}
			return
		}
		if err != nil {
			c.logger.Error("model stream read failed", "error", err)
			out <- entity.StreamChunk{IsEnd: true, Error: "model stream interrupted"}
			return
		}

		if ev.Data == "[DONE]" {
			out <- entity.StreamChunk{IsEnd: true}
			return
		}

		var chunk completionChunk
		if err := sonic.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			c.logger.Warn("skipping unparseable model chunk", "error", err)
			continue
		}

		if chunk.Error != nil {
			out <- entity.StreamChunk{IsEnd: true, Error: chunk.Error.Message}
			return
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				out <- entity.StreamChunk{Text: choice.Delta.Content}
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				out <- entity.StreamChunk{IsEnd: true}
				return
			}
		}
	}
}
