package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/network/standard"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/optimiscs/ZhimoWanxiang/internal/cli/types"
)

// APIClient wraps a Hertz client for the session management surface of
// the API. Streaming turns go through the stream package instead.
type APIClient struct {
	client *client.Client
	server string
	token  string
}

// NewAPIClient creates a new API client
func NewAPIClient(server, token string) (*APIClient, error) {
	normalizedServer, err := normalizeServerURL(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	c, err := client.NewClient(
		client.WithDialTimeout(10*time.Second),
		client.WithMaxIdleConnDuration(60*time.Second),
		client.WithDialer(standard.NewDialer()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &APIClient{
		client: c,
		server: normalizedServer,
		token:  token,
	}, nil
}

// Server returns the normalized server base URL.
func (c *APIClient) Server() string {
	return c.server
}

// normalizeServerURL normalizes server URL to ensure it has a scheme and no trailing slash
func normalizeServerURL(server string) (string, error) {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}

	u, err := url.Parse(server)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid server URL")
	}

	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

// Login performs user login
func (c *APIClient) Login(ctx context.Context, username, password string) (*types.APIResponse[types.LoginData], error) {
	reqBody := types.LoginRequest{
		Username: username,
		Password: password,
	}
	bodyBytes, err := sonic.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
	}()

	req.SetMethod(consts.MethodPost)
	req.SetRequestURI(c.server + endpointLogin)
	req.Header.SetContentTypeBytes([]byte("application/json"))
	req.SetBody(bodyBytes)

	if err := c.client.Do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("login failed with HTTP status: %d", resp.StatusCode())
	}

	var loginResp types.APIResponse[types.LoginData]
	if err := sonic.Unmarshal(resp.Body(), &loginResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &loginResp, nil
}

// Register creates a new user account
func (c *APIClient) Register(ctx context.Context, username, password string) error {
	reqBody := types.RegisterRequest{
		Username: username,
		Password: password,
	}
	bodyBytes, err := sonic.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
	}()

	req.SetMethod(consts.MethodPost)
	req.SetRequestURI(c.server + endpointRegister)
	req.Header.SetContentTypeBytes([]byte("application/json"))
	req.SetBody(bodyBytes)

	if err := c.client.Do(ctx, req, resp); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("registration failed: %s", extractAPIError(resp.Body(), statusCode))
	}

	return nil
}

// ListSessions lists the user's chat sessions, newest first
func (c *APIClient) ListSessions(ctx context.Context) ([]types.ChatSession, error) {
	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
	}()

	req.SetMethod(consts.MethodGet)
	req.SetRequestURI(c.server + endpointSessions)
	req.Header.Set("Authorization", "Bearer "+c.token)

	if err := c.client.Do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("failed to list sessions (HTTP %d)", resp.StatusCode())
	}

	var listResp types.APIResponse[types.SessionList]
	if err := sonic.Unmarshal(resp.Body(), &listResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return listResp.Data.Sessions, nil
}

// CreateSession creates a new chat session
func (c *APIClient) CreateSession(ctx context.Context, initialize bool) (*types.ChatSession, error) {
	bodyBytes, err := sonic.Marshal(types.CreateSessionRequest{
		InitializeConversation: initialize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
	}()

	req.SetMethod(consts.MethodPost)
	req.SetRequestURI(c.server + endpointSessions)
	req.Header.SetContentTypeBytes([]byte("application/json"))
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.SetBody(bodyBytes)

	if err := c.client.Do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("failed to create session: %s", extractAPIError(resp.Body(), statusCode))
	}

	var createResp types.APIResponse[types.ChatSession]
	if err := sonic.Unmarshal(resp.Body(), &createResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &createResp.Data, nil
}

// GetSession fetches one session
func (c *APIClient) GetSession(ctx context.Context, sessionID string) (*types.ChatSession, error) {
	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
	}()

	req.SetMethod(consts.MethodGet)
	req.SetRequestURI(fmt.Sprintf("%s"+endpointSessionByID, c.server, sessionID))
	req.Header.Set("Authorization", "Bearer "+c.token)

	if err := c.client.Do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("failed to get session: %s", extractAPIError(resp.Body(), statusCode))
	}

	var getResp types.APIResponse[types.ChatSession]
	if err := sonic.Unmarshal(resp.Body(), &getResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &getResp.Data, nil
}

// DeleteSession removes a session and its history
func (c *APIClient) DeleteSession(ctx context.Context, sessionID string) error {
	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
	}()

	req.SetMethod(consts.MethodDelete)
	req.SetRequestURI(fmt.Sprintf("%s"+endpointSessionByID, c.server, sessionID))
	req.Header.Set("Authorization", "Bearer "+c.token)

	if err := c.client.Do(ctx, req, resp); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("delete failed: %s", extractAPIError(resp.Body(), statusCode))
	}

	return nil
}

// ListMessages fetches a session's message history, oldest first
func (c *APIClient) ListMessages(ctx context.Context, sessionID string) ([]types.ChatMessage, error) {
	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
	}()

	req.SetMethod(consts.MethodGet)
	req.SetRequestURI(fmt.Sprintf("%s"+endpointSessionMessages, c.server, sessionID))
	req.Header.Set("Authorization", "Bearer "+c.token)

	if err := c.client.Do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("failed to list messages: %s", extractAPIError(resp.Body(), statusCode))
	}

	var listResp types.APIResponse[types.MessageList]
	if err := sonic.Unmarshal(resp.Body(), &listResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return listResp.Data.Messages, nil
}

// RenameSession changes a session title
func (c *APIClient) RenameSession(ctx context.Context, sessionID, title string) error {
	bodyBytes, err := sonic.Marshal(map[string]string{"title": title})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
	}()

	req.SetMethod(consts.MethodPut)
	req.SetRequestURI(fmt.Sprintf("%s"+endpointSessionTitle, c.server, sessionID))
	req.Header.SetContentTypeBytes([]byte("application/json"))
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.SetBody(bodyBytes)

	if err := c.client.Do(ctx, req, resp); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("rename failed: %s", extractAPIError(resp.Body(), statusCode))
	}

	return nil
}

// ExportChat downloads a session transcript. The body is returned
// verbatim so the caller can write it straight to disk.
func (c *APIClient) ExportChat(ctx context.Context, sessionID string) ([]byte, error) {
	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
	}()

	req.SetMethod(consts.MethodGet)
	req.SetRequestURI(fmt.Sprintf("%s"+endpointExportChat, c.server, sessionID))
	req.Header.Set("Authorization", "Bearer "+c.token)

	if err := c.client.Do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("export failed: %s", extractAPIError(resp.Body(), statusCode))
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}

// extractAPIError pulls the error field out of the envelope, falling
// back to the HTTP status.
func extractAPIError(body []byte, statusCode int) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := sonic.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	return fmt.Sprintf("HTTP %d", statusCode)
}
