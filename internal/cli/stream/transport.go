package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/common/config"
	hzerrors "github.com/cloudwego/hertz/pkg/common/errors"
	"github.com/cloudwego/hertz/pkg/network/standard"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/optimiscs/ZhimoWanxiang/pkg/sse"
)

const sessionStreamPath = "/api/v1/chat/sessions/%s/stream"

// defaultSubmitTimeout bounds the submission POST. It does not bound an
// established, actively streaming connection; a slow but live stream is
// allowed to run under the caller's context.
const defaultSubmitTimeout = 120 * time.Second

// TurnRequest is one user turn. Images, when present, must already be
// base64 data URIs.
type TurnRequest struct {
	Message string   `json:"message"`
	Images  []string `json:"images,omitempty"`
	Model   string   `json:"model,omitempty"`
}

// Transport runs chat turns: a POST submitting the user message, then
// an SSE subscription delivering the reply. One stream connection is
// open per turn and is closed on every terminal path.
type Transport struct {
	client        *client.Client
	server        string
	token         string
	submitTimeout time.Duration
	logger        *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewTransport creates a streaming transport against the given server.
func NewTransport(server, token string, logger *slog.Logger) (*Transport, error) {
	normalized, err := normalizeServerURL(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	// netpoll does not handle streaming bodies, use the standard dialer
	c, err := client.NewClient(
		client.WithDialTimeout(10*time.Second),
		client.WithMaxIdleConnDuration(60*time.Second),
		client.WithResponseBodyStream(true),
		client.WithDialer(standard.NewDialer()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &Transport{
		client:        c,
		server:        normalized,
		token:         token,
		submitTimeout: defaultSubmitTimeout,
		logger:        logger,
		inflight:      make(map[string]struct{}),
	}, nil
}

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

// StreamChat runs one conversational turn against sessionID and blocks
// until the turn reaches a terminal state. The outcome is delivered
// through cb, never a return value: exactly one of OnSuccess and
// OnError fires. A blank session id fails synchronously with
// ErrInvalidSession before any network call, and a session with a turn
// already in flight is rejected with ErrTurnInFlight. Cancelling ctx
// closes the stream and reports ErrCancelled once.
func (t *Transport) StreamChat(ctx context.Context, sessionID string, req *TurnRequest, cb Callbacks) {
	d := newDispatcher(cb, t.logger)

	if strings.TrimSpace(sessionID) == "" {
		d.dispatch(input{failErr: ErrInvalidSession})
		return
	}

	if !t.acquire(sessionID) {
		d.dispatch(input{failErr: ErrTurnInFlight})
		return
	}
	defer t.release(sessionID)

	if !t.submitTurn(ctx, d, sessionID, req) {
		return
	}

	t.streamReply(ctx, d, sessionID)
}

// submitTurn POSTs the user message. It reports false after dispatching
// a failure; true means the reply stream may be opened.
func (t *Transport) submitTurn(ctx context.Context, d *dispatcher, sessionID string, req *TurnRequest) bool {
	if req == nil {
		req = &TurnRequest{}
	}

	body, err := sonic.Marshal(req)
	if err != nil {
		d.dispatch(input{failErr: fmt.Errorf("failed to marshal request: %w", err)})
		return false
	}

	postCtx, cancel := context.WithTimeout(ctx, t.submitTimeout)
	defer cancel()

	hreq := protocol.AcquireRequest()
	hresp := protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(hreq)
		protocol.ReleaseResponse(hresp)
	}()

	hreq.SetMethod(consts.MethodPost)
	hreq.SetOptions(config.WithRequestTimeout(t.submitTimeout))
	hreq.SetRequestURI(t.server + fmt.Sprintf(sessionStreamPath, sessionID))
	hreq.Header.SetContentTypeBytes([]byte("application/json"))
	hreq.Header.Set("Authorization", "Bearer "+t.token)
	// Redundant with the path, sent for older proxies that strip it
	hreq.Header.Set("X-Session-ID", sessionID)
	hreq.SetBody(body)

	if err := t.client.Do(postCtx, hreq, hresp); err != nil {
		switch {
		case ctx.Err() != nil:
			d.dispatch(input{cancelled: true})
		case postCtx.Err() == context.DeadlineExceeded || errors.Is(err, hzerrors.ErrTimeout):
			d.dispatch(input{failErr: ErrTimeout})
		default:
			d.dispatch(input{failErr: fmt.Errorf("submission failed: %w", err)})
		}
		return false
	}

	if sc := hresp.StatusCode(); sc < 200 || sc >= 300 {
		d.dispatch(input{failErr: fmt.Errorf("%s", parseSubmissionError(hresp.Body()))})
		return false
	}

	return true
}

// streamReply opens the SSE subscription and pumps events into the
// dispatcher until a terminal state.
func (t *Transport) streamReply(ctx context.Context, d *dispatcher, sessionID string) {
	sreq := protocol.AcquireRequest()
	sresp := protocol.AcquireResponse()
	defer func() {
		// Terminal paths all land here, the connection never leaks
		if err := sresp.CloseBodyStream(); err != nil {
			t.logger.Debug("failed to close body stream", "error", err)
		}
		protocol.ReleaseRequest(sreq)
		protocol.ReleaseResponse(sresp)
	}()

	// Cache-busted so no intermediary replays a stale stream
	uri := fmt.Sprintf("%s"+sessionStreamPath+"?_t=%d",
		t.server, sessionID, time.Now().UnixNano())

	sreq.SetMethod(consts.MethodGet)
	sreq.SetRequestURI(uri)
	sreq.Header.Set("Authorization", "Bearer "+t.token)
	sreq.Header.Set("Accept", "text/event-stream")
	sreq.Header.Set("Cache-Control", "no-cache")

	if err := t.client.Do(ctx, sreq, sresp); err != nil {
		if ctx.Err() != nil {
			d.dispatch(input{cancelled: true})
			return
		}
		t.logger.Warn("stream subscription failed", "session_id", sessionID, "error", err)
		d.dispatch(input{failErr: ErrConnection})
		return
	}

	if sresp.StatusCode() != consts.StatusOK {
		t.logger.Warn("stream subscription rejected",
			"session_id", sessionID, "status", sresp.StatusCode())
		d.dispatch(input{failErr: ErrConnection})
		return
	}

	bodyStream := sresp.BodyStream()
	if bodyStream == nil {
		d.dispatch(input{failErr: ErrConnection})
		return
	}

	t.pumpEvents(ctx, d, sresp, bodyStream)
}

type readResult struct {
	ev  *sse.Event
	err error
}

// pumpEvents reads SSE events and feeds the dispatcher, honouring
// cancellation between events.
func (t *Transport) pumpEvents(ctx context.Context, d *dispatcher, sresp *protocol.Response, body io.Reader) {
	reader := sse.NewReader(body)

	done := make(chan struct{})
	defer close(done)

	readCh := make(chan readResult)
	go func() {
		for {
			ev, err := reader.Next()
			select {
			case readCh <- readResult{ev: ev, err: err}:
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			// Unblock the reader before it sees another event
			if err := sresp.CloseBodyStream(); err != nil {
				t.logger.Debug("failed to close body stream", "error", err)
			}
			d.dispatch(input{cancelled: true})
			return

		case r := <-readCh:
			if r.err != nil {
				if r.err == io.EOF {
					d.dispatch(input{closed: true})
				} else {
					d.dispatch(input{closed: true, closeErr: r.err})
				}
				return
			}
			if d.dispatch(input{event: r.ev}) {
				return
			}
		}
	}
}

func (t *Transport) acquire(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[sessionID]; ok {
		return false
	}
	t.inflight[sessionID] = struct{}{}
	return true
}

func (t *Transport) release(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, sessionID)
}

// parseSubmissionError extracts the server's error field, falling back
// to the raw body and then a generic message.
func parseSubmissionError(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := sonic.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return "server error"
}
