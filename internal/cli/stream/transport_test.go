package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// sseHandler writes the given frames as one SSE response.
func sseHandler(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
	}
}

// fakeBackend routes POST and GET on the session stream path and counts
// the calls.
type fakeBackend struct {
	post http.HandlerFunc
	get  http.HandlerFunc

	postCount atomic.Int32
	getCount  atomic.Int32

	mu            sync.Mutex
	lastPostBody  string
	lastSessionID string
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		b.postCount.Add(1)
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.lastPostBody = string(body)
		b.lastSessionID = r.Header.Get("X-Session-ID")
		b.mu.Unlock()
		if b.post != nil {
			b.post(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"success":true}`)
	case http.MethodGet:
		b.getCount.Add(1)
		if b.get != nil {
			b.get(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestTransport(t *testing.T, server string) *Transport {
	t.Helper()
	tr, err := NewTransport(server, "test-token", testLogger())
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}
	return tr
}

func TestStreamChatHappyPath(t *testing.T) {
	backend := &fakeBackend{
		get: sseHandler(
			"event: start\n\n",
			"event: ready\n\n",
			"event: thinking\ndata: {\"status\":\"searching\",\"message\":\"正在检索\"}\n\n",
			"data: 舆情",
			"分析：\n\n",
			"data: 热度上升\n\n",
			"event: done\ndata: [DONE]\n\n",
		),
	}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	tr := newTestTransport(t, srv.URL)
	rec := &recorder{}
	tr.StreamChat(context.Background(), "sess-1", &TurnRequest{Message: "最新舆情"}, rec.callbacks())

	if rec.starts != 1 {
		t.Errorf("starts = %d, want 1", rec.starts)
	}
	if len(rec.thinking) != 1 || rec.thinking[0].Status != "searching" {
		t.Errorf("thinking = %+v", rec.thinking)
	}
	if len(rec.updates) != 2 {
		t.Fatalf("updates = %v, want 2 fragments", rec.updates)
	}
	if len(rec.successes) != 1 || rec.successes[0] != strings.Join(rec.updates, "") {
		t.Errorf("success %q must equal concatenated updates %v", rec.successes, rec.updates)
	}
	if len(rec.errs) != 0 {
		t.Errorf("unexpected errors: %v", rec.errs)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.lastSessionID != "sess-1" {
		t.Errorf("X-Session-ID = %q", backend.lastSessionID)
	}
	if !strings.Contains(backend.lastPostBody, `"message":"最新舆情"`) {
		t.Errorf("post body = %q", backend.lastPostBody)
	}
}

func TestStreamChatInvalidSession(t *testing.T) {
	backend := &fakeBackend{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	tr := newTestTransport(t, srv.URL)

	for _, sessionID := range []string{"", "   "} {
		rec := &recorder{}
		tr.StreamChat(context.Background(), sessionID, &TurnRequest{Message: "hi"}, rec.callbacks())

		if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrInvalidSession) {
			t.Errorf("sessionID %q: errs = %v, want ErrInvalidSession", sessionID, rec.errs)
		}
	}

	if n := backend.postCount.Load() + backend.getCount.Load(); n != 0 {
		t.Errorf("network calls = %d, want 0", n)
	}
}

func TestStreamChatSubmissionError(t *testing.T) {
	t.Run("structured error body", func(t *testing.T) {
		backend := &fakeBackend{
			post: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"error":"boom"}`)
			},
		}
		srv := httptest.NewServer(backend)
		defer srv.Close()

		tr := newTestTransport(t, srv.URL)
		rec := &recorder{}
		tr.StreamChat(context.Background(), "sess-1", &TurnRequest{Message: "hi"}, rec.callbacks())

		if len(rec.errs) != 1 || rec.errs[0].Error() != "boom" {
			t.Errorf("errs = %v, want boom", rec.errs)
		}
		if backend.getCount.Load() != 0 {
			t.Error("stream must not be opened after a failed submission")
		}
	})

	t.Run("plain text body", func(t *testing.T) {
		backend := &fakeBackend{
			post: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				fmt.Fprint(w, "upstream offline")
			},
		}
		srv := httptest.NewServer(backend)
		defer srv.Close()

		tr := newTestTransport(t, srv.URL)
		rec := &recorder{}
		tr.StreamChat(context.Background(), "sess-1", &TurnRequest{Message: "hi"}, rec.callbacks())

		if len(rec.errs) != 1 || rec.errs[0].Error() != "upstream offline" {
			t.Errorf("errs = %v", rec.errs)
		}
	})

	t.Run("empty body falls back to generic message", func(t *testing.T) {
		backend := &fakeBackend{
			post: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		}
		srv := httptest.NewServer(backend)
		defer srv.Close()

		tr := newTestTransport(t, srv.URL)
		rec := &recorder{}
		tr.StreamChat(context.Background(), "sess-1", &TurnRequest{Message: "hi"}, rec.callbacks())

		if len(rec.errs) != 1 || rec.errs[0].Error() != "server error" {
			t.Errorf("errs = %v", rec.errs)
		}
	})
}

func TestStreamChatMidStreamError(t *testing.T) {
	backend := &fakeBackend{
		get: sseHandler(
			"data: a\n\n",
			"data: b\n\n",
			"event: error\ndata: {\"error\":\"model overloaded\"}\n\n",
		),
	}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	tr := newTestTransport(t, srv.URL)
	rec := &recorder{}
	tr.StreamChat(context.Background(), "sess-1", &TurnRequest{Message: "hi"}, rec.callbacks())

	if len(rec.updates) != 2 {
		t.Errorf("updates = %v, want 2", rec.updates)
	}
	if len(rec.errs) != 1 || rec.errs[0].Error() != "model overloaded" {
		t.Errorf("errs = %v", rec.errs)
	}
	if len(rec.successes) != 0 {
		t.Errorf("success after error: %v", rec.successes)
	}
}

func TestStreamChatSubmitTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	backend := &fakeBackend{
		post: func(w http.ResponseWriter, r *http.Request) {
			<-release
		},
	}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	tr := newTestTransport(t, srv.URL)
	tr.submitTimeout = 100 * time.Millisecond

	rec := &recorder{}
	tr.StreamChat(context.Background(), "sess-1", &TurnRequest{Message: "hi"}, rec.callbacks())

	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrTimeout) {
		t.Fatalf("errs = %v, want ErrTimeout", rec.errs)
	}
	if backend.getCount.Load() != 0 {
		t.Error("no stream subscription after a timed-out submission")
	}
}

func TestStreamChatSingleFlight(t *testing.T) {
	connected := make(chan struct{})
	release := make(chan struct{})

	backend := &fakeBackend{
		get: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			fmt.Fprint(w, "data: first\n\n")
			flusher.Flush()
			close(connected)
			<-release
			fmt.Fprint(w, "event: done\n\n")
			flusher.Flush()
		},
	}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	tr := newTestTransport(t, srv.URL)

	firstRec := &recorder{}
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		tr.StreamChat(context.Background(), "sess-1", &TurnRequest{Message: "one"}, firstRec.callbacks())
	}()

	<-connected

	// Second turn on the same session is rejected before any network call
	posts := backend.postCount.Load()
	secondRec := &recorder{}
	tr.StreamChat(context.Background(), "sess-1", &TurnRequest{Message: "two"}, secondRec.callbacks())

	if len(secondRec.errs) != 1 || !errors.Is(secondRec.errs[0], ErrTurnInFlight) {
		t.Errorf("second turn errs = %v, want ErrTurnInFlight", secondRec.errs)
	}
	if backend.postCount.Load() != posts {
		t.Error("rejected turn must not reach the network")
	}

	// A different session is unaffected by the lock
	otherRec := &recorder{}
	otherDone := make(chan struct{})
	go func() {
		defer close(otherDone)
		tr.StreamChat(context.Background(), "sess-2", &TurnRequest{Message: "three"}, otherRec.callbacks())
	}()

	close(release)
	<-firstDone
	<-otherDone

	first := firstRec.snapshot()
	if len(first.successes) != 1 || first.successes[0] != "first" {
		t.Errorf("first turn successes = %v", first.successes)
	}

	other := otherRec.snapshot()
	if len(other.errs) != 0 && errors.Is(other.errs[0], ErrTurnInFlight) {
		t.Errorf("different session must not hit the single-flight lock: %v", other.errs)
	}

	// The lock is released after the terminal event
	retryRec := &recorder{}
	backendDoneGet := sseHandler("data: again\n\n", "event: done\n\n")
	backend.get = backendDoneGet
	tr.StreamChat(context.Background(), "sess-1", &TurnRequest{Message: "four"}, retryRec.callbacks())
	if len(retryRec.successes) != 1 {
		t.Errorf("retry after completion failed: %+v", retryRec.errs)
	}
}

func TestStreamChatCancellation(t *testing.T) {
	backend := &fakeBackend{
		get: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			fmt.Fprint(w, "data: partial\n\n")
			flusher.Flush()
			// Hold the stream open until the client goes away
			<-r.Context().Done()
		},
	}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	tr := newTestTransport(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	cb := rec.callbacks()
	baseUpdate := cb.OnUpdate
	cb.OnUpdate = func(u Update) {
		baseUpdate(u)
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.StreamChat(ctx, "sess-1", &TurnRequest{Message: "hi"}, cb)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled turn did not terminate")
	}

	got := rec.snapshot()
	if len(got.errs) != 1 || !errors.Is(got.errs[0], ErrCancelled) {
		t.Fatalf("errs = %v, want ErrCancelled exactly once", got.errs)
	}
	if len(got.successes) != 0 {
		t.Errorf("success after cancellation: %v", got.successes)
	}
}

func TestStreamChatConnectionDrops(t *testing.T) {
	t.Run("before any fragment", func(t *testing.T) {
		backend := &fakeBackend{
			get: sseHandler("event: start\n\n"),
		}
		srv := httptest.NewServer(backend)
		defer srv.Close()

		tr := newTestTransport(t, srv.URL)
		rec := &recorder{}
		tr.StreamChat(context.Background(), "sess-1", &TurnRequest{Message: "hi"}, rec.callbacks())

		if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrConnection) {
			t.Errorf("errs = %v, want ErrConnection", rec.errs)
		}
	})

	t.Run("after fragments completes the turn", func(t *testing.T) {
		backend := &fakeBackend{
			get: sseHandler("data: hello \n\n", "data: world\n\n"),
		}
		srv := httptest.NewServer(backend)
		defer srv.Close()

		tr := newTestTransport(t, srv.URL)
		rec := &recorder{}
		tr.StreamChat(context.Background(), "sess-1", &TurnRequest{Message: "hi"}, rec.callbacks())

		if len(rec.successes) != 1 || rec.successes[0] != "hello world" {
			t.Errorf("successes = %v", rec.successes)
		}
	})
}

func TestStreamChatCacheBust(t *testing.T) {
	var sawCacheBust atomic.Bool
	backend := &fakeBackend{}
	backend.get = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("_t") != "" {
			sawCacheBust.Store(true)
		}
		sseHandler("data: x\n\n", "event: done\n\n")(w, r)
	}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	tr := newTestTransport(t, srv.URL)
	rec := &recorder{}
	tr.StreamChat(context.Background(), "sess-1", &TurnRequest{Message: "hi"}, rec.callbacks())

	if !sawCacheBust.Load() {
		t.Error("stream GET must carry a _t cache buster")
	}
}
