package stream

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/optimiscs/ZhimoWanxiang/pkg/sse"
)

// recorder captures every callback invocation.
type recorder struct {
	mu        sync.Mutex
	starts    int
	thinking  []ThinkingStatus
	updates   []string
	warnings  []string
	successes []string
	errs      []error
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStart: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.starts++
		},
		OnThinking: func(s ThinkingStatus) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.thinking = append(r.thinking, s)
		},
		OnUpdate: func(u Update) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.updates = append(r.updates, u.Content)
		},
		OnWarning: func(w string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.warnings = append(r.warnings, w)
		},
		OnSuccess: func(res Result) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.successes = append(r.successes, res.Content)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		starts:    r.starts,
		thinking:  append([]ThinkingStatus(nil), r.thinking...),
		updates:   append([]string(nil), r.updates...),
		warnings:  append([]string(nil), r.warnings...),
		successes: append([]string(nil), r.successes...),
		errs:      append([]error(nil), r.errs...),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func event(name, data string) input {
	return input{event: &sse.Event{Name: name, Data: data}}
}

func TestDispatcherHappyPath(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher(rec.callbacks(), testLogger())

	inputs := []input{
		event("start", ""),
		event("ready", ""),
		event("thinking", `{"status":"searching","message":"查询中"}`),
		event("", "第一"),
		event("", "第二"),
		event("done", "[DONE]"),
	}
	for i, in := range inputs {
		terminal := d.dispatch(in)
		wantTerminal := i == len(inputs)-1
		if terminal != wantTerminal {
			t.Fatalf("input %d: terminal = %v, want %v", i, terminal, wantTerminal)
		}
	}

	if rec.starts != 1 {
		t.Errorf("starts = %d, want 1", rec.starts)
	}
	if len(rec.thinking) != 1 || rec.thinking[0].Status != "searching" {
		t.Errorf("thinking = %+v", rec.thinking)
	}
	if len(rec.updates) != 2 || rec.updates[0] != "第一" || rec.updates[1] != "第二" {
		t.Errorf("updates = %v", rec.updates)
	}
	if len(rec.successes) != 1 || rec.successes[0] != "第一第二" {
		t.Errorf("successes = %v, want accumulated text", rec.successes)
	}
	if len(rec.errs) != 0 {
		t.Errorf("unexpected errors: %v", rec.errs)
	}
}

func TestDispatcherErrorEvent(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher(rec.callbacks(), testLogger())

	d.dispatch(event("", "partial "))
	d.dispatch(event("", "text"))
	if !d.dispatch(event("error", `{"error":"model overloaded"}`)) {
		t.Fatal("error event must be terminal")
	}

	if len(rec.updates) != 2 {
		t.Errorf("updates = %v, want 2 fragments", rec.updates)
	}
	if len(rec.errs) != 1 || rec.errs[0].Error() != "model overloaded" {
		t.Errorf("errs = %v, want model overloaded", rec.errs)
	}
	if len(rec.successes) != 0 {
		t.Errorf("success must not fire after error: %v", rec.successes)
	}
}

func TestDispatcherTerminalIdempotence(t *testing.T) {
	t.Run("double done", func(t *testing.T) {
		rec := &recorder{}
		d := newDispatcher(rec.callbacks(), testLogger())

		d.dispatch(event("", "x"))
		d.dispatch(event("done", ""))
		d.dispatch(event("done", ""))

		if len(rec.successes) != 1 {
			t.Errorf("successes = %d, want exactly 1", len(rec.successes))
		}
	})

	t.Run("error then done", func(t *testing.T) {
		rec := &recorder{}
		d := newDispatcher(rec.callbacks(), testLogger())

		d.dispatch(event("error", `{"error":"boom"}`))
		d.dispatch(event("done", ""))
		d.dispatch(event("", "late fragment"))

		if len(rec.errs) != 1 {
			t.Errorf("errs = %v, want exactly 1", rec.errs)
		}
		if len(rec.successes) != 0 {
			t.Errorf("successes after failure: %v", rec.successes)
		}
		if len(rec.updates) != 0 {
			t.Errorf("fragment processed after terminal state: %v", rec.updates)
		}
	})

	t.Run("cancel after done is dropped", func(t *testing.T) {
		rec := &recorder{}
		d := newDispatcher(rec.callbacks(), testLogger())

		d.dispatch(event("", "x"))
		d.dispatch(event("done", ""))
		d.dispatch(input{cancelled: true})

		if len(rec.errs) != 0 {
			t.Errorf("cancel after done must be ignored: %v", rec.errs)
		}
	})
}

func TestDispatcherStreamClosed(t *testing.T) {
	t.Run("before any fragment is a connection failure", func(t *testing.T) {
		rec := &recorder{}
		d := newDispatcher(rec.callbacks(), testLogger())

		d.dispatch(event("start", ""))
		d.dispatch(input{closed: true, closeErr: io.ErrUnexpectedEOF})

		if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrConnection) {
			t.Errorf("errs = %v, want ErrConnection", rec.errs)
		}
	})

	t.Run("after fragments completes the turn", func(t *testing.T) {
		rec := &recorder{}
		d := newDispatcher(rec.callbacks(), testLogger())

		d.dispatch(event("", "hello "))
		d.dispatch(event("", "world"))
		d.dispatch(input{closed: true})

		if len(rec.successes) != 1 || rec.successes[0] != "hello world" {
			t.Errorf("successes = %v", rec.successes)
		}
		if len(rec.errs) != 0 {
			t.Errorf("unexpected errors: %v", rec.errs)
		}
	})
}

func TestDispatcherWarning(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher(rec.callbacks(), testLogger())

	d.dispatch(event("", "reply"))
	if d.dispatch(event("warning", "failed to save message")) {
		t.Fatal("warning must not be terminal")
	}
	d.dispatch(event("", " tail"))
	d.dispatch(event("done", ""))

	if len(rec.warnings) != 1 || rec.warnings[0] != "failed to save message" {
		t.Errorf("warnings = %v", rec.warnings)
	}
	if len(rec.successes) != 1 || rec.successes[0] != "reply tail" {
		t.Errorf("successes = %v", rec.successes)
	}
}

func TestDispatcherMalformedPayloads(t *testing.T) {
	t.Run("thinking parse failure is skipped", func(t *testing.T) {
		rec := &recorder{}
		d := newDispatcher(rec.callbacks(), testLogger())

		d.dispatch(event("thinking", "{not json"))
		d.dispatch(event("", "ok"))
		d.dispatch(event("done", ""))

		if len(rec.thinking) != 0 {
			t.Errorf("thinking = %v, want none", rec.thinking)
		}
		if len(rec.successes) != 1 {
			t.Errorf("turn must still complete: %v", rec.successes)
		}
	})

	t.Run("error parse failure substitutes a generic message", func(t *testing.T) {
		rec := &recorder{}
		d := newDispatcher(rec.callbacks(), testLogger())

		d.dispatch(event("error", "{broken"))

		if len(rec.errs) != 1 || rec.errs[0].Error() != "stream error" {
			t.Errorf("errs = %v, want generic stream error", rec.errs)
		}
	})

	t.Run("plain text error payload is surfaced", func(t *testing.T) {
		rec := &recorder{}
		d := newDispatcher(rec.callbacks(), testLogger())

		d.dispatch(event("error", "backend unavailable"))

		if len(rec.errs) != 1 || rec.errs[0].Error() != "backend unavailable" {
			t.Errorf("errs = %v", rec.errs)
		}
	})
}

func TestDispatcherThinkingNotAccumulated(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher(rec.callbacks(), testLogger())

	d.dispatch(event("thinking", `{"status":"searching","message":"a"}`))
	d.dispatch(event("", "one"))
	d.dispatch(event("thinking", `{"status":"analyzing","message":"b"}`))
	d.dispatch(event("", "two"))
	d.dispatch(event("done", ""))

	if len(rec.thinking) != 2 || rec.thinking[0].Status != "searching" || rec.thinking[1].Status != "analyzing" {
		t.Errorf("thinking = %+v", rec.thinking)
	}
	if rec.successes[0] != "onetwo" {
		t.Errorf("accumulated = %q, thinking payloads must not leak in", rec.successes[0])
	}
}

func TestDispatcherNilCallbacks(t *testing.T) {
	d := newDispatcher(Callbacks{}, testLogger())

	// Every path must tolerate absent callbacks
	d.dispatch(event("start", ""))
	d.dispatch(event("thinking", `{"status":"s","message":"m"}`))
	d.dispatch(event("", "x"))
	d.dispatch(event("warning", "w"))
	if !d.dispatch(event("done", "")) {
		t.Fatal("done must be terminal")
	}
}
