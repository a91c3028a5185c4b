package stream

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/optimiscs/ZhimoWanxiang/pkg/sse"
)

// ThinkingStatus is the transient status a thinking event carries.
type ThinkingStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Update is one incremental reply fragment.
type Update struct {
	Content string
}

// Result is the complete reply of a finished turn.
type Result struct {
	Content string
}

// Callbacks receive the turn's lifecycle. Any callback may be nil.
// OnUpdate fires once per fragment in receipt order; OnSuccess carries
// the concatenation of all fragments. Exactly one of OnSuccess and
// OnError fires per turn.
type Callbacks struct {
	OnStart    func()
	OnThinking func(ThinkingStatus)
	OnUpdate   func(Update)
	OnWarning  func(string)
	OnSuccess  func(Result)
	OnError    func(error)
}

type state int

const (
	stateIdle state = iota
	stateStarted
	stateStreaming
	stateDone
	stateFailed
)

func (s state) terminal() bool { return s == stateDone || s == stateFailed }

// dispatcher routes named SSE events to callbacks and owns the
// accumulated reply text of one turn. All transitions, including the
// transport-level ones, go through a single transition method so that
// terminal idempotence holds mechanically: once Done or Failed is
// reached every further input is dropped.
type dispatcher struct {
	state     state
	acc       strings.Builder
	fragments int
	cb        Callbacks
	logger    *slog.Logger
}

func newDispatcher(cb Callbacks, logger *slog.Logger) *dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &dispatcher{cb: cb, logger: logger}
}

// input is one dispatcher stimulus: either a parsed SSE event or a
// transport-level signal (stream closed, caller cancelled).
type input struct {
	event     *sse.Event
	closed    bool  // underlying stream ended
	closeErr  error // non-nil when it ended abnormally
	cancelled bool
	failErr   error // transport-level failure to surface as-is
}

// dispatch is the single transition method. It returns true once the
// turn has reached a terminal state.
func (d *dispatcher) dispatch(in input) bool {
	if d.state.terminal() {
		// Late events after done/error/cancel are dropped
		return true
	}

	switch {
	case in.failErr != nil:
		return d.fail(in.failErr)

	case in.cancelled:
		return d.fail(ErrCancelled)

	case in.closed:
		return d.streamClosed(in.closeErr)

	case in.event != nil:
		return d.handleEvent(in.event)
	}

	return false
}

func (d *dispatcher) handleEvent(ev *sse.Event) bool {
	switch ev.Name {
	case "start":
		if d.state == stateIdle {
			d.state = stateStarted
		}
		if d.cb.OnStart != nil {
			d.cb.OnStart()
		}

	case "ready":
		// Connection acknowledged, nothing to surface

	case "thinking":
		d.state = stateStreaming
		var status ThinkingStatus
		if err := sonic.Unmarshal([]byte(ev.Data), &status); err != nil {
			d.logger.Warn("malformed thinking payload", "data", ev.Data, "error", err)
			return false
		}
		if d.cb.OnThinking != nil {
			d.cb.OnThinking(status)
		}

	case "warning":
		// Non-fatal, the stream continues
		d.state = stateStreaming
		d.logger.Warn("server warning", "data", ev.Data)
		if d.cb.OnWarning != nil {
			d.cb.OnWarning(ev.Data)
		}

	case "error":
		return d.fail(errors.New(parseErrorPayload(ev.Data)))

	case "done":
		return d.succeed()

	case "":
		// Default event: one reply fragment, appended in receipt order
		d.state = stateStreaming
		d.acc.WriteString(ev.Data)
		d.fragments++
		if d.cb.OnUpdate != nil {
			d.cb.OnUpdate(Update{Content: ev.Data})
		}

	default:
		d.logger.Debug("unknown stream event ignored", "event", ev.Name)
	}

	return false
}

// streamClosed handles the transport-level end of the stream. A stream
// that dies before delivering any fragment is a hard failure; after the
// first fragment the reply is treated as complete.
func (d *dispatcher) streamClosed(cause error) bool {
	if d.fragments == 0 {
		if cause != nil {
			d.logger.Warn("stream closed before any fragment", "error", cause)
		}
		return d.fail(ErrConnection)
	}
	return d.succeed()
}

func (d *dispatcher) succeed() bool {
	d.state = stateDone
	if d.cb.OnSuccess != nil {
		d.cb.OnSuccess(Result{Content: d.acc.String()})
	}
	return true
}

func (d *dispatcher) fail(err error) bool {
	d.state = stateFailed
	if d.cb.OnError != nil {
		d.cb.OnError(err)
	}
	return true
}

// parseErrorPayload extracts the error field of a structured error
// event, degrading to a generic message on malformed payloads.
func parseErrorPayload(data string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := sonic.Unmarshal([]byte(data), &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if s := strings.TrimSpace(data); s != "" && !strings.HasPrefix(s, "{") {
		return s
	}
	return "stream error"
}
