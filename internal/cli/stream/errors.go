// Package stream runs one conversational turn against a chat session:
// a POST submitting the user message, then an SSE subscription carrying
// the assistant reply, surfaced through typed callbacks.
package stream

import "errors"

var (
	// ErrInvalidSession is returned for a missing or blank session id.
	// No network call is made.
	ErrInvalidSession = errors.New("invalid session")

	// ErrTurnInFlight rejects a second turn for a session whose previous
	// turn has not reached a terminal state.
	ErrTurnInFlight = errors.New("turn already in flight for this session")

	// ErrTimeout fires when the submission phase exceeds its time budget.
	ErrTimeout = errors.New("request timeout")

	// ErrCancelled reports a caller-cancelled turn.
	ErrCancelled = errors.New("cancelled")

	// ErrConnection reports a stream that failed to establish or died
	// before any reply fragment arrived.
	ErrConnection = errors.New("unable to establish stream connection")
)
