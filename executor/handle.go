package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hadi77ir/go-mongosh/command"
	"github.com/hadi77ir/go-mongosh/stream"
)

// Handle is the caller's view of an executing command. The implementations
// are *OneShot and *Stream; callers type switch to tell them apart.
type Handle interface {
	// Command returns the command as it was executed, with its database
	// resolved
	Command() command.Command

	// Next blocks until the next result. It returns command.ErrNoMoreResults
	// once nothing is left, a failure exactly once before that, or ctx's
	// error when ctx ends first, in which case the handle is unaffected.
	Next(ctx context.Context) (*command.Result, error)

	// Cancel stops the command and returns once its resources are released
	Cancel() error

	// Done is closed once the command is terminal
	Done() <-chan struct{}

	// Outcome summarizes how the command ended
	Outcome() stream.Outcome

	isHandle()
}

// OneShot resolves once to a single result or a failure
type OneShot struct {
	cmd    command.Command
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	result      *command.Result
	outcome     stream.Outcome
	delivered   bool
	errReported bool
}

func newOneShot(cmd command.Command, cancel context.CancelFunc) *OneShot {
	if cancel == nil {
		cancel = func() {}
	}
	return &OneShot{cmd: cmd, cancel: cancel, done: make(chan struct{})}
}

// resolve records the result of the command. Context errors resolve the
// handle as cancelled.
func (h *OneShot) resolve(result *command.Result, err error) {
	h.mu.Lock()
	switch {
	case err == nil:
		h.result = result
		h.outcome = stream.Outcome{State: stream.StateExhausted, Reason: stream.ReasonUpstreamEnded, Delivered: 1}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		h.outcome = stream.Outcome{State: stream.StateCancelled, Reason: stream.ReasonCancelled}
	default:
		h.outcome = stream.Outcome{State: stream.StateFailed, Err: err}
	}
	h.mu.Unlock()
	h.cancel()
	close(h.done)
}

func (h *OneShot) Command() command.Command { return h.cmd }

func (h *OneShot) Next(ctx context.Context) (*command.Result, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outcome.State == stream.StateFailed && !h.errReported {
		h.errReported = true
		return nil, h.outcome.Err
	}
	if h.result != nil && !h.delivered {
		h.delivered = true
		return h.result, nil
	}
	return nil, command.ErrNoMoreResults
}

// Cancel aborts a command still in flight. A resolved command keeps its
// result.
func (h *OneShot) Cancel() error {
	h.cancel()
	<-h.done
	return nil
}

func (h *OneShot) Done() <-chan struct{} { return h.done }

func (h *OneShot) Outcome() stream.Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

func (*OneShot) isHandle() {}

// Stream delivers the documents of a cursor or the events of a change
// stream one result at a time
type Stream struct {
	cmd     command.Command
	ctrl    *stream.Controller
	started time.Time
}

func (h *Stream) Command() command.Command { return h.cmd }

func (h *Stream) Next(ctx context.Context) (*command.Result, error) {
	ev, err := h.ctrl.Next(ctx)
	if err != nil {
		return nil, err
	}
	return &command.Result{
		Documents: []bson.Raw{ev.Document},
		Sequence:  ev.Sequence,
		Elapsed:   time.Since(h.started),
	}, nil
}

// Cancel stops the stream and returns the error of closing its cursor
func (h *Stream) Cancel() error { return h.ctrl.Cancel() }

func (h *Stream) Done() <-chan struct{} { return h.ctrl.Done() }

func (h *Stream) Outcome() stream.Outcome { return h.ctrl.Outcome() }

// Checkpoint returns the resume checkpoint of a finished watch stream, or
// an empty string
func (h *Stream) Checkpoint() string { return h.ctrl.Outcome().Checkpoint }

func (*Stream) isHandle() {}
