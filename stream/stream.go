package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hadi77ir/go-mongosh/command"
	"github.com/hadi77ir/go-mongosh/connection"
	"github.com/hadi77ir/go-mongosh/internal/checkpoint"
)

// Opener opens the upstream cursor of a stream
type Opener func(ctx context.Context) (connection.Cursor, error)

// Options configures a Controller
type Options struct {
	// Limit is the number of events to deliver; 0 is unbounded
	Limit int64

	// Watch marks change stream subscriptions, whose events carry resume
	// tokens and whose outcome carries a checkpoint
	Watch bool

	// Namespace is recorded in logs and checkpoints
	Namespace string

	Logger zerolog.Logger
}

// Event is one delivered document
type Event struct {
	Document bson.Raw
	// Sequence is the 1-based delivery position
	Sequence int64
}

// Controller drives one upstream cursor through the stream life cycle. A
// single pump goroutine reads batches and hands events to Next over an
// unbuffered channel, so events arrive in upstream order.
type Controller struct {
	opener Opener
	opts   Options
	logger zerolog.Logger

	mu          sync.Mutex
	started     bool
	outcome     Outcome
	lastToken   bson.Raw
	errReported bool
	fetchCancel context.CancelFunc

	events     chan Event
	token      chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

// New creates a controller in the Idle state
func New(opener Opener, opts Options) *Controller {
	return &Controller{
		opener: opener,
		opts:   opts,
		logger: opts.Logger.With().Str("ns", opts.Namespace).Logger(),
		events: make(chan Event),
		token:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run opens the upstream and delivers events until the stream terminates. It
// blocks until then and is meant to run on its own goroutine. Cancelling ctx
// cancels the stream. Run returns immediately when the stream already ran or
// was terminated before starting.
func (c *Controller) Run(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	fetchCtx, cancel := context.WithCancel(ctx)
	c.fetchCancel = cancel
	c.mu.Unlock()
	defer cancel()

	if c.cancelled() {
		c.finish(nil, StateCancelled, ReasonCancelled, nil)
		return
	}
	if c.opts.Watch {
		c.logger.Info().Int64("limit", c.opts.Limit).Msg("watch started")
	}

	cur, err := c.opener(fetchCtx)
	if err != nil {
		c.fail(fetchCtx, nil, err)
		return
	}
	c.transition(StateSubscribed)
	c.pump(fetchCtx, cur)
}

func (c *Controller) pump(ctx context.Context, cur connection.Cursor) {
	first := true
	for {
		batch, err := cur.NextBatch(ctx)
		switch {
		case errors.Is(err, io.EOF):
			c.finish(cur, StateExhausted, ReasonUpstreamEnded, nil)
			return
		case err != nil:
			c.fail(ctx, cur, err)
			return
		}
		if first {
			c.transition(StateDelivering)
			first = false
		}

		for i, doc := range batch {
			select {
			case <-c.token:
				c.addUndelivered(len(batch) - i)
				c.finish(cur, StateCancelled, ReasonCancelled, nil)
				return
			default:
			}

			seq := c.delivered() + 1
			select {
			case c.events <- Event{Document: doc, Sequence: seq}:
				c.markDelivered(doc)
			case <-c.token:
				c.addUndelivered(len(batch) - i)
				c.finish(cur, StateCancelled, ReasonCancelled, nil)
				return
			case <-ctx.Done():
				c.addUndelivered(len(batch) - i)
				c.finish(cur, StateCancelled, ReasonCancelled, nil)
				return
			}

			if c.opts.Limit > 0 && seq >= c.opts.Limit {
				c.finish(cur, StateExhausted, ReasonLimitReached, nil)
				return
			}
		}
	}
}

// fail terminates the stream after an upstream error. Errors caused by
// cancellation end the stream as cancelled instead.
func (c *Controller) fail(ctx context.Context, cur connection.Cursor, err error) {
	if c.cancelled() || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		c.finish(cur, StateCancelled, ReasonCancelled, nil)
		return
	}
	c.finish(cur, StateFailed, ReasonNone, err)
}

func (c *Controller) cancelled() bool {
	select {
	case <-c.token:
		return true
	default:
		return false
	}
}

func (c *Controller) transition(state State) {
	c.mu.Lock()
	c.outcome.State = state
	c.mu.Unlock()
	c.logger.Debug().Stringer("state", state).Msg("stream transition")
}

func (c *Controller) delivered() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome.Delivered
}

func (c *Controller) markDelivered(doc bson.Raw) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcome.Delivered++
	if c.opts.Watch {
		if id, ok := doc.Lookup("_id").DocumentOK(); ok {
			c.lastToken = id
		}
	}
}

func (c *Controller) addUndelivered(n int) {
	c.mu.Lock()
	c.outcome.Undelivered += int64(n)
	c.mu.Unlock()
}

// finish records the terminal outcome, closes the cursor and releases
// waiting callers
func (c *Controller) finish(cur connection.Cursor, state State, reason Reason, err error) {
	var closeErr error
	if cur != nil {
		closeErr = cur.Close(context.Background())
	}

	c.mu.Lock()
	c.outcome.State = state
	c.outcome.Reason = reason
	c.outcome.Err = err
	c.outcome.CloseErr = closeErr
	if c.opts.Watch && c.lastToken != nil {
		cp, encErr := checkpoint.Encode(&checkpoint.Checkpoint{
			ResumeToken: c.lastToken,
			Delivered:   c.outcome.Delivered,
			Namespace:   c.opts.Namespace,
		})
		if encErr == nil {
			c.outcome.Checkpoint = cp
		}
	}
	outcome := c.outcome
	c.mu.Unlock()

	event := c.logger.Debug()
	if state == StateFailed {
		event = c.logger.Warn().Err(err)
	} else if c.opts.Watch {
		event = c.logger.Info()
	}
	event.Stringer("state", state).
		Stringer("reason", reason).
		Int64("delivered", outcome.Delivered).
		Int64("undelivered", outcome.Undelivered).
		Msg("stream finished")

	close(c.events)
	close(c.done)
}

// Next blocks until the next event. At the end it returns
// command.ErrNoMoreResults; a failed stream returns its error once first.
// When ctx ends first, Next returns its error and the stream is unaffected.
func (c *Controller) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-c.events:
		if ok {
			return ev, nil
		}
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome.State == StateFailed && !c.errReported {
		c.errReported = true
		return Event{}, c.outcome.Err
	}
	return Event{}, command.ErrNoMoreResults
}

// Cancel stops the stream and returns once the upstream cursor is closed,
// with the error of that close
func (c *Controller) Cancel() error {
	c.cancelOnce.Do(func() {
		close(c.token)
		c.mu.Lock()
		if c.fetchCancel != nil {
			c.fetchCancel()
		}
		c.mu.Unlock()
	})
	if c.claim() {
		c.finish(nil, StateCancelled, ReasonCancelled, nil)
	}
	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome.CloseErr
}

// Abort fails a stream that never started, such as one whose pump could not
// be scheduled. It has no effect on a started stream.
func (c *Controller) Abort(err error) {
	if c.claim() {
		c.finish(nil, StateFailed, ReasonNone, err)
	}
}

// claim marks the stream as started and reports whether it had not been
func (c *Controller) claim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return false
	}
	c.started = true
	return true
}

// Done is closed once the stream is terminal
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Outcome returns a snapshot of the stream's outcome
func (c *Controller) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome.State
}
