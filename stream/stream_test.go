package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hadi77ir/go-mongosh/command"
	"github.com/hadi77ir/go-mongosh/connection"
	"github.com/hadi77ir/go-mongosh/connection/memory"
	"github.com/hadi77ir/go-mongosh/internal/checkpoint"
)

// fakeCursor hands out fixed batches, then blocks or ends
type fakeCursor struct {
	mu      sync.Mutex
	batches [][]bson.Raw
	block   bool
	err     error
	closed  bool
	closeFn func() error
}

func (f *fakeCursor) NextBatch(ctx context.Context) ([]bson.Raw, error) {
	f.mu.Lock()
	if len(f.batches) > 0 {
		b := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return b, nil
	}
	block, err := f.block, f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, io.EOF
}

func (f *fakeCursor) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

func (f *fakeCursor) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func docs(t *testing.T, from, n int) []bson.Raw {
	t.Helper()
	out := make([]bson.Raw, 0, n)
	for i := from; i < from+n; i++ {
		raw, err := bson.Marshal(bson.D{{Key: "_id", Value: i}})
		require.NoError(t, err)
		out = append(out, raw)
	}
	return out
}

func open(cur connection.Cursor) Opener {
	return func(ctx context.Context) (connection.Cursor, error) { return cur, nil }
}

func start(c *Controller) {
	go c.Run(context.Background())
}

func collect(t *testing.T, c *Controller) []int32 {
	t.Helper()
	var ids []int32
	for {
		ev, err := c.Next(context.Background())
		if errors.Is(err, command.ErrNoMoreResults) {
			return ids
		}
		require.NoError(t, err)
		ids = append(ids, ev.Document.Lookup("_id").Int32())
	}
}

func TestController_DeliversInOrder(t *testing.T) {
	cur := &fakeCursor{batches: [][]bson.Raw{docs(t, 0, 3), docs(t, 3, 2)}}
	c := New(open(cur), Options{})
	start(c)

	assert.Equal(t, []int32{0, 1, 2, 3, 4}, collect(t, c))
	<-c.Done()

	outcome := c.Outcome()
	assert.Equal(t, StateExhausted, outcome.State)
	assert.Equal(t, ReasonUpstreamEnded, outcome.Reason)
	assert.Equal(t, int64(5), outcome.Delivered)
	assert.True(t, cur.isClosed())
}

func TestController_Limit(t *testing.T) {
	tests := []struct {
		name      string
		batches   [][]bson.Raw
		limit     int64
		want      int
		reason    Reason
		delivered int64
	}{
		{"limit inside first batch", [][]bson.Raw{docs(t, 0, 15)}, 10, 10, ReasonLimitReached, 10},
		{"limit across batches", [][]bson.Raw{docs(t, 0, 2), docs(t, 2, 2)}, 3, 3, ReasonLimitReached, 3},
		{"limit above available", [][]bson.Raw{docs(t, 0, 2)}, 5, 2, ReasonUpstreamEnded, 2},
		{"no limit", [][]bson.Raw{docs(t, 0, 4)}, 0, 4, ReasonUpstreamEnded, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// a blocking upstream proves the limit alone ends the stream
			cur := &fakeCursor{batches: tt.batches, block: tt.reason == ReasonLimitReached}
			c := New(open(cur), Options{Limit: tt.limit})
			start(c)

			assert.Len(t, collect(t, c), tt.want)
			<-c.Done()
			outcome := c.Outcome()
			assert.Equal(t, StateExhausted, outcome.State)
			assert.Equal(t, tt.reason, outcome.Reason)
			assert.Equal(t, tt.delivered, outcome.Delivered)
			assert.Equal(t, int64(0), outcome.Undelivered)
			assert.True(t, cur.isClosed())
		})
	}
}

func TestController_CancelCountsUndelivered(t *testing.T) {
	cur := &fakeCursor{batches: [][]bson.Raw{docs(t, 0, 5)}, block: true}
	c := New(open(cur), Options{})
	start(c)

	for i := 0; i < 2; i++ {
		_, err := c.Next(context.Background())
		require.NoError(t, err)
	}
	require.NoError(t, c.Cancel())

	outcome := c.Outcome()
	assert.Equal(t, StateCancelled, outcome.State)
	assert.Equal(t, ReasonCancelled, outcome.Reason)
	assert.Equal(t, int64(2), outcome.Delivered)
	assert.Equal(t, int64(3), outcome.Undelivered)
	assert.True(t, cur.isClosed())

	_, err := c.Next(context.Background())
	assert.ErrorIs(t, err, command.ErrNoMoreResults)
}

func TestController_CancelRacingDelivery(t *testing.T) {
	const total, before = 8, 3

	for round := 0; round < 200; round++ {
		cur := &fakeCursor{batches: [][]bson.Raw{docs(t, 0, total)}, block: true}
		c := New(open(cur), Options{})
		start(c)

		for i := 0; i < before; i++ {
			_, err := c.Next(context.Background())
			require.NoError(t, err)
		}

		// one reader races the cancel for the next event
		raced := make(chan int, 1)
		go func() {
			n := 0
			for {
				if _, err := c.Next(context.Background()); err != nil {
					raced <- n
					return
				}
				n++
			}
		}()
		require.NoError(t, c.Cancel())

		_, err := c.Next(context.Background())
		require.ErrorIs(t, err, command.ErrNoMoreResults)

		var n int
		select {
		case n = <-raced:
		case <-time.After(5 * time.Second):
			t.Fatal("reader did not end after cancel")
		}

		outcome := c.Outcome()
		require.Equal(t, StateCancelled, outcome.State)
		require.Equal(t, int64(before+n), outcome.Delivered, "round %d", round)
		require.Equal(t, int64(total), outcome.Delivered+outcome.Undelivered, "round %d", round)
		require.True(t, cur.isClosed())
	}
}

func TestController_CancelLetsAtMostOneEventThrough(t *testing.T) {
	for round := 0; round < 200; round++ {
		cur := &fakeCursor{batches: [][]bson.Raw{docs(t, 0, 4)}, block: true}
		c := New(open(cur), Options{})
		start(c)
		require.Eventually(t, func() bool { return c.State() == StateDelivering }, time.Second, time.Microsecond)

		// the pump is parked on the first event; Next and Cancel race for it
		var wg sync.WaitGroup
		wg.Add(1)
		got := 0
		go func() {
			defer wg.Done()
			if _, err := c.Next(context.Background()); err == nil {
				got++
			}
		}()
		require.NoError(t, c.Cancel())
		wg.Wait()

		outcome := c.Outcome()
		require.LessOrEqual(t, got, 1)
		require.Equal(t, int64(got), outcome.Delivered, "round %d", round)
		require.Equal(t, int64(4), outcome.Delivered+outcome.Undelivered, "round %d", round)
	}
}

func TestController_CancelWhileWaiting(t *testing.T) {
	closeErr := errors.New("close failed")
	cur := &fakeCursor{block: true, closeFn: func() error { return closeErr }}
	c := New(open(cur), Options{})
	start(c)

	require.Eventually(t, func() bool { return c.State() == StateSubscribed }, time.Second, time.Millisecond)
	assert.ErrorIs(t, c.Cancel(), closeErr)
	assert.Equal(t, StateCancelled, c.Outcome().State)
	assert.True(t, cur.isClosed())

	// a second cancel is harmless
	assert.ErrorIs(t, c.Cancel(), closeErr)
}

func TestController_CancelBeforeRun(t *testing.T) {
	opened := false
	c := New(func(ctx context.Context) (connection.Cursor, error) {
		opened = true
		return &fakeCursor{}, nil
	}, Options{})

	require.NoError(t, c.Cancel())
	c.Run(context.Background())

	assert.False(t, opened)
	assert.Equal(t, StateCancelled, c.Outcome().State)
}

func TestController_ContextCancelsStream(t *testing.T) {
	cur := &fakeCursor{block: true}
	c := New(open(cur), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	cancel()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("stream did not stop")
	}
	assert.Equal(t, StateCancelled, c.Outcome().State)
}

func TestController_NextHonoursCallerContext(t *testing.T) {
	cur := &fakeCursor{block: true}
	c := New(open(cur), Options{})
	start(c)
	defer c.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, c.State().Terminal())
}

func TestController_Failures(t *testing.T) {
	boom := errors.New("socket closed")

	t.Run("open failure", func(t *testing.T) {
		c := New(func(ctx context.Context) (connection.Cursor, error) { return nil, boom }, Options{})
		start(c)

		_, err := c.Next(context.Background())
		assert.ErrorIs(t, err, boom)
		_, err = c.Next(context.Background())
		assert.ErrorIs(t, err, command.ErrNoMoreResults)
		assert.Equal(t, StateFailed, c.Outcome().State)
	})

	t.Run("read failure after delivery", func(t *testing.T) {
		cur := &fakeCursor{batches: [][]bson.Raw{docs(t, 0, 1)}, err: boom}
		c := New(open(cur), Options{})
		start(c)

		_, err := c.Next(context.Background())
		require.NoError(t, err)
		_, err = c.Next(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.True(t, cur.isClosed())
	})

	t.Run("abort before start", func(t *testing.T) {
		c := New(open(&fakeCursor{}), Options{})
		c.Abort(boom)
		_, err := c.Next(context.Background())
		assert.ErrorIs(t, err, boom)
		c.Run(context.Background())
		assert.Equal(t, StateFailed, c.Outcome().State)
	})
}

func TestController_WatchCheckpoint(t *testing.T) {
	conn := memory.New(nil)
	defer conn.Close(context.Background())
	ns := connection.Namespace{Database: "shop", Collection: "orders"}

	watch := func(opts connection.WatchOptions) Opener {
		return func(ctx context.Context) (connection.Cursor, error) {
			return conn.Watch(ctx, ns, nil, opts)
		}
	}

	c := New(watch(connection.WatchOptions{}), Options{Limit: 3, Watch: true, Namespace: ns.String()})
	start(c)
	require.Eventually(t, func() bool { return c.State() == StateSubscribed }, time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, conn.Load("shop", "orders", bson.D{{Key: "_id", Value: i}}))
	}

	var ids []int32
	for {
		ev, err := c.Next(context.Background())
		if errors.Is(err, command.ErrNoMoreResults) {
			break
		}
		require.NoError(t, err)
		ids = append(ids, ev.Document.Lookup("documentKey", "_id").Int32())
	}
	assert.Equal(t, []int32{0, 1, 2}, ids)

	outcome := c.Outcome()
	assert.Equal(t, ReasonLimitReached, outcome.Reason)
	require.NotEmpty(t, outcome.Checkpoint)

	cp, err := checkpoint.Decode(outcome.Checkpoint)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cp.Delivered)
	assert.Equal(t, "shop.orders", cp.Namespace)

	resumed := New(watch(connection.WatchOptions{ResumeAfter: cp.Token()}), Options{Limit: 2, Watch: true})
	start(resumed)
	ids = nil
	for {
		ev, err := resumed.Next(context.Background())
		if errors.Is(err, command.ErrNoMoreResults) {
			break
		}
		require.NoError(t, err)
		ids = append(ids, ev.Document.Lookup("documentKey", "_id").Int32())
	}
	assert.Equal(t, []int32{3, 4}, ids)
}

func TestState_Strings(t *testing.T) {
	assert.Equal(t, "delivering", StateDelivering.String())
	assert.Equal(t, "limit reached", ReasonLimitReached.String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateSubscribed.Terminal())
}
