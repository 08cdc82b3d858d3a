package memory

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hadi77ir/go-mongosh/connection"
)

// changeEvent is one entry of the change log. seq is its 1-based position.
type changeEvent struct {
	seq         int64
	op          string
	ns          connection.Namespace
	to          connection.Namespace
	documentKey interface{}
	after       bson.D
	before      bson.D
	description bson.D
	clusterTime primitive.Timestamp
	wallTime    time.Time
}

// record appends an event to the change log and wakes waiting streams.
// The caller holds c.mu.
func (c *Connection) record(ev *changeEvent) {
	ev.seq = int64(len(c.events)) + 1
	ev.wallTime = c.now()
	ev.clusterTime = primitive.Timestamp{T: uint32(ev.wallTime.Unix()), I: uint32(ev.seq)}
	c.events = append(c.events, ev)
	close(c.notify)
	c.notify = make(chan struct{})
}

func resumeToken(seq int64, invalidate bool) bson.D {
	flag := "00"
	if invalidate {
		flag = "01"
	}
	return bson.D{{Key: "_data", Value: fmt.Sprintf("%016X%s", seq, flag)}}
}

// parseResumeToken returns the sequence number and invalidate flag of a
// token issued by resumeToken
func parseResumeToken(raw bson.Raw) (int64, bool, error) {
	data, ok := raw.Lookup("_data").StringValueOK()
	if !ok || len(data) != 18 {
		return 0, false, commandError(codeInvalidResumeToken, "resume token is not a valid in-memory change stream token: %s", raw.String())
	}
	seq, err := strconv.ParseInt(data[:16], 16, 64)
	if err != nil || (data[16:] != "00" && data[16:] != "01") {
		return 0, false, commandError(codeInvalidResumeToken, "resume token is not a valid in-memory change stream token: %s", raw.String())
	}
	return seq, data[16:] == "01", nil
}

func nsDocument(ns connection.Namespace) bson.D {
	d := bson.D{{Key: "db", Value: ns.Database}}
	if ns.Collection != "" {
		d = append(d, bson.E{Key: "coll", Value: ns.Collection})
	}
	return d
}

// document renders the event the way the server delivers it
func (ev *changeEvent) document(opts connection.WatchOptions) bson.D {
	d := bson.D{
		{Key: "_id", Value: resumeToken(ev.seq, false)},
		{Key: "operationType", Value: ev.op},
		{Key: "clusterTime", Value: ev.clusterTime},
		{Key: "wallTime", Value: primitive.NewDateTimeFromTime(ev.wallTime)},
		{Key: "ns", Value: nsDocument(ev.ns)},
	}
	switch ev.op {
	case "insert", "replace":
		d = append(d,
			bson.E{Key: "documentKey", Value: bson.D{{Key: "_id", Value: ev.documentKey}}},
			bson.E{Key: "fullDocument", Value: ev.after},
		)
	case "update":
		d = append(d, bson.E{Key: "documentKey", Value: bson.D{{Key: "_id", Value: ev.documentKey}}})
		if opts.FullDocument != "" && opts.FullDocument != "default" {
			d = append(d, bson.E{Key: "fullDocument", Value: ev.after})
		}
		d = append(d, bson.E{Key: "updateDescription", Value: ev.description})
	case "delete":
		d = append(d, bson.E{Key: "documentKey", Value: bson.D{{Key: "_id", Value: ev.documentKey}}})
	case "rename":
		d = append(d, bson.E{Key: "to", Value: nsDocument(ev.to)})
	}
	if ev.before != nil && (opts.FullDocumentBeforeChange == "whenAvailable" || opts.FullDocumentBeforeChange == "required") {
		d = append(d, bson.E{Key: "fullDocumentBeforeChange", Value: ev.before})
	}
	return d
}

func (ev *changeEvent) invalidation() bson.D {
	return bson.D{
		{Key: "_id", Value: resumeToken(ev.seq, true)},
		{Key: "operationType", Value: "invalidate"},
		{Key: "clusterTime", Value: ev.clusterTime},
		{Key: "wallTime", Value: primitive.NewDateTimeFromTime(ev.wallTime)},
	}
}

var changeStreamStages = map[string]bool{
	"$match":       true,
	"$project":     true,
	"$addFields":   true,
	"$set":         true,
	"$unset":       true,
	"$replaceRoot": true,
	"$replaceWith": true,
}

// changeStream is a cursor over the change log
type changeStream struct {
	conn     *Connection
	ns       connection.Namespace
	pipeline bson.A
	opts     connection.WatchOptions

	// next is the index of the next log entry to examine
	next int
	done bool

	closed    chan struct{}
	closeOnce sync.Once
}

func (c *Connection) openChangeStream(ns connection.Namespace, pipeline bson.A, opts connection.WatchOptions) (*changeStream, error) {
	var stages bson.A
	if len(pipeline) > 0 {
		normalized, err := normalizeDoc(bson.D{{Key: "pipeline", Value: pipeline}})
		if err != nil {
			return nil, fmt.Errorf("encode pipeline: %w", err)
		}
		stages, _ = normalized[0].Value.(bson.A)
	}
	for _, s := range stages {
		stage, ok := s.(bson.D)
		if !ok || len(stage) != 1 {
			return nil, commandError(codeFailedToParse, "A pipeline stage specification object must contain exactly one field.")
		}
		if !changeStreamStages[stage[0].Key] {
			return nil, badValue("%s is not permitted in a $changeStream pipeline", stage[0].Key)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := &changeStream{
		conn:     c,
		ns:       ns,
		pipeline: stages,
		opts:     opts,
		next:     len(c.events),
		closed:   make(chan struct{}),
	}
	switch {
	case opts.ResumeAfter != nil || opts.StartAfter != nil:
		token := opts.ResumeAfter
		if token == nil {
			token = opts.StartAfter
		}
		seq, invalidate, err := parseResumeToken(token)
		if err != nil {
			return nil, err
		}
		if invalidate && opts.ResumeAfter != nil {
			return nil, commandError(codeInvalidResumeToken, "Attempting to resume a change stream using 'resumeAfter' is not allowed from an invalidate notification.")
		}
		if seq < 1 || seq > int64(len(c.events)) {
			return nil, commandError(codeChangeStreamHistoryLost, "cannot resume stream; the resume token was not found. %s", token.String())
		}
		s.next = int(seq)
	case opts.StartAtOperationTime != nil:
		s.next = len(c.events)
		for i, ev := range c.events {
			if primitive.CompareTimestamp(ev.clusterTime, *opts.StartAtOperationTime) >= 0 {
				s.next = i
				break
			}
		}
	}
	return s, nil
}

// visible reports whether the stream's scope includes ev and whether ev
// invalidates the stream
func (s *changeStream) visible(ev *changeEvent) (bool, bool) {
	switch {
	case s.ns.Database == "":
		return true, false
	case s.ns.Collection == "":
		if ev.ns.Database != s.ns.Database {
			return false, false
		}
		return true, ev.op == "dropDatabase"
	}
	if ev.ns != s.ns {
		return false, false
	}
	return true, ev.op == "drop" || ev.op == "rename"
}

// collect gathers the pending events of the stream. The caller holds
// s.conn.mu.
func (s *changeStream) collect() ([]bson.Raw, error) {
	var out []bson.Raw
	limit := int(s.opts.BatchSize)
	for s.next < len(s.conn.events) && !s.done && (limit == 0 || len(out) < limit) {
		ev := s.conn.events[s.next]
		s.next++
		visible, invalidates := s.visible(ev)
		if !visible || (ev.op == "create" && !s.opts.ShowExpandedEvents) {
			continue
		}
		docs, err := runPipeline([]bson.D{ev.document(s.opts)}, s.pipeline)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			raw, err := toRaw(d)
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
		}
		if invalidates {
			raw, err := toRaw(ev.invalidation())
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
			s.done = true
		}
	}
	return out, nil
}

// NextBatch blocks until events are available, the stream is invalidated,
// closed, or ctx is done
func (s *changeStream) NextBatch(ctx context.Context) ([]bson.Raw, error) {
	for {
		select {
		case <-s.closed:
			return nil, connection.ErrClosed
		default:
		}
		if err := s.conn.failure("getMore"); err != nil {
			return nil, err
		}

		s.conn.mu.Lock()
		batch, err := s.collect()
		notify := s.conn.notify
		done := s.done
		s.conn.mu.Unlock()

		if err != nil {
			return nil, err
		}
		if len(batch) > 0 {
			return batch, nil
		}
		if done {
			return nil, io.EOF
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, connection.ErrClosed
		case <-s.conn.done:
			return nil, connection.ErrClosed
		}
	}
}

func (s *changeStream) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
