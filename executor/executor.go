package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hadi77ir/go-mongosh/command"
	"github.com/hadi77ir/go-mongosh/connection"
	"github.com/hadi77ir/go-mongosh/stream"
)

// DefaultPoolSize is the worker pool size used when New is given zero
const DefaultPoolSize = 16

// Executor runs commands against a connection on a bounded worker pool
type Executor struct {
	options *command.ExecutorOptions
	logger  zerolog.Logger
	pool    *ants.Pool
}

// New creates an executor with a pool of poolSize workers. Submissions to a
// full pool fail instead of waiting.
func New(opts *command.ExecutorOptions, poolSize int) (*Executor, error) {
	if opts == nil {
		opts = command.DefaultExecutorOptions()
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	logger := opts.Logger
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(true), ants.WithPanicHandler(func(v interface{}) {
		logger.Error().Interface("panic", v).Msg("worker panicked")
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Executor{
		options: opts,
		logger:  opts.Logger,
		pool:    pool,
	}, nil
}

// Close releases the worker pool. Running commands finish first.
func (e *Executor) Close() {
	e.pool.Release()
}

// Execute starts cmd on conn and returns its handle without waiting.
// Cursor commands and change streams return a *Stream, everything else a
// *OneShot. Cancelling ctx cancels the command.
func (e *Executor) Execute(ctx context.Context, cmd command.Command, conn connection.Connection) Handle {
	cmd = command.WithDatabase(cmd, e.options.DefaultDatabase)
	if err := e.validate(cmd); err != nil {
		e.logger.Debug().Err(err).Stringer("verb", cmd.Verb()).Msg("command rejected")
		return e.rejected(cmd, err)
	}

	switch c := cmd.(type) {
	case command.Find:
		if c.One {
			return e.oneShot(ctx, cmd, func(ctx context.Context) (*command.Result, error) {
				return e.findOne(ctx, c, conn)
			})
		}
		limit := e.options.EffectiveLimit(c.Limit)
		doc := findCommand(c, limit, e.options.EffectiveBatchSize(c.BatchSize))
		return e.cursor(ctx, cmd, conn, doc, limit)
	case command.Aggregate:
		limit := e.options.EffectiveLimit(c.Limit)
		doc := aggregateCommand(c, limit, e.options.EffectiveBatchSize(c.BatchSize))
		return e.cursor(ctx, cmd, conn, doc, limit)
	case command.Watch:
		return e.watch(ctx, c, conn)
	}
	return e.oneShot(ctx, cmd, func(ctx context.Context) (*command.Result, error) {
		return e.run(ctx, cmd, conn)
	})
}

func (e *Executor) validate(cmd command.Command) error {
	if !e.options.IsVerbAllowed(cmd.Verb()) {
		return &command.ValidationError{
			Method: cmd.Verb().String(),
			Msg:    "verb is not in the allowed list",
			Err:    command.ErrVerbNotAllowed,
		}
	}
	if cmd.Target().Database == "" {
		return &command.ValidationError{
			Method: cmd.Verb().String(),
			Msg:    "no database selected and no default database configured",
			Err:    command.ErrNoDatabase,
		}
	}
	return nil
}

// rejected returns an already failed handle of the kind cmd would have used
func (e *Executor) rejected(cmd command.Command, err error) Handle {
	if isStreaming(cmd) {
		ctrl := stream.New(nil, stream.Options{Logger: e.logger})
		ctrl.Abort(err)
		return &Stream{cmd: cmd, ctrl: ctrl, started: time.Now()}
	}
	h := newOneShot(cmd, nil)
	h.resolve(nil, err)
	return h
}

func isStreaming(cmd command.Command) bool {
	switch c := cmd.(type) {
	case command.Find:
		return !c.One
	case command.Aggregate, command.Watch:
		return true
	}
	return false
}

// oneShot submits fn to the pool and resolves the handle with its result.
// The handle resolves even when fn panics.
func (e *Executor) oneShot(ctx context.Context, cmd command.Command, fn func(ctx context.Context) (*command.Result, error)) Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := newOneShot(cmd, cancel)
	started := time.Now()
	log := e.logger.With().Stringer("verb", cmd.Verb()).Str("ns", namespace(cmd)).Logger()

	err := e.pool.Submit(func() {
		var (
			result *command.Result
			err    error
		)
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("command panicked")
				result, err = nil, panicError(cmd, r)
			}
			h.resolve(result, err)
		}()

		log.Debug().Msg("command started")
		result, err = fn(runCtx)
		elapsed := time.Since(started)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Dur("elapsed", elapsed).Msg("command failed")
			}
			return
		}
		result.Elapsed = elapsed
		log.Debug().Dur("elapsed", elapsed).Msg("command finished")
	})
	if err != nil {
		log.Warn().Err(err).Msg("command not scheduled")
		h.resolve(nil, command.NewExecutionError("schedule "+cmd.Verb().String(), err))
	}
	return h
}

// startStream runs the controller's pump on a pool worker
func (e *Executor) startStream(ctx context.Context, cmd command.Command, opener stream.Opener, opts stream.Options) Handle {
	opts.Logger = e.logger.With().Stringer("verb", cmd.Verb()).Logger()
	ctrl := stream.New(func(ctx context.Context) (cur connection.Cursor, err error) {
		defer func() {
			if r := recover(); r != nil {
				cur, err = nil, panicError(cmd, r)
			}
		}()
		cur, err = opener(ctx)
		if err != nil {
			return nil, failure(cmd, err)
		}
		return failureCursor{Cursor: cur, cmd: cmd}, nil
	}, opts)
	h := &Stream{cmd: cmd, ctrl: ctrl, started: time.Now()}

	if err := e.pool.Submit(func() { ctrl.Run(ctx) }); err != nil {
		opts.Logger.Warn().Err(err).Msg("stream not scheduled")
		ctrl.Abort(command.NewExecutionError("schedule "+cmd.Verb().String(), err))
	}
	return h
}

func (e *Executor) cursor(ctx context.Context, cmd command.Command, conn connection.Connection, doc bson.D, limit int64) Handle {
	db := cmd.Target().Database
	return e.startStream(ctx, cmd, func(ctx context.Context) (connection.Cursor, error) {
		return conn.OpenCursor(ctx, db, doc)
	}, stream.Options{Limit: limit, Namespace: namespace(cmd)})
}

func (e *Executor) watch(ctx context.Context, c command.Watch, conn connection.Connection) Handle {
	opts, err := watchOptions(c, e.options.EffectiveBatchSize(c.BatchSize))
	if err != nil {
		return e.rejected(c, err)
	}
	ns := connection.Namespace{Database: c.Namespace.Database, Collection: c.Namespace.Collection}
	pipeline := command.PipelineBSON(c.Pipeline)
	return e.startStream(ctx, c, func(ctx context.Context) (connection.Cursor, error) {
		return conn.Watch(ctx, ns, pipeline, opts)
	}, stream.Options{Limit: c.Limit, Watch: true, Namespace: ns.String()})
}

func namespace(cmd command.Command) string {
	ns := cmd.Target()
	return connection.Namespace{Database: ns.Database, Collection: ns.Collection}.String()
}

func (e *Executor) findOne(ctx context.Context, c command.Find, conn connection.Connection) (*command.Result, error) {
	reply, err := conn.RunCommand(ctx, c.Namespace.Database, findCommand(c, 1, 0))
	if err != nil {
		return nil, failure(c, err)
	}
	docs, err := firstBatch(reply)
	if err != nil {
		return nil, command.NewExecutionError("read findOne reply", err)
	}
	return &command.Result{Documents: docs, Reply: reply}, nil
}

// run executes a one-shot command
func (e *Executor) run(ctx context.Context, cmd command.Command, conn connection.Connection) (*command.Result, error) {
	db := cmd.Target().Database
	switch c := cmd.(type) {
	case command.Insert:
		doc, ids := insertCommand(c)
		reply, err := e.write(ctx, cmd, conn, db, doc)
		if err != nil {
			return nil, err
		}
		n := integer(reply.Lookup("n"))
		if n < int64(len(ids)) {
			ids = ids[:n]
		}
		return &command.Result{Reply: reply, Inserted: n, InsertedIDs: ids}, nil

	case command.Update:
		if c.Mode.ReturnsDocument() {
			update := c.Update
			return e.findAndModify(ctx, cmd, conn, findAndModifyCommand(c.Namespace, c.Filter, &update, c.Options))
		}
		reply, err := e.write(ctx, cmd, conn, db, updateCommand(c))
		if err != nil {
			return nil, err
		}
		res := &command.Result{Reply: reply, Modified: integer(reply.Lookup("nModified"))}
		n := integer(reply.Lookup("n"))
		if upserted, ok := reply.Lookup("upserted").ArrayOK(); ok {
			values, _ := upserted.Values()
			res.Upserted = int64(len(values))
			if len(values) > 0 {
				res.UpsertedID = interfaceValue(values[0].Document().Lookup("_id"))
			}
		}
		res.Matched = n - res.Upserted
		return res, nil

	case command.Delete:
		if c.Mode == command.FindOneAndDelete {
			return e.findAndModify(ctx, cmd, conn, findAndModifyCommand(c.Namespace, c.Filter, nil, c.Options))
		}
		reply, err := e.write(ctx, cmd, conn, db, deleteCommand(c))
		if err != nil {
			return nil, err
		}
		return &command.Result{Reply: reply, Deleted: integer(reply.Lookup("n"))}, nil

	case command.Count:
		if c.Mode == command.CountDocuments {
			reply, err := e.command(ctx, cmd, conn, db, countDocumentsCommand(c))
			if err != nil {
				return nil, err
			}
			docs, err := firstBatch(reply)
			if err != nil {
				return nil, command.NewExecutionError("read count reply", err)
			}
			res := &command.Result{Reply: reply}
			if len(docs) > 0 {
				res.Count = integer(docs[0].Lookup("n"))
			}
			return res, nil
		}
		reply, err := e.command(ctx, cmd, conn, db, countCommand(c))
		if err != nil {
			return nil, err
		}
		return &command.Result{Reply: reply, Count: integer(reply.Lookup("n"))}, nil

	case command.Distinct:
		return e.reply(ctx, cmd, conn, db, distinctCommand(c))

	case command.CreateCollection:
		doc := appendOptions(bson.D{{Key: "create", Value: c.Namespace.Collection}}, c.Options)
		return e.reply(ctx, cmd, conn, db, doc)

	case command.DropCollection:
		doc := appendOptions(bson.D{{Key: "drop", Value: c.Namespace.Collection}}, c.Options)
		return e.reply(ctx, cmd, conn, db, doc)

	case command.RenameCollection:
		return e.reply(ctx, cmd, conn, "admin", renameCommand(c))

	case command.CollStats:
		res, err := e.reply(ctx, cmd, conn, db, statsCommand(c))
		if err != nil || c.Field == "" {
			return res, err
		}
		value := res.Reply.Lookup(c.Field)
		doc, err := bson.Marshal(bson.D{{Key: c.Field, Value: value}})
		if err != nil {
			return nil, command.NewExecutionError("encode "+c.Field, err)
		}
		res.Documents = []bson.Raw{doc}
		res.Count = integer(value)
		return res, nil

	case command.CreateIndex:
		return e.reply(ctx, cmd, conn, db, createIndexesCommand(c))

	case command.DropIndex:
		return e.reply(ctx, cmd, conn, db, dropIndexesCommand(c))

	case command.HideIndex:
		return e.reply(ctx, cmd, conn, db, hideIndexCommand(c))

	case command.ListIndexes:
		docs, err := e.drain(ctx, cmd, conn, db, bson.D{{Key: "listIndexes", Value: c.Namespace.Collection}})
		if err != nil {
			return nil, err
		}
		return &command.Result{Documents: docs}, nil

	case command.AdminCommand:
		reply, err := e.command(ctx, cmd, conn, db, c.Document.BSON())
		if err != nil {
			return nil, err
		}
		res := &command.Result{Reply: reply, Documents: []bson.Raw{reply}}
		if docs, err := firstBatch(reply); err == nil && docs != nil {
			res.Documents = docs
		}
		return res, nil

	case command.ReplSetCommand:
		return e.replSet(ctx, c, conn)
	}
	return nil, command.NewExecutionError("execute", fmt.Errorf("%w: unsupported command %T", command.ErrExecutionFailed, cmd))
}

// command runs doc and converts database errors
func (e *Executor) command(ctx context.Context, cmd command.Command, conn connection.Connection, db string, doc bson.D) (bson.Raw, error) {
	reply, err := conn.RunCommand(ctx, db, doc)
	if err != nil {
		return nil, failure(cmd, err)
	}
	return reply, nil
}

// reply runs doc and returns its reply as the single result document
func (e *Executor) reply(ctx context.Context, cmd command.Command, conn connection.Connection, db string, doc bson.D) (*command.Result, error) {
	reply, err := e.command(ctx, cmd, conn, db, doc)
	if err != nil {
		return nil, err
	}
	return &command.Result{Reply: reply, Documents: []bson.Raw{reply}}, nil
}

// write runs a write command and reports write errors as failures
func (e *Executor) write(ctx context.Context, cmd command.Command, conn connection.Connection, db string, doc bson.D) (bson.Raw, error) {
	reply, err := e.command(ctx, cmd, conn, db, doc)
	if err != nil {
		return nil, err
	}
	if err := writeFailure(cmd, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (e *Executor) findAndModify(ctx context.Context, cmd command.Command, conn connection.Connection, doc bson.D) (*command.Result, error) {
	reply, err := e.write(ctx, cmd, conn, cmd.Target().Database, doc)
	if err != nil {
		return nil, err
	}
	res := &command.Result{Reply: reply}
	if value, ok := reply.Lookup("value").DocumentOK(); ok {
		res.Documents = []bson.Raw{value}
	}
	last, _ := reply.Lookup("lastErrorObject").DocumentOK()
	n := integer(last.Lookup("n"))
	if id, err := last.LookupErr("upserted"); err == nil {
		res.Upserted = 1
		res.UpsertedID = interfaceValue(id)
	} else if _, ok := cmd.(command.Delete); ok {
		res.Deleted = n
	} else {
		res.Matched = n
		if updated, ok := last.Lookup("updatedExisting").BooleanOK(); ok && updated {
			res.Modified = n
		}
	}
	return res, nil
}

// drain reads every batch of a cursor command
func (e *Executor) drain(ctx context.Context, cmd command.Command, conn connection.Connection, db string, doc bson.D) ([]bson.Raw, error) {
	cur, err := conn.OpenCursor(ctx, db, doc)
	if err != nil {
		return nil, failure(cmd, err)
	}
	defer cur.Close(context.Background())

	var docs []bson.Raw
	for {
		batch, err := cur.NextBatch(ctx)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, failure(cmd, err)
		}
		docs = append(docs, batch...)
	}
}

// replSet runs an rs.* helper. Adding and removing members reads the current
// configuration and writes it back with the next version.
func (e *Executor) replSet(ctx context.Context, c command.ReplSetCommand, conn connection.Connection) (*command.Result, error) {
	db := c.Namespace.Database
	if c.Action == command.ReplSetRun {
		return e.reply(ctx, c, conn, db, c.Document.BSON())
	}

	reply, err := e.command(ctx, c, conn, "admin", bson.D{{Key: "replSetGetConfig", Value: int32(1)}})
	if err != nil {
		return nil, err
	}
	var current struct {
		Config bson.D `bson:"config"`
	}
	if err := bson.Unmarshal(reply, &current); err != nil {
		return nil, command.NewExecutionError("read replica set configuration", err)
	}

	var config bson.D
	member := c.Document.BSON()
	if c.Action == command.ReplSetAddMember {
		config, err = addMember(current.Config, member, c.Arbiter)
	} else {
		config, err = removeMember(current.Config, lookupString(member, "host"))
	}
	if err != nil {
		return nil, command.NewExecutionError("rs."+c.Helper, err)
	}
	return e.reply(ctx, c, conn, "admin", bson.D{{Key: "replSetReconfig", Value: config}})
}

// firstBatch returns cursor.firstBatch of a reply, or nil when the reply
// has no cursor
func firstBatch(reply bson.Raw) ([]bson.Raw, error) {
	arr, ok := reply.Lookup("cursor", "firstBatch").ArrayOK()
	if !ok {
		return nil, nil
	}
	values, err := arr.Values()
	if err != nil {
		return nil, err
	}
	docs := make([]bson.Raw, 0, len(values))
	for _, v := range values {
		if d, ok := v.DocumentOK(); ok {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

// interfaceValue decodes a raw value into its natural Go representation
func interfaceValue(v bson.RawValue) interface{} {
	var out interface{}
	if err := v.Unmarshal(&out); err != nil {
		return nil
	}
	return out
}
