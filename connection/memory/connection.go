package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hadi77ir/go-mongosh/connection"
)

// Options configures an in-memory connection
type Options struct {
	// ReplicaSetName names the emulated single node replica set. Empty
	// emulates a standalone server, which has no change streams.
	ReplicaSetName string

	// Host is the member address reported by hello and replica set commands
	Host string

	// Clock returns the current time; defaults to time.Now
	Clock func() time.Time

	// Logger receives a debug event per command
	Logger zerolog.Logger
}

// DefaultOptions returns options for a single node replica set named rs0
func DefaultOptions() *Options {
	return &Options{
		ReplicaSetName: "rs0",
		Host:           "localhost:27017",
		Clock:          time.Now,
		Logger:         zerolog.Nop(),
	}
}

type index struct {
	name    string
	keys    bson.D
	unique  bool
	hidden  bool
	options bson.D
}

type collection struct {
	options bson.D
	docs    []bson.D
	indexes []index
}

func newCollection(options bson.D) *collection {
	return &collection{
		options: options,
		indexes: []index{{name: "_id_", keys: bson.D{{Key: "_id", Value: int32(1)}}, unique: true}},
	}
}

type database struct {
	collections map[string]*collection
}

type handler func(c *Connection, db string, cmd bson.D) (bson.D, error)

// Connection is an in-memory MongoDB emulation implementing
// connection.Connection. Documents live in process memory; writes produce
// change events for Watch.
type Connection struct {
	opts *Options

	mu       sync.Mutex
	dbs      map[string]*database
	events   []*changeEvent
	notify   chan struct{}
	failures map[string]error
	replSet  bson.D
	started  time.Time

	done      chan struct{}
	closeOnce sync.Once
}

var _ connection.Connection = (*Connection)(nil)

// New creates an empty in-memory connection. A nil opts uses DefaultOptions.
func New(opts *Options) *Connection {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Host == "" {
		opts.Host = "localhost:27017"
	}
	c := &Connection{
		opts:     opts,
		dbs:      make(map[string]*database),
		notify:   make(chan struct{}),
		failures: make(map[string]error),
		done:     make(chan struct{}),
	}
	c.started = opts.Clock()
	if opts.ReplicaSetName != "" {
		c.replSet = bson.D{
			{Key: "_id", Value: opts.ReplicaSetName},
			{Key: "version", Value: int32(1)},
			{Key: "term", Value: int32(1)},
			{Key: "members", Value: bson.A{bson.D{
				{Key: "_id", Value: int32(0)},
				{Key: "host", Value: opts.Host},
				{Key: "arbiterOnly", Value: false},
				{Key: "priority", Value: float64(1)},
				{Key: "votes", Value: int32(1)},
			}}},
			{Key: "protocolVersion", Value: int64(1)},
			{Key: "settings", Value: bson.D{}},
		}
	}
	return c
}

var handlers map[string]handler

func init() {
	handlers = map[string]handler{
		"ping":             cmdPing,
		"hello":            cmdHello,
		"isMaster":         cmdHello,
		"ismaster":         cmdHello,
		"buildInfo":        cmdBuildInfo,
		"buildinfo":        cmdBuildInfo,
		"hostInfo":         cmdHostInfo,
		"serverStatus":     cmdServerStatus,
		"listCommands":     cmdListCommands,
		"currentOp":        cmdCurrentOp,
		"killOp":           cmdKillOp,
		"listDatabases":    cmdListDatabases,
		"listCollections":  cmdListCollections,
		"dropDatabase":     cmdDropDatabase,
		"dbStats":          cmdDBStats,
		"collStats":        cmdCollStats,
		"create":           cmdCreate,
		"drop":             cmdDrop,
		"renameCollection": cmdRenameCollection,
		"insert":           cmdInsert,
		"update":           cmdUpdate,
		"delete":           cmdDelete,
		"findAndModify":    cmdFindAndModify,
		"findandmodify":    cmdFindAndModify,
		"find":             cmdFind,
		"aggregate":        cmdAggregate,
		"count":            cmdCount,
		"distinct":         cmdDistinct,
		"createIndexes":    cmdCreateIndexes,
		"dropIndexes":      cmdDropIndexes,
		"listIndexes":      cmdListIndexes,
		"collMod":          cmdCollMod,
		"replSetGetStatus": cmdReplSetGetStatus,
		"replSetGetConfig": cmdReplSetGetConfig,
		"replSetReconfig":  cmdReplSetReconfig,
		"replSetInitiate":  cmdReplSetInitiate,
		"replSetStepDown":  cmdReplSetStepDown,
		"replSetFreeze":    cmdReplSetFreeze,
		"replSetSyncFrom":  cmdReplSetSyncFrom,
	}
}

// Load inserts documents into db.coll, creating the collection when needed.
// Documents may be anything bson.Marshal accepts.
func (c *Connection) Load(db, coll string, docs ...interface{}) error {
	arr := make(bson.A, 0, len(docs))
	for _, d := range docs {
		arr = append(arr, d)
	}
	reply, err := c.RunCommand(context.Background(), db, bson.D{
		{Key: "insert", Value: coll},
		{Key: "documents", Value: arr},
	})
	if err != nil {
		return err
	}
	if werr, ok := reply.Lookup("writeErrors").ArrayOK(); ok {
		return fmt.Errorf("load %s.%s: %s", db, coll, werr.String())
	}
	return nil
}

// FailCommand makes every later run of the named command fail with err until
// it is called again with a nil error. The name "getMore" fails cursor and
// change stream batches after the first, "watch" fails opening change
// streams.
func (c *Connection) FailCommand(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, name)
		return
	}
	c.failures[name] = err
}

func (c *Connection) failure(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[name]
}

// RunCommand runs a command document on db
func (c *Connection) RunCommand(ctx context.Context, db string, cmd bson.D) (bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, connection.ErrClosed
	}
	doc, err := normalizeDoc(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	if len(doc) == 0 {
		return nil, commandError(codeFailedToParse, "Command document is empty")
	}
	name := doc[0].Key
	c.opts.Logger.Debug().Str("db", db).Str("command", name).Msg("memory command")

	if err := c.failure(name); err != nil {
		return nil, err
	}
	h, ok := handlers[name]
	if !ok {
		return nil, commandError(codeCommandNotFound, "no such command: '%s'", name)
	}

	c.mu.Lock()
	reply, err := h(c, db, doc)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	reply = append(reply, bson.E{Key: "ok", Value: float64(1)})
	return toRaw(reply)
}

// OpenCursor runs a cursor producing command and iterates its results in
// batches of the requested size
func (c *Connection) OpenCursor(ctx context.Context, db string, cmd bson.D) (connection.Cursor, error) {
	reply, err := c.RunCommand(ctx, db, cmd)
	if err != nil {
		return nil, err
	}
	batch, ok := reply.Lookup("cursor", "firstBatch").ArrayOK()
	if !ok {
		return nil, commandError(codeFailedToParse, "command %s did not return a cursor", cmd[0].Key)
	}
	values, err := batch.Values()
	if err != nil {
		return nil, err
	}
	docs := make([]bson.Raw, 0, len(values))
	for _, v := range values {
		docs = append(docs, v.Document())
	}

	doc, _ := normalizeDoc(cmd)
	size := intOption(doc, "batchSize")
	if cursorOpts, err := docOption(doc, "cursor"); err == nil && cursorOpts != nil {
		size = intOption(cursorOpts, "batchSize")
	}
	return &sliceCursor{conn: c, docs: docs, batchSize: int(size)}, nil
}

// Watch opens a change stream over the events recorded by later writes
func (c *Connection) Watch(ctx context.Context, ns connection.Namespace, pipeline bson.A, opts connection.WatchOptions) (connection.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, connection.ErrClosed
	}
	if err := c.failure("watch"); err != nil {
		return nil, err
	}
	if c.opts.ReplicaSetName == "" {
		return nil, commandError(codeChangeStreamNotSupported, "The $changeStream stage is only supported on replica sets")
	}
	s, err := c.openChangeStream(ns, pipeline, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the connection and wakes blocked change streams
func (c *Connection) Close(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Connection) now() time.Time {
	return c.opts.Clock()
}

// collection returns db.name, creating it when create is set
func (c *Connection) collection(db, name string, create bool) *collection {
	d, ok := c.dbs[db]
	if !ok {
		if !create {
			return nil
		}
		d = &database{collections: make(map[string]*collection)}
		c.dbs[db] = d
	}
	coll, ok := d.collections[name]
	if !ok && create {
		coll = newCollection(nil)
		d.collections[name] = coll
	}
	return coll
}

func (c *Connection) databaseNames() []string {
	names := make([]string, 0, len(c.dbs))
	for name, d := range c.dbs {
		if len(d.collections) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (d *database) names() []string {
	names := make([]string, 0, len(d.collections))
	for name := range d.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
