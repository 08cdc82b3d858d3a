package memory

import (
	"os"
	"runtime"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	serverVersion  = "7.0.0"
	maxWireVersion = 21
)

func requireAdmin(db, command string) error {
	if db != "admin" {
		return commandError(codeUnauthorized, "%s may only be run against the admin database.", command)
	}
	return nil
}

func cmdPing(c *Connection, db string, cmd bson.D) (bson.D, error) {
	return bson.D{}, nil
}

func cmdHello(c *Connection, db string, cmd bson.D) (bson.D, error) {
	now := primitive.NewDateTimeFromTime(c.now())
	primaryKey := "isWritablePrimary"
	if cmd[0].Key != "hello" {
		primaryKey = "ismaster"
	}
	reply := bson.D{{Key: primaryKey, Value: true}}
	if c.replSet != nil {
		hosts, arbiters := bson.A{}, bson.A{}
		for _, m := range c.members() {
			host, _ := get(m, "host")
			if boolOption(m, "arbiterOnly", false) {
				arbiters = append(arbiters, host)
				continue
			}
			hosts = append(hosts, host)
		}
		version, _ := get(c.replSet, "version")
		reply = append(reply,
			bson.E{Key: "setName", Value: c.opts.ReplicaSetName},
			bson.E{Key: "setVersion", Value: version},
			bson.E{Key: "hosts", Value: hosts},
		)
		if len(arbiters) > 0 {
			reply = append(reply, bson.E{Key: "arbiters", Value: arbiters})
		}
		reply = append(reply,
			bson.E{Key: "primary", Value: c.opts.Host},
			bson.E{Key: "me", Value: c.opts.Host},
			bson.E{Key: "secondary", Value: false},
		)
	}
	return append(reply,
		bson.E{Key: "maxBsonObjectSize", Value: int32(16 * 1024 * 1024)},
		bson.E{Key: "maxMessageSizeBytes", Value: int32(48000000)},
		bson.E{Key: "maxWriteBatchSize", Value: int32(100000)},
		bson.E{Key: "localTime", Value: now},
		bson.E{Key: "logicalSessionTimeoutMinutes", Value: int32(30)},
		bson.E{Key: "connectionId", Value: int32(1)},
		bson.E{Key: "minWireVersion", Value: int32(0)},
		bson.E{Key: "maxWireVersion", Value: int32(maxWireVersion)},
		bson.E{Key: "readOnly", Value: false},
	), nil
}

func cmdBuildInfo(c *Connection, db string, cmd bson.D) (bson.D, error) {
	return bson.D{
		{Key: "version", Value: serverVersion},
		{Key: "gitVersion", Value: "in-memory"},
		{Key: "versionArray", Value: bson.A{int32(7), int32(0), int32(0), int32(0)}},
		{Key: "bits", Value: int32(64)},
		{Key: "debug", Value: false},
		{Key: "maxBsonObjectSize", Value: int32(16 * 1024 * 1024)},
		{Key: "storageEngines", Value: bson.A{"memory"}},
	}, nil
}

func cmdHostInfo(c *Connection, db string, cmd bson.D) (bson.D, error) {
	hostname, _ := os.Hostname()
	return bson.D{
		{Key: "system", Value: bson.D{
			{Key: "currentTime", Value: primitive.NewDateTimeFromTime(c.now())},
			{Key: "hostname", Value: hostname},
			{Key: "cpuAddrSize", Value: int32(64)},
			{Key: "numCores", Value: int32(runtime.NumCPU())},
			{Key: "cpuArch", Value: runtime.GOARCH},
		}},
		{Key: "os", Value: bson.D{{Key: "type", Value: runtime.GOOS}}},
		{Key: "extra", Value: bson.D{}},
	}, nil
}

func cmdServerStatus(c *Connection, db string, cmd bson.D) (bson.D, error) {
	hostname, _ := os.Hostname()
	uptime := c.now().Sub(c.started)
	reply := bson.D{
		{Key: "host", Value: hostname},
		{Key: "version", Value: serverVersion},
		{Key: "process", Value: "mongod"},
		{Key: "pid", Value: int64(os.Getpid())},
		{Key: "uptime", Value: uptime.Seconds()},
		{Key: "uptimeMillis", Value: uptime.Milliseconds()},
		{Key: "localTime", Value: primitive.NewDateTimeFromTime(c.now())},
		{Key: "connections", Value: bson.D{
			{Key: "current", Value: int32(1)},
			{Key: "available", Value: int32(838859)},
		}},
	}
	if c.replSet != nil {
		reply = append(reply, bson.E{Key: "repl", Value: bson.D{
			{Key: "setName", Value: c.opts.ReplicaSetName},
			{Key: "isWritablePrimary", Value: true},
			{Key: "primary", Value: c.opts.Host},
			{Key: "me", Value: c.opts.Host},
		}})
	}
	return reply, nil
}

func cmdListCommands(c *Connection, db string, cmd bson.D) (bson.D, error) {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	commands := make(bson.D, 0, len(names))
	for _, name := range names {
		commands = append(commands, bson.E{Key: name, Value: bson.D{{Key: "help", Value: ""}}})
	}
	return bson.D{{Key: "commands", Value: commands}}, nil
}

func cmdCurrentOp(c *Connection, db string, cmd bson.D) (bson.D, error) {
	if err := requireAdmin(db, "currentOp"); err != nil {
		return nil, err
	}
	return bson.D{{Key: "inprog", Value: bson.A{}}}, nil
}

func cmdKillOp(c *Connection, db string, cmd bson.D) (bson.D, error) {
	if err := requireAdmin(db, "killOp"); err != nil {
		return nil, err
	}
	if _, ok := get(cmd, "op"); !ok {
		return nil, commandError(codeFailedToParse, "Did not provide \"op\" field")
	}
	return bson.D{{Key: "info", Value: "attempting to kill op"}}, nil
}

func cmdListDatabases(c *Connection, db string, cmd bson.D) (bson.D, error) {
	if err := requireAdmin(db, "listDatabases"); err != nil {
		return nil, err
	}
	nameOnly := boolOption(cmd, "nameOnly", false)
	filter, err := docOption(cmd, "filter")
	if err != nil {
		return nil, err
	}
	var (
		dbs   = bson.A{}
		total int64
	)
	for _, name := range c.databaseNames() {
		var size int64
		for _, coll := range c.dbs[name].collections {
			s := coll.stats(1)
			size += s.storageSize + s.indexSize
		}
		doc := bson.D{{Key: "name", Value: name}}
		if !nameOnly {
			doc = append(doc,
				bson.E{Key: "sizeOnDisk", Value: size},
				bson.E{Key: "empty", Value: size == 0},
			)
		}
		ok, err := matches(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			dbs = append(dbs, doc)
			total += size
		}
	}
	reply := bson.D{{Key: "databases", Value: dbs}}
	if !nameOnly {
		reply = append(reply, bson.E{Key: "totalSize", Value: total})
	}
	return reply, nil
}

// requireReplSet checks the preconditions shared by replica set commands
func (c *Connection) requireReplSet(db, command string) error {
	if err := requireAdmin(db, command); err != nil {
		return err
	}
	if c.replSet == nil {
		return commandError(codeNoReplicationEnabled, "not running with --replSet")
	}
	return nil
}

func (c *Connection) members() []bson.D {
	v, _ := get(c.replSet, "members")
	arr, _ := v.(bson.A)
	out := make([]bson.D, 0, len(arr))
	for _, m := range arr {
		if d, ok := m.(bson.D); ok {
			out = append(out, d)
		}
	}
	return out
}

func memberState(m bson.D, self string) (int32, string) {
	host, _ := get(m, "host")
	switch {
	case host == self:
		return 1, "PRIMARY"
	case boolOption(m, "arbiterOnly", false):
		return 7, "ARBITER"
	default:
		return 2, "SECONDARY"
	}
}

func cmdReplSetGetStatus(c *Connection, db string, cmd bson.D) (bson.D, error) {
	if err := c.requireReplSet(db, "replSetGetStatus"); err != nil {
		return nil, err
	}
	now := c.now()
	term, _ := get(c.replSet, "term")
	members := bson.A{}
	for _, m := range c.members() {
		id, _ := get(m, "_id")
		host, _ := get(m, "host")
		state, stateStr := memberState(m, c.opts.Host)
		status := bson.D{
			{Key: "_id", Value: id},
			{Key: "name", Value: host},
			{Key: "health", Value: float64(1)},
			{Key: "state", Value: state},
			{Key: "stateStr", Value: stateStr},
			{Key: "uptime", Value: int64(now.Sub(c.started).Seconds())},
		}
		if host == c.opts.Host {
			status = append(status, bson.E{Key: "self", Value: true})
		}
		members = append(members, status)
	}
	return bson.D{
		{Key: "set", Value: c.opts.ReplicaSetName},
		{Key: "date", Value: primitive.NewDateTimeFromTime(now)},
		{Key: "myState", Value: int32(1)},
		{Key: "term", Value: term},
		{Key: "members", Value: members},
	}, nil
}

func cmdReplSetGetConfig(c *Connection, db string, cmd bson.D) (bson.D, error) {
	if err := c.requireReplSet(db, "replSetGetConfig"); err != nil {
		return nil, err
	}
	return bson.D{{Key: "config", Value: c.replSet}}, nil
}

func cmdReplSetReconfig(c *Connection, db string, cmd bson.D) (bson.D, error) {
	if err := c.requireReplSet(db, "replSetReconfig"); err != nil {
		return nil, err
	}
	config, ok := cmd[0].Value.(bson.D)
	if !ok {
		return nil, commandError(codeTypeMismatch, "replSetReconfig expects a configuration document")
	}
	if id, _ := get(config, "_id"); id != c.opts.ReplicaSetName {
		return nil, commandError(codeInvalidReplicaSetConfig,
			"New and old configurations differ in replica set name; old was %s, and new is %s", c.opts.ReplicaSetName, describe(id))
	}
	oldVersion, _ := get(c.replSet, "version")
	newVersion, _ := get(config, "version")
	oldN, _ := integer(oldVersion)
	newN, ok := integer(newVersion)
	if !ok || newN <= oldN {
		return nil, commandError(codeNewConfigIncompatible,
			"New config version %s must be greater than the current config version %d", describe(newVersion), oldN)
	}

	v, _ := get(config, "members")
	members, ok := v.(bson.A)
	if !ok || len(members) == 0 {
		return nil, commandError(codeInvalidReplicaSetConfig, "replica set configuration must contain at least one member")
	}
	hosts := make(map[string]bool, len(members))
	ids := make(map[string]bool, len(members))
	for _, item := range members {
		m, ok := item.(bson.D)
		if !ok {
			return nil, commandError(codeTypeMismatch, "replica set members must be documents")
		}
		host, _ := get(m, "host")
		h, ok := host.(string)
		if !ok || h == "" {
			return nil, commandError(codeInvalidReplicaSetConfig, "replica set member is missing a host: %s", describe(m))
		}
		id, _ := get(m, "_id")
		if hosts[h] {
			return nil, commandError(codeInvalidReplicaSetConfig, "Found two member configurations with same host field, %s", h)
		}
		if ids[describe(id)] {
			return nil, commandError(codeInvalidReplicaSetConfig, "Found two member configurations with same _id field, %s", describe(id))
		}
		hosts[h], ids[describe(id)] = true, true
	}

	term, _ := get(c.replSet, "term")
	if _, ok := get(config, "term"); !ok {
		config = append(config, bson.E{Key: "term", Value: term})
	}
	c.replSet = config
	return bson.D{}, nil
}

func cmdReplSetInitiate(c *Connection, db string, cmd bson.D) (bson.D, error) {
	if err := c.requireReplSet(db, "replSetInitiate"); err != nil {
		return nil, err
	}
	return nil, commandError(codeAlreadyInitialized, "already initialized")
}

func cmdReplSetStepDown(c *Connection, db string, cmd bson.D) (bson.D, error) {
	if err := c.requireReplSet(db, "replSetStepDown"); err != nil {
		return nil, err
	}
	return nil, commandError(codeExceededTimeLimit, "No electable secondaries caught up as of %s", c.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"))
}

func cmdReplSetFreeze(c *Connection, db string, cmd bson.D) (bson.D, error) {
	if err := c.requireReplSet(db, "replSetFreeze"); err != nil {
		return nil, err
	}
	return nil, commandError(codeNotSecondary, "cannot freeze node when primary or running for election. state: Primary")
}

func cmdReplSetSyncFrom(c *Connection, db string, cmd bson.D) (bson.D, error) {
	if err := c.requireReplSet(db, "replSetSyncFrom"); err != nil {
		return nil, err
	}
	return nil, commandError(codeNotSecondary, "primaries don't sync")
}
