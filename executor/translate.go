package executor

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hadi77ir/go-mongosh/command"
	"github.com/hadi77ir/go-mongosh/connection"
	"github.com/hadi77ir/go-mongosh/internal/checkpoint"
)

// Server command documents are always built from copies: Document.BSON
// returns fresh values, so the parsed command is never modified.

// appendOptions appends the elements of opts that are not already in doc
func appendOptions(doc bson.D, opts *command.Document, skip ...string) bson.D {
	for _, e := range opts.Elements() {
		if hasKey(doc, e.Key) || contains(skip, e.Key) {
			continue
		}
		doc = append(doc, bson.E{Key: e.Key, Value: e.Value.BSON()})
	}
	return doc
}

// pickOptions returns the elements of opts named in keys, in opts order
func pickOptions(opts *command.Document, keys ...string) bson.D {
	out := bson.D{}
	for _, e := range opts.Elements() {
		if contains(keys, e.Key) {
			out = append(out, bson.E{Key: e.Key, Value: e.Value.BSON()})
		}
	}
	return out
}

func hasKey(doc bson.D, key string) bool {
	for _, e := range doc {
		if e.Key == key {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func findCommand(c command.Find, limit int64, batchSize int32) bson.D {
	doc := bson.D{
		{Key: "find", Value: c.Namespace.Collection},
		{Key: "filter", Value: c.Filter.BSON()},
	}
	if c.Projection != nil {
		doc = append(doc, bson.E{Key: "projection", Value: c.Projection.BSON()})
	}
	if c.Sort != nil {
		doc = append(doc, bson.E{Key: "sort", Value: c.Sort.BSON()})
	}
	if c.Skip > 0 {
		doc = append(doc, bson.E{Key: "skip", Value: c.Skip})
	}
	if c.One {
		doc = append(doc, bson.E{Key: "limit", Value: int64(1)}, bson.E{Key: "singleBatch", Value: true})
	} else {
		if limit > 0 {
			doc = append(doc, bson.E{Key: "limit", Value: limit})
		}
		if batchSize > 0 {
			doc = append(doc, bson.E{Key: "batchSize", Value: batchSize})
		}
	}
	return appendOptions(doc, c.Options)
}

func aggregateCommand(c command.Aggregate, limit int64, batchSize int32) bson.D {
	pipeline := command.PipelineBSON(c.Pipeline)
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	var target interface{} = c.Namespace.Collection
	if c.Namespace.Collection == "" {
		target = int32(1)
	}
	cursor := bson.D{}
	if batchSize > 0 {
		cursor = append(cursor, bson.E{Key: "batchSize", Value: batchSize})
	}
	doc := bson.D{
		{Key: "aggregate", Value: target},
		{Key: "pipeline", Value: pipeline},
		{Key: "cursor", Value: cursor},
	}
	return appendOptions(doc, c.Options)
}

// insertCommand assigns an ObjectID to documents without _id and returns the
// ids in document order
func insertCommand(c command.Insert) (bson.D, []interface{}) {
	docs := make(bson.A, 0, len(c.Documents))
	ids := make([]interface{}, 0, len(c.Documents))
	for _, d := range c.Documents {
		doc := d.BSON()
		if v, ok := d.Get("_id"); ok {
			ids = append(ids, v.BSON())
		} else {
			id := primitive.NewObjectID()
			doc = append(bson.D{{Key: "_id", Value: id}}, doc...)
			ids = append(ids, id)
		}
		docs = append(docs, doc)
	}
	cmd := bson.D{
		{Key: "insert", Value: c.Namespace.Collection},
		{Key: "documents", Value: docs},
	}
	return appendOptions(cmd, c.Options), ids
}

// statement options are set per update or delete statement; the rest apply
// to the whole command
var (
	updateStatementOptions = []string{"upsert", "arrayFilters", "collation", "hint"}
	deleteStatementOptions = []string{"collation", "hint"}
)

func updateCommand(c command.Update) bson.D {
	stmt := bson.D{
		{Key: "q", Value: c.Filter.BSON()},
		{Key: "u", Value: c.Update.BSON()},
		{Key: "multi", Value: c.Mode == command.UpdateMany},
	}
	stmt = append(stmt, pickOptions(c.Options, updateStatementOptions...)...)
	doc := bson.D{
		{Key: "update", Value: c.Namespace.Collection},
		{Key: "updates", Value: bson.A{stmt}},
	}
	return appendOptions(doc, c.Options, updateStatementOptions...)
}

func deleteCommand(c command.Delete) bson.D {
	limit := int32(1)
	if c.Mode == command.DeleteMany {
		limit = 0
	}
	stmt := bson.D{
		{Key: "q", Value: c.Filter.BSON()},
		{Key: "limit", Value: limit},
	}
	stmt = append(stmt, pickOptions(c.Options, deleteStatementOptions...)...)
	doc := bson.D{
		{Key: "delete", Value: c.Namespace.Collection},
		{Key: "deletes", Value: bson.A{stmt}},
	}
	return appendOptions(doc, c.Options, deleteStatementOptions...)
}

// findAndModifyCommand serves the findOneAnd* family. update is nil for
// findOneAndDelete.
func findAndModifyCommand(ns command.Namespace, filter *command.Document, update *command.Value, opts *command.Document) bson.D {
	doc := bson.D{
		{Key: "findAndModify", Value: ns.Collection},
		{Key: "query", Value: filter.BSON()},
	}
	if update == nil {
		doc = append(doc, bson.E{Key: "remove", Value: true})
	} else {
		doc = append(doc, bson.E{Key: "update", Value: update.BSON()})
		after := false
		if v, ok := opts.Get("returnDocument"); ok {
			s, _ := v.AsString()
			after = s == "after"
		}
		doc = append(doc, bson.E{Key: "new", Value: after})
	}
	if v, ok := opts.Get("projection"); ok {
		doc = append(doc, bson.E{Key: "fields", Value: v.BSON()})
	}
	return appendOptions(doc, opts, "returnDocument", "projection")
}

func countDocumentsCommand(c command.Count) bson.D {
	pipeline := bson.A{bson.D{{Key: "$match", Value: c.Filter.BSON()}}}
	if v, ok := c.Options.Get("skip"); ok {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: v.BSON()}})
	}
	if v, ok := c.Options.Get("limit"); ok {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: v.BSON()}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: int32(1)},
		{Key: "n", Value: bson.D{{Key: "$sum", Value: int32(1)}}},
	}}})
	doc := bson.D{
		{Key: "aggregate", Value: c.Namespace.Collection},
		{Key: "pipeline", Value: pipeline},
		{Key: "cursor", Value: bson.D{}},
	}
	return appendOptions(doc, c.Options, "skip", "limit")
}

func countCommand(c command.Count) bson.D {
	doc := bson.D{{Key: "count", Value: c.Namespace.Collection}}
	if c.Mode == command.CountLegacy && c.Filter != nil {
		doc = append(doc, bson.E{Key: "query", Value: c.Filter.BSON()})
	}
	return appendOptions(doc, c.Options)
}

func distinctCommand(c command.Distinct) bson.D {
	doc := bson.D{
		{Key: "distinct", Value: c.Namespace.Collection},
		{Key: "key", Value: c.Key},
		{Key: "query", Value: c.Filter.BSON()},
	}
	return appendOptions(doc, c.Options)
}

func renameCommand(c command.RenameCollection) bson.D {
	return bson.D{
		{Key: "renameCollection", Value: c.Namespace.Database + "." + c.Namespace.Collection},
		{Key: "to", Value: c.Namespace.Database + "." + c.To},
		{Key: "dropTarget", Value: c.DropTarget},
	}
}

func statsCommand(c command.CollStats) bson.D {
	var doc bson.D
	if c.Namespace.Collection == "" {
		doc = bson.D{{Key: "dbStats", Value: int32(1)}}
	} else {
		doc = bson.D{{Key: "collStats", Value: c.Namespace.Collection}}
	}
	if c.Scale > 0 {
		doc = append(doc, bson.E{Key: "scale", Value: c.Scale})
	}
	return doc
}

func createIndexesCommand(c command.CreateIndex) bson.D {
	indexes := make(bson.A, 0, len(c.Indexes))
	for _, m := range c.Indexes {
		spec := bson.D{{Key: "key", Value: m.Keys.BSON()}}
		if v, ok := m.Options.Get("name"); ok {
			spec = append(spec, bson.E{Key: "name", Value: v.BSON()})
		} else {
			spec = append(spec, bson.E{Key: "name", Value: IndexName(m.Keys)})
		}
		spec = appendOptions(spec, m.Options)
		indexes = append(indexes, spec)
	}
	doc := bson.D{
		{Key: "createIndexes", Value: c.Namespace.Collection},
		{Key: "indexes", Value: indexes},
	}
	if !c.CommitQuorum.IsNull() {
		doc = append(doc, bson.E{Key: "commitQuorum", Value: c.CommitQuorum.BSON()})
	}
	return doc
}

// IndexName returns the name the server gives an index with these keys:
// each field and its direction or type joined by underscores
func IndexName(keys *command.Document) string {
	parts := make([]string, 0, 2*keys.Len())
	for _, e := range keys.Elements() {
		parts = append(parts, e.Key, fmt.Sprint(e.Value.BSON()))
	}
	return strings.Join(parts, "_")
}

func dropIndexesCommand(c command.DropIndex) bson.D {
	return bson.D{
		{Key: "dropIndexes", Value: c.Namespace.Collection},
		{Key: "index", Value: c.Index.BSON()},
	}
}

// hideIndexCommand hides or unhides an index through collMod
func hideIndexCommand(c command.HideIndex) bson.D {
	index := bson.D{}
	if name, ok := c.Index.AsString(); ok {
		index = append(index, bson.E{Key: "name", Value: name})
	} else {
		index = append(index, bson.E{Key: "keyPattern", Value: c.Index.BSON()})
	}
	index = append(index, bson.E{Key: "hidden", Value: c.Hidden})
	return bson.D{
		{Key: "collMod", Value: c.Namespace.Collection},
		{Key: "index", Value: index},
	}
}

// watchOptions converts the options of a watch command. Resume points may
// be given as a token document or as a checkpoint string.
func watchOptions(c command.Watch, batchSize int32) (connection.WatchOptions, error) {
	opts := connection.WatchOptions{
		FullDocument: c.FullDocument,
		BatchSize:    batchSize,
	}
	for _, e := range c.Options.Elements() {
		switch e.Key {
		case "fullDocumentBeforeChange":
			opts.FullDocumentBeforeChange, _ = e.Value.AsString()
		case "resumeAfter", "startAfter":
			token, err := resumeToken(e.Value)
			if err != nil {
				return opts, command.NewExecutionError("watch "+e.Key, err)
			}
			if e.Key == "resumeAfter" {
				opts.ResumeAfter = token
			} else {
				opts.StartAfter = token
			}
		case "startAtOperationTime":
			if ts, ok := e.Value.AsTimestamp(); ok {
				opts.StartAtOperationTime = &ts
			}
		case "maxAwaitTimeMS":
			if ms, ok := e.Value.AsInt(); ok {
				opts.MaxAwaitTime = time.Duration(ms) * time.Millisecond
			}
		case "showExpandedEvents":
			opts.ShowExpandedEvents, _ = e.Value.AsBool()
		}
	}
	return opts, nil
}

func resumeToken(v command.Value) (bson.Raw, error) {
	if s, ok := v.AsString(); ok {
		cp, err := checkpoint.Decode(s)
		if err != nil {
			return nil, err
		}
		return cp.Token(), nil
	}
	d, ok := v.AsDocument()
	if !ok {
		return nil, fmt.Errorf("%w: resume point must be a document or a checkpoint", command.ErrInvalidArgument)
	}
	return bson.Marshal(d.BSON())
}

// addMember appends a member to a replica set configuration with the next
// free _id and an incremented version
func addMember(config bson.D, member bson.D, arbiter bool) (bson.D, error) {
	members, err := configMembers(config)
	if err != nil {
		return nil, err
	}
	host := lookupString(member, "host")
	next := int64(0)
	for _, m := range members {
		if lookupString(m, "host") == host {
			return nil, fmt.Errorf("%w: %s is already a member", command.ErrInvalidArgument, host)
		}
		if id := lookupInt(m, "_id"); id >= next {
			next = id + 1
		}
	}

	entry := bson.D{}
	if !hasKey(member, "_id") {
		entry = append(entry, bson.E{Key: "_id", Value: int32(next)})
	}
	entry = append(entry, member...)
	if arbiter && !hasKey(member, "arbiterOnly") {
		entry = append(entry, bson.E{Key: "arbiterOnly", Value: true})
	}

	list := make(bson.A, 0, len(members)+1)
	for _, m := range members {
		list = append(list, m)
	}
	list = append(list, entry)
	return bumpVersion(setKey(config, "members", list)), nil
}

// removeMember removes the member with the given host and increments the
// version
func removeMember(config bson.D, host string) (bson.D, error) {
	members, err := configMembers(config)
	if err != nil {
		return nil, err
	}
	list := make(bson.A, 0, len(members))
	for _, m := range members {
		if lookupString(m, "host") != host {
			list = append(list, m)
		}
	}
	if len(list) == len(members) {
		return nil, fmt.Errorf("%w: couldn't find %s in the replica set members", command.ErrInvalidArgument, host)
	}
	return bumpVersion(setKey(config, "members", list)), nil
}

func configMembers(config bson.D) ([]bson.D, error) {
	for _, e := range config {
		if e.Key != "members" {
			continue
		}
		arr, ok := e.Value.(bson.A)
		if !ok {
			break
		}
		out := make([]bson.D, 0, len(arr))
		for _, item := range arr {
			m, ok := item.(bson.D)
			if !ok {
				return nil, fmt.Errorf("%w: replica set member is not a document", command.ErrInvalidArgument)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: replica set configuration has no members", command.ErrInvalidArgument)
}

func bumpVersion(config bson.D) bson.D {
	version := int64(0)
	for _, e := range config {
		if e.Key == "version" {
			version = toInt64(e.Value)
		}
	}
	return setKey(config, "version", int32(version+1))
}

// setKey returns a copy of doc with key set to value
func setKey(doc bson.D, key string, value interface{}) bson.D {
	out := make(bson.D, 0, len(doc)+1)
	found := false
	for _, e := range doc {
		if e.Key == key {
			e.Value = value
			found = true
		}
		out = append(out, e)
	}
	if !found {
		out = append(out, bson.E{Key: key, Value: value})
	}
	return out
}

func lookupString(doc bson.D, key string) string {
	for _, e := range doc {
		if e.Key == key {
			s, _ := e.Value.(string)
			return s
		}
	}
	return ""
}

func lookupInt(doc bson.D, key string) int64 {
	for _, e := range doc {
		if e.Key == key {
			return toInt64(e.Value)
		}
	}
	return -1
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	}
	return 0
}
