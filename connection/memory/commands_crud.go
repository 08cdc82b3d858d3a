package memory

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hadi77ir/go-mongosh/connection"
)

// collectionName returns the collection a command addresses by its first
// field
func collectionName(db string, cmd bson.D) (string, error) {
	name, ok := cmd[0].Value.(string)
	if !ok {
		return "", commandError(codeInvalidNamespace, "collection name has invalid type %s", typeName(cmd[0].Value))
	}
	if name == "" || strings.Contains(name, "$") {
		return "", commandError(codeInvalidNamespace, "Invalid namespace specified '%s.%s'", db, name)
	}
	return name, nil
}

// writeError converts a failed write into a writeErrors entry
func writeError(i int, err error) bson.D {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return bson.D{{Key: "index", Value: int32(i)}, {Key: "code", Value: ce.Code}, {Key: "errmsg", Value: ce.Message}}
	}
	return bson.D{{Key: "index", Value: int32(i)}, {Key: "code", Value: int32(codeBadValue)}, {Key: "errmsg", Value: err.Error()}}
}

// checkUnique reports a duplicate key error when doc collides with another
// document on a unique index. skip is the position of doc itself, or -1.
func (c *collection) checkUnique(db, name string, doc bson.D, skip int) error {
	for _, idx := range c.indexes {
		if !idx.unique {
			continue
		}
		key := indexKey(doc, idx.keys)
		for i, other := range c.docs {
			if i == skip {
				continue
			}
			if equal(indexKey(other, idx.keys), key) {
				return duplicateKey(db, name, idx, key)
			}
		}
	}
	return nil
}

func indexKey(doc bson.D, keys bson.D) bson.D {
	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		v, _ := getPath(doc, k.Key)
		out = append(out, bson.E{Key: k.Key, Value: v})
	}
	return out
}

func duplicateKey(db, name string, idx index, key bson.D) error {
	parts := make([]string, 0, len(key))
	for _, k := range key {
		parts = append(parts, fmt.Sprintf("%s: %s", k.Key, describe(k.Value)))
	}
	return commandError(codeDuplicateKey, "E11000 duplicate key error collection: %s.%s index: %s dup key: { %s }",
		db, name, idx.name, strings.Join(parts, ", "))
}

func cmdInsert(c *Connection, db string, cmd bson.D) (bson.D, error) {
	name, err := collectionName(db, cmd)
	if err != nil {
		return nil, err
	}
	v, _ := get(cmd, "documents")
	docs, ok := v.(bson.A)
	if !ok || len(docs) == 0 {
		return nil, commandError(codeInvalidLength, "Write batch sizes must be between 1 and 100000. Got 0 operations.")
	}
	ordered := boolOption(cmd, "ordered", true)

	coll := c.collection(db, name, true)
	ns := connection.Namespace{Database: db, Collection: name}
	var (
		n    int32
		errs bson.A
	)
	for i, item := range docs {
		doc, ok := item.(bson.D)
		if !ok {
			errs = append(errs, writeError(i, badValue("document to insert must be an object")))
			if ordered {
				break
			}
			continue
		}
		doc = withID(doc)
		if err := coll.checkUnique(db, name, doc, -1); err != nil {
			errs = append(errs, writeError(i, err))
			if ordered {
				break
			}
			continue
		}
		coll.docs = append(coll.docs, doc)
		n++
		c.record(&changeEvent{op: "insert", ns: ns, documentKey: doc[0].Value, after: doc})
	}

	reply := bson.D{{Key: "n", Value: n}}
	if len(errs) > 0 {
		reply = append(reply, bson.E{Key: "writeErrors", Value: errs})
	}
	return reply, nil
}

// updateStatement is one entry of an update command
type updateStatement struct {
	filter bson.D
	update interface{}
	multi  bool
	upsert bool
}

func parseUpdateStatement(v interface{}) (updateStatement, error) {
	stmt, ok := v.(bson.D)
	if !ok {
		return updateStatement{}, badValue("update statement must be an object")
	}
	filter, err := docOption(stmt, "q")
	if err != nil {
		return updateStatement{}, err
	}
	u, ok := get(stmt, "u")
	if !ok {
		return updateStatement{}, commandError(codeFailedToParse, "BSON field 'update.updates.u' is missing but a required field")
	}
	s := updateStatement{
		filter: filter,
		update: u,
		multi:  boolOption(stmt, "multi", false),
		upsert: boolOption(stmt, "upsert", false),
	}
	if repl, ok := u.(bson.D); ok && !isOperatorUpdate(repl) && s.multi {
		return updateStatement{}, commandError(codeFailedToParse, "multi update is not supported for replacement-style update")
	}
	return s, nil
}

func cmdUpdate(c *Connection, db string, cmd bson.D) (bson.D, error) {
	name, err := collectionName(db, cmd)
	if err != nil {
		return nil, err
	}
	v, _ := get(cmd, "updates")
	stmts, ok := v.(bson.A)
	if !ok || len(stmts) == 0 {
		return nil, commandError(codeInvalidLength, "Write batch sizes must be between 1 and 100000. Got 0 operations.")
	}
	ordered := boolOption(cmd, "ordered", true)

	coll := c.collection(db, name, true)
	ns := connection.Namespace{Database: db, Collection: name}
	var (
		n, modified int32
		upserted    bson.A
		errs        bson.A
	)
	for i, raw := range stmts {
		stmt, err := parseUpdateStatement(raw)
		if err == nil {
			var matched, changed int32
			var id interface{}
			matched, changed, id, err = c.applyUpdateStatement(coll, ns, stmt)
			n += matched
			modified += changed
			if id != nil {
				n++
				upserted = append(upserted, bson.D{{Key: "index", Value: int32(i)}, {Key: "_id", Value: id}})
			}
		}
		if err != nil {
			errs = append(errs, writeError(i, err))
			if ordered {
				break
			}
		}
	}

	reply := bson.D{{Key: "n", Value: n}, {Key: "nModified", Value: modified}}
	if len(upserted) > 0 {
		reply = append(reply, bson.E{Key: "upserted", Value: upserted})
	}
	if len(errs) > 0 {
		reply = append(reply, bson.E{Key: "writeErrors", Value: errs})
	}
	return reply, nil
}

// applyUpdateStatement updates the matching documents of coll and returns
// the matched and modified counts and the _id of an upserted document
func (c *Connection) applyUpdateStatement(coll *collection, ns connection.Namespace, stmt updateStatement) (int32, int32, interface{}, error) {
	var matched, modified int32
	for i := range coll.docs {
		old := coll.docs[i]
		ok, err := matches(old, stmt.filter)
		if err != nil {
			return matched, modified, nil, err
		}
		if !ok {
			continue
		}
		matched++
		changed, err := c.replaceAt(coll, ns, i, stmt.update)
		if err != nil {
			return matched, modified, nil, err
		}
		if changed {
			modified++
		}
		if !stmt.multi {
			break
		}
	}
	if matched > 0 || !stmt.upsert {
		return matched, modified, nil, nil
	}

	doc, err := c.upsert(coll, ns, stmt.filter, stmt.update)
	if err != nil {
		return 0, 0, nil, err
	}
	return 0, 0, doc[0].Value, nil
}

// replaceAt applies update to the i-th document and records the change
func (c *Connection) replaceAt(coll *collection, ns connection.Namespace, i int, update interface{}) (bool, error) {
	old := coll.docs[i]
	doc, err := modify(old, update, false, c.now())
	if err != nil {
		return false, err
	}
	if equal(old, doc) {
		return false, nil
	}
	if err := coll.checkUnique(ns.Database, ns.Collection, doc, i); err != nil {
		return false, err
	}
	coll.docs[i] = doc

	ev := &changeEvent{op: "update", ns: ns, documentKey: doc[0].Value, after: doc, before: old, description: diff(old, doc)}
	if u, ok := update.(bson.D); ok && !isOperatorUpdate(u) {
		ev.op, ev.description = "replace", nil
	}
	c.record(ev)
	return true, nil
}

func (c *Connection) upsert(coll *collection, ns connection.Namespace, filter bson.D, update interface{}) (bson.D, error) {
	seed, err := upsertSeed(filter)
	if err != nil {
		return nil, err
	}
	doc, err := modify(seed, update, true, c.now())
	if err != nil {
		return nil, err
	}
	doc = withID(doc)
	if err := coll.checkUnique(ns.Database, ns.Collection, doc, -1); err != nil {
		return nil, err
	}
	coll.docs = append(coll.docs, doc)
	c.record(&changeEvent{op: "insert", ns: ns, documentKey: doc[0].Value, after: doc})
	return doc, nil
}

func cmdDelete(c *Connection, db string, cmd bson.D) (bson.D, error) {
	name, err := collectionName(db, cmd)
	if err != nil {
		return nil, err
	}
	v, _ := get(cmd, "deletes")
	stmts, ok := v.(bson.A)
	if !ok || len(stmts) == 0 {
		return nil, commandError(codeInvalidLength, "Write batch sizes must be between 1 and 100000. Got 0 operations.")
	}
	ordered := boolOption(cmd, "ordered", true)

	coll := c.collection(db, name, false)
	ns := connection.Namespace{Database: db, Collection: name}
	var (
		n    int32
		errs bson.A
	)
	for i, raw := range stmts {
		stmt, ok := raw.(bson.D)
		if !ok {
			errs = append(errs, writeError(i, badValue("delete statement must be an object")))
			if ordered {
				break
			}
			continue
		}
		filter, err := docOption(stmt, "q")
		if err == nil && coll != nil {
			var deleted int32
			deleted, err = c.deleteMatching(coll, ns, filter, intOption(stmt, "limit") == 1)
			n += deleted
		}
		if err != nil {
			errs = append(errs, writeError(i, err))
			if ordered {
				break
			}
		}
	}

	reply := bson.D{{Key: "n", Value: n}}
	if len(errs) > 0 {
		reply = append(reply, bson.E{Key: "writeErrors", Value: errs})
	}
	return reply, nil
}

func (c *Connection) deleteMatching(coll *collection, ns connection.Namespace, filter bson.D, one bool) (int32, error) {
	var (
		n    int32
		kept = make([]bson.D, 0, len(coll.docs))
	)
	for i, doc := range coll.docs {
		ok, err := matches(doc, filter)
		if err != nil {
			return 0, err
		}
		if !ok || (one && n > 0) {
			kept = append(kept, coll.docs[i])
			continue
		}
		n++
		c.record(&changeEvent{op: "delete", ns: ns, documentKey: doc[0].Value, before: doc})
	}
	coll.docs = kept
	return n, nil
}

func cmdFindAndModify(c *Connection, db string, cmd bson.D) (bson.D, error) {
	name, err := collectionName(db, cmd)
	if err != nil {
		return nil, err
	}
	filter, err := docOption(cmd, "query")
	if err != nil {
		return nil, err
	}
	sortSpec, err := docOption(cmd, "sort")
	if err != nil {
		return nil, err
	}
	fields, err := docOption(cmd, "fields")
	if err != nil {
		return nil, err
	}
	remove := boolOption(cmd, "remove", false)
	update, hasUpdate := get(cmd, "update")
	if remove == hasUpdate {
		return nil, commandError(codeFailedToParse, "Either an update or remove=true must be specified")
	}
	returnNew := boolOption(cmd, "new", false)
	upsert := boolOption(cmd, "upsert", false)

	coll := c.collection(db, name, !remove)
	ns := connection.Namespace{Database: db, Collection: name}

	pos := -1
	if coll != nil {
		pos, err = coll.first(filter, sortSpec)
		if err != nil {
			return nil, err
		}
	}

	lastError := bson.D{}
	var value interface{}
	switch {
	case remove && pos >= 0:
		value = coll.docs[pos]
		if _, err := c.deleteMatching(coll, ns, bson.D{{Key: "_id", Value: coll.docs[pos][0].Value}}, true); err != nil {
			return nil, err
		}
		lastError = bson.D{{Key: "n", Value: int32(1)}}
	case remove:
		lastError = bson.D{{Key: "n", Value: int32(0)}}
	case pos >= 0:
		old := coll.docs[pos]
		if _, err := c.replaceAt(coll, ns, pos, update); err != nil {
			return nil, err
		}
		value = old
		if returnNew {
			value = coll.docs[pos]
		}
		lastError = bson.D{{Key: "n", Value: int32(1)}, {Key: "updatedExisting", Value: true}}
	case upsert:
		doc, err := c.upsert(coll, ns, filter, update)
		if err != nil {
			return nil, err
		}
		if returnNew {
			value = doc
		}
		lastError = bson.D{{Key: "n", Value: int32(1)}, {Key: "updatedExisting", Value: false}, {Key: "upserted", Value: doc[0].Value}}
	default:
		lastError = bson.D{{Key: "n", Value: int32(0)}, {Key: "updatedExisting", Value: false}}
	}

	if doc, ok := value.(bson.D); ok && fields != nil {
		if value, err = project(doc, fields); err != nil {
			return nil, err
		}
	}
	return bson.D{{Key: "lastErrorObject", Value: lastError}, {Key: "value", Value: value}}, nil
}

// first returns the position of the first document matching filter in sort
// order, or -1
func (c *collection) first(filter, sortSpec bson.D) (int, error) {
	positions := make([]int, 0)
	for i, doc := range c.docs {
		ok, err := matches(doc, filter)
		if err != nil {
			return -1, err
		}
		if ok {
			positions = append(positions, i)
		}
	}
	if len(positions) == 0 {
		return -1, nil
	}
	if len(sortSpec) == 0 {
		return positions[0], nil
	}
	docs := make([]bson.D, len(positions))
	for i, p := range positions {
		docs[i] = c.docs[p]
	}
	if err := sortDocs(docs, sortSpec); err != nil {
		return -1, err
	}
	id := docs[0][0].Value
	for _, p := range positions {
		if equal(c.docs[p][0].Value, id) {
			return p, nil
		}
	}
	return positions[0], nil
}

// query selects, orders, pages and projects the documents of coll
func query(coll *collection, filter, sortSpec, projection bson.D, skip, limit int64) ([]bson.D, error) {
	if coll == nil {
		return nil, nil
	}
	docs, err := filterDocs(coll.docs, filter)
	if err != nil {
		return nil, err
	}
	if len(sortSpec) > 0 {
		if err := sortDocs(docs, sortSpec); err != nil {
			return nil, err
		}
	}
	if skip > 0 {
		if skip >= int64(len(docs)) {
			docs = nil
		} else {
			docs = docs[skip:]
		}
	}
	if limit < 0 {
		limit = -limit
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	if len(projection) > 0 {
		return mapDocs(docs, func(d bson.D) (bson.D, error) { return project(d, projection) })
	}
	return docs, nil
}

func cursorReply(ns string, docs []bson.D) bson.D {
	batch := make(bson.A, 0, len(docs))
	for _, d := range docs {
		batch = append(batch, d)
	}
	return bson.D{{Key: "cursor", Value: bson.D{
		{Key: "firstBatch", Value: batch},
		{Key: "id", Value: int64(0)},
		{Key: "ns", Value: ns},
	}}}
}

func cmdFind(c *Connection, db string, cmd bson.D) (bson.D, error) {
	name, err := collectionName(db, cmd)
	if err != nil {
		return nil, err
	}
	filter, err := docOption(cmd, "filter")
	if err != nil {
		return nil, err
	}
	sortSpec, err := docOption(cmd, "sort")
	if err != nil {
		return nil, err
	}
	projection, err := docOption(cmd, "projection")
	if err != nil {
		return nil, err
	}
	skip, limit := intOption(cmd, "skip"), intOption(cmd, "limit")
	if skip < 0 {
		return nil, badValue("skip value must be non-negative, but received: %d", skip)
	}
	docs, err := query(c.collection(db, name, false), filter, sortSpec, projection, skip, limit)
	if err != nil {
		return nil, err
	}
	return cursorReply(db+"."+name, docs), nil
}

func cmdAggregate(c *Connection, db string, cmd bson.D) (bson.D, error) {
	v, _ := get(cmd, "pipeline")
	pipeline, ok := v.(bson.A)
	if !ok {
		return nil, commandError(codeTypeMismatch, "'pipeline' option must be specified as an array")
	}
	if _, ok := get(cmd, "cursor"); !ok && !boolOption(cmd, "explain", false) {
		return nil, commandError(codeFailedToParse, "The 'cursor' option is required, except for aggregate with the explain argument")
	}

	var (
		docs []bson.D
		ns   string
	)
	if _, collectionless := number(cmd[0].Value); collectionless {
		ns = db + ".$cmd.aggregate"
		first, _ := firstStage(pipeline)
		switch first {
		case "$currentOp":
			if db != "admin" {
				return nil, commandError(codeInvalidNamespace, "$currentOp must be run against the 'admin' database with {aggregate: 1}")
			}
			pipeline = pipeline[1:]
		case "$documents":
			stage := pipeline[0].(bson.D)
			arr, ok := stage[0].Value.(bson.A)
			if !ok {
				return nil, badValue("error during $documents: value must be an array of objects")
			}
			for _, item := range arr {
				d, ok := item.(bson.D)
				if !ok {
					return nil, badValue("error during $documents: value must be an array of objects")
				}
				docs = append(docs, d)
			}
			pipeline = pipeline[1:]
		default:
			return nil, commandError(codeInvalidNamespace, "{aggregate: 1} is not valid for '%s'; a collection is required.", first)
		}
	} else {
		name, err := collectionName(db, cmd)
		if err != nil {
			return nil, err
		}
		ns = db + "." + name
		if coll := c.collection(db, name, false); coll != nil {
			docs = append(docs, coll.docs...)
		}
	}

	out, err := runPipeline(docs, pipeline)
	if err != nil {
		return nil, err
	}
	return cursorReply(ns, out), nil
}

func firstStage(pipeline bson.A) (string, bool) {
	if len(pipeline) == 0 {
		return "", false
	}
	stage, ok := pipeline[0].(bson.D)
	if !ok || len(stage) == 0 {
		return "", false
	}
	return stage[0].Key, true
}

func cmdCount(c *Connection, db string, cmd bson.D) (bson.D, error) {
	name, err := collectionName(db, cmd)
	if err != nil {
		return nil, err
	}
	filter, err := docOption(cmd, "query")
	if err != nil {
		return nil, err
	}
	docs, err := query(c.collection(db, name, false), filter, nil, nil, intOption(cmd, "skip"), intOption(cmd, "limit"))
	if err != nil {
		return nil, err
	}
	return bson.D{{Key: "n", Value: int32(len(docs))}}, nil
}

func cmdDistinct(c *Connection, db string, cmd bson.D) (bson.D, error) {
	name, err := collectionName(db, cmd)
	if err != nil {
		return nil, err
	}
	key, ok := get(cmd, "key")
	path, isString := key.(string)
	if !ok || !isString || path == "" {
		return nil, commandError(codeFailedToParse, "BSON field 'distinct.key' is missing but a required field")
	}
	filter, err := docOption(cmd, "query")
	if err != nil {
		return nil, err
	}
	docs, err := query(c.collection(db, name, false), filter, nil, nil, 0, 0)
	if err != nil {
		return nil, err
	}
	values := bson.A{}
	for _, d := range docs {
		for _, v := range lookup(d, splitPath(path)) {
			candidates := []interface{}{v}
			if arr, ok := v.(bson.A); ok {
				candidates = arr
			}
			for _, item := range candidates {
				if !contains(values, item) {
					values = append(values, item)
				}
			}
		}
	}
	return bson.D{{Key: "values", Value: values}}, nil
}
