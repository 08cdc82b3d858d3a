package parser

import (
	"sort"
	"strings"

	"github.com/hadi77ir/go-mongosh/command"
	"github.com/hadi77ir/go-mongosh/internal/checkpoint"
)

// methodBuilder turns a collection method call into a Command
type methodBuilder func(ns command.Namespace, c call) (command.Command, error)

var collectionMethods = map[string]methodBuilder{
	"find":                   buildFind,
	"findOne":                buildFind,
	"aggregate":              buildAggregate,
	"insertOne":              buildInsert,
	"insertMany":             buildInsert,
	"updateOne":              buildUpdate,
	"updateMany":             buildUpdate,
	"replaceOne":             buildUpdate,
	"findOneAndUpdate":       buildUpdate,
	"findOneAndReplace":      buildUpdate,
	"findAndModify":          buildFindAndModify,
	"deleteOne":              buildDelete,
	"deleteMany":             buildDelete,
	"findOneAndDelete":       buildDelete,
	"countDocuments":         buildCount,
	"estimatedDocumentCount": buildCount,
	"count":                  buildCount,
	"distinct":               buildDistinct,
	"drop":                   buildDrop,
	"renameCollection":       buildRename,
	"stats":                  buildStats,
	"dataSize":               buildStats,
	"storageSize":            buildStats,
	"totalIndexSize":         buildStats,
	"createIndex":            buildCreateIndex,
	"ensureIndex":            buildCreateIndex,
	"createIndexes":          buildCreateIndex,
	"dropIndex":              buildDropIndex,
	"dropIndexes":            buildDropIndex,
	"getIndexes":             buildListIndexes,
	"getIndexSpecs":          buildListIndexes,
	"hideIndex":              buildHideIndex,
	"unhideIndex":            buildHideIndex,
	"watch":                  buildWatch,
}

var updateModes = map[string]command.UpdateMode{
	"updateOne":         command.UpdateOne,
	"updateMany":        command.UpdateMany,
	"replaceOne":        command.ReplaceOne,
	"findOneAndUpdate":  command.FindOneAndUpdate,
	"findOneAndReplace": command.FindOneAndReplace,
}

var deleteModes = map[string]command.DeleteMode{
	"deleteOne":        command.DeleteOne,
	"deleteMany":       command.DeleteMany,
	"findOneAndDelete": command.FindOneAndDelete,
}

var countModes = map[string]command.CountMode{
	"countDocuments":         command.CountDocuments,
	"estimatedDocumentCount": command.EstimatedDocumentCount,
	"count":                  command.CountLegacy,
}

var fullDocumentModes = []string{"default", "updateLookup", "whenAvailable", "required"}

var beforeChangeModes = []string{"off", "whenAvailable", "required"}

// build binds a parsed chain to a Command
func (p *Parser) build(ch *chain) (command.Command, error) {
	var (
		cmd command.Command
		err error
	)
	ns := command.Namespace{Database: ch.database, Collection: ch.collection}
	switch {
	case ch.root.Value == "rs":
		cmd, err = buildReplSet(ch.method)
	case ch.collection == "":
		cmd, err = buildDatabaseMethod(ns, ch.method)
	default:
		b, ok := collectionMethods[ch.method.name]
		if !ok {
			return nil, command.NewParseError(ch.method.pos, command.ErrUnknownVerb,
				"unknown collection method %q (known methods: %s)", ch.method.name, knownNames(collectionMethods))
		}
		cmd, err = b(ns, ch.method)
	}
	if err != nil {
		return nil, err
	}
	return applyModifiers(cmd, ch.modifiers)
}

func knownNames[T any](m map[string]T) string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func buildFind(ns command.Namespace, c call) (command.Command, error) {
	if err := checkArgs(c, 0, 3); err != nil {
		return nil, err
	}
	filter, err := c.arg(0).document(c.name, "filter")
	if err != nil {
		return nil, err
	}
	projection, err := c.arg(1).document(c.name, "projection")
	if err != nil {
		return nil, err
	}
	opts, err := c.arg(2).document(c.name, "options")
	if err != nil {
		return nil, err
	}

	f := command.Find{
		Namespace:  ns,
		Filter:     emptyToNil(filter),
		Projection: emptyToNil(projection),
		One:        c.name == "findOne",
	}

	pos := c.arg(2).pos
	if v, ok := opts.Get("projection"); ok {
		if f.Projection != nil {
			return nil, command.NewValidationError(pos, c.name, "projection given both as argument and option")
		}
		d, ok := v.AsDocument()
		if !ok {
			return nil, command.NewValidationError(pos, c.name, "projection must be a document")
		}
		f.Projection = emptyToNil(d)
	}
	if v, ok := opts.Get("sort"); ok {
		d, ok := v.AsDocument()
		if !ok {
			return nil, command.NewValidationError(pos, c.name, "sort must be a document")
		}
		f.Sort = emptyToNil(d)
	}
	if v, ok := opts.Get("skip"); ok {
		if f.Skip, err = nonNegative(v, pos, c.name, "skip"); err != nil {
			return nil, err
		}
	}
	lifted := []string{"projection", "sort", "skip"}
	if !f.One {
		if v, ok := opts.Get("limit"); ok {
			if f.Limit, err = nonNegative(v, pos, c.name, "limit"); err != nil {
				return nil, err
			}
		}
		if v, ok := opts.Get("batchSize"); ok {
			if f.BatchSize, err = batchSize(v, pos, c.name); err != nil {
				return nil, err
			}
		}
		lifted = append(lifted, "limit", "batchSize")
	}
	f.Options = emptyToNil(opts.Without(lifted...))
	return f, nil
}

func buildAggregate(ns command.Namespace, c call) (command.Command, error) {
	if err := checkArgs(c, 0, 2); err != nil {
		return nil, err
	}
	a := command.Aggregate{Namespace: ns}
	if c.has(0) {
		pipeline, err := c.args[0].documents(c.name, "pipeline")
		if err != nil {
			return nil, err
		}
		a.Pipeline = emptyPipeline(pipeline)
	}
	opts, err := c.arg(1).document(c.name, "options")
	if err != nil {
		return nil, err
	}
	if v, ok := opts.Get("batchSize"); ok {
		if a.BatchSize, err = batchSize(v, c.arg(1).pos, c.name); err != nil {
			return nil, err
		}
	}
	a.Options = emptyToNil(opts.Without("batchSize"))
	return a, nil
}

func buildInsert(ns command.Namespace, c call) (command.Command, error) {
	if err := checkArgs(c, 1, 2); err != nil {
		return nil, err
	}
	ins := command.Insert{Namespace: ns, Many: c.name == "insertMany"}
	if ins.Many {
		docs, err := c.args[0].documents(c.name, "documents")
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return nil, command.NewValidationError(c.args[0].pos, c.name, "requires at least one document")
		}
		ins.Documents = docs
	} else {
		doc, err := c.args[0].requiredDocument(c.name, "document")
		if err != nil {
			return nil, err
		}
		ins.Documents = []*command.Document{doc}
	}
	opts, err := c.arg(1).document(c.name, "options")
	if err != nil {
		return nil, err
	}
	if opts, err = foldWriteConcern(c.name, c.arg(1).pos, opts); err != nil {
		return nil, err
	}
	ins.Options = emptyToNil(opts)
	return ins, nil
}

func buildUpdate(ns command.Namespace, c call) (command.Command, error) {
	if err := checkArgs(c, 2, 3); err != nil {
		return nil, err
	}
	mode := updateModes[c.name]
	filter, err := c.args[0].requiredDocument(c.name, "filter")
	if err != nil {
		return nil, err
	}
	if err := checkUpdate(c.name, mode, c.args[1]); err != nil {
		return nil, err
	}
	opts, err := c.arg(2).document(c.name, "options")
	if err != nil {
		return nil, err
	}
	opts, err = normalizeReturnDocument(c.name, c.arg(2).pos, opts)
	if err != nil {
		return nil, err
	}
	if opts, err = foldWriteConcern(c.name, c.arg(2).pos, opts); err != nil {
		return nil, err
	}
	return command.Update{
		Namespace: ns,
		Mode:      mode,
		Filter:    emptyToNil(filter),
		Update:    c.args[1].value,
		Options:   emptyToNil(opts),
	}, nil
}

// checkUpdate validates the shape of an update argument: operator documents
// or pipelines for updates, operator-free documents for replacements
func checkUpdate(method string, mode command.UpdateMode, a argument) error {
	if mode.IsReplacement() {
		d, err := a.requiredDocument(method, "replacement")
		if err != nil {
			return err
		}
		if _, some := hasOperators(d); some {
			return command.NewValidationError(a.pos, method, "replacement document must not contain update operators")
		}
		return nil
	}
	if _, ok := a.value.AsArray(); ok {
		stages, err := a.documents(method, "update pipeline")
		if err != nil {
			return err
		}
		if len(stages) == 0 {
			return command.NewValidationError(a.pos, method, "update pipeline must not be empty")
		}
		return nil
	}
	d, err := a.requiredDocument(method, "update")
	if err != nil {
		return err
	}
	if all, _ := hasOperators(d); !all {
		return command.NewValidationError(a.pos, method, "update document requires update operators")
	}
	return nil
}

// normalizeReturnDocument converts the legacy returnNewDocument and
// returnOriginal flags into returnDocument
func normalizeReturnDocument(method string, pos command.Position, opts *command.Document) (*command.Document, error) {
	var (
		after  bool
		legacy string
	)
	for _, name := range []string{"returnNewDocument", "returnOriginal"} {
		v, ok := opts.Get(name)
		if !ok {
			continue
		}
		flag, ok := v.AsBool()
		if !ok {
			return nil, command.NewValidationError(pos, method, "%s must be a boolean", name)
		}
		if name == "returnOriginal" {
			flag = !flag
		}
		if legacy != "" && flag != after {
			return nil, command.NewValidationError(pos, method, "%s and %s conflict", legacy, name)
		}
		after, legacy = flag, name
	}
	if legacy == "" {
		return opts, nil
	}
	if opts.Has("returnDocument") {
		return nil, command.NewValidationError(pos, method, "%s and returnDocument are mutually exclusive", legacy)
	}
	mode := "before"
	if after {
		mode = "after"
	}
	return opts.Without("returnNewDocument", "returnOriginal").With("returnDocument", command.String(mode)), nil
}

// writeConcernFields may be given at the top level of write options
var writeConcernFields = []string{"w", "j", "wtimeout", "wtimeoutMS"}

// foldWriteConcern moves top-level w, j and wtimeout options into
// writeConcern
func foldWriteConcern(method string, pos command.Position, opts *command.Document) (*command.Document, error) {
	concern := &command.Document{}
	for _, name := range writeConcernFields {
		v, ok := opts.Get(name)
		if !ok {
			continue
		}
		switch name {
		case "w":
			if _, ok := v.AsString(); !ok {
				if n, ok := v.AsInt(); !ok || n < 0 {
					return nil, command.NewValidationError(pos, method, "w must be a string or a non-negative integer")
				}
			}
		case "j":
			if _, ok := v.AsBool(); !ok {
				return nil, command.NewValidationError(pos, method, "j must be a boolean")
			}
		default:
			if n, ok := v.AsInt(); !ok || n < 0 {
				return nil, command.NewValidationError(pos, method, "%s must be a non-negative integer", name)
			}
			name = "wtimeout"
			if concern.Has(name) {
				return nil, command.NewValidationError(pos, method, "wtimeout and wtimeoutMS are mutually exclusive")
			}
		}
		concern = concern.With(name, v)
	}
	if concern.IsEmpty() {
		return opts, nil
	}
	if opts.Has("writeConcern") {
		return nil, command.NewValidationError(pos, method, "top-level %s cannot be combined with writeConcern", strings.Join(concern.Keys(), ", "))
	}
	return opts.Without(writeConcernFields...).With("writeConcern", command.Doc(concern)), nil
}

// buildFindAndModify maps the legacy findAndModify document onto the
// findOneAnd* family
func buildFindAndModify(ns command.Namespace, c call) (command.Command, error) {
	if err := checkArgs(c, 1, 1); err != nil {
		return nil, err
	}
	a := c.args[0]
	spec, err := a.requiredDocument(c.name, "argument")
	if err != nil {
		return nil, err
	}

	var filter *command.Document
	if v, ok := spec.Get("query"); ok {
		d, ok := v.AsDocument()
		if !ok {
			return nil, command.NewValidationError(a.pos, c.name, "query must be a document")
		}
		filter = emptyToNil(d)
	}

	opts := spec.Without("query", "update", "remove", "new", "fields")
	if v, ok := spec.Get("fields"); ok {
		opts = opts.With("projection", v)
	}
	if opts, err = foldWriteConcern(c.name, a.pos, opts); err != nil {
		return nil, err
	}

	remove := false
	if v, ok := spec.Get("remove"); ok {
		if remove, ok = v.AsBool(); !ok {
			return nil, command.NewValidationError(a.pos, c.name, "remove must be a boolean")
		}
	}
	update, hasUpdate := spec.Get("update")

	switch {
	case remove && hasUpdate:
		return nil, command.NewValidationError(a.pos, c.name, "remove and update are mutually exclusive")
	case remove:
		if spec.Has("new") || spec.Has("upsert") {
			return nil, command.NewValidationError(a.pos, c.name, "new and upsert cannot be combined with remove")
		}
		return command.Delete{Namespace: ns, Mode: command.FindOneAndDelete, Filter: filter, Options: emptyToNil(opts)}, nil
	case !hasUpdate:
		return nil, command.NewValidationError(a.pos, c.name, "either update or remove is required")
	}

	mode := command.FindOneAndUpdate
	if d, ok := update.AsDocument(); ok {
		if _, some := hasOperators(d); !some {
			mode = command.FindOneAndReplace
		}
	}
	if err := checkUpdate(c.name, mode, argument{value: update, pos: a.pos}); err != nil {
		return nil, err
	}
	if opts, err = normalizeReturnDocument(c.name, a.pos, opts); err != nil {
		return nil, err
	}
	if v, ok := spec.Get("new"); ok {
		after, ok := v.AsBool()
		if !ok {
			return nil, command.NewValidationError(a.pos, c.name, "new must be a boolean")
		}
		if rd, ok := opts.Get("returnDocument"); ok {
			if s, _ := rd.AsString(); (s == "after") != after {
				return nil, command.NewValidationError(a.pos, c.name, "new conflicts with returnOriginal or returnDocument")
			}
		}
		if after {
			opts = opts.With("returnDocument", command.String("after"))
		}
	}
	return command.Update{Namespace: ns, Mode: mode, Filter: filter, Update: update, Options: emptyToNil(opts)}, nil
}

func buildDelete(ns command.Namespace, c call) (command.Command, error) {
	if err := checkArgs(c, 1, 2); err != nil {
		return nil, err
	}
	filter, err := c.args[0].requiredDocument(c.name, "filter")
	if err != nil {
		return nil, err
	}
	opts, err := c.arg(1).document(c.name, "options")
	if err != nil {
		return nil, err
	}
	if opts, err = foldWriteConcern(c.name, c.arg(1).pos, opts); err != nil {
		return nil, err
	}
	return command.Delete{
		Namespace: ns,
		Mode:      deleteModes[c.name],
		Filter:    emptyToNil(filter),
		Options:   emptyToNil(opts),
	}, nil
}

func buildCount(ns command.Namespace, c call) (command.Command, error) {
	mode := countModes[c.name]
	cnt := command.Count{Namespace: ns, Mode: mode}
	optsArg := 1
	if mode == command.EstimatedDocumentCount {
		if err := checkArgs(c, 0, 1); err != nil {
			return nil, err
		}
		optsArg = 0
	} else {
		if err := checkArgs(c, 0, 2); err != nil {
			return nil, err
		}
		filter, err := c.arg(0).document(c.name, "filter")
		if err != nil {
			return nil, err
		}
		cnt.Filter = emptyToNil(filter)
	}
	opts, err := c.arg(optsArg).document(c.name, "options")
	if err != nil {
		return nil, err
	}
	for _, key := range []string{"limit", "skip"} {
		if v, ok := opts.Get(key); ok {
			if _, err := nonNegative(v, c.arg(optsArg).pos, c.name, key); err != nil {
				return nil, err
			}
		}
	}
	cnt.Options = emptyToNil(opts)
	return cnt, nil
}

func buildDistinct(ns command.Namespace, c call) (command.Command, error) {
	if err := checkArgs(c, 1, 3); err != nil {
		return nil, err
	}
	key, err := c.args[0].str(c.name, "field")
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, command.NewValidationError(c.args[0].pos, c.name, "field must not be empty")
	}
	filter, err := c.arg(1).document(c.name, "filter")
	if err != nil {
		return nil, err
	}
	opts, err := c.arg(2).document(c.name, "options")
	if err != nil {
		return nil, err
	}
	return command.Distinct{Namespace: ns, Key: key, Filter: emptyToNil(filter), Options: emptyToNil(opts)}, nil
}

func buildDrop(ns command.Namespace, c call) (command.Command, error) {
	if err := checkArgs(c, 0, 1); err != nil {
		return nil, err
	}
	opts, err := c.arg(0).document(c.name, "options")
	if err != nil {
		return nil, err
	}
	return command.DropCollection{Namespace: ns, Options: emptyToNil(opts)}, nil
}

func buildRename(ns command.Namespace, c call) (command.Command, error) {
	if err := checkArgs(c, 1, 2); err != nil {
		return nil, err
	}
	to, err := c.args[0].str(c.name, "target name")
	if err != nil {
		return nil, err
	}
	if to == "" {
		return nil, command.NewValidationError(c.args[0].pos, c.name, "target name must not be empty")
	}
	r := command.RenameCollection{Namespace: ns, To: to}
	if c.has(1) {
		if r.DropTarget, err = c.args[1].boolean(c.name, "dropTarget"); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func buildStats(ns command.Namespace, c call) (command.Command, error) {
	s := command.CollStats{Namespace: ns}
	switch c.name {
	case "dataSize":
		s.Field = "size"
	case "storageSize", "totalIndexSize":
		s.Field = c.name
	}
	if s.Field != "" {
		if err := checkArgs(c, 0, 0); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := checkArgs(c, 0, 1); err != nil {
		return nil, err
	}
	if !c.has(0) {
		return s, nil
	}
	a := c.args[0]
	v := a.value
	if d, ok := v.AsDocument(); ok {
		for _, key := range d.Keys() {
			if key != "scale" {
				return nil, command.NewValidationError(a.pos, c.name, "unknown option %q", key)
			}
		}
		if v, ok = d.Get("scale"); !ok {
			return s, nil
		}
	}
	scale, ok := v.AsInt()
	if !ok || scale < 1 {
		return nil, command.NewValidationError(a.pos, c.name, "scale must be a positive integer")
	}
	s.Scale = scale
	return s, nil
}

func buildCreateIndex(ns command.Namespace, c call) (command.Command, error) {
	if err := checkArgs(c, 1, 3); err != nil {
		return nil, err
	}
	many := c.name == "createIndexes"

	var keys []*command.Document
	if many {
		docs, err := c.args[0].documents(c.name, "key specifications")
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return nil, command.NewValidationError(c.args[0].pos, c.name, "requires at least one key specification")
		}
		keys = docs
	} else {
		d, err := c.args[0].requiredDocument(c.name, "keys")
		if err != nil {
			return nil, err
		}
		keys = []*command.Document{d}
	}
	for _, k := range keys {
		if k.IsEmpty() {
			return nil, command.NewValidationError(c.args[0].pos, c.name, "index keys must not be empty")
		}
	}

	opts, err := c.arg(1).document(c.name, "options")
	if err != nil {
		return nil, err
	}
	opts = emptyToNil(opts)

	ci := command.CreateIndex{Namespace: ns, Many: many, CommitQuorum: command.Null()}
	for _, k := range keys {
		ci.Indexes = append(ci.Indexes, command.IndexModel{Keys: k, Options: opts})
	}
	if c.has(2) {
		q := c.args[2]
		switch q.value.Kind() {
		case command.KindString, command.KindInt, command.KindInt32, command.KindInt64:
			ci.CommitQuorum = q.value
		default:
			return nil, command.NewValidationError(q.pos, c.name, "commitQuorum must be a string or an integer")
		}
	}
	return ci, nil
}

func buildDropIndex(ns command.Namespace, c call) (command.Command, error) {
	many := c.name == "dropIndexes"
	if !many {
		if err := checkArgs(c, 1, 1); err != nil {
			return nil, err
		}
	} else if err := checkArgs(c, 0, 1); err != nil {
		return nil, err
	}

	d := command.DropIndex{Namespace: ns, Many: many, Index: command.String("*")}
	if !c.has(0) {
		if !many {
			return nil, command.NewValidationError(c.pos, c.name, "requires an index name or key document")
		}
		return d, nil
	}

	a := c.args[0]
	switch a.value.Kind() {
	case command.KindString, command.KindDocument:
	case command.KindArray:
		items, _ := a.value.AsArray()
		if !many {
			return nil, command.NewValidationError(a.pos, c.name, "takes a single index; use dropIndexes for a list")
		}
		for _, item := range items {
			if _, ok := item.AsString(); !ok {
				return nil, command.NewValidationError(a.pos, c.name, "index list must contain names only")
			}
		}
	default:
		return nil, command.NewValidationError(a.pos, c.name, "index must be a name, a key document or a list of names")
	}
	d.Index = a.value
	return d, nil
}

func buildHideIndex(ns command.Namespace, c call) (command.Command, error) {
	if err := checkArgs(c, 1, 1); err != nil {
		return nil, err
	}
	a := c.args[0]
	switch a.value.Kind() {
	case command.KindString:
		if s, _ := a.value.AsString(); s == "" {
			return nil, command.NewValidationError(a.pos, c.name, "index name must not be empty")
		}
	case command.KindDocument:
		if d, _ := a.value.AsDocument(); d.IsEmpty() {
			return nil, command.NewValidationError(a.pos, c.name, "index key document must not be empty")
		}
	default:
		return nil, command.NewValidationError(a.pos, c.name, "index must be a name or a key document")
	}
	return command.HideIndex{Namespace: ns, Index: a.value, Hidden: c.name == "hideIndex"}, nil
}

func buildListIndexes(ns command.Namespace, c call) (command.Command, error) {
	if err := checkArgs(c, 0, 0); err != nil {
		return nil, err
	}
	return command.ListIndexes{Namespace: ns}, nil
}

func buildWatch(ns command.Namespace, c call) (command.Command, error) {
	if err := checkArgs(c, 0, 2); err != nil {
		return nil, err
	}
	w := command.Watch{Namespace: ns}
	if c.has(0) {
		pipeline, err := c.args[0].documents(c.name, "pipeline")
		if err != nil {
			return nil, err
		}
		w.Pipeline = emptyPipeline(pipeline)
	}

	a := c.arg(1)
	opts, err := a.document(c.name, "options")
	if err != nil {
		return nil, err
	}
	if v, ok := opts.Get("fullDocument"); ok {
		mode, ok := v.AsString()
		if !ok || !contains(fullDocumentModes, mode) {
			return nil, command.NewValidationError(a.pos, c.name, "fullDocument must be one of %s", strings.Join(fullDocumentModes, ", "))
		}
		if mode != "default" {
			w.FullDocument = mode
		}
	}
	if v, ok := opts.Get("fullDocumentBeforeChange"); ok {
		mode, ok := v.AsString()
		if !ok || !contains(beforeChangeModes, mode) {
			return nil, command.NewValidationError(a.pos, c.name, "fullDocumentBeforeChange must be one of %s", strings.Join(beforeChangeModes, ", "))
		}
	}
	if v, ok := opts.Get("batchSize"); ok {
		if w.BatchSize, err = batchSize(v, a.pos, c.name); err != nil {
			return nil, err
		}
	}
	if opts.Has("resumeAfter") && opts.Has("startAfter") {
		return nil, command.NewValidationError(a.pos, c.name, "resumeAfter and startAfter are mutually exclusive")
	}
	for _, key := range []string{"resumeAfter", "startAfter"} {
		if v, ok := opts.Get(key); ok {
			if err := checkResumePoint(c.name, key, a.pos, v); err != nil {
				return nil, err
			}
		}
	}
	if v, ok := opts.Get("startAtOperationTime"); ok {
		if _, ok := v.AsTimestamp(); !ok {
			return nil, command.NewValidationError(a.pos, c.name, "startAtOperationTime must be a Timestamp")
		}
	}
	w.Options = emptyToNil(opts.Without("fullDocument", "batchSize"))
	return w, nil
}

// checkResumePoint accepts a resume token document or a checkpoint string
func checkResumePoint(method, key string, pos command.Position, v command.Value) error {
	if _, ok := v.AsDocument(); ok {
		return nil
	}
	s, ok := v.AsString()
	if !ok {
		return command.NewValidationError(pos, method, "%s must be a resume token document or a checkpoint string", key)
	}
	if _, err := checkpoint.Decode(s); err != nil {
		return &command.ValidationError{Pos: pos, Method: method, Msg: key + ": " + err.Error(), Err: command.ErrInvalidCheckpoint}
	}
	return nil
}
