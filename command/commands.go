package command

// Namespace addresses a database and, optionally, a collection in it.
// An empty Database means the session's current database.
type Namespace struct {
	Database   string
	Collection string
}

// String returns the dotted namespace
func (n Namespace) String() string {
	db := n.Database
	if db == "" {
		db = "<current>"
	}
	if n.Collection == "" {
		return db
	}
	return db + "." + n.Collection
}

// Command is one parsed shell command. The set of implementations is closed:
// callers type switch over the variants declared in this package.
// Commands are immutable values.
type Command interface {
	// Verb returns the verb family
	Verb() Verb

	// Target returns the addressed namespace
	Target() Namespace

	// String returns shell text that parses back to an equal Command
	String() string

	isCommand()
}

// Find is a find or findOne query
type Find struct {
	Namespace  Namespace
	Filter     *Document
	Projection *Document
	Sort       *Document
	Skip       int64
	Limit      int64
	BatchSize  int32
	// One marks findOne: at most one document, resolved as a single result
	One bool
	// Options holds the remaining find options (hint, maxTimeMS, comment, ...)
	Options *Document
}

// Aggregate runs a pipeline on a collection or, without one, on the database
type Aggregate struct {
	Namespace Namespace
	Pipeline  []*Document
	Limit     int64
	BatchSize int32
	Options   *Document
}

// Insert is insertOne or insertMany
type Insert struct {
	Namespace Namespace
	Documents []*Document
	Many      bool
	Options   *Document
}

// Update covers updates, replacements and their findOneAnd variants
type Update struct {
	Namespace Namespace
	Mode      UpdateMode
	Filter    *Document
	// Update is an update-operator document, a replacement document or an
	// aggregation pipeline array
	Update  Value
	Options *Document
}

// Delete is deleteOne, deleteMany or findOneAndDelete
type Delete struct {
	Namespace Namespace
	Mode      DeleteMode
	Filter    *Document
	Options   *Document
}

// Count is countDocuments, estimatedDocumentCount or count
type Count struct {
	Namespace Namespace
	Mode      CountMode
	Filter    *Document
	Options   *Document
}

// Distinct returns the distinct values of a field
type Distinct struct {
	Namespace Namespace
	Key       string
	Filter    *Document
	Options   *Document
}

// CreateCollection creates Namespace.Collection
type CreateCollection struct {
	Namespace Namespace
	Options   *Document
}

// DropCollection drops Namespace.Collection
type DropCollection struct {
	Namespace Namespace
	Options   *Document
}

// RenameCollection renames Namespace.Collection to To in the same database
type RenameCollection struct {
	Namespace  Namespace
	To         string
	DropTarget bool
}

// CollStats reports storage statistics of a collection, or of the database
// when Namespace.Collection is empty
type CollStats struct {
	Namespace Namespace
	Scale     int64
	// Field narrows the result to one statistic (size, storageSize,
	// totalIndexSize); empty returns the full reply
	Field string
}

// IndexModel describes one index to build
type IndexModel struct {
	Keys    *Document
	Options *Document
}

// CreateIndex builds one or more indexes
type CreateIndex struct {
	Namespace Namespace
	Indexes   []IndexModel
	Many      bool
	// CommitQuorum is null when not given
	CommitQuorum Value
}

// DropIndex drops an index by name, by key document, or all with "*"
type DropIndex struct {
	Namespace Namespace
	Index     Value
	Many      bool
}

// HideIndex hides an index from the query planner, or unhides it, by name
// or key document
type HideIndex struct {
	Namespace Namespace
	Index     Value
	Hidden    bool
}

// ListIndexes lists the indexes of a collection
type ListIndexes struct {
	Namespace Namespace
}

// Watch opens a change stream on a collection, or on the database when
// Namespace.Collection is empty
type Watch struct {
	Namespace    Namespace
	Pipeline     []*Document
	FullDocument string
	BatchSize    int32
	// Limit is the number of events after which the stream is exhausted;
	// zero means unbounded
	Limit int64
	// Options holds the remaining change stream options (resumeAfter,
	// startAfter, startAtOperationTime, fullDocumentBeforeChange, ...)
	Options *Document
}

// AdminCommand runs a raw command document. It is the generic fallback for
// database-level helpers: Helper is the shell method that produced it.
type AdminCommand struct {
	Namespace Namespace
	Helper    string
	Args      []Value
	Document  *Document
	// FixedDatabase is set when the helper always runs on Namespace.Database
	FixedDatabase bool
}

// ReplSetCommand is an rs.* helper
type ReplSetCommand struct {
	Namespace Namespace
	Helper    string
	Args      []Value
	Action    ReplSetAction
	// Document is the server command for ReplSetRun, and the member
	// description for add/remove actions
	Document *Document
	Arbiter  bool
}

func (Find) Verb() Verb             { return VerbFind }
func (Aggregate) Verb() Verb        { return VerbAggregate }
func (Insert) Verb() Verb           { return VerbInsert }
func (Update) Verb() Verb           { return VerbUpdate }
func (Delete) Verb() Verb           { return VerbDelete }
func (Count) Verb() Verb            { return VerbCount }
func (Distinct) Verb() Verb         { return VerbDistinct }
func (CreateCollection) Verb() Verb { return VerbCreateCollection }
func (DropCollection) Verb() Verb   { return VerbDropCollection }
func (RenameCollection) Verb() Verb { return VerbRenameCollection }
func (CollStats) Verb() Verb        { return VerbCollStats }
func (CreateIndex) Verb() Verb      { return VerbCreateIndex }
func (DropIndex) Verb() Verb        { return VerbDropIndex }
func (ListIndexes) Verb() Verb      { return VerbListIndexes }
func (HideIndex) Verb() Verb        { return VerbHideIndex }
func (Watch) Verb() Verb            { return VerbWatch }
func (AdminCommand) Verb() Verb     { return VerbAdminCommand }
func (ReplSetCommand) Verb() Verb   { return VerbReplSetCommand }

func (c Find) Target() Namespace             { return c.Namespace }
func (c Aggregate) Target() Namespace        { return c.Namespace }
func (c Insert) Target() Namespace           { return c.Namespace }
func (c Update) Target() Namespace           { return c.Namespace }
func (c Delete) Target() Namespace           { return c.Namespace }
func (c Count) Target() Namespace            { return c.Namespace }
func (c Distinct) Target() Namespace         { return c.Namespace }
func (c CreateCollection) Target() Namespace { return c.Namespace }
func (c DropCollection) Target() Namespace   { return c.Namespace }
func (c RenameCollection) Target() Namespace { return c.Namespace }
func (c CollStats) Target() Namespace        { return c.Namespace }
func (c CreateIndex) Target() Namespace      { return c.Namespace }
func (c DropIndex) Target() Namespace        { return c.Namespace }
func (c ListIndexes) Target() Namespace      { return c.Namespace }
func (c HideIndex) Target() Namespace        { return c.Namespace }
func (c Watch) Target() Namespace            { return c.Namespace }
func (c AdminCommand) Target() Namespace     { return c.Namespace }
func (c ReplSetCommand) Target() Namespace   { return c.Namespace }

func (Find) isCommand()             {}
func (Aggregate) isCommand()        {}
func (Insert) isCommand()           {}
func (Update) isCommand()           {}
func (Delete) isCommand()           {}
func (Count) isCommand()            {}
func (Distinct) isCommand()         {}
func (CreateCollection) isCommand() {}
func (DropCollection) isCommand()   {}
func (RenameCollection) isCommand() {}
func (CollStats) isCommand()        {}
func (CreateIndex) isCommand()      {}
func (DropIndex) isCommand()        {}
func (ListIndexes) isCommand()      {}
func (HideIndex) isCommand()        {}
func (Watch) isCommand()            {}
func (AdminCommand) isCommand()     {}
func (ReplSetCommand) isCommand()   {}

// WithDatabase returns a copy of cmd addressed to db when cmd does not name
// a database itself
func WithDatabase(cmd Command, db string) Command {
	if cmd == nil || cmd.Target().Database != "" || db == "" {
		return cmd
	}
	switch c := cmd.(type) {
	case Find:
		c.Namespace.Database = db
		return c
	case Aggregate:
		c.Namespace.Database = db
		return c
	case Insert:
		c.Namespace.Database = db
		return c
	case Update:
		c.Namespace.Database = db
		return c
	case Delete:
		c.Namespace.Database = db
		return c
	case Count:
		c.Namespace.Database = db
		return c
	case Distinct:
		c.Namespace.Database = db
		return c
	case CreateCollection:
		c.Namespace.Database = db
		return c
	case DropCollection:
		c.Namespace.Database = db
		return c
	case RenameCollection:
		c.Namespace.Database = db
		return c
	case CollStats:
		c.Namespace.Database = db
		return c
	case CreateIndex:
		c.Namespace.Database = db
		return c
	case DropIndex:
		c.Namespace.Database = db
		return c
	case ListIndexes:
		c.Namespace.Database = db
		return c
	case HideIndex:
		c.Namespace.Database = db
		return c
	case Watch:
		c.Namespace.Database = db
		return c
	case AdminCommand:
		c.Namespace.Database = db
		return c
	case ReplSetCommand:
		c.Namespace.Database = db
		return c
	}
	return cmd
}
