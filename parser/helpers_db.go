package parser

import (
	"github.com/hadi77ir/go-mongosh/command"
)

// adminHelper describes a database-level shell helper that maps onto a
// server command document
type adminHelper struct {
	// database is the fixed database the command runs on; empty means the
	// addressed database
	database string
	minArgs  int
	maxArgs  int
	document func(c call) (*command.Document, error)
}

var databaseMethods = map[string]methodBuilder{
	"adminCommand":     buildRunCommand,
	"runCommand":       buildRunCommand,
	"createCollection": buildCreateCollection,
	"stats":            buildStats,
	"watch":            buildWatch,
	"aggregate":        buildAggregate,
}

var adminHelpers = map[string]adminHelper{
	"getCollectionNames": {minArgs: 0, maxArgs: 0, document: func(c call) (*command.Document, error) {
		return command.D(command.E("listCollections", command.Int(1)), command.E("nameOnly", command.Bool(true))), nil
	}},
	"listCollections":    {minArgs: 0, maxArgs: 2, document: listCollections},
	"getCollectionInfos": {minArgs: 0, maxArgs: 2, document: listCollections},
	"dropDatabase":       {minArgs: 0, maxArgs: 1, document: withOptions("dropDatabase", 0)},
	"serverStatus":       {minArgs: 0, maxArgs: 1, document: withOptions("serverStatus", 0)},
	"hostInfo":           {database: "admin", minArgs: 0, maxArgs: 0, document: simple("hostInfo")},
	"buildInfo":          {database: "admin", minArgs: 0, maxArgs: 0, document: simple("buildInfo")},
	"version":            {database: "admin", minArgs: 0, maxArgs: 0, document: simple("buildInfo")},
	"currentOp":          {database: "admin", minArgs: 0, maxArgs: 1, document: currentOp},
	"killOp":             {database: "admin", minArgs: 1, maxArgs: 1, document: killOp},
	"ping":               {minArgs: 0, maxArgs: 0, document: simple("ping")},
	"hello":              {minArgs: 0, maxArgs: 0, document: simple("hello")},
	"isMaster":           {minArgs: 0, maxArgs: 0, document: simple("isMaster")},
	"listCommands":       {minArgs: 0, maxArgs: 0, document: simple("listCommands")},
}

func simple(name string) func(c call) (*command.Document, error) {
	return func(c call) (*command.Document, error) {
		return command.D(command.E(name, command.Int(1))), nil
	}
}

// withOptions builds {name: 1, ...options} where options is the i-th argument
func withOptions(name string, i int) func(c call) (*command.Document, error) {
	return func(c call) (*command.Document, error) {
		opts, err := c.arg(i).document(c.name, "options")
		if err != nil {
			return nil, err
		}
		return prepend(command.E(name, command.Int(1)), opts), nil
	}
}

func listCollections(c call) (*command.Document, error) {
	filter, err := c.arg(0).document(c.name, "filter")
	if err != nil {
		return nil, err
	}
	opts, err := c.arg(1).document(c.name, "options")
	if err != nil {
		return nil, err
	}
	doc := command.D(command.E("listCollections", command.Int(1)))
	if !filter.IsEmpty() {
		doc = doc.With("filter", command.Doc(filter))
	}
	for _, e := range opts.Elements() {
		doc = doc.With(e.Key, e.Value)
	}
	return doc, nil
}

func currentOp(c call) (*command.Document, error) {
	doc := command.D(command.E("currentOp", command.Int(1)))
	if !c.has(0) {
		return doc, nil
	}
	a := c.args[0]
	if all, ok := a.value.AsBool(); ok {
		if all {
			doc = doc.With("$all", command.Bool(true))
		}
		return doc, nil
	}
	filter, err := a.requiredDocument(c.name, "filter")
	if err != nil {
		return nil, err
	}
	for _, e := range filter.Elements() {
		doc = doc.With(e.Key, e.Value)
	}
	return doc, nil
}

func killOp(c call) (*command.Document, error) {
	a := c.args[0]
	if !a.value.IsNumber() && a.value.Kind() != command.KindString {
		return nil, command.NewValidationError(a.pos, c.name, "operation id must be a number or a string")
	}
	return command.D(command.E("killOp", command.Int(1)), command.E("op", a.value)), nil
}

// prepend returns a document starting with e followed by the elements of d
func prepend(e command.Element, d *command.Document) *command.Document {
	out := command.D(e)
	for _, el := range d.Elements() {
		out = out.With(el.Key, el.Value)
	}
	return out
}

// buildDatabaseMethod binds a db.<method>(...) call
func buildDatabaseMethod(ns command.Namespace, c call) (command.Command, error) {
	if b, ok := databaseMethods[c.name]; ok {
		return b(ns, c)
	}
	h, ok := adminHelpers[c.name]
	if !ok {
		return nil, command.NewParseError(c.pos, command.ErrUnknownVerb,
			"unknown database method %q (known methods: %s)", c.name, knownDatabaseMethods())
	}
	if err := checkArgs(c, h.minArgs, h.maxArgs); err != nil {
		return nil, err
	}
	doc, err := h.document(c)
	if err != nil {
		return nil, err
	}
	cmd := command.AdminCommand{Namespace: ns, Helper: c.name, Args: argValues(c), Document: doc}
	if h.database != "" {
		cmd.Namespace = command.Namespace{Database: h.database}
		cmd.FixedDatabase = true
	}
	return cmd, nil
}

func knownDatabaseMethods() string {
	names := make(map[string]struct{}, len(databaseMethods)+len(adminHelpers))
	for name := range databaseMethods {
		names[name] = struct{}{}
	}
	for name := range adminHelpers {
		names[name] = struct{}{}
	}
	return knownNames(names)
}

func argValues(c call) []command.Value {
	if len(c.args) == 0 {
		return nil
	}
	out := make([]command.Value, len(c.args))
	for i, a := range c.args {
		out[i] = a.value
	}
	return out
}

// buildRunCommand binds runCommand and adminCommand. The argument is a
// command document or a command name.
func buildRunCommand(ns command.Namespace, c call) (command.Command, error) {
	if err := checkArgs(c, 1, 1); err != nil {
		return nil, err
	}
	a := c.args[0]
	var doc *command.Document
	if name, ok := a.value.AsString(); ok {
		if name == "" {
			return nil, command.NewValidationError(a.pos, c.name, "command name must not be empty")
		}
		doc = command.D(command.E(name, command.Int(1)))
	} else {
		d, err := a.requiredDocument(c.name, "command")
		if err != nil {
			return nil, err
		}
		if d.IsEmpty() {
			return nil, command.NewValidationError(a.pos, c.name, "command document must not be empty")
		}
		doc = d
	}
	cmd := command.AdminCommand{Namespace: ns, Helper: c.name, Args: argValues(c), Document: doc}
	if c.name == "adminCommand" {
		cmd.Namespace = command.Namespace{Database: "admin"}
		cmd.FixedDatabase = true
	}
	return cmd, nil
}

func buildCreateCollection(ns command.Namespace, c call) (command.Command, error) {
	if err := checkArgs(c, 1, 2); err != nil {
		return nil, err
	}
	name, err := c.args[0].str(c.name, "collection name")
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, command.NewValidationError(c.args[0].pos, c.name, "collection name must not be empty")
	}
	opts, err := c.arg(1).document(c.name, "options")
	if err != nil {
		return nil, err
	}
	ns.Collection = name
	return command.CreateCollection{Namespace: ns, Options: emptyToNil(opts)}, nil
}
