package parser

import (
	"sort"
	"strings"

	"github.com/hadi77ir/go-mongosh/command"
)

// cursorModifiers lists the chained calls each cursor verb accepts
var cursorModifiers = map[command.Verb][]string{
	command.VerbFind: {
		"limit", "skip", "sort", "projection", "project", "batchSize", "maxTimeMS", "hint",
		"comment", "collation", "allowDiskUse", "noCursorTimeout", "toArray", "pretty", "count",
	},
	command.VerbAggregate: {"limit", "batchSize", "maxTimeMS", "comment", "toArray", "pretty"},
	command.VerbWatch:     {"limit", "batchSize"},
}

// optionModifiers are stored as find/aggregate options under their own name
var optionModifiers = map[string]bool{
	"maxTimeMS":       true,
	"hint":            true,
	"comment":         true,
	"collation":       true,
	"allowDiskUse":    true,
	"noCursorTimeout": true,
}

func allModifiers() []string {
	seen := make(map[string]bool)
	var names []string
	for _, list := range cursorModifiers {
		for _, name := range list {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// applyModifiers applies chained cursor calls such as .limit(10) to cmd
func applyModifiers(cmd command.Command, mods []call) (command.Command, error) {
	known := allModifiers()
	seen := givenOptions(cmd)
	for _, m := range mods {
		name := m.name
		if name == "project" {
			name = "projection"
		}
		if !contains(known, m.name) {
			return nil, command.NewParseError(m.pos, command.ErrUnknownVerb,
				"unknown modifier %q (known modifiers: %s)", m.name, strings.Join(known, ", "))
		}
		if !supportsModifier(cmd, m.name) {
			return nil, command.NewValidationError(m.pos, m.name, "modifier is not supported by %s", methodName(cmd))
		}
		if name != "toArray" && name != "pretty" {
			if seen[name] {
				return nil, command.NewValidationError(m.pos, m.name, "modifier given more than once or also set in the options")
			}
			seen[name] = true
		}

		var err error
		switch c := cmd.(type) {
		case command.Find:
			cmd, err = modifyFind(c, name, m)
		case command.Aggregate:
			cmd, err = modifyAggregate(c, name, m)
		case command.Watch:
			cmd, err = modifyWatch(c, name, m)
		}
		if err != nil {
			return nil, err
		}
	}
	return cmd, nil
}

// givenOptions names the modifiers whose value the method call already set
func givenOptions(cmd command.Command) map[string]bool {
	seen := make(map[string]bool)
	var opts *command.Document
	switch c := cmd.(type) {
	case command.Find:
		seen["limit"] = c.Limit != 0
		seen["skip"] = c.Skip != 0
		seen["batchSize"] = c.BatchSize != 0
		seen["sort"] = c.Sort != nil
		seen["projection"] = c.Projection != nil
		opts = c.Options
	case command.Aggregate:
		seen["batchSize"] = c.BatchSize != 0
		opts = c.Options
	}
	for _, key := range opts.Keys() {
		if optionModifiers[key] {
			seen[key] = true
		}
	}
	return seen
}

func supportsModifier(cmd command.Command, name string) bool {
	if f, ok := cmd.(command.Find); ok && f.One {
		return false
	}
	return contains(cursorModifiers[cmd.Verb()], name)
}

func methodName(cmd command.Command) string {
	if f, ok := cmd.(command.Find); ok && f.One {
		return "findOne"
	}
	return cmd.Verb().String()
}

func modifyFind(f command.Find, name string, m call) (command.Command, error) {
	switch name {
	case "toArray", "pretty":
		return f, checkArgs(m, 0, 0)
	case "count":
		if err := checkArgs(m, 0, 1); err != nil {
			return nil, err
		}
		applySkipLimit := false
		if m.has(0) {
			var err error
			if applySkipLimit, err = m.args[0].boolean(m.name, "applySkipLimit"); err != nil {
				return nil, err
			}
		}
		opts := f.Options
		if applySkipLimit && f.Skip > 0 {
			opts = opts.With("skip", command.Int(f.Skip))
		}
		if applySkipLimit && f.Limit > 0 {
			opts = opts.With("limit", command.Int(f.Limit))
		}
		return command.Count{Namespace: f.Namespace, Mode: command.CountLegacy, Filter: f.Filter, Options: emptyToNil(opts)}, nil
	}

	if err := checkArgs(m, 1, 1); err != nil {
		return nil, err
	}
	a := m.args[0]
	var err error
	switch name {
	case "limit":
		f.Limit, err = nonNegative(a.value, a.pos, m.name, "limit")
	case "skip":
		f.Skip, err = nonNegative(a.value, a.pos, m.name, "skip")
	case "batchSize":
		f.BatchSize, err = batchSize(a.value, a.pos, m.name)
	case "sort":
		var d *command.Document
		if d, err = a.requiredDocument(m.name, "sort"); err == nil {
			f.Sort = emptyToNil(d)
		}
	case "projection":
		var d *command.Document
		if d, err = a.requiredDocument(m.name, "projection"); err == nil {
			f.Projection = emptyToNil(d)
		}
	default:
		f.Options, err = setOption(f.Options, name, a)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func modifyAggregate(agg command.Aggregate, name string, m call) (command.Command, error) {
	if name == "toArray" || name == "pretty" {
		return agg, checkArgs(m, 0, 0)
	}
	if err := checkArgs(m, 1, 1); err != nil {
		return nil, err
	}
	a := m.args[0]
	var err error
	switch name {
	case "limit":
		agg.Limit, err = nonNegative(a.value, a.pos, m.name, "limit")
	case "batchSize":
		agg.BatchSize, err = batchSize(a.value, a.pos, m.name)
	default:
		agg.Options, err = setOption(agg.Options, name, a)
	}
	if err != nil {
		return nil, err
	}
	return agg, nil
}

func modifyWatch(w command.Watch, name string, m call) (command.Command, error) {
	if err := checkArgs(m, 1, 1); err != nil {
		return nil, err
	}
	a := m.args[0]
	var err error
	switch name {
	case "limit":
		w.Limit, err = nonNegative(a.value, a.pos, m.name, "limit")
	case "batchSize":
		w.BatchSize, err = batchSize(a.value, a.pos, m.name)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// setOption stores a typed option modifier in the options document
func setOption(opts *command.Document, name string, a argument) (*command.Document, error) {
	if !optionModifiers[name] {
		return opts, nil
	}
	switch name {
	case "maxTimeMS":
		if _, err := nonNegative(a.value, a.pos, name, name); err != nil {
			return nil, err
		}
	case "allowDiskUse", "noCursorTimeout":
		if _, err := a.boolean(name, name); err != nil {
			return nil, err
		}
	case "collation":
		if _, err := a.requiredDocument(name, name); err != nil {
			return nil, err
		}
	case "hint":
		switch a.value.Kind() {
		case command.KindString, command.KindDocument:
		default:
			return nil, command.NewValidationError(a.pos, name, "hint must be an index name or a key document")
		}
	}
	return opts.With(name, a.value), nil
}
