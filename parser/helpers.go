package parser

import (
	"math"
	"strings"

	"github.com/hadi77ir/go-mongosh/command"
)

// checkArgs validates the number of arguments of a call. hi < 0 means no
// upper bound.
func checkArgs(c call, lo, hi int) error {
	n := len(c.args)
	switch {
	case n < lo && lo == hi:
		return command.NewValidationError(c.pos, c.name, "expects %d argument(s), got %d", lo, n)
	case n < lo:
		return command.NewValidationError(c.pos, c.name, "expects at least %d argument(s), got %d", lo, n)
	case hi >= 0 && n > hi:
		return command.NewValidationError(c.args[hi].pos, c.name, "expects at most %d argument(s), got %d", hi, n)
	}
	return nil
}

// arg returns the i-th argument, or a null argument positioned at the call
func (c call) arg(i int) argument {
	if i < len(c.args) {
		return c.args[i]
	}
	return argument{value: command.Null(), pos: c.pos}
}

// has reports whether the i-th argument is present and not null
func (c call) has(i int) bool {
	return i < len(c.args) && !c.args[i].value.IsNull()
}

func (a argument) document(method, what string) (*command.Document, error) {
	if a.value.IsNull() {
		return nil, nil
	}
	d, ok := a.value.AsDocument()
	if !ok {
		return nil, command.NewValidationError(a.pos, method, "%s must be a document, got %s", what, a.value.Kind())
	}
	return d, nil
}

func (a argument) requiredDocument(method, what string) (*command.Document, error) {
	d, ok := a.value.AsDocument()
	if !ok {
		return nil, command.NewValidationError(a.pos, method, "%s must be a document, got %s", what, a.value.Kind())
	}
	return d, nil
}

func (a argument) str(method, what string) (string, error) {
	s, ok := a.value.AsString()
	if !ok {
		return "", command.NewValidationError(a.pos, method, "%s must be a string, got %s", what, a.value.Kind())
	}
	return s, nil
}

func (a argument) integer(method, what string) (int64, error) {
	n, ok := a.value.AsInt()
	if !ok {
		return 0, command.NewValidationError(a.pos, method, "%s must be an integer, got %s", what, a.value.Kind())
	}
	return n, nil
}

func (a argument) boolean(method, what string) (bool, error) {
	b, ok := a.value.AsBool()
	if !ok {
		return false, command.NewValidationError(a.pos, method, "%s must be a boolean, got %s", what, a.value.Kind())
	}
	return b, nil
}

// documents converts an array argument into a list of documents
func (a argument) documents(method, what string) ([]*command.Document, error) {
	items, ok := a.value.AsArray()
	if !ok {
		return nil, command.NewValidationError(a.pos, method, "%s must be an array, got %s", what, a.value.Kind())
	}
	out := make([]*command.Document, 0, len(items))
	for i, item := range items {
		d, ok := item.AsDocument()
		if !ok {
			return nil, command.NewValidationError(a.pos, method, "%s[%d] must be a document, got %s", what, i, item.Kind())
		}
		out = append(out, d)
	}
	return out, nil
}

// nonNegative validates a count-like value
func nonNegative(v command.Value, pos command.Position, method, what string) (int64, error) {
	n, ok := v.AsInt()
	if !ok {
		return 0, command.NewValidationError(pos, method, "%s must be an integer, got %s", what, v.Kind())
	}
	if n < 0 {
		return 0, command.NewValidationError(pos, method, "%s must not be negative", what)
	}
	return n, nil
}

// batchSize validates a batch size value
func batchSize(v command.Value, pos command.Position, method string) (int32, error) {
	n, err := nonNegative(v, pos, method, "batchSize")
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt32 {
		return 0, command.NewValidationError(pos, method, "batchSize %d out of range", n)
	}
	return int32(n), nil
}

// emptyToNil normalizes empty documents to nil so that {} and an omitted
// argument build equal Commands
func emptyToNil(d *command.Document) *command.Document {
	if d.IsEmpty() {
		return nil
	}
	return d
}

func emptyPipeline(p []*command.Document) []*command.Document {
	if len(p) == 0 {
		return nil
	}
	return p
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// hasOperators reports whether any top-level key starts with '$'
func hasOperators(d *command.Document) (all, some bool) {
	keys := d.Keys()
	if len(keys) == 0 {
		return false, false
	}
	all = true
	for _, k := range keys {
		if strings.HasPrefix(k, "$") {
			some = true
		} else {
			all = false
		}
	}
	return all, some
}
