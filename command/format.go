package command

import (
	"encoding/base64"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// String returns the value as shell literal text
func (v Value) String() string {
	var sb strings.Builder
	writeValue(&sb, v)
	return sb.String()
}

// String returns the document as shell literal text
func (d *Document) String() string {
	var sb strings.Builder
	writeDocument(&sb, d)
	return sb.String()
}

func writeValue(sb *strings.Builder, v Value) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case KindInt32:
		sb.WriteString("NumberInt(" + strconv.FormatInt(v.i, 10) + ")")
	case KindInt64:
		sb.WriteString("NumberLong(" + strconv.FormatInt(v.i, 10) + ")")
	case KindDouble:
		sb.WriteString(formatDouble(v.f))
	case KindDecimal:
		sb.WriteString("NumberDecimal(" + quote(v.dec.String()) + ")")
	case KindString:
		sb.WriteString(quote(v.s))
	case KindArray:
		sb.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, item)
		}
		sb.WriteByte(']')
	case KindDocument:
		writeDocument(sb, v.doc)
	case KindObjectID:
		sb.WriteString("ObjectId(" + quote(v.oid.Hex()) + ")")
	case KindDate:
		if y := v.t.Year(); y >= 0 && y <= 9999 {
			sb.WriteString("ISODate(" + quote(v.t.Format("2006-01-02T15:04:05.000Z07:00")) + ")")
		} else {
			sb.WriteString("Date(" + strconv.FormatInt(v.t.UnixMilli(), 10) + ")")
		}
	case KindRegex:
		writeRegex(sb, v.s, v.opts)
	case KindTimestamp:
		sb.WriteString("Timestamp(" + strconv.FormatUint(uint64(v.ts.T), 10) + ", " + strconv.FormatUint(uint64(v.ts.I), 10) + ")")
	case KindBinary:
		if v.bin.Subtype == 4 && len(v.bin.Data) == 16 {
			id, _ := uuid.FromBytes(v.bin.Data)
			sb.WriteString("UUID(" + quote(id.String()) + ")")
			return
		}
		sb.WriteString("BinData(" + strconv.Itoa(int(v.bin.Subtype)) + ", " + quote(base64.StdEncoding.EncodeToString(v.bin.Data)) + ")")
	case KindMinKey:
		sb.WriteString("MinKey()")
	case KindMaxKey:
		sb.WriteString("MaxKey()")
	}
}

func writeDocument(sb *strings.Builder, d *Document) {
	if d.IsEmpty() {
		sb.WriteString("{}")
		return
	}
	sb.WriteByte('{')
	for i, e := range d.elems {
		if i > 0 {
			sb.WriteString(", ")
		}
		if IsIdentifier(e.Key) {
			sb.WriteString(e.Key)
		} else {
			sb.WriteString(quote(e.Key))
		}
		sb.WriteString(": ")
		writeValue(sb, e.Value)
	}
	sb.WriteByte('}')
}

func writeRegex(sb *strings.Builder, pattern, options string) {
	literal := pattern != "" &&
		!strings.ContainsAny(pattern, "/\n\r") &&
		!strings.HasPrefix(pattern, "*") &&
		!endsWithEscape(pattern)
	for _, r := range options {
		if r < 'a' || r > 'z' {
			literal = false
		}
	}
	if literal {
		sb.WriteString("/" + pattern + "/" + options)
		return
	}
	sb.WriteString("RegExp(" + quote(pattern))
	if options != "" {
		sb.WriteString(", " + quote(options))
	}
	sb.WriteByte(')')
}

func endsWithEscape(s string) bool {
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

func formatDouble(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case math.IsNaN(f):
		return "NaN"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// quote returns s as a double-quoted shell string literal
func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		case '\v':
			sb.WriteString(`\v`)
		default:
			if r < 0x20 || r == 0x7f {
				sb.WriteString(`\u00`)
				sb.WriteByte("0123456789abcdef"[r>>4])
				sb.WriteByte("0123456789abcdef"[r&0xf])
				continue
			}
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// IsIdentifier reports whether s can be written without quotes as a key
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func isCollectionPath(name string) bool {
	if name == "" {
		return false
	}
	for _, seg := range strings.Split(name, ".") {
		if !IsIdentifier(seg) {
			return false
		}
	}
	return true
}

func dbPrefix(ns Namespace) string {
	if ns.Database == "" {
		return "db"
	}
	return "db.getSiblingDB(" + quote(ns.Database) + ")"
}

func collectionPrefix(ns Namespace) string {
	if ns.Collection == "" {
		return dbPrefix(ns)
	}
	if isCollectionPath(ns.Collection) {
		return dbPrefix(ns) + "." + ns.Collection
	}
	return dbPrefix(ns) + ".getCollection(" + quote(ns.Collection) + ")"
}

func call(name string, args ...string) string {
	return name + "(" + strings.Join(args, ", ") + ")"
}

func docOrEmpty(d *Document) string {
	return d.String()
}

func pipelineString(stages []*Document) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = s.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func valuesString(values []Value) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out
}

func (c Find) String() string {
	verb := "find"
	opts := c.Options
	if c.One {
		verb = "findOne"
		if c.Sort != nil {
			opts = opts.With("sort", Doc(c.Sort))
		}
		if c.Skip > 0 {
			opts = opts.With("skip", Int(c.Skip))
		}
	}
	var args []string
	switch {
	case !opts.IsEmpty():
		args = []string{docOrEmpty(c.Filter), docOrEmpty(c.Projection), opts.String()}
	case c.Projection != nil:
		args = []string{docOrEmpty(c.Filter), c.Projection.String()}
	case c.Filter != nil:
		args = []string{c.Filter.String()}
	}
	s := collectionPrefix(c.Namespace) + "." + call(verb, args...)
	if c.One {
		return s
	}
	if c.Sort != nil {
		s += "." + call("sort", c.Sort.String())
	}
	if c.Skip > 0 {
		s += "." + call("skip", strconv.FormatInt(c.Skip, 10))
	}
	if c.Limit > 0 {
		s += "." + call("limit", strconv.FormatInt(c.Limit, 10))
	}
	if c.BatchSize > 0 {
		s += "." + call("batchSize", strconv.FormatInt(int64(c.BatchSize), 10))
	}
	return s
}

func (c Aggregate) String() string {
	args := []string{pipelineString(c.Pipeline)}
	if !c.Options.IsEmpty() {
		args = append(args, c.Options.String())
	}
	s := collectionPrefix(c.Namespace) + "." + call("aggregate", args...)
	if c.BatchSize > 0 {
		s += "." + call("batchSize", strconv.FormatInt(int64(c.BatchSize), 10))
	}
	if c.Limit > 0 {
		s += "." + call("limit", strconv.FormatInt(c.Limit, 10))
	}
	return s
}

func (c Insert) String() string {
	var args []string
	if c.Many {
		args = append(args, pipelineString(c.Documents))
	} else if len(c.Documents) > 0 {
		args = append(args, c.Documents[0].String())
	}
	if !c.Options.IsEmpty() {
		args = append(args, c.Options.String())
	}
	verb := "insertOne"
	if c.Many {
		verb = "insertMany"
	}
	return collectionPrefix(c.Namespace) + "." + call(verb, args...)
}

func (c Update) String() string {
	args := []string{docOrEmpty(c.Filter), c.Update.String()}
	if !c.Options.IsEmpty() {
		args = append(args, c.Options.String())
	}
	return collectionPrefix(c.Namespace) + "." + call(c.Mode.String(), args...)
}

func (c Delete) String() string {
	args := []string{docOrEmpty(c.Filter)}
	if !c.Options.IsEmpty() {
		args = append(args, c.Options.String())
	}
	return collectionPrefix(c.Namespace) + "." + call(c.Mode.String(), args...)
}

func (c Count) String() string {
	var args []string
	if c.Mode != EstimatedDocumentCount && (c.Filter != nil || !c.Options.IsEmpty()) {
		args = append(args, docOrEmpty(c.Filter))
	}
	if !c.Options.IsEmpty() {
		args = append(args, c.Options.String())
	}
	return collectionPrefix(c.Namespace) + "." + call(c.Mode.String(), args...)
}

func (c Distinct) String() string {
	args := []string{quote(c.Key)}
	if c.Filter != nil || !c.Options.IsEmpty() {
		args = append(args, docOrEmpty(c.Filter))
	}
	if !c.Options.IsEmpty() {
		args = append(args, c.Options.String())
	}
	return collectionPrefix(c.Namespace) + "." + call("distinct", args...)
}

func (c CreateCollection) String() string {
	args := []string{quote(c.Namespace.Collection)}
	if !c.Options.IsEmpty() {
		args = append(args, c.Options.String())
	}
	return dbPrefix(c.Namespace) + "." + call("createCollection", args...)
}

func (c DropCollection) String() string {
	var args []string
	if !c.Options.IsEmpty() {
		args = append(args, c.Options.String())
	}
	return collectionPrefix(c.Namespace) + "." + call("drop", args...)
}

func (c RenameCollection) String() string {
	args := []string{quote(c.To)}
	if c.DropTarget {
		args = append(args, "true")
	}
	return collectionPrefix(c.Namespace) + "." + call("renameCollection", args...)
}

func (c CollStats) String() string {
	verb := "stats"
	switch c.Field {
	case "size":
		verb = "dataSize"
	case "storageSize":
		verb = "storageSize"
	case "totalIndexSize":
		verb = "totalIndexSize"
	}
	var args []string
	if c.Scale > 0 {
		args = append(args, strconv.FormatInt(c.Scale, 10))
	}
	return collectionPrefix(c.Namespace) + "." + call(verb, args...)
}

func (c CreateIndex) String() string {
	var args []string
	var opts *Document
	if c.Many {
		keys := make([]*Document, len(c.Indexes))
		for i, idx := range c.Indexes {
			keys[i] = idx.Keys
		}
		args = append(args, pipelineString(keys))
	} else if len(c.Indexes) > 0 {
		args = append(args, c.Indexes[0].Keys.String())
	}
	if len(c.Indexes) > 0 {
		opts = c.Indexes[0].Options
	}
	if !opts.IsEmpty() || !c.CommitQuorum.IsNull() {
		args = append(args, docOrEmpty(opts))
	}
	if !c.CommitQuorum.IsNull() {
		args = append(args, c.CommitQuorum.String())
	}
	verb := "createIndex"
	if c.Many {
		verb = "createIndexes"
	}
	return collectionPrefix(c.Namespace) + "." + call(verb, args...)
}

func (c DropIndex) String() string {
	if c.Many {
		if s, ok := c.Index.AsString(); ok && s == "*" {
			return collectionPrefix(c.Namespace) + "." + call("dropIndexes")
		}
		return collectionPrefix(c.Namespace) + "." + call("dropIndexes", c.Index.String())
	}
	return collectionPrefix(c.Namespace) + "." + call("dropIndex", c.Index.String())
}

func (c HideIndex) String() string {
	verb := "unhideIndex"
	if c.Hidden {
		verb = "hideIndex"
	}
	return collectionPrefix(c.Namespace) + "." + call(verb, c.Index.String())
}

func (c ListIndexes) String() string {
	return collectionPrefix(c.Namespace) + "." + call("getIndexes")
}

func (c Watch) String() string {
	opts := c.Options
	if c.FullDocument != "" {
		opts = opts.With("fullDocument", String(c.FullDocument))
	}
	var args []string
	if c.Pipeline != nil || !opts.IsEmpty() {
		args = append(args, pipelineString(c.Pipeline))
	}
	if !opts.IsEmpty() {
		args = append(args, opts.String())
	}
	s := collectionPrefix(c.Namespace) + "." + call("watch", args...)
	if c.BatchSize > 0 {
		s += "." + call("batchSize", strconv.FormatInt(int64(c.BatchSize), 10))
	}
	if c.Limit > 0 {
		s += "." + call("limit", strconv.FormatInt(c.Limit, 10))
	}
	return s
}

func (c AdminCommand) String() string {
	prefix := "db"
	if !c.FixedDatabase {
		prefix = dbPrefix(c.Namespace)
	}
	return prefix + "." + call(c.Helper, valuesString(c.Args)...)
}

func (c ReplSetCommand) String() string {
	return "rs." + call(c.Helper, valuesString(c.Args)...)
}
