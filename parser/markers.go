package parser

import (
	"encoding/base64"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hadi77ir/go-mongosh/command"
)

// constructor builds a special value from a constructor call such as
// ObjectId("...") or ISODate("...")
type constructor func(p *Parser, c call) (command.Value, error)

var constructors = map[string]constructor{
	"ObjectId":      newObjectID,
	"ISODate":       newDate,
	"Date":          newDate,
	"NumberInt":     newNumberInt,
	"NumberLong":    newNumberLong,
	"NumberDecimal": newNumberDecimal,
	"NumberDouble":  newNumberDouble,
	"Number":        newNumberDouble,
	"Boolean":       newBoolean,
	"String":        newString,
	"Array":         newArray,
	"Object":        newObject,
	"Timestamp":     newTimestamp,
	"UUID":          newUUID,
	"BinData":       newBinData,
	"HexData":       newHexData,
	"RegExp":        newRegExp,
	"MinKey":        newMinKey,
	"MaxKey":        newMaxKey,
}

// dateLayouts are tried in order when parsing date strings. Layouts without
// a zone are read as UTC.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

func newObjectID(p *Parser, c call) (command.Value, error) {
	if err := checkArgs(c, 0, 1); err != nil {
		return command.Value{}, err
	}
	if len(c.args) == 0 {
		p.volatile = true
		return command.ObjectID(primitive.NewObjectID()), nil
	}
	s, err := c.args[0].str(c.name, "id")
	if err != nil {
		return command.Value{}, err
	}
	oid, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return command.Value{}, command.NewValidationError(c.args[0].pos, c.name, "invalid object id %q: expected 24 hex characters", s)
	}
	return command.ObjectID(oid), nil
}

func newDate(p *Parser, c call) (command.Value, error) {
	if err := checkArgs(c, 0, 7); err != nil {
		return command.Value{}, err
	}
	switch len(c.args) {
	case 0:
		p.volatile = true
		return command.Date(p.now()), nil
	case 1:
		a := c.args[0]
		if s, ok := a.value.AsString(); ok {
			t, err := parseDate(s)
			if err != nil {
				return command.Value{}, command.NewValidationError(a.pos, c.name, "invalid date %q", s)
			}
			return command.Date(t), nil
		}
		if t, ok := a.value.AsTime(); ok {
			return command.Date(t), nil
		}
		if f, ok := a.value.AsFloat(); ok {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return command.Value{}, command.NewValidationError(a.pos, c.name, "invalid epoch milliseconds %v", f)
			}
			return command.Date(time.UnixMilli(int64(f)).UTC()), nil
		}
		return command.Value{}, command.NewValidationError(a.pos, c.name, "expected a date string or epoch milliseconds, got %s", a.value.Kind())
	}

	// year, month (0-based), day, hours, minutes, seconds, milliseconds
	parts := [7]int64{0, 0, 1, 0, 0, 0, 0}
	for i, a := range c.args {
		n, err := a.integer(c.name, "date component")
		if err != nil {
			return command.Value{}, err
		}
		parts[i] = n
	}
	t := time.Date(int(parts[0]), time.Month(parts[1]+1), int(parts[2]),
		int(parts[3]), int(parts[4]), int(parts[5]), int(parts[6])*int(time.Millisecond), time.UTC)
	return command.Date(t), nil
}

// parseDate parses an ISO-8601 date string
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var err error
	for _, layout := range dateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

func newNumberInt(p *Parser, c call) (command.Value, error) {
	if err := checkArgs(c, 0, 1); err != nil {
		return command.Value{}, err
	}
	if len(c.args) == 0 {
		return command.Int32(0), nil
	}
	n, err := integerOrString(c.name, c.args[0])
	if err != nil {
		return command.Value{}, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return command.Value{}, command.NewValidationError(c.args[0].pos, c.name, "value %d out of 32-bit range", n)
	}
	return command.Int32(int32(n)), nil
}

func newNumberLong(p *Parser, c call) (command.Value, error) {
	if err := checkArgs(c, 0, 1); err != nil {
		return command.Value{}, err
	}
	if len(c.args) == 0 {
		return command.Int64(0), nil
	}
	n, err := integerOrString(c.name, c.args[0])
	if err != nil {
		return command.Value{}, err
	}
	return command.Int64(n), nil
}

// integerOrString reads an integer given as a number or as decimal text
func integerOrString(method string, a argument) (int64, error) {
	if s, ok := a.value.AsString(); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, command.NewValidationError(a.pos, method, "invalid integer %q", s)
		}
		return n, nil
	}
	return a.integer(method, "value")
}

func newNumberDecimal(p *Parser, c call) (command.Value, error) {
	if err := checkArgs(c, 0, 1); err != nil {
		return command.Value{}, err
	}
	text := "0"
	if len(c.args) == 1 {
		a := c.args[0]
		switch a.value.Kind() {
		case command.KindString:
			text, _ = a.value.AsString()
		case command.KindInt, command.KindInt32, command.KindInt64:
			n, _ := a.value.AsInt()
			text = strconv.FormatInt(n, 10)
		case command.KindDouble:
			f, _ := a.value.AsFloat()
			text = strconv.FormatFloat(f, 'g', -1, 64)
		default:
			return command.Value{}, command.NewValidationError(a.pos, c.name, "expected a string or number, got %s", a.value.Kind())
		}
	}
	d, err := primitive.ParseDecimal128(strings.TrimSpace(text))
	if err != nil {
		return command.Value{}, command.NewValidationError(c.pos, c.name, "invalid decimal %q", text)
	}
	return command.Decimal(d), nil
}

func newNumberDouble(p *Parser, c call) (command.Value, error) {
	if err := checkArgs(c, 0, 1); err != nil {
		return command.Value{}, err
	}
	if len(c.args) == 0 {
		return command.Double(0), nil
	}
	a := c.args[0]
	if f, ok := a.value.AsFloat(); ok {
		return command.Double(f), nil
	}
	s, ok := a.value.AsString()
	if !ok {
		return command.Value{}, command.NewValidationError(a.pos, c.name, "expected a number or a string, got %s", a.value.Kind())
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "infinity", "+infinity":
		return command.Double(math.Inf(1)), nil
	case "-infinity":
		return command.Double(math.Inf(-1)), nil
	case "nan":
		return command.Double(math.NaN()), nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return command.Value{}, command.NewValidationError(a.pos, c.name, "invalid number %q", s)
	}
	return command.Double(f), nil
}

func newBoolean(p *Parser, c call) (command.Value, error) {
	if err := checkArgs(c, 0, 1); err != nil {
		return command.Value{}, err
	}
	if len(c.args) == 0 {
		return command.Bool(false), nil
	}
	a := c.args[0]
	if b, ok := a.value.AsBool(); ok {
		return command.Bool(b), nil
	}
	if f, ok := a.value.AsFloat(); ok {
		return command.Bool(f != 0), nil
	}
	if s, ok := a.value.AsString(); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1":
			return command.Bool(true), nil
		case "false", "0":
			return command.Bool(false), nil
		}
		return command.Value{}, command.NewValidationError(a.pos, c.name, "string %q is neither true nor false", s)
	}
	return command.Value{}, command.NewValidationError(a.pos, c.name, "expected a boolean, number or string, got %s", a.value.Kind())
}

func newString(p *Parser, c call) (command.Value, error) {
	if err := checkArgs(c, 0, 1); err != nil {
		return command.Value{}, err
	}
	if len(c.args) == 0 {
		return command.String(""), nil
	}
	a := c.args[0]
	switch a.value.Kind() {
	case command.KindString:
		return a.value, nil
	case command.KindInt, command.KindInt32, command.KindInt64:
		n, _ := a.value.AsInt()
		return command.String(strconv.FormatInt(n, 10)), nil
	case command.KindDouble:
		f, _ := a.value.AsFloat()
		return command.String(strconv.FormatFloat(f, 'f', -1, 64)), nil
	}
	return command.Value{}, command.NewValidationError(a.pos, c.name, "expected a string or number, got %s", a.value.Kind())
}

func newArray(p *Parser, c call) (command.Value, error) {
	values := make([]command.Value, len(c.args))
	for i, a := range c.args {
		values[i] = a.value
	}
	return command.Array(values...), nil
}

func newObject(p *Parser, c call) (command.Value, error) {
	if err := checkArgs(c, 0, 1); err != nil {
		return command.Value{}, err
	}
	if len(c.args) == 0 {
		return command.Doc(command.D()), nil
	}
	d, err := c.args[0].requiredDocument(c.name, "argument")
	if err != nil {
		return command.Value{}, err
	}
	return command.Doc(d), nil
}

func newTimestamp(p *Parser, c call) (command.Value, error) {
	if err := checkArgs(c, 0, 2); err != nil {
		return command.Value{}, err
	}
	switch len(c.args) {
	case 0:
		return command.Timestamp(0, 0), nil
	case 1:
		a := c.args[0]
		d, err := a.requiredDocument(c.name, "argument")
		if err != nil {
			return command.Value{}, err
		}
		tv, hasT := d.Get("t")
		iv, hasI := d.Get("i")
		if !hasT || !hasI || d.Len() != 2 {
			return command.Value{}, command.NewValidationError(a.pos, c.name, "expected {t: <seconds>, i: <increment>}")
		}
		t, err := uint32Arg(c.name, argument{value: tv, pos: a.pos}, "t")
		if err != nil {
			return command.Value{}, err
		}
		i, err := uint32Arg(c.name, argument{value: iv, pos: a.pos}, "i")
		if err != nil {
			return command.Value{}, err
		}
		return command.Timestamp(t, i), nil
	}
	t, err := uint32Arg(c.name, c.args[0], "t")
	if err != nil {
		return command.Value{}, err
	}
	i, err := uint32Arg(c.name, c.args[1], "i")
	if err != nil {
		return command.Value{}, err
	}
	return command.Timestamp(t, i), nil
}

func uint32Arg(method string, a argument, what string) (uint32, error) {
	n, err := a.integer(method, what)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > math.MaxUint32 {
		return 0, command.NewValidationError(a.pos, method, "%s %d out of range", what, n)
	}
	return uint32(n), nil
}

func newUUID(p *Parser, c call) (command.Value, error) {
	if err := checkArgs(c, 0, 1); err != nil {
		return command.Value{}, err
	}
	if len(c.args) == 0 {
		p.volatile = true
		id := uuid.New()
		return command.Binary(4, id[:]), nil
	}
	s, err := c.args[0].str(c.name, "uuid")
	if err != nil {
		return command.Value{}, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return command.Value{}, command.NewValidationError(c.args[0].pos, c.name, "invalid uuid %q", s)
	}
	return command.Binary(4, id[:]), nil
}

func newBinData(p *Parser, c call) (command.Value, error) {
	return binary(c, base64.StdEncoding.DecodeString, "base64")
}

func newHexData(p *Parser, c call) (command.Value, error) {
	return binary(c, hex.DecodeString, "hex")
}

func binary(c call, decode func(string) ([]byte, error), encoding string) (command.Value, error) {
	if err := checkArgs(c, 2, 2); err != nil {
		return command.Value{}, err
	}
	sub, err := c.args[0].integer(c.name, "subtype")
	if err != nil {
		return command.Value{}, err
	}
	if sub < 0 || sub > 255 {
		return command.Value{}, command.NewValidationError(c.args[0].pos, c.name, "subtype %d out of range", sub)
	}
	s, err := c.args[1].str(c.name, "data")
	if err != nil {
		return command.Value{}, err
	}
	data, err := decode(s)
	if err != nil {
		return command.Value{}, command.NewValidationError(c.args[1].pos, c.name, "invalid %s data", encoding)
	}
	return command.Binary(byte(sub), data), nil
}

func newRegExp(p *Parser, c call) (command.Value, error) {
	if err := checkArgs(c, 1, 2); err != nil {
		return command.Value{}, err
	}
	a := c.args[0]
	pattern, flags, ok := a.value.AsRegex()
	if !ok {
		s, err := a.str(c.name, "pattern")
		if err != nil {
			return command.Value{}, err
		}
		pattern = s
	}
	if len(c.args) == 2 {
		f, err := c.args[1].str(c.name, "flags")
		if err != nil {
			return command.Value{}, err
		}
		for _, r := range f {
			if !strings.ContainsRune(regexFlags, r) {
				return command.Value{}, command.NewValidationError(c.args[1].pos, c.name, "invalid regular expression flag '%c'", r)
			}
		}
		flags = f
	}
	return command.Regex(pattern, flags), nil
}

func newMinKey(p *Parser, c call) (command.Value, error) {
	if err := checkArgs(c, 0, 0); err != nil {
		return command.Value{}, err
	}
	return command.MinKey(), nil
}

func newMaxKey(p *Parser, c call) (command.Value, error) {
	if err := checkArgs(c, 0, 0); err != nil {
		return command.Value{}, err
	}
	return command.MaxKey(), nil
}
