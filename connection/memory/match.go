package memory

import (
	"math"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// matches reports whether doc satisfies a query filter
func matches(doc bson.D, filter bson.D) (bool, error) {
	for _, e := range filter {
		ok, err := matchElement(doc, e)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchElement(doc bson.D, e bson.E) (bool, error) {
	switch e.Key {
	case "$and", "$or", "$nor":
		clauses, ok := e.Value.(bson.A)
		if !ok || len(clauses) == 0 {
			return false, badValue("%s must be a nonempty array", e.Key)
		}
		for _, clause := range clauses {
			sub, ok := clause.(bson.D)
			if !ok {
				return false, badValue("%s argument's entries must be objects", e.Key)
			}
			ok, err := matches(doc, sub)
			if err != nil {
				return false, err
			}
			switch {
			case e.Key == "$and" && !ok:
				return false, nil
			case e.Key == "$or" && ok:
				return true, nil
			case e.Key == "$nor" && ok:
				return false, nil
			}
		}
		return e.Key != "$or", nil
	case "$expr":
		v, err := evalExpr(doc, e.Value)
		if err != nil {
			return false, err
		}
		return truthy(v), nil
	case "$comment":
		return true, nil
	}
	if strings.HasPrefix(e.Key, "$") {
		return false, badValue("unknown top level operator: %s", e.Key)
	}
	return matchField(lookup(doc, splitPath(e.Key)), e.Value)
}

// isOperatorDoc reports whether a condition is an operator document such
// as {$gt: 1} rather than a literal document
func isOperatorDoc(v interface{}) (bson.D, bool) {
	d, ok := v.(bson.D)
	if !ok || len(d) == 0 || !strings.HasPrefix(d[0].Key, "$") {
		return nil, false
	}
	return d, true
}

// matchField applies a condition to the values a path reached
func matchField(vals []interface{}, cond interface{}) (bool, error) {
	if ops, ok := isOperatorDoc(cond); ok {
		for _, op := range ops {
			ok, err := matchOperator(vals, op, ops)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	if re, ok := cond.(primitive.Regex); ok {
		return matchRegex(vals, re.Pattern, re.Options)
	}
	return matchEq(vals, cond), nil
}

func matchEq(vals []interface{}, target interface{}) bool {
	if target == nil && len(vals) == 0 {
		return true
	}
	for _, v := range expand(vals) {
		if equal(v, target) {
			return true
		}
	}
	return false
}

func matchCompare(vals []interface{}, target interface{}, accept func(int) bool) bool {
	for _, v := range expand(vals) {
		if rank(v) == rank(target) && accept(compare(v, target)) {
			return true
		}
	}
	return false
}

func matchOperator(vals []interface{}, op bson.E, all bson.D) (bool, error) {
	switch op.Key {
	case "$eq":
		return matchEq(vals, op.Value), nil
	case "$ne":
		return !matchEq(vals, op.Value), nil
	case "$gt":
		return matchCompare(vals, op.Value, func(c int) bool { return c > 0 }), nil
	case "$gte":
		return matchCompare(vals, op.Value, func(c int) bool { return c >= 0 }), nil
	case "$lt":
		return matchCompare(vals, op.Value, func(c int) bool { return c < 0 }), nil
	case "$lte":
		return matchCompare(vals, op.Value, func(c int) bool { return c <= 0 }), nil
	case "$in", "$nin":
		in, err := matchIn(vals, op)
		if err != nil {
			return false, err
		}
		return in == (op.Key == "$in"), nil
	case "$exists":
		return truthy(op.Value) == (len(vals) > 0), nil
	case "$regex":
		options, _ := get(all, "$options")
		opts, _ := options.(string)
		switch p := op.Value.(type) {
		case string:
			return matchRegex(vals, p, opts)
		case primitive.Regex:
			if opts == "" {
				opts = p.Options
			}
			return matchRegex(vals, p.Pattern, opts)
		}
		return false, badValue("$regex has to be a string")
	case "$options":
		if _, ok := get(all, "$regex"); !ok {
			return false, badValue("$options needs a $regex")
		}
		return true, nil
	case "$not":
		switch c := op.Value.(type) {
		case primitive.Regex:
			ok, err := matchRegex(vals, c.Pattern, c.Options)
			return !ok, err
		case bson.D:
			if _, ok := isOperatorDoc(c); !ok {
				return false, badValue("$not needs a regex or a document")
			}
			ok, err := matchField(vals, c)
			return !ok, err
		}
		return false, badValue("$not needs a regex or a document")
	case "$size":
		n, ok := integer(op.Value)
		if !ok {
			return false, badValue("$size needs a number")
		}
		for _, v := range vals {
			if arr, ok := v.(bson.A); ok && int64(len(arr)) == n {
				return true, nil
			}
		}
		return false, nil
	case "$all":
		want, ok := op.Value.(bson.A)
		if !ok {
			return false, badValue("$all needs an array")
		}
		if len(want) == 0 {
			return false, nil
		}
		for _, w := range want {
			ok, err := matchField(vals, w)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case "$elemMatch":
		cond, ok := op.Value.(bson.D)
		if !ok {
			return false, badValue("$elemMatch needs an Object")
		}
		return matchElem(vals, cond)
	case "$type":
		return matchType(vals, op.Value)
	case "$mod":
		args, ok := op.Value.(bson.A)
		if !ok || len(args) != 2 {
			return false, badValue("malformed mod, needs to be an array of two numbers")
		}
		div, ok1 := number(args[0])
		rem, ok2 := number(args[1])
		if !ok1 || !ok2 {
			return false, badValue("malformed mod, divisor and remainder must be numbers")
		}
		if div == 0 {
			return false, badValue("divisor cannot be 0")
		}
		for _, v := range expand(vals) {
			if n, ok := number(v); ok && math.Trunc(math.Mod(math.Trunc(n), math.Trunc(div))) == math.Trunc(rem) {
				return true, nil
			}
		}
		return false, nil
	case "$comment":
		return true, nil
	}
	return false, badValue("unknown operator: %s", op.Key)
}

func matchIn(vals []interface{}, op bson.E) (bool, error) {
	candidates, ok := op.Value.(bson.A)
	if !ok {
		return false, badValue("%s needs an array", op.Key)
	}
	for _, c := range candidates {
		if re, ok := c.(primitive.Regex); ok {
			matched, err := matchRegex(vals, re.Pattern, re.Options)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
			continue
		}
		if matchEq(vals, c) {
			return true, nil
		}
	}
	return false, nil
}

func matchElem(vals []interface{}, cond bson.D) (bool, error) {
	_, operators := isOperatorDoc(cond)
	for _, v := range vals {
		arr, ok := v.(bson.A)
		if !ok {
			continue
		}
		for _, item := range arr {
			var (
				matched bool
				err     error
			)
			if operators {
				matched, err = matchField([]interface{}{item}, cond)
			} else if d, ok := item.(bson.D); ok {
				matched, err = matches(d, cond)
			}
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
	}
	return false, nil
}

func matchType(vals []interface{}, spec interface{}) (bool, error) {
	var wanted []interface{}
	if arr, ok := spec.(bson.A); ok {
		wanted = arr
	} else {
		wanted = []interface{}{spec}
	}

	codes := make(map[int32]bool, len(wanted))
	numeric := false
	for _, w := range wanted {
		switch t := w.(type) {
		case string:
			if t == "number" {
				numeric = true
				continue
			}
			code, ok := typeAliases[t]
			if !ok {
				return false, badValue("Unknown type name alias: %s", t)
			}
			codes[code] = true
		default:
			n, ok := integer(w)
			if !ok {
				return false, badValue("type must be represented as a number or a string")
			}
			codes[int32(n)] = true
		}
	}

	for _, v := range vals {
		if codes[typeCode(v)] {
			return true, nil
		}
	}
	for _, v := range expand(vals) {
		if codes[typeCode(v)] || (numeric && rank(v) == 3) {
			return true, nil
		}
	}
	return false, nil
}

func matchRegex(vals []interface{}, pattern, options string) (bool, error) {
	re, err := compileRegex(pattern, options)
	if err != nil {
		return false, err
	}
	for _, v := range expand(vals) {
		switch s := v.(type) {
		case string:
			if re.MatchString(s) {
				return true, nil
			}
		case primitive.Regex:
			if s.Pattern == pattern && s.Options == options {
				return true, nil
			}
		}
	}
	return false, nil
}

// compileRegex translates server regex options to Go flags. The x, l and u
// options have no Go counterpart and are accepted without effect.
func compileRegex(pattern, options string) (*regexp.Regexp, error) {
	flags := ""
	for _, f := range options {
		switch f {
		case 'i', 'm', 's':
			flags += string(f)
		case 'x', 'l', 'u':
		default:
			return nil, badValue("invalid flag in regex options: %c", f)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, commandError(codeBadValue, "Regular expression is invalid: %v", err)
	}
	return re, nil
}
