package bridge

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"snare/pkg/fastjson"

	lua "github.com/yuin/gopher-lua"
)

// ErrMalformedArguments is returned when the argument payload is not a JSON array of objects.
var ErrMalformedArguments = errors.New("malformed arguments")

// TagString is the tag of the {"String": "<s>"} wrapper unwrapped to <s>.
const TagString = "String"

// Kind enumerates the argument variants accepted from the wire.
type Kind int

const (
	KindUnsupported Kind = iota
	KindString
	KindBool
	KindNumber
	KindTable
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindTable:
		return "table"
	default:
		return "unsupported"
	}
}

// Arg is one bridged argument value. Exactly one payload field is meaningful,
// selected by Kind. KindUnsupported carries the reason it will be dropped.
type Arg struct {
	Kind    Kind
	Str     string
	Bool    bool
	Num     float64
	Table   interface{} // map[string]interface{} or []interface{}
	Inexact bool        // Num is the nearest float64 to the literal
	Reason  string
}

// Args is the flattened argument mapping passed to on_request.
type Args map[string]Arg

// Classify maps a decoded JSON value onto the closed Arg variant.
func Classify(v interface{}) Arg {
	switch val := v.(type) {
	case string:
		return Arg{Kind: KindString, Str: val}
	case bool:
		return Arg{Kind: KindBool, Bool: val}
	case fastjson.Number:
		f, exact := NumberFromJSON(val)
		return Arg{Kind: KindNumber, Num: f, Inexact: !exact}
	case float64:
		return Arg{Kind: KindNumber, Num: val}
	case int:
		return Arg{Kind: KindNumber, Num: float64(val)}
	case int64:
		return Arg{Kind: KindNumber, Num: float64(val), Inexact: val > maxExactInt || val < -maxExactInt}
	case []interface{}:
		return Arg{Kind: KindTable, Table: val}
	case map[string]interface{}:
		if raw, ok := val[TagString]; ok {
			if s, ok := raw.(string); ok {
				return Arg{Kind: KindString, Str: s}
			}
			return unsupported("%q tag carries %s instead of a string", TagString, describe(raw))
		}
		if len(val) == 1 {
			for k := range val {
				if isTag(k) {
					return unsupported("unrecognized tag %q", k)
				}
			}
		}
		return Arg{Kind: KindTable, Table: val}
	case nil:
		return unsupported("null is not supported")
	default:
		return unsupported("unsupported value of type %T", v)
	}
}

func unsupported(format string, args ...interface{}) Arg {
	return Arg{Kind: KindUnsupported, Reason: fmt.Sprintf(format, args...)}
}

// isTag reports whether k looks like a variant tag (capitalised identifier).
func isTag(k string) bool {
	r, _ := utf8.DecodeRuneInString(k)
	return r != utf8.RuneError && unicode.IsUpper(r)
}

func describe(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]interface{}:
		return "an object"
	case []interface{}:
		return "an array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// ParseArgs decodes the argument wire format: a JSON array of objects.
// Blank input is treated as an empty array.
func ParseArgs(argsJSON string) ([]map[string]interface{}, error) {
	if strings.TrimSpace(argsJSON) == "" {
		return nil, nil
	}

	v, err := fastjson.DecodeValue(argsJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}

	arr, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON array, got %s", ErrMalformedArguments, describe(v))
	}

	objs := make([]map[string]interface{}, 0, len(arr))
	for i, item := range arr {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %s, expected an object", ErrMalformedArguments, i, describe(item))
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// Flatten merges argument objects with the default converter.
func Flatten(objs []map[string]interface{}) Args {
	return defaultConverter.Flatten(objs)
}

// Flatten merges argument objects in array order; a later object overwrites
// an earlier one for the same key. Unsupported values are reported and
// skipped, leaving any earlier value for that key in place.
func (c *Converter) Flatten(objs []map[string]interface{}) Args {
	args := make(Args)
	for i, obj := range objs {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			arg := Classify(obj[k])
			if arg.Kind == KindUnsupported {
				c.warn(fmt.Sprintf("$[%d].%s", i, k), "%s", arg.Reason)
				continue
			}
			args[k] = arg
		}
	}
	return args
}

// Table builds the Lua argument table for on_request.
func (c *Converter) Table(L *lua.LState, args Args) *lua.LTable {
	tbl := L.CreateTable(0, len(args))
	for k, arg := range args {
		lv, ok := c.argToLua(L, arg, "$."+k, 0)
		if !ok {
			continue
		}
		tbl.RawSetString(k, lv)
	}
	return tbl
}

func (c *Converter) argToLua(L *lua.LState, a Arg, path string, depth int) (lua.LValue, bool) {
	switch a.Kind {
	case KindString:
		return lua.LString(a.Str), true
	case KindBool:
		return lua.LBool(a.Bool), true
	case KindNumber:
		if a.Inexact {
			c.warn(path, "number rounded to %v", a.Num)
		}
		return lua.LNumber(a.Num), true
	case KindTable:
		return c.toLua(L, a.Table, path, depth+1)
	default:
		c.warn(path, "%s", a.Reason)
		return nil, false
	}
}

// Value returns the JSON model form of the argument.
func (a Arg) Value() interface{} {
	switch a.Kind {
	case KindString:
		return a.Str
	case KindBool:
		return a.Bool
	case KindNumber:
		return NumberFromLua(lua.LNumber(a.Num))
	case KindTable:
		return a.Table
	default:
		return nil
	}
}

// Values returns the JSON model form of every argument.
func (a Args) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(a))
	for k, arg := range a {
		out[k] = arg.Value()
	}
	return out
}
