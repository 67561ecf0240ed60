// Package bridge converts between the JSON value model used on the wire and
// the Lua value model of an embedded gopher-lua state.
//
// Conventions, held constant across the package:
//   - Lua sequences are 1-based. A JSON array [a, b] becomes {[1]=a, [2]=b}
//     and a table whose keys are exactly 1..n becomes a JSON array.
//   - All numbers are Lua numbers (float64). Integral values inside ±2^53
//     come back out as int64, everything else as float64.
//   - An empty table comes back out as an empty object.
//   - Values without a JSON or Lua counterpart are dropped and reported
//     through the Converter's Warn sink. Dropping never fails a conversion.
package bridge

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"snare/pkg/fastjson"

	"github.com/shopspring/decimal"
	lua "github.com/yuin/gopher-lua"
)

// maxExactInt is the largest magnitude at which every integer is representable as float64.
const maxExactInt = 1 << 53

// DefaultMaxDepth bounds nesting in both directions.
const DefaultMaxDepth = 64

// Diagnostic describes a value that was dropped or altered during conversion.
type Diagnostic struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (d Diagnostic) String() string {
	if d.Path == "" {
		return d.Reason
	}
	return d.Path + ": " + d.Reason
}

// Converter carries the diagnostic sink used while bridging values.
// The zero value is usable and logs diagnostics through slog.
type Converter struct {
	// Warn receives non-fatal diagnostics. nil means slog.Warn.
	Warn func(Diagnostic)
	// MaxDepth limits table nesting. Zero means DefaultMaxDepth.
	MaxDepth int
}

// NewConverter returns a Converter reporting to warn (slog when nil).
func NewConverter(warn func(Diagnostic)) *Converter {
	return &Converter{Warn: warn}
}

var defaultConverter = &Converter{}

// ToLua converts a JSON model value with the default converter.
func ToLua(L *lua.LState, v interface{}) lua.LValue {
	return defaultConverter.ToLua(L, v)
}

// FromLua converts a Lua value with the default converter.
func FromLua(v lua.LValue) interface{} {
	return defaultConverter.FromLua(v)
}

func (c *Converter) warn(path, format string, args ...interface{}) {
	d := Diagnostic{Path: path, Reason: fmt.Sprintf(format, args...)}
	if c == nil || c.Warn == nil {
		slog.Warn("⚠️  bridge: value dropped", "path", d.Path, "reason", d.Reason)
		return
	}
	c.Warn(d)
}

func (c *Converter) maxDepth() int {
	if c == nil || c.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return c.MaxDepth
}

// ToLua converts v (map[string]interface{}, []interface{}, string, bool,
// numbers, fastjson.Number, Arg, nil) into a Lua value owned by L.
// A top-level nil becomes lua.LNil; nested nils are dropped.
func (c *Converter) ToLua(L *lua.LState, v interface{}) lua.LValue {
	lv, ok := c.toLua(L, v, "$", 0)
	if !ok {
		return lua.LNil
	}
	return lv
}

func (c *Converter) toLua(L *lua.LState, v interface{}, path string, depth int) (lua.LValue, bool) {
	if depth > c.maxDepth() {
		c.warn(path, "nesting deeper than %d levels", c.maxDepth())
		return nil, false
	}

	switch val := v.(type) {
	case nil:
		if depth > 0 {
			c.warn(path, "null is not supported")
		}
		return lua.LNil, depth == 0
	case lua.LValue:
		return val, true
	case Arg:
		return c.argToLua(L, val, path, depth)
	case string:
		return lua.LString(val), true
	case bool:
		return lua.LBool(val), true
	case fastjson.Number:
		f, exact := NumberFromJSON(val)
		if !exact {
			c.warn(path, "number %s rounded to %s", val.String(), strconv.FormatFloat(f, 'g', -1, 64))
		}
		return lua.LNumber(f), true
	case float64:
		return lua.LNumber(val), true
	case float32:
		return lua.LNumber(val), true
	case int:
		return lua.LNumber(val), true
	case int32:
		return lua.LNumber(val), true
	case int64:
		if val > maxExactInt || val < -maxExactInt {
			c.warn(path, "integer %d rounded to float64", val)
		}
		return lua.LNumber(val), true
	case uint:
		return lua.LNumber(val), true
	case uint32:
		return lua.LNumber(val), true
	case uint64:
		if val > maxExactInt {
			c.warn(path, "integer %d rounded to float64", val)
		}
		return lua.LNumber(val), true
	case []interface{}:
		tbl := L.CreateTable(len(val), 0)
		for i, item := range val {
			child, ok := c.toLua(L, item, fmt.Sprintf("%s[%d]", path, i), depth+1)
			if !ok {
				continue
			}
			tbl.RawSetInt(i+1, child)
		}
		return tbl, true
	case map[string]interface{}:
		tbl := L.CreateTable(0, len(val))
		for k, item := range val {
			child, ok := c.toLua(L, item, path+"."+k, depth+1)
			if !ok {
				continue
			}
			tbl.RawSetString(k, child)
		}
		return tbl, true
	default:
		c.warn(path, "unsupported value of type %T", v)
		return nil, false
	}
}

// FromLua converts a Lua value to the JSON model. Functions, userdata,
// threads, channels, NaN/Inf and cyclic references are dropped.
func (c *Converter) FromLua(v lua.LValue) interface{} {
	out, _ := c.fromLua(v, "$", 0, make(map[*lua.LTable]bool))
	return out
}

func (c *Converter) fromLua(v lua.LValue, path string, depth int, seen map[*lua.LTable]bool) (interface{}, bool) {
	switch val := v.(type) {
	case nil, *lua.LNilType:
		return nil, true
	case lua.LBool:
		return bool(val), true
	case lua.LString:
		return string(val), true
	case lua.LNumber:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			c.warn(path, "non-finite number %v", f)
			return nil, false
		}
		return NumberFromLua(val), true
	case *lua.LTable:
		if seen[val] {
			c.warn(path, "cyclic table reference")
			return nil, false
		}
		if depth > c.maxDepth() {
			c.warn(path, "nesting deeper than %d levels", c.maxDepth())
			return nil, false
		}
		seen[val] = true
		defer delete(seen, val)
		return c.tableFromLua(val, path, depth, seen), true
	default:
		c.warn(path, "unsupported lua type %s", v.Type().String())
		return nil, false
	}
}

func (c *Converter) tableFromLua(tbl *lua.LTable, path string, depth int, seen map[*lua.LTable]bool) interface{} {
	if n, ok := sequenceLen(tbl); ok && n > 0 {
		arr := make([]interface{}, n)
		for i := 1; i <= n; i++ {
			item, ok := c.fromLua(tbl.RawGetInt(i), fmt.Sprintf("%s[%d]", path, i-1), depth+1, seen)
			if ok {
				arr[i-1] = item
			}
		}
		return arr
	}

	obj := make(map[string]interface{})
	tbl.ForEach(func(k, v lua.LValue) {
		key, ok := tableKey(k)
		if !ok {
			c.warn(path, "unsupported key of type %s", k.Type().String())
			return
		}
		item, ok := c.fromLua(v, path+"."+key, depth+1, seen)
		if !ok {
			return
		}
		obj[key] = item
	})
	return obj
}

// sequenceLen reports whether the keys of tbl are exactly 1..n.
func sequenceLen(tbl *lua.LTable) (int, bool) {
	count := 0
	isSeq := true
	tbl.ForEach(func(k, _ lua.LValue) {
		count++
		if !isSeq {
			return
		}
		n, ok := k.(lua.LNumber)
		if !ok || float64(n) != math.Trunc(float64(n)) || n < 1 {
			isSeq = false
		}
	})
	if !isSeq {
		return 0, false
	}
	// Unique integer keys, all >= 1: they are 1..count iff each index is present.
	for i := 1; i <= count; i++ {
		if tbl.RawGetInt(i) == lua.LNil {
			return 0, false
		}
	}
	return count, true
}

func tableKey(k lua.LValue) (string, bool) {
	switch key := k.(type) {
	case lua.LString:
		return string(key), true
	case lua.LNumber:
		n := NumberFromLua(key)
		if i, ok := n.(int64); ok {
			return strconv.FormatInt(i, 10), true
		}
		return strconv.FormatFloat(float64(key), 'g', -1, 64), true
	case lua.LBool:
		return strconv.FormatBool(bool(key)), true
	default:
		return "", false
	}
}

// NumberFromLua returns int64 for integral values inside ±2^53, float64 otherwise.
func NumberFromLua(n lua.LNumber) interface{} {
	f := float64(n)
	if f == math.Trunc(f) && math.Abs(f) <= maxExactInt {
		return int64(f)
	}
	return f
}

// exactMagnitude bounds the decimal magnitudes checked for exactness. Every
// finite non-zero float64 lies between 1e-324 and 1e309.
const exactMagnitude = 400

// NumberFromJSON parses a JSON number literal into the canonical float64
// representation. exact is false when the literal cannot be held exactly.
func NumberFromJSON(n fastjson.Number) (f float64, exact bool) {
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil || math.IsInf(f, 0) {
		return f, false
	}

	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return f, false
	}
	if d.IsZero() {
		return f, true
	}
	// Rescaling builds 10^|exponent|; skip literals no float64 can hold.
	if mag := int(d.Exponent()) + d.NumDigits(); mag > exactMagnitude || mag < -exactMagnitude {
		return f, false
	}
	// Exact means the shortest decimal form of f is the literal itself.
	return f, decimal.NewFromFloat(f).Equal(d)
}

// Clone deep-copies a JSON model value so callers can't mutate cached state.
func Clone(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}
