package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func flatten(t *testing.T, c *Converter, argsJSON string) Args {
	t.Helper()
	objs, err := ParseArgs(argsJSON)
	require.NoError(t, err)
	return c.Flatten(objs)
}

func TestParseArgs(t *testing.T) {
	t.Run("array of objects", func(t *testing.T) {
		objs, err := ParseArgs(`[{"a": 1}, {"b": "x"}]`)
		require.NoError(t, err)
		assert.Len(t, objs, 2)
	})

	t.Run("blank means empty", func(t *testing.T) {
		objs, err := ParseArgs("  ")
		require.NoError(t, err)
		assert.Empty(t, objs)
	})

	malformed := map[string]string{
		"not json":        `not-json`,
		"object":          `{"a": 1}`,
		"scalar element":  `[1]`,
		"null element":    `[null]`,
		"trailing tokens": `[] {}`,
	}
	for name, input := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := ParseArgs(input)
			assert.ErrorIs(t, err, ErrMalformedArguments)
		})
	}
}

func TestFlattenLastWriteWins(t *testing.T) {
	args := flatten(t, (&recorder{}).converter(), `[{"a": 1}, {"a": 2}]`)

	require.Contains(t, args, "a")
	assert.Equal(t, KindNumber, args["a"].Kind)
	assert.Equal(t, int64(2), args["a"].Value())
}

func TestFlattenMergesObjects(t *testing.T) {
	args := flatten(t, (&recorder{}).converter(), `[{"a": "x", "b": true}, {"c": 1.5}]`)

	assert.Equal(t, map[string]interface{}{"a": "x", "b": true, "c": 1.5}, args.Values())
}

func TestTaggedStringIsUnwrapped(t *testing.T) {
	args := flatten(t, (&recorder{}).converter(), `[{"k": {"String": "x"}}]`)

	assert.Equal(t, Arg{Kind: KindString, Str: "x"}, args["k"])
}

func TestUnsupportedShapesAreDropped(t *testing.T) {
	rec := &recorder{}
	args := flatten(t, rec.converter(), `[
		{"keep": "v"},
		{"keep": null},
		{"tag": {"Bytes": [1, 2]}},
		{"bad": {"String": 5}}
	]`)

	assert.Equal(t, map[string]interface{}{"keep": "v"}, args.Values())
	require.Len(t, rec.diags, 3)
	assert.Equal(t, "$[1].keep", rec.diags[0].Path)
	assert.Contains(t, rec.diags[1].Reason, `unrecognized tag "Bytes"`)
	assert.Contains(t, rec.diags[2].Reason, `"String" tag`)
}

func TestNestedArgumentsBecomeTables(t *testing.T) {
	L := newState(t)
	c := (&recorder{}).converter()
	args := flatten(t, c, `[{"headers": {"host": "a", "accept": "*/*"}, "ports": [80, 443]}]`)

	tbl := c.Table(L, args)
	headers, ok := tbl.RawGetString("headers").(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, lua.LString("a"), headers.RawGetString("host"))

	ports, ok := tbl.RawGetString("ports").(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, lua.LNumber(80), ports.RawGetInt(1))
	assert.Equal(t, lua.LNumber(443), ports.RawGetInt(2))
}

func TestArgsTableScalars(t *testing.T) {
	L := newState(t)
	c := (&recorder{}).converter()
	tbl := c.Table(L, flatten(t, c, `[{"s": "x", "b": false, "n": 3}]`))

	assert.Equal(t, lua.LString("x"), tbl.RawGetString("s"))
	assert.Equal(t, lua.LFalse, tbl.RawGetString("b"))
	assert.Equal(t, lua.LNumber(3), tbl.RawGetString("n"))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "string", KindString.String())
	assert.Equal(t, "table", KindTable.String())
	assert.Equal(t, "unsupported", KindUnsupported.String())
}
