package matcher_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/hook-engine/internal/matcher"
)

// mapResolver resolves from a flat path map and counts accesses, so tests
// can observe short-circuiting.
type mapResolver struct {
	fields   map[string]string
	accesses []string
}

func (r *mapResolver) Resolve(path string) (string, bool) {
	r.accesses = append(r.accesses, path)
	v, ok := r.fields[path]
	return v, ok
}

func TestCompile_Deterministic(t *testing.T) {
	sources := []string{
		`tool.name == "bash"`,
		`tool.name == "bash" && tool.args matches "rm -rf"`,
		`!(a == "1" || b != "2") && c matches "x+"`,
		`*`,
		`tool.name`,
	}
	for _, src := range sources {
		first, err := matcher.Compile(src)
		require.NoError(t, err, src)
		second, err := matcher.Compile(src)
		require.NoError(t, err, src)
		assert.Equal(t, first.String(), second.String(), "compiling %q twice should yield equal ASTs", src)
	}
}

func TestCompile_Precedence(t *testing.T) {
	// ! binds tighter than &&, which binds tighter than ||.
	expr, err := matcher.Compile(`a == "1" || b == "2" && !c == "3"`)
	require.NoError(t, err)
	assert.Equal(t, `(a == "1" || (b == "2" && !c == "3"))`, expr.String())

	// Parens override and collapse during parse.
	expr, err = matcher.Compile(`(a == "1" || b == "2") && c == "3"`)
	require.NoError(t, err)
	assert.Equal(t, `((a == "1" || b == "2") && c == "3")`, expr.String())
}

func TestCompile_Errors(t *testing.T) {
	cases := []struct {
		source string
		offset int
	}{
		{``, 0},
		{`tool.name ==`, 12},
		{`tool.name == "bash" &&`, 22},
		{`&& tool.name == "bash"`, 0},
		{`tool.name = "bash"`, 10},
		{`(a == "1"`, 9},
		{`a == "unterminated`, 5},
		{`a == "x" extra`, 9},
		{`a | b`, 2},
	}
	for _, tc := range cases {
		_, err := matcher.Compile(tc.source)
		require.Error(t, err, "source %q", tc.source)
		var perr *matcher.ParseError
		require.ErrorAs(t, err, &perr, "source %q", tc.source)
		assert.Equal(t, tc.offset, perr.Offset, "source %q", tc.source)
	}
}

func TestCompile_InvalidRegexFailsAtCompileTime(t *testing.T) {
	_, err := matcher.Compile(`tool.args matches "[unclosed"`)
	var perr *matcher.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Msg, "invalid regex")
}

func TestEval_Comparisons(t *testing.T) {
	r := &mapResolver{fields: map[string]string{
		"tool.name": "bash",
		"tool.args": "rm -rf /tmp",
		"count":     "3",
		"flag":      "true",
	}}

	cases := []struct {
		source string
		want   bool
	}{
		{`tool.name == "bash"`, true},
		{`tool.name == "edit"`, false},
		{`tool.name != "edit"`, true},
		{`tool.args matches "rm -rf"`, true},
		{`tool.args matches "^rm"`, true},
		{`tool.args matches "mkfs"`, false},
		{`count == 3`, true},
		{`flag == true`, true},
		{`tool.name`, true},
		{`tool.missing`, false},
		{`*`, true},
		{`!tool.name == "edit"`, true},
	}
	for _, tc := range cases {
		expr, err := matcher.Compile(tc.source)
		require.NoError(t, err, tc.source)
		assert.Equal(t, tc.want, expr.Eval(r), "source %q", tc.source)
	}
}

func TestEval_MissingFieldIsFalseNotError(t *testing.T) {
	r := &mapResolver{fields: map[string]string{}}

	for _, src := range []string{
		`tool.name == "bash"`,
		`tool.name != "bash"`, // absence is not inequality
		`tool.name matches ".*"`,
	} {
		expr, err := matcher.Compile(src)
		require.NoError(t, err, src)
		assert.False(t, expr.Eval(r), "source %q", src)
	}
}

func TestEval_SpecExample(t *testing.T) {
	expr, err := matcher.Compile(`tool.name == "bash" && tool.args matches "rm -rf"`)
	require.NoError(t, err)

	withArgs := &mapResolver{fields: map[string]string{
		"tool.name": "bash",
		"tool.args": "rm -rf /tmp",
	}}
	assert.True(t, expr.Eval(withArgs))

	editOnly := &mapResolver{fields: map[string]string{"tool.name": "edit"}}
	assert.False(t, expr.Eval(editOnly))
}

func TestEval_AndShortCircuits(t *testing.T) {
	expr, err := matcher.Compile(`a == "1" && b == "2"`)
	require.NoError(t, err)

	r := &mapResolver{fields: map[string]string{"a": "0", "b": "2"}}
	assert.False(t, expr.Eval(r))
	assert.Equal(t, []string{"a"}, r.accesses, "b must not be accessed once a decided the result")
}

func TestEval_OrShortCircuits(t *testing.T) {
	expr, err := matcher.Compile(`a == "1" || b == "2"`)
	require.NoError(t, err)

	r := &mapResolver{fields: map[string]string{"a": "1", "b": "2"}}
	assert.True(t, expr.Eval(r))
	assert.Equal(t, []string{"a"}, r.accesses)
}

func TestCompile_StringEscapes(t *testing.T) {
	expr, err := matcher.Compile(`msg == "say \"hi\""`)
	require.NoError(t, err)

	r := &mapResolver{fields: map[string]string{"msg": `say "hi"`}}
	assert.True(t, expr.Eval(r))
}
