// SPDX-License-Identifier: MPL-2.0

package quote

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/syntax"
)

// parseSingleArg parses `cmd <quoted>` with the POSIX shell grammar and
// returns the literal argument the shell would see, using the
// mvdan.cc/sh/v3/syntax parser.
func parseSingleArg(t *testing.T, rendered string) string {
	t.Helper()
	line := "cmd " + rendered
	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(line), "")
	require.NoError(t, err, "rendered command must be valid shell syntax: %q", line)

	require.Len(t, file.Stmts, 1)
	call, ok := file.Stmts[0].Cmd.(*syntax.CallExpr)
	require.True(t, ok)
	require.Len(t, call.Args, 2)

	printer := syntax.NewPrinter()
	var b strings.Builder
	err = printer.Print(&b, &syntax.File{Stmts: []*syntax.Stmt{{
		Cmd: &syntax.CallExpr{Args: []*syntax.Word{call.Args[1]}},
	}}})
	require.NoError(t, err)
	return literalOf(call.Args[1])
}

// literalOf concatenates the literal parts of a shell word, unquoting
// single- and double-quoted parts, to recover the argument's runtime
// value the way a shell would see it.
func literalOf(w *syntax.Word) string {
	var b strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			b.WriteString(p.Value)
		case *syntax.SglQuoted:
			b.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				if lit, ok := inner.(*syntax.Lit); ok {
					b.WriteString(lit.Value)
				}
			}
		}
	}
	return b.String()
}

func TestQuotePOSIXRoundTrip_ASCII(t *testing.T) {
	samples := []string{
		"",
		"plain",
		"with space",
		`it's a test`,
		`'''`,
		"$HOME is not expanded",
		"`backticks`",
		"a; rm -rf /",
		"a && b || c",
		"redirect > out.txt < in.txt",
		"glob * ? [abc]",
		"newline\nin\nstring",
		"tab\tchar",
		"'; rm -rf /; echo '",
	}
	for _, s := range samples {
		s := s
		t.Run(s, func(t *testing.T) {
			rendered := Quote(s, POSIX)
			got := parseSingleArg(t, rendered)
			require.Equal(t, s, got)
		})
	}
}

func TestQuotePOSIXRoundTrip_RandomUTF8(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	alphabet := []rune("abcXYZ012 \t'\"$`\\;&|<>(){}[]*?~!#%^-_=+éü日本語😀\n")
	for i := 0; i < 200; i++ {
		n := rng.Intn(24)
		var b strings.Builder
		for j := 0; j < n; j++ {
			b.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		s := b.String()
		rendered := Quote(s, POSIX)
		got := parseSingleArg(t, rendered)
		require.Equal(t, s, got, "input %q rendered as %q", s, rendered)
	}
}

func TestRenderTemplate_Scalars(t *testing.T) {
	out, err := Render(Template{"echo ", 3000, " ", true, " ", nil, "x"}, POSIX)
	require.NoError(t, err)
	require.Equal(t, "echo 3000 true x", out)
}

func TestRenderTemplate_Sequence(t *testing.T) {
	out, err := Render(Template{"args: ", []Value{"a b", "c"}}, POSIX)
	require.NoError(t, err)
	require.Equal(t, "args: 'a b' c", out)
}

func TestRenderTemplate_EmptySequenceContributesNothing(t *testing.T) {
	out, err := Render(Template{"cmd", []Value{}, "end"}, POSIX)
	require.NoError(t, err)
	require.Equal(t, "cmdend", out)
}

func TestRenderTemplate_Mapping(t *testing.T) {
	out, err := Render(Template{"echo ", map[string]any{"port": float64(3000), "name": "app"}, " > /dev/null; echo done"}, POSIX)
	require.NoError(t, err)
	require.Contains(t, out, `{"name":"app","port":3000}`)
	require.NotContains(t, out, "[object Object]")
}

func TestRenderTemplate_InjectionAttempt(t *testing.T) {
	out, err := Render(Template{"echo ", "'; rm -rf /; echo '"}, POSIX)
	require.NoError(t, err)

	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(out), "")
	require.NoError(t, err)
	require.Len(t, file.Stmts, 1, "injected semicolon must not split into multiple statements")
}

type deferredValue struct{ v Value }

func (d deferredValue) Await() (Value, error) { return d.v, nil }

func TestRenderTemplate_Deferred(t *testing.T) {
	out, err := Render(Template{"echo ", deferredValue{v: "later"}}, POSIX)
	require.NoError(t, err)
	require.Equal(t, "echo later", out)
}

func TestRenderTemplate_RawBypassesQuoting(t *testing.T) {
	out, err := Render(Template{"ls ", Raw("*.go"), " | grep x"}, POSIX)
	require.NoError(t, err)
	require.Equal(t, "ls *.go | grep x", out)
}

func TestQuotePowerShell_EscapesQuote(t *testing.T) {
	require.Equal(t, `'it''s'`, Quote("it's", PowerShell))
	require.Equal(t, "plain", Quote("plain", PowerShell))
	require.Equal(t, "''", Quote("", PowerShell))
}
