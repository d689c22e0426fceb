package command

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "plain", input: "set a 1", want: []string{"set", "a", "1"}},
		{name: "extra whitespace", input: "  get \t key  ", want: []string{"get", "key"}},
		{name: "quoted value", input: `set k "hello world"`, want: []string{"set", "k", "hello world"}},
		{name: "quoted key and value", input: `set "a b" "c d"`, want: []string{"set", "a b", "c d"}},
		{name: "empty quoted", input: `set k ""`, want: []string{"set", "k", ""}},
		{name: "escaped quote", input: `set k "say \"hi\""`, want: []string{"set", "k", `say "hi"`}},
		{name: "quote inside token", input: `set k ab"c d"e`, want: []string{"set", "k", "abc de"}},
		{name: "blank", input: "   ", want: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Tokenize(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTokenize_UnterminatedQuote(t *testing.T) {
	_, err := Tokenize(`set k "open`)
	var syntaxErr *SyntaxError
	require.True(t, errors.As(err, &syntaxErr))
	assert.Equal(t, "ERR Syntax error", syntaxErr.Error())
	assert.Contains(t, syntaxErr.Detail(), "unterminated")
}

func TestParse(t *testing.T) {
	testCases := []struct {
		input string
		want  Command
	}{
		{input: "set a 1", want: &SetStatement{Key: "a", Value: "1"}},
		{input: "SET a 1", want: &SetStatement{Key: "a", Value: "1"}},
		{input: `Set "my key" "my value"`, want: &SetStatement{Key: "my key", Value: "my value"}},
		{input: "get a", want: &GetStatement{Key: "a"}},
		{input: "DEL a", want: &DeleteStatement{Key: "a"}},
		{input: "stats", want: &StatsStatement{}},
		{input: "flush", want: &FlushStatement{}},
		{input: "flush WAIT", want: &FlushStatement{Wait: true}},
		{input: "help", want: &HelpStatement{}},
		{input: "exit", want: &ExitStatement{}},
		{input: "Quit", want: &ExitStatement{}},
		{input: "", want: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := Parse(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		input       string
		unsupported bool
	}{
		{input: "set a"},
		{input: "set a b c"},
		{input: "get"},
		{input: "get a b"},
		{input: "del"},
		{input: "del a b"},
		{input: "stats now"},
		{input: "flush later"},
		{input: `set a "b`},
		{input: "put a b", unsupported: true},
		{input: "scan", unsupported: true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			cmd, err := Parse(tc.input)
			assert.Nil(t, cmd)
			var syntaxErr *SyntaxError
			require.ErrorAs(t, err, &syntaxErr)
			assert.Equal(t, tc.unsupported, syntaxErr.Unsupported)
			if tc.unsupported {
				assert.Equal(t, "ERR unsupported command", err.Error())
			} else {
				assert.Equal(t, "ERR Syntax error", err.Error())
			}
		})
	}
}
