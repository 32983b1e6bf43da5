package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	input := "SELECT \"Order Id\", 'it''s', $2, 3.5e2, .5 FROM Orders -- trailing\n/* outer /* inner */ */ WHERE a<>b;"

	tokens, err := Tokenize(input)
	require.NoError(t, err)

	type kv struct {
		kind  TokenKind
		value string
	}
	var got []kv
	for _, tok := range tokens {
		got = append(got, kv{tok.Kind, tok.Value})
	}

	assert.Equal(t, []kv{
		{IDENT, "select"},
		{QUOTED_IDENT, "Order Id"},
		{COMMA, ","},
		{STRING, "it's"},
		{COMMA, ","},
		{PARAM, "2"},
		{COMMA, ","},
		{NUMBER, "3.5e2"},
		{COMMA, ","},
		{NUMBER, ".5"},
		{IDENT, "from"},
		{IDENT, "orders"},
		{IDENT, "where"},
		{IDENT, "a"},
		{OPERATOR, "<>"},
		{IDENT, "b"},
		{SEMICOLON, ";"},
		{EOF, ""},
	}, got)
}

func TestTokenize_Positions(t *testing.T) {
	tokens, err := Tokenize("SELECT  id")
	require.NoError(t, err)
	assert.Equal(t, 0, tokens[0].Position)
	assert.Equal(t, 8, tokens[1].Position)
}

func TestTokenize_Illegal(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "unterminated string", input: "SELECT 'abc"},
		{name: "unterminated quoted identifier", input: `SELECT "abc`},
		{name: "empty quoted identifier", input: `SELECT ""`},
		{name: "unterminated block comment", input: "SELECT 1 /* never closed"},
		{name: "bare dollar", input: "SELECT $"},
		{name: "stray character", input: "SELECT a ? b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tokenize(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestLexer_CommentsCannotHideTokens(t *testing.T) {
	tokens, err := Tokenize("SELECT 1 --; DROP TABLE t\n")
	require.NoError(t, err)
	for _, tok := range tokens {
		assert.NotEqual(t, SEMICOLON, tok.Kind)
		assert.False(t, tok.Is("drop"))
	}
}
