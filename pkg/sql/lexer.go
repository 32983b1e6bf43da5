package sql

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var twoCharOperators = map[string]bool{
	"<>": true, "!=": true, "<=": true, ">=": true, "||": true, "::": true,
}

var singleCharOperators = map[byte]bool{
	'=': true, '<': true, '>': true, '+': true, '-': true, '*': true, '/': true, '%': true,
}

var punctuation = map[byte]TokenKind{
	',': COMMA,
	'.': DOT,
	';': SEMICOLON,
	'(': LPAREN,
	')': RPAREN,
	'[': LBRACKET,
	']': RBRACKET,
}

// Lexer splits PostgreSQL-flavored SQL into tokens. Comments are consumed as
// whitespace so they can never hide or split a token.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a lexer over input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize returns every token up to and including EOF, or an error at the
// first illegal token.
func Tokenize(input string) ([]Token, error) {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		if tok.Kind == ILLEGAL {
			return nil, fmt.Errorf("illegal input %q at offset %d", tok.Value, tok.Position)
		}
		tokens = append(tokens, tok)
		if tok.Kind == EOF {
			return tokens, nil
		}
	}
}

// NextToken scans the next token. After EOF it keeps returning EOF.
func (l *Lexer) NextToken() Token {
	if tok, ok := l.skipSpaceAndComments(); !ok {
		return tok
	}
	if l.pos >= len(l.input) {
		return Token{Kind: EOF, Position: l.pos}
	}

	start := l.pos
	ch := l.input[l.pos]

	if l.pos+1 < len(l.input) && twoCharOperators[l.input[l.pos:l.pos+2]] {
		l.pos += 2
		return Token{Kind: OPERATOR, Value: l.input[start:l.pos], Position: start}
	}

	switch {
	case ch == '.' && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1]):
		return l.readNumber(start)
	case punctuation[ch] != 0:
		l.pos++
		return Token{Kind: punctuation[ch], Value: string(ch), Position: start}
	case singleCharOperators[ch]:
		l.pos++
		return Token{Kind: OPERATOR, Value: string(ch), Position: start}
	case ch == '\'':
		return l.readString(start)
	case ch == '"':
		return l.readQuotedIdent(start)
	case ch == '$':
		return l.readParam(start)
	case isDigit(ch):
		return l.readNumber(start)
	}

	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	if unicode.IsLetter(r) || r == '_' {
		return l.readIdent(start)
	}
	l.pos += size
	return Token{Kind: ILLEGAL, Value: string(r), Position: start}
}

// skipSpaceAndComments advances past whitespace, line comments and nested
// block comments. It returns an ILLEGAL token for an unterminated comment.
func (l *Lexer) skipSpaceAndComments() (Token, bool) {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		switch {
		case unicode.IsSpace(r):
			l.pos += size
		case strings.HasPrefix(l.input[l.pos:], "--"):
			end := strings.IndexByte(l.input[l.pos:], '\n')
			if end < 0 {
				l.pos = len(l.input)
			} else {
				l.pos += end + 1
			}
		case strings.HasPrefix(l.input[l.pos:], "/*"):
			start := l.pos
			depth := 0
			for l.pos < len(l.input) {
				if strings.HasPrefix(l.input[l.pos:], "/*") {
					depth++
					l.pos += 2
				} else if strings.HasPrefix(l.input[l.pos:], "*/") {
					depth--
					l.pos += 2
					if depth == 0 {
						break
					}
				} else {
					l.pos++
				}
			}
			if depth != 0 {
				return Token{Kind: ILLEGAL, Value: "/*", Position: start}, false
			}
		default:
			return Token{}, true
		}
	}
	return Token{}, true
}

func (l *Lexer) readString(start int) Token {
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '\'' {
			if l.pos+1 < len(l.input) && l.input[l.pos+1] == '\'' {
				b.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			return Token{Kind: STRING, Value: b.String(), Position: start}
		}
		b.WriteByte(ch)
		l.pos++
	}
	return Token{Kind: ILLEGAL, Value: "'", Position: start}
}

func (l *Lexer) readQuotedIdent(start int) Token {
	l.pos++
	var b strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '"' {
			if l.pos+1 < len(l.input) && l.input[l.pos+1] == '"' {
				b.WriteByte('"')
				l.pos += 2
				continue
			}
			l.pos++
			if b.Len() == 0 {
				return Token{Kind: ILLEGAL, Value: `""`, Position: start}
			}
			return Token{Kind: QUOTED_IDENT, Value: b.String(), Position: start}
		}
		b.WriteByte(ch)
		l.pos++
	}
	return Token{Kind: ILLEGAL, Value: `"`, Position: start}
}

func (l *Lexer) readParam(start int) Token {
	l.pos++ // '$'
	digits := l.pos
	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.pos++
	}
	if l.pos == digits {
		return Token{Kind: ILLEGAL, Value: "$", Position: start}
	}
	return Token{Kind: PARAM, Value: l.input[digits:l.pos], Position: start}
}

func (l *Lexer) readNumber(start int) Token {
	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.input) && l.input[l.pos] == '.' {
		l.pos++
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
	}
	if l.pos < len(l.input) && (l.input[l.pos] == 'e' || l.input[l.pos] == 'E') {
		save := l.pos
		l.pos++
		if l.pos < len(l.input) && (l.input[l.pos] == '+' || l.input[l.pos] == '-') {
			l.pos++
		}
		if l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
				l.pos++
			}
		} else {
			l.pos = save
		}
	}
	return Token{Kind: NUMBER, Value: l.input[start:l.pos], Position: start}
}

func (l *Lexer) readIdent(start int) Token {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$') {
			break
		}
		l.pos += size
	}
	return Token{Kind: IDENT, Value: strings.ToLower(l.input[start:l.pos]), Position: start}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
