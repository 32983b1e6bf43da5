package sql

import "fmt"

// TokenKind classifies lexer output.
type TokenKind int

const (
	EOF TokenKind = iota
	ILLEGAL
	IDENT        // bare word, folded to lower case; keywords are idents too
	QUOTED_IDENT // "double quoted", case preserved
	NUMBER
	STRING
	PARAM // $1, $2, ...
	OPERATOR
	COMMA
	DOT
	SEMICOLON
	LPAREN
	RPAREN
	LBRACKET
	RBRACKET
)

var kindNames = map[TokenKind]string{
	EOF:          "end of input",
	ILLEGAL:      "illegal",
	IDENT:        "identifier",
	QUOTED_IDENT: "quoted identifier",
	NUMBER:       "number",
	STRING:       "string",
	PARAM:        "parameter",
	OPERATOR:     "operator",
	COMMA:        "','",
	DOT:          "'.'",
	SEMICOLON:    "';'",
	LPAREN:       "'('",
	RPAREN:       "')'",
	LBRACKET:     "'['",
	RBRACKET:     "']'",
}

func (k TokenKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// Token is a single lexical unit. Position is the byte offset in the input.
type Token struct {
	Kind     TokenKind
	Value    string
	Position int
}

// Is reports whether the token is the bare keyword kw (lower case).
func (t Token) Is(kw string) bool {
	return t.Kind == IDENT && t.Value == kw
}

// reserved words cannot be used as bare column or table aliases.
var reserved = map[string]bool{
	"all": true, "and": true, "any": true, "as": true, "asc": true, "between": true,
	"by": true, "case": true, "cast": true, "cross": true, "desc": true, "distinct": true,
	"else": true, "end": true, "except": true, "exists": true, "false": true, "fetch": true,
	"for": true, "from": true, "full": true, "group": true, "having": true, "ilike": true,
	"in": true, "inner": true, "intersect": true, "into": true, "is": true, "join": true,
	"lateral": true, "left": true, "like": true, "limit": true, "natural": true, "not": true,
	"null": true, "offset": true, "on": true, "or": true, "order": true, "outer": true,
	"over": true, "returning": true, "right": true, "select": true, "some": true, "then": true,
	"true": true, "union": true, "using": true, "when": true, "where": true, "window": true,
	"with": true,
}

// modifyingVerbs are statement leaders that are never read-only.
var modifyingVerbs = map[string]bool{
	"insert": true, "update": true, "delete": true, "merge": true, "upsert": true,
	"create": true, "drop": true, "alter": true, "truncate": true, "rename": true,
	"grant": true, "revoke": true, "copy": true, "call": true, "do": true,
	"set": true, "reset": true, "vacuum": true, "analyze": true, "lock": true,
	"begin": true, "start": true, "commit": true, "rollback": true, "savepoint": true,
	"release": true, "end": true, "abort": true, "prepare": true, "execute": true,
	"deallocate": true, "listen": true, "notify": true, "unlisten": true,
	"refresh": true, "reindex": true, "cluster": true, "comment": true,
	"security": true, "discard": true, "load": true, "import": true, "explain": true,
	"show": true, "checkpoint": true, "declare": true, "fetch": true, "move": true,
	"close": true, "reassign": true,
}
