package sql

import (
	"fmt"
	"strconv"
	"strings"
)

// maxDepth bounds expression and subquery nesting.
const maxDepth = 128

// ParseError reports input outside the supported grammar.
type ParseError struct {
	Position int
	Message  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Position, e.Message)
}

// Parser is a recursive-descent parser for the read-only SELECT subset of
// PostgreSQL. Statements that are not queries are recognized by their leading
// verb and returned as OtherStatement so callers can report them precisely.
type Parser struct {
	tokens []Token
	pos    int
	depth  int
}

// Parse parses every ';'-separated statement of input.
func Parse(input string) ([]Statement, error) {
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, &ParseError{Message: err.Error()}
	}
	p := &Parser{tokens: tokens}

	var stmts []Statement
	for {
		for p.peek().Kind == SEMICOLON {
			p.next()
		}
		if p.peek().Kind == EOF {
			break
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)

		switch tok := p.peek(); tok.Kind {
		case SEMICOLON, EOF:
		default:
			return nil, p.errorf(tok, "unexpected %s after statement", describe(tok))
		}
	}
	if len(stmts) == 0 {
		return nil, &ParseError{Message: "empty statement"}
	}
	return stmts, nil
}

// ParseSelect parses input that must hold exactly one query.
func ParseSelect(input string) (*SelectStatement, error) {
	stmts, err := Parse(input)
	if err != nil {
		return nil, err
	}
	if len(stmts) != 1 {
		return nil, &ParseError{Message: fmt.Sprintf("expected one statement, found %d", len(stmts))}
	}
	sel, ok := stmts[0].(*SelectStatement)
	if !ok {
		return nil, &ParseError{Message: "statement is not a query"}
	}
	return sel, nil
}

func (p *Parser) peek() Token {
	return p.peekN(0)
}

func (p *Parser) peekN(n int) Token {
	if p.pos+n < len(p.tokens) {
		return p.tokens[p.pos+n]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) next() Token {
	tok := p.peek()
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *Parser) accept(kw string) bool {
	if p.peek().Is(kw) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) acceptSeq(kws ...string) bool {
	for i, kw := range kws {
		if !p.peekN(i).Is(kw) {
			return false
		}
	}
	for range kws {
		p.next()
	}
	return true
}

func (p *Parser) acceptKind(kind TokenKind) bool {
	if p.peek().Kind == kind {
		p.next()
		return true
	}
	return false
}

func (p *Parser) acceptOp(op string) bool {
	if tok := p.peek(); tok.Kind == OPERATOR && tok.Value == op {
		p.next()
		return true
	}
	return false
}

func (p *Parser) expect(kw string) error {
	if !p.accept(kw) {
		return p.errorf(p.peek(), "expected %s, found %s", strings.ToUpper(kw), describe(p.peek()))
	}
	return nil
}

func (p *Parser) expectKind(kind TokenKind) (Token, error) {
	tok := p.peek()
	if tok.Kind != kind {
		return tok, p.errorf(tok, "expected %s, found %s", kind, describe(tok))
	}
	return p.next(), nil
}

func (p *Parser) errorf(tok Token, format string, args ...any) error {
	return &ParseError{Position: tok.Position, Message: fmt.Sprintf(format, args...)}
}

func (p *Parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return p.errorf(p.peek(), "nesting exceeds %d levels", maxDepth)
	}
	return nil
}

func (p *Parser) leave() {
	p.depth--
}

func describe(tok Token) string {
	switch tok.Kind {
	case EOF:
		return "end of input"
	case IDENT:
		return strconv.Quote(tok.Value)
	default:
		return fmt.Sprintf("%s %q", tok.Kind, tok.Value)
	}
}

// identName reads a name that may be used as a column, alias or relation.
func (p *Parser) identName() (string, error) {
	tok := p.peek()
	switch {
	case tok.Kind == QUOTED_IDENT:
		p.next()
		return tok.Value, nil
	case tok.Kind == IDENT && !reserved[tok.Value]:
		p.next()
		return tok.Value, nil
	}
	return "", p.errorf(tok, "expected identifier, found %s", describe(tok))
}

// anyName reads a name after AS, where keywords are allowed.
func (p *Parser) anyName() (string, error) {
	tok := p.peek()
	if tok.Kind == QUOTED_IDENT || tok.Kind == IDENT {
		p.next()
		return tok.Value, nil
	}
	return "", p.errorf(tok, "expected name, found %s", describe(tok))
}

func (p *Parser) startsQuery() bool {
	tok := p.peek()
	return tok.Is("select") || tok.Is("with") || tok.Kind == LPAREN
}

func (p *Parser) parseStatement() (Statement, error) {
	tok := p.peek()
	switch {
	case p.startsQuery():
		return p.parseSelectStatement()
	case tok.Kind == IDENT:
		return p.skipOther(), nil
	}
	return nil, p.errorf(tok, "unexpected %s at start of statement", describe(tok))
}

// skipOther consumes a non-query statement up to ';', end of input or the
// closing parenthesis of an enclosing CTE.
func (p *Parser) skipOther() *OtherStatement {
	verb := p.next().Value
	depth := 0
	for {
		switch p.peek().Kind {
		case EOF:
			return &OtherStatement{Verb: verb}
		case SEMICOLON:
			if depth == 0 {
				return &OtherStatement{Verb: verb}
			}
		case LPAREN:
			depth++
		case RPAREN:
			if depth == 0 {
				return &OtherStatement{Verb: verb}
			}
			depth--
		}
		p.next()
	}
}

func (p *Parser) parseSelectStatement() (*SelectStatement, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	stmt := &SelectStatement{}
	if p.accept("with") {
		stmt.Recursive = p.accept("recursive")
		for {
			cte, err := p.parseCTE()
			if err != nil {
				return nil, err
			}
			stmt.With = append(stmt.With, cte)
			if !p.acceptKind(COMMA) {
				break
			}
		}
	}

	body, err := p.parseSetExpr()
	if err != nil {
		return nil, err
	}
	stmt.Body = body

	if p.acceptSeq("order", "by") {
		if stmt.OrderBy, err = p.parseOrderItems(); err != nil {
			return nil, err
		}
	}

	var sawLimit, sawOffset bool
clauses:
	for {
		tok := p.peek()
		switch {
		case tok.Is("limit"):
			if sawLimit {
				return nil, p.errorf(tok, "duplicate LIMIT")
			}
			sawLimit = true
			p.next()
			if p.accept("all") {
				continue
			}
			if stmt.Limit, err = p.parseExpr(); err != nil {
				return nil, err
			}
		case tok.Is("fetch"):
			if sawLimit {
				return nil, p.errorf(tok, "duplicate LIMIT")
			}
			sawLimit = true
			p.next()
			if !p.accept("first") && !p.accept("next") {
				return nil, p.errorf(p.peek(), "expected FIRST or NEXT")
			}
			if !p.peek().Is("row") && !p.peek().Is("rows") {
				if stmt.Limit, err = p.parseUnary(); err != nil {
					return nil, err
				}
			} else {
				stmt.Limit = &Literal{Kind: LiteralNumber, Value: "1"}
			}
			if !p.accept("rows") && !p.accept("row") {
				return nil, p.errorf(p.peek(), "expected ROWS")
			}
			if err := p.expect("only"); err != nil {
				return nil, err
			}
		case tok.Is("offset"):
			if sawOffset {
				return nil, p.errorf(tok, "duplicate OFFSET")
			}
			sawOffset = true
			p.next()
			if stmt.Offset, err = p.parseExpr(); err != nil {
				return nil, err
			}
			if !p.accept("rows") {
				p.accept("row")
			}
		default:
			break clauses
		}
	}

	if p.peek().Is("for") {
		var words []string
		for {
			tok := p.peek()
			if tok.Kind != IDENT && tok.Kind != COMMA && tok.Kind != QUOTED_IDENT && tok.Kind != DOT {
				break
			}
			words = append(words, tok.Value)
			p.next()
		}
		stmt.Locking = strings.Join(words, " ")
	}
	return stmt, nil
}

func (p *Parser) parseCTE() (*CTE, error) {
	name, err := p.identName()
	if err != nil {
		return nil, err
	}
	cte := &CTE{Name: name}
	if p.acceptKind(LPAREN) {
		if cte.Columns, err = p.parseNameList(); err != nil {
			return nil, err
		}
	}
	if err := p.expect("as"); err != nil {
		return nil, err
	}
	p.accept("not")
	p.accept("materialized")
	if _, err := p.expectKind(LPAREN); err != nil {
		return nil, err
	}

	switch tok := p.peek(); {
	case p.startsQuery():
		if cte.Query, err = p.parseSelectStatement(); err != nil {
			return nil, err
		}
	case tok.Kind == IDENT:
		cte.Query = p.skipOther()
	default:
		return nil, p.errorf(tok, "unexpected %s in WITH clause", describe(tok))
	}

	if _, err := p.expectKind(RPAREN); err != nil {
		return nil, err
	}
	return cte, nil
}

// parseNameList reads "a, b, c)" after an opening parenthesis.
func (p *Parser) parseNameList() ([]string, error) {
	var names []string
	for {
		name, err := p.identName()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		if !p.acceptKind(COMMA) {
			break
		}
	}
	if _, err := p.expectKind(RPAREN); err != nil {
		return nil, err
	}
	return names, nil
}

func (p *Parser) parseSetExpr() (SetExpr, error) {
	left, err := p.parseSetOperand()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if !tok.Is("union") && !tok.Is("intersect") && !tok.Is("except") {
			return left, nil
		}
		p.next()
		op := &SetOperation{Op: tok.Value, Left: left}
		if p.accept("all") {
			op.All = true
		} else {
			p.accept("distinct")
		}
		if op.Right, err = p.parseSetOperand(); err != nil {
			return nil, err
		}
		left = op
	}
}

func (p *Parser) parseSetOperand() (SetExpr, error) {
	if p.acceptKind(LPAREN) {
		q, err := p.parseSelectStatement()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(RPAREN); err != nil {
			return nil, err
		}
		return &ParenSelect{Query: q}, nil
	}
	return p.parseSelectCore()
}

func (p *Parser) parseSelectCore() (*SelectCore, error) {
	if err := p.expect("select"); err != nil {
		return nil, err
	}
	core := &SelectCore{}
	var err error

	if p.accept("distinct") {
		core.Distinct = true
		if p.accept("on") {
			if _, err := p.expectKind(LPAREN); err != nil {
				return nil, err
			}
			if core.DistinctOn, err = p.parseExprList(); err != nil {
				return nil, err
			}
			if _, err := p.expectKind(RPAREN); err != nil {
				return nil, err
			}
		}
	} else {
		p.accept("all")
	}

	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		core.Items = append(core.Items, item)
		if !p.acceptKind(COMMA) {
			break
		}
	}

	if p.accept("into") {
		for p.peek().Is("temp") || p.peek().Is("temporary") || p.peek().Is("unlogged") || p.peek().Is("table") {
			p.next()
		}
		if core.Into, err = p.parseQualifiedName(); err != nil {
			return nil, err
		}
	}

	if p.accept("from") {
		for {
			item, err := p.parseTableRef()
			if err != nil {
				return nil, err
			}
			core.From = append(core.From, item)
			if !p.acceptKind(COMMA) {
				break
			}
		}
	}

	if p.accept("where") {
		if core.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	if p.acceptSeq("group", "by") {
		if core.GroupBy, err = p.parseExprList(); err != nil {
			return nil, err
		}
	}
	if p.accept("having") {
		if core.Having, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	if tok := p.peek(); tok.Is("window") {
		return nil, p.errorf(tok, "WINDOW clause is not supported")
	}
	return core, nil
}

func (p *Parser) parseSelectItem() (*SelectItem, error) {
	if p.acceptOp("*") {
		return &SelectItem{Expr: &Star{}}, nil
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	item := &SelectItem{Expr: e}
	if p.accept("as") {
		if item.Alias, err = p.anyName(); err != nil {
			return nil, err
		}
	} else if tok := p.peek(); tok.Kind == QUOTED_IDENT || (tok.Kind == IDENT && !reserved[tok.Value]) {
		item.Alias = tok.Value
		p.next()
	}
	return item, nil
}

func (p *Parser) parseQualifiedName() ([]string, error) {
	first, err := p.identName()
	if err != nil {
		return nil, err
	}
	parts := []string{first}
	for p.peek().Kind == DOT {
		p.next()
		part, err := p.anyName()
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}

func (p *Parser) parseAlias() (string, error) {
	if p.accept("as") {
		return p.anyName()
	}
	if tok := p.peek(); tok.Kind == QUOTED_IDENT || (tok.Kind == IDENT && !reserved[tok.Value]) {
		p.next()
		return tok.Value, nil
	}
	return "", nil
}

func (p *Parser) parseTableRef() (TableExpr, error) {
	left, err := p.parseTablePrimary()
	if err != nil {
		return nil, err
	}
	for {
		natural := p.accept("natural")
		var kind string
		switch {
		case p.acceptSeq("cross", "join"):
			kind = "cross"
		case p.acceptSeq("inner", "join"), p.accept("join"):
			kind = "inner"
		case p.acceptSeq("left", "outer", "join"), p.acceptSeq("left", "join"):
			kind = "left"
		case p.acceptSeq("right", "outer", "join"), p.acceptSeq("right", "join"):
			kind = "right"
		case p.acceptSeq("full", "outer", "join"), p.acceptSeq("full", "join"):
			kind = "full"
		default:
			if natural {
				return nil, p.errorf(p.peek(), "expected JOIN after NATURAL")
			}
			return left, nil
		}

		right, err := p.parseTablePrimary()
		if err != nil {
			return nil, err
		}
		join := &JoinExpr{Kind: kind, Natural: natural, Left: left, Right: right}
		if kind != "cross" && !natural {
			switch {
			case p.accept("on"):
				if join.On, err = p.parseExpr(); err != nil {
					return nil, err
				}
			case p.accept("using"):
				if _, err := p.expectKind(LPAREN); err != nil {
					return nil, err
				}
				if join.Using, err = p.parseNameList(); err != nil {
					return nil, err
				}
			default:
				return nil, p.errorf(p.peek(), "expected ON or USING")
			}
		}
		left = join
	}
}

func (p *Parser) parseTablePrimary() (TableExpr, error) {
	lateral := p.accept("lateral")

	if p.acceptKind(LPAREN) {
		if p.peek().Is("select") || p.peek().Is("with") {
			q, err := p.parseSelectStatement()
			if err != nil {
				return nil, err
			}
			if _, err := p.expectKind(RPAREN); err != nil {
				return nil, err
			}
			alias, err := p.parseAlias()
			if err != nil {
				return nil, err
			}
			return &DerivedTable{Query: q, Alias: alias, Lateral: lateral}, nil
		}
		if err := p.enter(); err != nil {
			return nil, err
		}
		inner, err := p.parseTableRef()
		p.leave()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(RPAREN); err != nil {
			return nil, err
		}
		return inner, nil
	}

	parts, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	if p.peek().Kind == LPAREN {
		call, err := p.parseFuncCall(parts)
		if err != nil {
			return nil, err
		}
		alias, err := p.parseAlias()
		if err != nil {
			return nil, err
		}
		return &FuncTable{Call: call, Alias: alias}, nil
	}
	if lateral {
		return nil, p.errorf(p.peek(), "LATERAL requires a subquery or function")
	}

	t := &TableName{}
	switch len(parts) {
	case 1:
		t.Name = parts[0]
	case 2:
		t.Schema, t.Name = parts[0], parts[1]
	default:
		return nil, p.errorf(p.peek(), "cross-database reference %q is not supported", strings.Join(parts, "."))
	}
	if t.Alias, err = p.parseAlias(); err != nil {
		return nil, err
	}
	if p.peek().Kind == LPAREN {
		return nil, p.errorf(p.peek(), "column alias lists are not supported")
	}
	return t, nil
}

func (p *Parser) parseOrderItems() ([]*OrderItem, error) {
	var items []*OrderItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := &OrderItem{Expr: e}
		if p.accept("desc") {
			item.Desc = true
		} else {
			p.accept("asc")
		}
		if p.accept("nulls") {
			first := p.accept("first")
			if !first && !p.accept("last") {
				return nil, p.errorf(p.peek(), "expected FIRST or LAST")
			}
			item.NullsFirst = &first
		}
		items = append(items, item)
		if !p.acceptKind(COMMA) {
			return items, nil
		}
	}
}

func (p *Parser) parseExprList() ([]Expr, error) {
	var list []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if !p.acceptKind(COMMA) {
			return list, nil
		}
	}
}

func (p *Parser) parseExpr() (Expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.accept("and") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.accept("not") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "not", Expr: inner}, nil
	}
	return p.parseIs()
}

func (p *Parser) parseIs() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.accept("is") {
		is := &IsExpr{Expr: left, Not: p.accept("not")}
		tok := p.peek()
		if !tok.Is("null") && !tok.Is("true") && !tok.Is("false") {
			return nil, p.errorf(tok, "expected NULL, TRUE or FALSE after IS")
		}
		p.next()
		is.What = tok.Value
		left = is
	}
	return left, nil
}

var comparisonOps = map[string]bool{
	"=": true, "<>": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parsePredicate()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Kind != OPERATOR || !comparisonOps[tok.Value] {
			return left, nil
		}
		p.next()
		right, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: tok.Value, Left: left, Right: right}
	}
}

func (p *Parser) parsePredicate() (Expr, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	for {
		not := false
		if p.peek().Is("not") {
			switch nxt := p.peekN(1); {
			case nxt.Is("in"), nxt.Is("like"), nxt.Is("ilike"), nxt.Is("between"):
				p.next()
				not = true
			default:
				return left, nil
			}
		}

		tok := p.peek()
		switch {
		case tok.Is("in"):
			p.next()
			in := &InExpr{Expr: left, Not: not}
			if _, err := p.expectKind(LPAREN); err != nil {
				return nil, err
			}
			if p.peek().Is("select") || p.peek().Is("with") {
				if in.Query, err = p.parseSelectStatement(); err != nil {
					return nil, err
				}
			} else if in.List, err = p.parseExprList(); err != nil {
				return nil, err
			}
			if _, err := p.expectKind(RPAREN); err != nil {
				return nil, err
			}
			left = in
		case tok.Is("like"), tok.Is("ilike"):
			p.next()
			right, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			op := tok.Value
			if not {
				op = "not " + op
			}
			left = &BinaryExpr{Op: op, Left: left, Right: right}
		case tok.Is("between"):
			p.next()
			low, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			if err := p.expect("and"); err != nil {
				return nil, err
			}
			high, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			left = &BetweenExpr{Expr: left, Not: not, Low: low, High: high}
		default:
			return left, nil
		}
	}
}

func (p *Parser) parseConcat() (Expr, error) {
	return p.parseBinaryLevel(p.parseAdditive, "||")
}

func (p *Parser) parseAdditive() (Expr, error) {
	return p.parseBinaryLevel(p.parseMultiplicative, "+", "-")
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	return p.parseBinaryLevel(p.parseUnary, "*", "/", "%")
}

func (p *Parser) parseBinaryLevel(operand func() (Expr, error), ops ...string) (Expr, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Kind != OPERATOR || !containsString(ops, tok.Value) {
			return left, nil
		}
		p.next()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: tok.Value, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	if tok := p.peek(); tok.Kind == OPERATOR && (tok.Value == "-" || tok.Value == "+") {
		p.next()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: tok.Value, Expr: inner}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("::") {
		typ, err := p.parseTypeName()
		if err != nil {
			return nil, err
		}
		e = &CastExpr{Expr: e, Type: typ}
	}
	return e, nil
}

var typedLiteralPrefixes = map[string]bool{
	"date": true, "time": true, "timestamp": true, "timestamptz": true, "interval": true,
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	switch tok.Kind {
	case NUMBER:
		p.next()
		return &Literal{Kind: LiteralNumber, Value: tok.Value}, nil
	case STRING:
		p.next()
		return &Literal{Kind: LiteralString, Value: tok.Value}, nil
	case PARAM:
		p.next()
		idx, err := strconv.Atoi(tok.Value)
		if err != nil || idx < 1 {
			return nil, p.errorf(tok, "invalid parameter $%s", tok.Value)
		}
		return &Param{Index: idx}, nil
	case LPAREN:
		p.next()
		if p.peek().Is("select") || p.peek().Is("with") {
			q, err := p.parseSelectStatement()
			if err != nil {
				return nil, err
			}
			if _, err := p.expectKind(RPAREN); err != nil {
				return nil, err
			}
			return &SubqueryExpr{Query: q}, nil
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(RPAREN); err != nil {
			return nil, err
		}
		return e, nil
	case QUOTED_IDENT:
		return p.parseNameExpr()
	case IDENT:
		switch tok.Value {
		case "null":
			p.next()
			return &Literal{Kind: LiteralNull, Value: "null"}, nil
		case "true", "false":
			p.next()
			return &Literal{Kind: LiteralBool, Value: tok.Value}, nil
		case "case":
			return p.parseCase()
		case "cast":
			return p.parseCast()
		case "exists":
			p.next()
			if _, err := p.expectKind(LPAREN); err != nil {
				return nil, err
			}
			q, err := p.parseSelectStatement()
			if err != nil {
				return nil, err
			}
			if _, err := p.expectKind(RPAREN); err != nil {
				return nil, err
			}
			return &ExistsExpr{Query: q}, nil
		case "extract":
			if p.peekN(1).Kind == LPAREN {
				return p.parseExtract()
			}
		}
		if typedLiteralPrefixes[tok.Value] && p.peekN(1).Kind == STRING {
			p.next()
			lit := p.next()
			return &CastExpr{Expr: &Literal{Kind: LiteralString, Value: lit.Value}, Type: tok.Value}, nil
		}
		if reserved[tok.Value] {
			return nil, p.errorf(tok, "unexpected keyword %s", strings.ToUpper(tok.Value))
		}
		return p.parseNameExpr()
	}
	return nil, p.errorf(tok, "unexpected %s", describe(tok))
}

// parseNameExpr reads a column reference, rel.* or a function call.
func (p *Parser) parseNameExpr() (Expr, error) {
	first := p.next()
	parts := []string{first.Value}
	for p.peek().Kind == DOT {
		p.next()
		if p.acceptOp("*") {
			return &Star{Qualifier: parts}, nil
		}
		part, err := p.anyName()
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	if p.peek().Kind == LPAREN {
		return p.parseFuncCall(parts)
	}
	if len(parts) > 3 {
		return nil, p.errorf(first, "column reference %q has too many parts", strings.Join(parts, "."))
	}
	return &ColumnRef{Parts: parts}, nil
}

func (p *Parser) parseFuncCall(name []string) (*FuncCall, error) {
	if _, err := p.expectKind(LPAREN); err != nil {
		return nil, err
	}
	call := &FuncCall{Name: name}
	var err error

	switch {
	case p.acceptOp("*"):
		call.Star = true
	case p.peek().Kind == RPAREN:
	default:
		if p.accept("distinct") {
			call.Distinct = true
		} else {
			p.accept("all")
		}
		if call.Args, err = p.parseExprList(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expectKind(RPAREN); err != nil {
		return nil, err
	}

	if p.peek().Is("filter") && p.peekN(1).Kind == LPAREN {
		p.next()
		p.next()
		if err := p.expect("where"); err != nil {
			return nil, err
		}
		if call.Filter, err = p.parseExpr(); err != nil {
			return nil, err
		}
		if _, err := p.expectKind(RPAREN); err != nil {
			return nil, err
		}
	}

	if p.accept("over") {
		if _, err := p.expectKind(LPAREN); err != nil {
			return nil, err
		}
		spec := &WindowSpec{}
		if p.acceptSeq("partition", "by") {
			if spec.PartitionBy, err = p.parseExprList(); err != nil {
				return nil, err
			}
		}
		if p.acceptSeq("order", "by") {
			if spec.OrderBy, err = p.parseOrderItems(); err != nil {
				return nil, err
			}
		}
		if _, err := p.expectKind(RPAREN); err != nil {
			return nil, err
		}
		call.Over = spec
	}
	return call, nil
}

func (p *Parser) parseCase() (Expr, error) {
	p.next() // CASE
	c := &CaseExpr{}
	var err error
	if !p.peek().Is("when") {
		if c.Operand, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	for p.accept("when") {
		w := &When{}
		if w.Cond, err = p.parseExpr(); err != nil {
			return nil, err
		}
		if err := p.expect("then"); err != nil {
			return nil, err
		}
		if w.Result, err = p.parseExpr(); err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, w)
	}
	if len(c.Whens) == 0 {
		return nil, p.errorf(p.peek(), "CASE requires at least one WHEN")
	}
	if p.accept("else") {
		if c.Else, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	if err := p.expect("end"); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Parser) parseCast() (Expr, error) {
	p.next() // CAST
	if _, err := p.expectKind(LPAREN); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect("as"); err != nil {
		return nil, err
	}
	typ, err := p.parseTypeName()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKind(RPAREN); err != nil {
		return nil, err
	}
	return &CastExpr{Expr: e, Type: typ}, nil
}

func (p *Parser) parseExtract() (Expr, error) {
	p.next() // EXTRACT
	p.next() // (
	var field string
	if tok := p.peek(); tok.Kind == STRING {
		field = strings.ToLower(p.next().Value)
	} else {
		name, err := p.anyName()
		if err != nil {
			return nil, err
		}
		field = name
	}
	if err := p.expect("from"); err != nil {
		return nil, err
	}
	source, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKind(RPAREN); err != nil {
		return nil, err
	}
	return &FuncCall{
		Name: []string{"extract"},
		Args: []Expr{&Literal{Kind: LiteralString, Value: field}, source},
	}, nil
}

var typeNameWords = map[string]bool{
	"precision": true, "varying": true, "with": true, "without": true, "time": true, "zone": true,
}

// parseTypeName accepts bare words only so the rendered type can never carry
// quoted text.
func (p *Parser) parseTypeName() (string, error) {
	first, err := p.expectKind(IDENT)
	if err != nil {
		return "", err
	}
	name := first.Value
	for p.peek().Kind == DOT {
		p.next()
		part, err := p.expectKind(IDENT)
		if err != nil {
			return "", err
		}
		name += "." + part.Value
	}
	for tok := p.peek(); tok.Kind == IDENT && typeNameWords[tok.Value]; tok = p.peek() {
		name += " " + tok.Value
		p.next()
	}
	if p.acceptKind(LPAREN) {
		var mods []string
		for {
			n, err := p.expectKind(NUMBER)
			if err != nil {
				return "", err
			}
			mods = append(mods, n.Value)
			if !p.acceptKind(COMMA) {
				break
			}
		}
		if _, err := p.expectKind(RPAREN); err != nil {
			return "", err
		}
		name += "(" + strings.Join(mods, ",") + ")"
	}
	if p.acceptKind(LBRACKET) {
		if _, err := p.expectKind(RBRACKET); err != nil {
			return "", err
		}
		name += "[]"
	}
	return name, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
