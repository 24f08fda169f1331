// Package querylang parses the SQL subset used by query specs:
//
//	SELECT * FROM c [WHERE cond] [ORDER BY c.field [ASC|DESC]]
//	SELECT VALUE COUNT(1) FROM c [WHERE cond]
//
// where cond combines comparisons (= != <> < <= > >=) between fields
// (c.field), named parameters (@name) and literals with AND, OR, NOT and
// parentheses. Drivers compile the resulting Statement to their own dialect.
package querylang

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Statement is a parsed query.
type Statement struct {
	// Count is true for SELECT VALUE COUNT(1).
	Count bool

	// Alias is the collection alias from the FROM clause.
	Alias string

	// Where is the filter, nil when the query has none.
	Where Expr

	// OrderBy is the sort order, nil when unordered.
	OrderBy *Order
}

// Order is an ORDER BY clause.
type Order struct {
	Field string
	Desc  bool
}

// Expr is a filter expression node.
type Expr interface{ expr() }

// Logical joins two expressions with AND or OR.
type Logical struct {
	Op          string // "AND" or "OR"
	Left, Right Expr
}

// Not negates an expression.
type Not struct{ X Expr }

// Comparison compares two operands. Op is normalized: "<>" becomes "!=".
type Comparison struct {
	Left  Operand
	Op    string
	Right Operand
}

func (Logical) expr()    {}
func (Not) expr()        {}
func (Comparison) expr() {}

// OperandKind tells what an Operand refers to.
type OperandKind int

// Values for OperandKind.
const (
	FieldRef OperandKind = iota
	ParamRef
	Literal
)

// Operand is one side of a comparison.
type Operand struct {
	Kind  OperandKind
	Name  string      // field name, or parameter name including '@'
	Value interface{} // literal value: string, float64, bool or nil
}

// Parse parses text into a Statement.
func Parse(text string) (*Statement, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	st, err := p.statement()
	if err != nil {
		return nil, fmt.Errorf("querylang: %v in %q", err, text)
	}
	return st, nil
}

// Params returns the parameter names referenced by e, in order of first
// appearance.
func Params(e Expr) []string {
	var names []string
	seen := map[string]bool{}
	Walk(e, func(c Comparison) {
		for _, o := range []Operand{c.Left, c.Right} {
			if o.Kind == ParamRef && !seen[o.Name] {
				seen[o.Name] = true
				names = append(names, o.Name)
			}
		}
	})
	return names
}

// Walk calls fn for every comparison in e, left to right.
func Walk(e Expr, fn func(Comparison)) {
	switch n := e.(type) {
	case Logical:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case Not:
		Walk(n.X, fn)
	case Comparison:
		fn(n)
	}
}

type tokenKind int

const (
	tEOF tokenKind = iota
	tIdent
	tParam
	tNumber
	tString
	tOp
	tPunct
)

type token struct {
	kind tokenKind
	text string
}

func lex(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '@' || isIdentStart(c):
			start := i
			i++
			for i < len(s) && isIdentPart(rune(s[i])) {
				i++
			}
			kind := tIdent
			if c == '@' {
				if i == start+1 {
					return nil, fmt.Errorf("querylang: empty parameter name at %d", start)
				}
				kind = tParam
			}
			toks = append(toks, token{kind, s[start:i]})
		case unicode.IsDigit(c) || (c == '-' && i+1 < len(s) && unicode.IsDigit(rune(s[i+1]))):
			start := i
			i++
			for i < len(s) && (unicode.IsDigit(rune(s[i])) || s[i] == '.') {
				i++
			}
			toks = append(toks, token{tNumber, s[start:i]})
		case c == '\'' || c == '"':
			quote := s[i]
			var sb strings.Builder
			i++
			closed := false
			for i < len(s) {
				if s[i] == quote {
					if i+1 < len(s) && s[i+1] == quote {
						sb.WriteByte(quote)
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteByte(s[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("querylang: unterminated string")
			}
			toks = append(toks, token{tString, sb.String()})
		case strings.ContainsRune("=<>!", c):
			start := i
			i++
			if i < len(s) && (s[i] == '=' || (c == '<' && s[i] == '>')) {
				i++
			}
			op := s[start:i]
			if op == "!" {
				return nil, fmt.Errorf("querylang: unexpected '!' at %d", start)
			}
			toks = append(toks, token{tOp, op})
		case strings.ContainsRune("().,*", c):
			toks = append(toks, token{tPunct, string(c)})
			i++
		default:
			return nil, fmt.Errorf("querylang: unexpected %q at %d", c, i)
		}
	}
	return append(toks, token{kind: tEOF}), nil
}

func isIdentStart(c rune) bool { return c == '_' || unicode.IsLetter(c) }
func isIdentPart(c rune) bool  { return c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c) }

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) punct(s string) bool {
	t := p.peek()
	if t.kind == tPunct && t.text == s {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.keyword(kw) {
		return fmt.Errorf("expected %s, found %q", kw, p.peek().text)
	}
	return nil
}

func (p *parser) expectPunct(s string) error {
	if !p.punct(s) {
		return fmt.Errorf("expected %q, found %q", s, p.peek().text)
	}
	return nil
}

func (p *parser) statement() (*Statement, error) {
	st := &Statement{}
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	projAlias := ""
	switch {
	case p.punct("*"):
	case p.keyword("VALUE"):
		if p.keyword("COUNT") {
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			if t := p.next(); !(t.kind == tNumber || (t.kind == tPunct && t.text == "*")) {
				return nil, fmt.Errorf("unsupported COUNT argument %q", t.text)
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			st.Count = true
		} else if t := p.next(); t.kind == tIdent {
			projAlias = t.text
		} else {
			return nil, fmt.Errorf("unsupported projection %q", t.text)
		}
	default:
		t := p.next()
		if t.kind != tIdent {
			return nil, fmt.Errorf("unsupported projection %q", t.text)
		}
		projAlias = t.text
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from := p.next()
	if from.kind != tIdent {
		return nil, fmt.Errorf("expected collection alias, found %q", from.text)
	}
	st.Alias = from.text
	if projAlias != "" && projAlias != st.Alias {
		return nil, fmt.Errorf("projection %q doesn't match alias %q", projAlias, st.Alias)
	}
	if p.keyword("WHERE") {
		e, err := p.or(st.Alias)
		if err != nil {
			return nil, err
		}
		st.Where = e
	}
	if p.keyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		o, err := p.operand(st.Alias)
		if err != nil {
			return nil, err
		}
		if o.Kind != FieldRef {
			return nil, fmt.Errorf("ORDER BY needs a field")
		}
		st.OrderBy = &Order{Field: o.Name}
		if p.keyword("DESC") {
			st.OrderBy.Desc = true
		} else {
			p.keyword("ASC")
		}
	}
	if t := p.peek(); t.kind != tEOF {
		return nil, fmt.Errorf("unexpected %q", t.text)
	}
	return st, nil
}

func (p *parser) or(alias string) (Expr, error) {
	left, err := p.and(alias)
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.and(alias)
		if err != nil {
			return nil, err
		}
		left = Logical{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) and(alias string) (Expr, error) {
	left, err := p.unary(alias)
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.unary(alias)
		if err != nil {
			return nil, err
		}
		left = Logical{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) unary(alias string) (Expr, error) {
	if p.keyword("NOT") {
		x, err := p.unary(alias)
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	}
	if p.punct("(") {
		e, err := p.or(alias)
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil
	}
	left, err := p.operand(alias)
	if err != nil {
		return nil, err
	}
	op := p.next()
	if op.kind != tOp {
		return nil, fmt.Errorf("expected comparison operator, found %q", op.text)
	}
	right, err := p.operand(alias)
	if err != nil {
		return nil, err
	}
	o := op.text
	if o == "<>" {
		o = "!="
	}
	return Comparison{Left: left, Op: o, Right: right}, nil
}

var reserved = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "WHERE": true, "ORDER": true, "BY": true,
	"FROM": true, "SELECT": true, "ASC": true, "DESC": true,
}

func (p *parser) operand(alias string) (Operand, error) {
	t := p.next()
	switch t.kind {
	case tParam:
		return Operand{Kind: ParamRef, Name: t.text}, nil
	case tString:
		return Operand{Kind: Literal, Value: t.text}, nil
	case tNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return Operand{}, fmt.Errorf("bad number %q", t.text)
		}
		return Operand{Kind: Literal, Value: f}, nil
	case tIdent:
		upper := strings.ToUpper(t.text)
		switch upper {
		case "TRUE":
			return Operand{Kind: Literal, Value: true}, nil
		case "FALSE":
			return Operand{Kind: Literal, Value: false}, nil
		case "NULL":
			return Operand{Kind: Literal, Value: nil}, nil
		}
		if reserved[upper] {
			return Operand{}, fmt.Errorf("unexpected keyword %s", t.text)
		}
		if t.text == alias && p.punct(".") {
			f := p.next()
			if f.kind != tIdent {
				return Operand{}, fmt.Errorf("expected field after %s.", alias)
			}
			return Operand{Kind: FieldRef, Name: f.text}, nil
		}
		// A bare identifier names a field of the aliased document.
		return Operand{Kind: FieldRef, Name: t.text}, nil
	}
	return Operand{}, fmt.Errorf("unexpected %q", t.text)
}

// Pinned reports whether the top-level conjunction of e fixes every field in
// fields to a string by equality, and returns the values in fields' order.
// params resolves parameter references. It's used to bind a query to a single
// partition.
func Pinned(e Expr, fields []string, params map[string]interface{}) ([]string, bool) {
	eq := map[string]string{}
	var collect func(Expr)
	collect = func(e Expr) {
		switch n := e.(type) {
		case Logical:
			if n.Op == "AND" {
				collect(n.Left)
				collect(n.Right)
			}
		case Comparison:
			if n.Op != "=" {
				return
			}
			field, other := n.Left, n.Right
			if field.Kind != FieldRef {
				field, other = other, field
			}
			if field.Kind != FieldRef {
				return
			}
			var v interface{}
			switch other.Kind {
			case ParamRef:
				v = params[other.Name]
			case Literal:
				v = other.Value
			default:
				return
			}
			if s, ok := v.(string); ok {
				eq[field.Name] = s
			}
		}
	}
	if e != nil {
		collect(e)
	}
	values := make([]string, len(fields))
	for i, f := range fields {
		v, ok := eq[f]
		if !ok {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}
