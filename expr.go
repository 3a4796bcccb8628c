package isaspec

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expression is a small integer expression over the fields of the case it is
// evaluated in, written in C syntax with field references as {NAME}.
type Expression struct {
	Name   string
	Source string

	// Refs lists every name the expression reads, in first-use order.
	Refs []string

	root exprNode
}

// ParseExpression compiles src. The name is only used in error messages.
func ParseExpression(name, src string) (*Expression, error) {
	p := &exprParser{lex: &exprLexer{s: src}}
	root, err := p.parseCond()
	if err != nil {
		return nil, err
	}
	if tok := p.lex.next(); tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q after expression", tok.text)
	}
	e := &Expression{Name: name, Source: src, root: root}
	seen := make(map[string]bool)
	collectRefs(root, func(ref string) {
		if !seen[ref] {
			seen[ref] = true
			e.Refs = append(e.Refs, ref)
		}
	})
	return e, nil
}

// Eval evaluates the expression, calling lookup for every referenced name.
func (e *Expression) Eval(lookup func(name string) (int64, error)) (int64, error) {
	return e.root.eval(lookup)
}

func (e *Expression) String() string {
	return e.Source
}

type exprNode interface {
	eval(lookup func(string) (int64, error)) (int64, error)
}

type exprNum struct{ v int64 }

type exprRef struct{ name string }

type exprUnary struct {
	op string
	x  exprNode
}

type exprBinary struct {
	op   string
	a, b exprNode
}

type exprCond struct{ c, a, b exprNode }

func collectRefs(n exprNode, fn func(string)) {
	switch n := n.(type) {
	case exprRef:
		fn(n.name)
	case exprUnary:
		collectRefs(n.x, fn)
	case exprBinary:
		collectRefs(n.a, fn)
		collectRefs(n.b, fn)
	case exprCond:
		collectRefs(n.c, fn)
		collectRefs(n.a, fn)
		collectRefs(n.b, fn)
	}
}

func (n exprNum) eval(func(string) (int64, error)) (int64, error) {
	return n.v, nil
}

func (n exprRef) eval(lookup func(string) (int64, error)) (int64, error) {
	return lookup(n.name)
}

func (n exprUnary) eval(lookup func(string) (int64, error)) (int64, error) {
	x, err := n.x.eval(lookup)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "!":
		return boolInt(x == 0), nil
	case "~":
		return ^x, nil
	case "-":
		return -x, nil
	}
	return 0, fmt.Errorf("unknown unary operator %q", n.op)
}

func (n exprBinary) eval(lookup func(string) (int64, error)) (int64, error) {
	a, err := n.a.eval(lookup)
	if err != nil {
		return 0, err
	}
	// Logical operators short-circuit like C.
	switch n.op {
	case "&&":
		if a == 0 {
			return 0, nil
		}
	case "||":
		if a != 0 {
			return 1, nil
		}
	}
	b, err := n.b.eval(lookup)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "&&", "||":
		return boolInt(b != 0), nil
	case "|":
		return a | b, nil
	case "^":
		return a ^ b, nil
	case "&":
		return a & b, nil
	case "==":
		return boolInt(a == b), nil
	case "!=":
		return boolInt(a != b), nil
	case "<":
		return boolInt(a < b), nil
	case "<=":
		return boolInt(a <= b), nil
	case ">":
		return boolInt(a > b), nil
	case ">=":
		return boolInt(a >= b), nil
	case "<<":
		return a << uint64(b), nil
	case ">>":
		return a >> uint64(b), nil
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/", "%":
		if b == 0 {
			return 0, errDivideByZero
		}
		if n.op == "/" {
			return a / b, nil
		}
		return a % b, nil
	}
	return 0, fmt.Errorf("unknown binary operator %q", n.op)
}

func (n exprCond) eval(lookup func(string) (int64, error)) (int64, error) {
	c, err := n.c.eval(lookup)
	if err != nil {
		return 0, err
	}
	if c != 0 {
		return n.a.eval(lookup)
	}
	return n.b.eval(lookup)
}

var errDivideByZero = fmt.Errorf("division by zero")

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Lexer

type exprTokenKind int

const (
	tokEOF exprTokenKind = iota
	tokNumber
	tokRef
	tokOp
	tokLParen
	tokRParen
	tokQuestion
	tokColon
)

type exprToken struct {
	kind exprTokenKind
	text string
}

type exprLexer struct {
	s string
	i int
}

func (l *exprLexer) peek() exprToken {
	pos := l.i
	tok := l.next()
	l.i = pos
	return tok
}

// Two-character operators must come before their one-character prefixes.
var exprOps = []string{"&&", "||", "==", "!=", "<=", ">=", "<<", ">>", "!", "~", "*", "/", "%", "+", "-", "<", ">", "&", "^", "|"}

func (l *exprLexer) next() exprToken {
	for l.i < len(l.s) && unicode.IsSpace(rune(l.s[l.i])) {
		l.i++
	}
	if l.i >= len(l.s) {
		return exprToken{kind: tokEOF}
	}
	ch := l.s[l.i]
	switch ch {
	case '(':
		l.i++
		return exprToken{kind: tokLParen, text: "("}
	case ')':
		l.i++
		return exprToken{kind: tokRParen, text: ")"}
	case '?':
		l.i++
		return exprToken{kind: tokQuestion, text: "?"}
	case ':':
		l.i++
		return exprToken{kind: tokColon, text: ":"}
	case '{':
		end := strings.IndexByte(l.s[l.i:], '}')
		if end < 0 {
			l.i = len(l.s)
			return exprToken{kind: tokOp, text: "{"}
		}
		name := strings.TrimSpace(l.s[l.i+1 : l.i+end])
		l.i += end + 1
		return exprToken{kind: tokRef, text: name}
	}
	for _, op := range exprOps {
		if strings.HasPrefix(l.s[l.i:], op) {
			l.i += len(op)
			return exprToken{kind: tokOp, text: op}
		}
	}
	if isIdentStart(ch) {
		start := l.i
		for l.i < len(l.s) && isIdentPart(l.s[l.i]) {
			l.i++
		}
		return exprToken{kind: tokRef, text: l.s[start:l.i]}
	}
	if unicode.IsDigit(rune(ch)) {
		start := l.i
		for l.i < len(l.s) && isIdentPart(l.s[l.i]) {
			l.i++
		}
		return exprToken{kind: tokNumber, text: l.s[start:l.i]}
	}
	l.i++
	return exprToken{kind: tokOp, text: string(ch)}
}

func isIdentStart(b byte) bool {
	return unicode.IsLetter(rune(b)) || b == '_' || b == '#'
}

func isIdentPart(b byte) bool {
	return isIdentStart(b) || unicode.IsDigit(rune(b)) || b == '.'
}

// Parser

type exprParser struct {
	lex *exprLexer
}

// binaryPrec gives C precedence for every binary operator, higher binds
// tighter.
var binaryPrec = map[string]int{
	"||": 1,
	"&&": 2,
	"|":  3,
	"^":  4,
	"&":  5,
	"==": 6, "!=": 6,
	"<": 7, "<=": 7, ">": 7, ">=": 7,
	"<<": 8, ">>": 8,
	"+": 9, "-": 9,
	"*": 10, "/": 10, "%": 10,
}

func (p *exprParser) parseCond() (exprNode, error) {
	c, err := p.parseBinary(1)
	if err != nil {
		return nil, err
	}
	if p.lex.peek().kind != tokQuestion {
		return c, nil
	}
	p.lex.next()
	a, err := p.parseCond()
	if err != nil {
		return nil, err
	}
	if p.lex.next().kind != tokColon {
		return nil, fmt.Errorf("expected : in conditional expression")
	}
	b, err := p.parseCond()
	if err != nil {
		return nil, err
	}
	return exprCond{c: c, a: a, b: b}, nil
}

func (p *exprParser) parseBinary(minPrec int) (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.lex.peek()
		prec, ok := binaryPrec[tok.text]
		if tok.kind != tokOp || !ok || prec < minPrec {
			return left, nil
		}
		p.lex.next()
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = exprBinary{op: tok.text, a: left, b: right}
	}
}

func (p *exprParser) parseUnary() (exprNode, error) {
	tok := p.lex.peek()
	if tok.kind == tokOp && (tok.text == "!" || tok.text == "~" || tok.text == "-") {
		p.lex.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return exprUnary{op: tok.text, x: x}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	tok := p.lex.next()
	switch tok.kind {
	case tokRef:
		if tok.text == "" {
			return nil, fmt.Errorf("empty field reference")
		}
		return exprRef{name: tok.text}, nil
	case tokNumber:
		v, err := parseExprNumber(tok.text)
		if err != nil {
			return nil, err
		}
		return exprNum{v: v}, nil
	case tokLParen:
		x, err := p.parseCond()
		if err != nil {
			return nil, err
		}
		if p.lex.next().kind != tokRParen {
			return nil, fmt.Errorf("expected )")
		}
		return x, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	default:
		return nil, fmt.Errorf("unexpected token %q", tok.text)
	}
}

func parseExprNumber(s string) (int64, error) {
	// Base 0 accepts decimal, 0x, 0b and leading-zero octal.
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return int64(v), nil
}
