package expression

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Engine compiles and evaluates expressions. Parse results are memoized per
// (expression, schema field set) pair, so a schema change produces a new memo
// key instead of corrupting previously compiled trees.
type Engine struct {
	mu        sync.RWMutex
	parseMemo map[string]*ParseResult

	resultMu    sync.Mutex
	resultCache map[string]EvalResult
	maxResults  int
}

func NewEngine() *Engine {
	return &Engine{
		parseMemo:   make(map[string]*ParseResult),
		resultCache: make(map[string]EvalResult),
		maxResults:  4096,
	}
}

// Parse compiles expr against schema. Malformed input yields IsValid=false
// with human-readable errors; Parse never panics on user input.
func (e *Engine) Parse(expr string, schema Schema) *ParseResult {
	memoKey := expr + "\x00" + schema.key()

	e.mu.RLock()
	cached, ok := e.parseMemo[memoKey]
	e.mu.RUnlock()
	if ok {
		return cached
	}

	result := parse(expr, schema)

	e.mu.Lock()
	e.parseMemo[memoKey] = result
	e.mu.Unlock()
	return result
}

// PurgeParsed drops every memoized parse whose source expression matches
// pred. Used when rules are mutated at runtime.
func (e *Engine) PurgeParsed(pred func(source string) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range e.parseMemo {
		src := k
		if v.Expression != nil {
			src = v.Expression.Source
		} else if idx := strings.IndexByte(k, '\x00'); idx >= 0 {
			src = k[:idx]
		}
		if pred(src) {
			delete(e.parseMemo, k)
		}
	}
}

// ClearCaches drops all memoized parses and evaluation results.
func (e *Engine) ClearCaches() {
	e.mu.Lock()
	e.parseMemo = make(map[string]*ParseResult)
	e.mu.Unlock()

	e.resultMu.Lock()
	e.resultCache = make(map[string]EvalResult)
	e.resultMu.Unlock()
}

func parse(expr string, schema Schema) *ParseResult {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return &ParseResult{Errors: []string{"expression is empty"}}
	}

	tokens, lexErrs := lex(trimmed)
	if len(lexErrs) > 0 {
		return &ParseResult{Errors: lexErrs}
	}

	var errs []string
	for _, t := range tokens {
		if t.kind == tokSemicolon {
			errs = append(errs, fmt.Sprintf("statement separator ';' is not allowed (position %d)", t.pos))
		}
		if t.kind == tokIdent && isForbidden(t.text) {
			errs = append(errs, fmt.Sprintf("disallowed keyword %q (position %d)", strings.ToUpper(t.text), t.pos))
		}
	}
	if len(errs) > 0 {
		return &ParseResult{Errors: errs}
	}

	p := &parser{tokens: tokens, schema: schema}
	root := p.parseOr()
	if p.peek().kind != tokEOF {
		p.errorf("unexpected token %q at position %d", p.peek().text, p.peek().pos)
	}
	if len(p.errs) > 0 {
		return &ParseResult{Errors: p.errs}
	}

	parsed := &ParsedExpression{
		Source:        expr,
		OptimizedText: root.String(),
		Root:          root,
		FieldRefs:     p.fields,
		InferredKind:  inferKind(root),
	}
	return &ParseResult{IsValid: true, Expression: parsed}
}

type parser struct {
	tokens []token
	pos    int
	schema Schema
	fields []FieldRef
	errs   []string
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) {
	p.errs = append(p.errs, fmt.Sprintf(format, args...))
}

func (p *parser) acceptKeyword(kw string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) token {
	t := p.peek()
	if t.kind != kind {
		p.errorf("expected %s at position %d, found %q", what, t.pos, t.text)
		return t
	}
	return p.next()
}

func (p *parser) parseOr() Node {
	left := p.parseAnd()
	for p.acceptKeyword("OR") {
		right := p.parseAnd()
		left = &BinaryNode{Op: "OR", Left: left, Right: right}
	}
	return left
}

func (p *parser) parseAnd() Node {
	left := p.parseNot()
	for p.acceptKeyword("AND") {
		right := p.parseNot()
		left = &BinaryNode{Op: "AND", Left: left, Right: right}
	}
	return left
}

func (p *parser) parseNot() Node {
	if p.acceptKeyword("NOT") {
		return &NotNode{X: p.parseNot()}
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() Node {
	left := p.parseAdditive()

	t := p.peek()
	if t.kind == tokOp {
		switch t.text {
		case "=", "<>", "!=", "<", "<=", ">", ">=":
			p.next()
			right := p.parseAdditive()
			op := t.text
			if op == "!=" {
				op = "<>"
			}
			return &BinaryNode{Op: op, Left: left, Right: right}
		}
	}

	negated := false
	if t.kind == tokIdent && strings.EqualFold(t.text, "NOT") {
		after := p.tokens[p.pos+1]
		if after.kind == tokIdent && (strings.EqualFold(after.text, "IN") || strings.EqualFold(after.text, "LIKE")) {
			p.next()
			negated = true
		}
	}

	switch {
	case p.acceptKeyword("IN"):
		p.expect(tokLParen, "'('")
		var list []Node
		for {
			list = append(list, p.parseAdditive())
			if p.peek().kind == tokComma {
				p.next()
				continue
			}
			break
		}
		p.expect(tokRParen, "')'")
		return &InNode{X: left, List: list, Negated: negated}

	case p.acceptKeyword("LIKE"):
		right := p.parseAdditive()
		n := Node(&BinaryNode{Op: "LIKE", Left: left, Right: right})
		if negated {
			n = &NotNode{X: n}
		}
		return n

	case p.acceptKeyword("IS"):
		isNegated := p.acceptKeyword("NOT")
		if !p.acceptKeyword("NULL") {
			p.errorf("expected NULL after IS at position %d", p.peek().pos)
		}
		return &IsNullNode{X: left, Negated: isNegated}
	}

	return left
}

func (p *parser) parseAdditive() Node {
	left := p.parseMultiplicative()
	for {
		t := p.peek()
		if t.kind == tokOp && (t.text == "+" || t.text == "-") {
			p.next()
			right := p.parseMultiplicative()
			left = &BinaryNode{Op: t.text, Left: left, Right: right}
			continue
		}
		return left
	}
}

func (p *parser) parseMultiplicative() Node {
	left := p.parseUnary()
	for {
		t := p.peek()
		if t.kind == tokOp && (t.text == "*" || t.text == "/") {
			p.next()
			right := p.parseUnary()
			left = &BinaryNode{Op: t.text, Left: left, Right: right}
			continue
		}
		return left
	}
}

func (p *parser) parseUnary() Node {
	t := p.peek()
	if t.kind == tokOp && t.text == "-" {
		p.next()
		return &NegNode{X: p.parseUnary()}
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() Node {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			p.errorf("invalid number %q at position %d", t.text, t.pos)
			return &NullNode{}
		}
		return &NumberNode{Value: v, Text: t.text}

	case tokString:
		return &StringNode{Value: t.text}

	case tokDate:
		return p.dateNode(t.text, t.pos)

	case tokVariable:
		return &VariableNode{Name: t.text}

	case tokLParen:
		inner := p.parseOr()
		p.expect(tokRParen, "')'")
		return inner

	case tokIdent:
		switch strings.ToUpper(t.text) {
		case "TRUE":
			return &BoolNode{Value: true}
		case "FALSE":
			return &BoolNode{Value: false}
		case "NULL":
			return &NullNode{}
		case "DATE":
			lit := p.expect(tokString, "date string")
			if lit.kind != tokString {
				return &NullNode{}
			}
			return p.dateNode(lit.text, lit.pos)
		}

		if p.peek().kind == tokLParen {
			p.next()
			var args []Node
			if p.peek().kind != tokRParen {
				for {
					args = append(args, p.parseOr())
					if p.peek().kind == tokComma {
						p.next()
						continue
					}
					break
				}
			}
			p.expect(tokRParen, "')'")
			return &CallNode{Name: strings.ToUpper(t.text), Args: args}
		}

		return p.fieldNode(t)

	default:
		p.errorf("unexpected token %q at position %d", t.text, t.pos)
		return &NullNode{}
	}
}

func (p *parser) fieldNode(t token) Node {
	if isKeyword(t.text) {
		p.errorf("unexpected keyword %q at position %d", strings.ToUpper(t.text), t.pos)
		return &NullNode{}
	}

	ref := FieldRef{Name: t.text}
	if idx := strings.IndexByte(t.text, '.'); idx >= 0 {
		ref = FieldRef{Alias: t.text[:idx], Name: t.text[idx+1:]}
	}

	canonical, kind, ok := p.schema.lookup(t.text)
	if !ok {
		p.errorf("unknown field %q (position %d)", t.text, t.pos)
		return &NullNode{}
	}

	p.fields = append(p.fields, ref)
	return &FieldNode{Ref: ref, Kind: kind, canonical: canonical}
}

func (p *parser) dateNode(text string, pos int) Node {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02", "2006/01/02"} {
		if v, err := time.Parse(layout, text); err == nil {
			return &DateNode{Value: v, Text: text}
		}
	}
	p.errorf("invalid date literal %q at position %d", text, pos)
	return &NullNode{}
}

// inferKind walks the tree top-down: the outermost operator decides what the
// whole expression yields.
func inferKind(n Node) ValueKind {
	switch v := n.(type) {
	case *BinaryNode:
		switch v.Op {
		case "AND", "OR", "=", "<>", "<", "<=", ">", ">=", "LIKE":
			return KindBoolean
		case "+", "-", "*", "/":
			lk, rk := inferKind(v.Left), inferKind(v.Right)
			if lk == KindNumeric && rk == KindNumeric {
				return KindNumeric
			}
			return KindMixed
		}
		return KindMixed
	case *NotNode, *InNode, *IsNullNode, *BoolNode:
		return KindBoolean
	case *NegNode, *NumberNode:
		return KindNumeric
	case *StringNode:
		return KindString
	case *DateNode:
		return KindDate
	case *FieldNode:
		switch v.Kind {
		case TypeBoolean:
			return KindBoolean
		case TypeNumeric:
			return KindNumeric
		case TypeString:
			return KindString
		case TypeDate:
			return KindDate
		}
		return KindUnknown
	case *CallNode:
		switch v.Name {
		case "LEN", "ABS", "ROUND":
			return KindNumeric
		case "UPPER", "LOWER", "TRIM":
			return KindString
		}
		return KindMixed
	default:
		return KindUnknown
	}
}
