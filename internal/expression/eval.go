package expression

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// NullPolicy controls what a comparison against a missing/null field yields.
type NullPolicy int

const (
	// NullReturnNull propagates null; the overall result value is nil.
	NullReturnNull NullPolicy = iota
	// NullReturnFalse collapses a null outcome to false.
	NullReturnFalse
	// NullThrow reports the evaluation as failed.
	NullThrow
	// NullIgnore behaves like NullReturnNull without logging.
	NullIgnore
)

// EvalOptions tune a single evaluation.
type EvalOptions struct {
	Nulls           NullPolicy
	CoerceTypes     bool
	CaseInsensitive bool
	UseResultCache  bool
}

// EvalFunc is a caller-supplied function binding.
type EvalFunc func(args []any) (any, error)

// EvalContext carries options plus variable and function bindings consulted
// during the tree walk.
type EvalContext struct {
	Options   EvalOptions
	Variables map[string]any
	Functions map[string]EvalFunc
}

// EvalResult is the outcome of evaluating one expression against one feature.
// A runtime fault (missing field, type mismatch) surfaces here, never as a
// panic; the caller decides whether to skip or fail the owning rule.
type EvalResult struct {
	IsSuccess    bool
	Value        any
	ErrorMessage string
	Elapsed      time.Duration
}

// Bool collapses the result value to a boolean, applying the null policy the
// evaluation ran with.
func (r EvalResult) Bool() bool {
	b, ok := r.Value.(bool)
	return ok && b
}

// Feature is the minimal view of a geospatial record the evaluator needs.
type Feature interface {
	OID() int64
	Field(name string) (any, bool)
}

// evalError aborts the walk; it is caught at the Evaluate boundary.
type evalError struct {
	msg string
}

func (e evalError) Error() string { return e.msg }

// Evaluate walks parsed against feature. Runtime faults return
// IsSuccess=false with a message.
func (e *Engine) Evaluate(parsed *ParsedExpression, feature Feature, evalCtx *EvalContext) EvalResult {
	if evalCtx == nil {
		evalCtx = &EvalContext{}
	}
	start := time.Now()

	cacheKey := ""
	if evalCtx.Options.UseResultCache && feature != nil {
		cacheKey = parsed.OptimizedText + "\x00" + strconv.FormatInt(feature.OID(), 10)
		e.resultMu.Lock()
		cached, ok := e.resultCache[cacheKey]
		e.resultMu.Unlock()
		if ok {
			return cached
		}
	}

	resolve := func(f *FieldNode) (any, bool) {
		if feature == nil {
			return nil, false
		}
		if v, ok := feature.Field(f.canonical); ok {
			return v, true
		}
		return feature.Field(f.Ref.Name)
	}

	result := e.run(parsed, resolve, evalCtx, start)

	if cacheKey != "" && result.IsSuccess {
		e.resultMu.Lock()
		if len(e.resultCache) >= e.maxResults {
			e.resultCache = make(map[string]EvalResult)
		}
		e.resultCache[cacheKey] = result
		e.resultMu.Unlock()
	}
	return result
}

// EvaluateMulti evaluates expr against several features at once, one per
// table alias, using the unioned multi-table schema. Used by cross-table
// relation rules.
func (e *Engine) EvaluateMulti(expr string, featuresByAlias map[string]Feature, schemasByAlias map[string]Schema, evalCtx *EvalContext) EvalResult {
	if evalCtx == nil {
		evalCtx = &EvalContext{}
	}
	start := time.Now()

	union := Schema{}
	for alias, schema := range schemasByAlias {
		for name, kind := range schema {
			union[alias+"."+name] = kind
		}
	}

	parsed := e.Parse(expr, union)
	if !parsed.IsValid {
		return EvalResult{ErrorMessage: strings.Join(parsed.Errors, "; "), Elapsed: time.Since(start)}
	}

	resolve := func(f *FieldNode) (any, bool) {
		alias := f.Ref.Alias
		if alias == "" {
			if idx := strings.IndexByte(f.canonical, '.'); idx >= 0 {
				alias = f.canonical[:idx]
			}
		}
		feature, ok := featuresByAlias[alias]
		if !ok || feature == nil {
			return nil, false
		}
		if v, ok := feature.Field(f.Ref.Name); ok {
			return v, true
		}
		name := f.canonical
		if idx := strings.IndexByte(name, '.'); idx >= 0 {
			name = name[idx+1:]
		}
		return feature.Field(name)
	}

	return e.run(parsed.Expression, resolve, evalCtx, start)
}

type fieldResolver func(*FieldNode) (any, bool)

func (e *Engine) run(parsed *ParsedExpression, resolve fieldResolver, evalCtx *EvalContext, start time.Time) (result EvalResult) {
	defer func() {
		if r := recover(); r != nil {
			if ee, ok := r.(evalError); ok {
				result = EvalResult{ErrorMessage: ee.msg, Elapsed: time.Since(start)}
				return
			}
			result = EvalResult{ErrorMessage: fmt.Sprintf("evaluation panic: %v", r), Elapsed: time.Since(start)}
		}
	}()

	w := &walker{resolve: resolve, ctx: evalCtx}
	value := w.eval(parsed.Root)

	if value == nil && evalCtx.Options.Nulls == NullReturnFalse {
		value = false
	}
	return EvalResult{IsSuccess: true, Value: value, Elapsed: time.Since(start)}
}

type walker struct {
	resolve fieldResolver
	ctx     *EvalContext
}

func (w *walker) fail(format string, args ...any) {
	panic(evalError{msg: fmt.Sprintf(format, args...)})
}

func (w *walker) eval(n Node) any {
	switch v := n.(type) {
	case *NumberNode:
		return v.Value
	case *StringNode:
		return v.Value
	case *DateNode:
		return v.Value
	case *BoolNode:
		return v.Value
	case *NullNode:
		return nil

	case *FieldNode:
		value, ok := w.resolve(v)
		if !ok {
			if w.ctx.Options.Nulls == NullThrow {
				w.fail("field %q not present on feature", v.Ref.String())
			}
			return nil
		}
		if value == nil && w.ctx.Options.Nulls == NullThrow {
			w.fail("field %q is null", v.Ref.String())
		}
		return normalize(value)

	case *VariableNode:
		if w.ctx.Variables != nil {
			if value, ok := w.ctx.Variables[v.Name]; ok {
				return normalize(value)
			}
		}
		w.fail("unbound variable $%s", v.Name)
		return nil

	case *NegNode:
		x := w.eval(v.X)
		if x == nil {
			return nil
		}
		return -w.toNumber(x, "-")

	case *NotNode:
		x := w.eval(v.X)
		if x == nil {
			return nil
		}
		return !w.toBool(x, "NOT")

	case *IsNullNode:
		x := w.eval(v.X)
		if v.Negated {
			return x != nil
		}
		return x == nil

	case *InNode:
		x := w.eval(v.X)
		if x == nil {
			return nil
		}
		for _, item := range v.List {
			member := w.eval(item)
			if member == nil {
				continue
			}
			if w.equal(x, member) {
				return !v.Negated
			}
		}
		return v.Negated

	case *CallNode:
		return w.call(v)

	case *BinaryNode:
		return w.binary(v)

	default:
		w.fail("unsupported expression node %T", n)
		return nil
	}
}

func (w *walker) binary(n *BinaryNode) any {
	switch n.Op {
	case "AND":
		l := w.eval(n.Left)
		if l != nil && !w.toBool(l, "AND") {
			return false
		}
		r := w.eval(n.Right)
		if r != nil && !w.toBool(r, "AND") {
			return false
		}
		if l == nil || r == nil {
			return nil
		}
		return true

	case "OR":
		l := w.eval(n.Left)
		if l != nil && w.toBool(l, "OR") {
			return true
		}
		r := w.eval(n.Right)
		if r != nil && w.toBool(r, "OR") {
			return true
		}
		if l == nil || r == nil {
			return nil
		}
		return false
	}

	l := w.eval(n.Left)
	r := w.eval(n.Right)
	if l == nil || r == nil {
		return nil
	}

	switch n.Op {
	case "+", "-", "*", "/":
		lf, rf := w.toNumber(l, n.Op), w.toNumber(r, n.Op)
		switch n.Op {
		case "+":
			return lf + rf
		case "-":
			return lf - rf
		case "*":
			return lf * rf
		default:
			if rf == 0 {
				w.fail("division by zero")
			}
			return lf / rf
		}

	case "=":
		return w.equal(l, r)
	case "<>":
		return !w.equal(l, r)
	case "<", "<=", ">", ">=":
		cmp := w.compare(l, r, n.Op)
		switch n.Op {
		case "<":
			return cmp < 0
		case "<=":
			return cmp <= 0
		case ">":
			return cmp > 0
		default:
			return cmp >= 0
		}

	case "LIKE":
		ls, rs := w.toString(l), w.toString(r)
		return likeMatch(ls, rs, w.ctx.Options.CaseInsensitive)
	}

	w.fail("unsupported operator %q", n.Op)
	return nil
}

func (w *walker) call(n *CallNode) any {
	args := make([]any, len(n.Args))
	for i, a := range n.Args {
		args[i] = w.eval(a)
	}

	if w.ctx.Functions != nil {
		if fn, ok := w.ctx.Functions[n.Name]; ok {
			out, err := fn(args)
			if err != nil {
				w.fail("function %s: %v", n.Name, err)
			}
			return normalize(out)
		}
	}

	if len(args) > 0 && args[0] == nil {
		return nil
	}

	switch n.Name {
	case "UPPER":
		w.wantArgs(n, args, 1)
		return strings.ToUpper(w.toString(args[0]))
	case "LOWER":
		w.wantArgs(n, args, 1)
		return strings.ToLower(w.toString(args[0]))
	case "TRIM":
		w.wantArgs(n, args, 1)
		return strings.TrimSpace(w.toString(args[0]))
	case "LEN":
		w.wantArgs(n, args, 1)
		return float64(len(w.toString(args[0])))
	case "ABS":
		w.wantArgs(n, args, 1)
		return math.Abs(w.toNumber(args[0], "ABS"))
	case "ROUND":
		w.wantArgs(n, args, 1)
		return math.Round(w.toNumber(args[0], "ROUND"))
	}

	w.fail("unknown function %q", n.Name)
	return nil
}

func (w *walker) wantArgs(n *CallNode, args []any, count int) {
	if len(args) != count {
		w.fail("function %s expects %d argument(s), got %d", n.Name, count, len(args))
	}
}

func (w *walker) equal(l, r any) bool {
	_, lnum := asNumber(l)
	_, rnum := asNumber(r)
	if lnum || rnum {
		lf, lok := w.coerceNumber(l)
		rf, rok := w.coerceNumber(r)
		return lok && rok && lf == rf
	}
	if lt, lok := l.(time.Time); lok {
		if rt, rok := r.(time.Time); rok {
			return lt.Equal(rt)
		}
		return false
	}
	if lb, lok := l.(bool); lok {
		rb, rok := r.(bool)
		return rok && lb == rb
	}
	ls, rs := w.toString(l), w.toString(r)
	if w.ctx.Options.CaseInsensitive {
		return strings.EqualFold(ls, rs)
	}
	return ls == rs
}

func (w *walker) compare(l, r any, op string) int {
	_, lnum := asNumber(l)
	_, rnum := asNumber(r)
	if lnum || rnum {
		lf, lok := w.coerceNumber(l)
		rf, rok := w.coerceNumber(r)
		if !lok || !rok {
			w.fail("operator %q: cannot compare %T with %T", op, l, r)
		}
		switch {
		case lf < rf:
			return -1
		case lf > rf:
			return 1
		default:
			return 0
		}
	}
	if lt, lok := l.(time.Time); lok {
		if rt, rok := r.(time.Time); rok {
			return lt.Compare(rt)
		}
		w.fail("operator %q: cannot compare date with %T", op, r)
	}
	ls, rs := w.toString(l), w.toString(r)
	if w.ctx.Options.CaseInsensitive {
		ls, rs = strings.ToLower(ls), strings.ToLower(rs)
	}
	return strings.Compare(ls, rs)
}

// coerceNumber converts r to a number for a mixed comparison, honoring the
// implicit-coercion option for string operands.
func (w *walker) coerceNumber(r any) (float64, bool) {
	if f, ok := asNumber(r); ok {
		return f, true
	}
	if !w.ctx.Options.CoerceTypes {
		return 0, false
	}
	if s, ok := r.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

func (w *walker) toNumber(v any, op string) float64 {
	if f, ok := asNumber(v); ok {
		return f
	}
	if w.ctx.Options.CoerceTypes {
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f
			}
		}
	}
	w.fail("operator %q requires a numeric operand, got %T", op, v)
	return 0
}

func (w *walker) toBool(v any, op string) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	w.fail("operator %q requires a boolean operand, got %T", op, v)
	return false
}

func (w *walker) toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.Format("2006-01-02 15:04:05")
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// normalize widens Go's scalar zoo to the evaluator's four value types.
func normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64, time.Time:
		return v
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case uint:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	default:
		return v
	}
}

func asNumber(v any) (float64, bool) {
	f, ok := normalize(v).(float64)
	return f, ok
}

// likeMatch implements SQL LIKE: % matches any run, _ matches one character.
func likeMatch(s, pattern string, caseInsensitive bool) bool {
	var sb strings.Builder
	sb.WriteString("^")
	if caseInsensitive {
		sb.Reset()
		sb.WriteString("(?i)^")
	}
	for _, c := range pattern {
		switch c {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
