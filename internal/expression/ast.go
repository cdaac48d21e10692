// Package expression parses and evaluates SQL-like attribute filter
// expressions against geospatial feature records. It is self-contained: the
// rule engine and orchestrator build on it, never the other way around.
package expression

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TypeKind classifies a schema field.
type TypeKind int

const (
	TypeUnknown TypeKind = iota
	TypeBoolean
	TypeNumeric
	TypeString
	TypeDate
	TypeGeometry
)

func (t TypeKind) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeNumeric:
		return "numeric"
	case TypeString:
		return "string"
	case TypeDate:
		return "date"
	case TypeGeometry:
		return "geometry"
	default:
		return "unknown"
	}
}

// Schema maps field names to their kinds. Lookups are case-insensitive.
type Schema map[string]TypeKind

// lookup resolves name against the schema, trying the qualified form first,
// then the bare name. It returns the canonical field name as declared.
func (s Schema) lookup(name string) (string, TypeKind, bool) {
	for k, v := range s {
		if strings.EqualFold(k, name) {
			return k, v, true
		}
	}
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		bare := name[idx+1:]
		for k, v := range s {
			if strings.EqualFold(k, bare) {
				return k, v, true
			}
		}
	}
	return "", TypeUnknown, false
}

// key returns a stable digest of the schema's field set. Two schemas with the
// same fields produce the same key, so parse memoization survives map
// iteration order but not a schema change.
func (s Schema) key() string {
	names := make([]string, 0, len(s))
	for k, v := range s {
		names = append(names, strings.ToUpper(k)+":"+v.String())
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// ValueKind is a coarse classification of what an expression yields.
type ValueKind int

const (
	KindUnknown ValueKind = iota
	KindBoolean
	KindNumeric
	KindString
	KindDate
	KindMixed
)

func (k ValueKind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindNumeric:
		return "numeric"
	case KindString:
		return "string"
	case KindDate:
		return "date"
	case KindMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// FieldRef is one field reference extracted from an expression,
// with the optional table alias preserved.
type FieldRef struct {
	Alias string
	Name  string
}

func (f FieldRef) String() string {
	if f.Alias == "" {
		return f.Name
	}
	return f.Alias + "." + f.Name
}

// Node is one node of a parsed expression tree. String renders the node in
// normalized form: uppercase keywords, canonical operators, single spacing.
type Node interface {
	String() string
}

type BinaryNode struct {
	Op    string // AND OR = <> < <= > >= + - * / LIKE
	Left  Node
	Right Node
}

func (n *BinaryNode) String() string {
	switch n.Op {
	case "AND", "OR":
		return fmt.Sprintf("(%s %s %s)", n.Left, n.Op, n.Right)
	default:
		return fmt.Sprintf("%s %s %s", n.Left, n.Op, n.Right)
	}
}

type NotNode struct {
	X Node
}

func (n *NotNode) String() string { return fmt.Sprintf("NOT %s", n.X) }

type NegNode struct {
	X Node
}

func (n *NegNode) String() string { return fmt.Sprintf("-%s", n.X) }

type InNode struct {
	X       Node
	List    []Node
	Negated bool
}

func (n *InNode) String() string {
	items := make([]string, len(n.List))
	for i, it := range n.List {
		items[i] = it.String()
	}
	op := "IN"
	if n.Negated {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", n.X, op, strings.Join(items, ", "))
}

type IsNullNode struct {
	X       Node
	Negated bool
}

func (n *IsNullNode) String() string {
	if n.Negated {
		return fmt.Sprintf("%s IS NOT NULL", n.X)
	}
	return fmt.Sprintf("%s IS NULL", n.X)
}

type FieldNode struct {
	Ref  FieldRef
	Kind TypeKind
	// canonical is the field name as declared in the schema, used at
	// evaluation time so lookups do not depend on the caller's casing.
	canonical string
}

func (n *FieldNode) String() string { return n.Ref.String() }

type VariableNode struct {
	Name string
}

func (n *VariableNode) String() string { return "$" + n.Name }

type NumberNode struct {
	Value float64
	Text  string
}

func (n *NumberNode) String() string { return n.Text }

type StringNode struct {
	Value string
}

func (n *StringNode) String() string {
	return "'" + strings.ReplaceAll(n.Value, "'", "''") + "'"
}

type DateNode struct {
	Value time.Time
	Text  string
}

func (n *DateNode) String() string { return fmt.Sprintf("DATE '%s'", n.Text) }

type BoolNode struct {
	Value bool
}

func (n *BoolNode) String() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

type NullNode struct{}

func (n *NullNode) String() string { return "NULL" }

type CallNode struct {
	Name string
	Args []Node
}

func (n *CallNode) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", n.Name, strings.Join(args, ", "))
}

// ParsedExpression is the immutable compiled form of an expression string.
type ParsedExpression struct {
	Source        string
	OptimizedText string
	Root          Node
	FieldRefs     []FieldRef
	InferredKind  ValueKind
}

// ParseResult carries either a usable expression or the list of reasons it
// could not be compiled. It is safe to share between goroutines.
type ParseResult struct {
	IsValid    bool
	Expression *ParsedExpression
	Errors     []string
}
