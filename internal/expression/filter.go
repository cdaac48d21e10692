package expression

import (
	"strings"
	"time"
)

// ExtractFieldReferences returns every field referenced by expr, in order of
// first appearance, without schema validation. Function names and keywords
// are not field references.
func ExtractFieldReferences(expr string) []FieldRef {
	tokens, errs := lex(expr)
	if len(errs) > 0 {
		return nil
	}

	var refs []FieldRef
	seen := map[string]bool{}
	for i, t := range tokens {
		if t.kind != tokIdent || isKeyword(t.text) {
			continue
		}
		// ident followed by '(' is a function call
		if tokens[i+1].kind == tokLParen {
			continue
		}
		key := strings.ToUpper(t.text)
		if seen[key] {
			continue
		}
		seen[key] = true

		ref := FieldRef{Name: t.text}
		if idx := strings.IndexByte(t.text, '.'); idx >= 0 {
			ref = FieldRef{Alias: t.text[:idx], Name: t.text[idx+1:]}
		}
		refs = append(refs, ref)
	}
	return refs
}

// ToNativeFilter rewrites expr into a form a data source can push down:
// the given table alias is stripped from field references, #...# date
// literals become DATE '...', and != is normalized to <>. This is a
// syntax-level transform only; any construct the rewrite does not understand
// (function calls, variables) makes it fall back to the original text.
func ToNativeFilter(expr string, alias string) string {
	tokens, errs := lex(expr)
	if len(errs) > 0 {
		return expr
	}

	var parts []string
	for i, t := range tokens {
		switch t.kind {
		case tokEOF:
			continue
		case tokSemicolon, tokVariable:
			return expr
		case tokIdent:
			if isForbidden(t.text) {
				return expr
			}
			if tokens[i+1].kind == tokLParen && !isKeyword(t.text) {
				// function call: not portable across sources
				return expr
			}
			if isKeyword(t.text) {
				parts = append(parts, strings.ToUpper(t.text))
				continue
			}
			name := t.text
			if idx := strings.IndexByte(name, '.'); idx >= 0 && alias != "" && strings.EqualFold(name[:idx], alias) {
				name = name[idx+1:]
			}
			parts = append(parts, name)
		case tokString:
			parts = append(parts, "'"+strings.ReplaceAll(t.text, "'", "''")+"'")
		case tokDate:
			parts = append(parts, "DATE '"+normalizeDateText(t.text)+"'")
		case tokOp:
			if t.text == "!=" {
				parts = append(parts, "<>")
				continue
			}
			parts = append(parts, t.text)
		case tokLParen:
			parts = append(parts, "(")
		case tokRParen:
			parts = append(parts, ")")
		case tokComma:
			parts = append(parts, ",")
		default:
			parts = append(parts, t.text)
		}
	}
	return joinFilter(parts)
}

func normalizeDateText(text string) string {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02", "2006/01/02", "01/02/2006"} {
		if v, err := time.Parse(layout, text); err == nil {
			return v.Format("2006-01-02")
		}
	}
	return text
}

// joinFilter reassembles tokens with SQL-ish spacing: no space before a
// closing paren or comma, none after an opening paren.
func joinFilter(parts []string) string {
	var sb strings.Builder
	for i, p := range parts {
		if i > 0 {
			prev := parts[i-1]
			if p != ")" && p != "," && prev != "(" {
				sb.WriteString(" ")
			}
		}
		sb.WriteString(p)
	}
	return sb.String()
}
