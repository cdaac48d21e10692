package expression

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokVariable
	tokNumber
	tokString
	tokDate
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokSemicolon
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// keywords recognized by the parser, always matched case-insensitively.
var keywords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "IN": true, "LIKE": true,
	"IS": true, "NULL": true, "TRUE": true, "FALSE": true, "DATE": true,
}

// forbiddenKeywords are mutating SQL statements that have no place in a
// read-only filter expression.
var forbiddenKeywords = map[string]bool{
	"DROP": true, "DELETE": true, "INSERT": true, "UPDATE": true,
	"ALTER": true, "CREATE": true, "TRUNCATE": true, "EXEC": true,
	"EXECUTE": true, "MERGE": true, "GRANT": true, "REVOKE": true,
}

func isKeyword(s string) bool   { return keywords[strings.ToUpper(s)] }
func isForbidden(s string) bool { return forbiddenKeywords[strings.ToUpper(s)] }

// lex tokenizes the expression. It returns the token stream and any lexical
// errors (unterminated literals, stray characters). It never panics.
func lex(input string) ([]token, []string) {
	var (
		tokens []token
		errs   []string
	)
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case c == ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++
		case c == ';':
			tokens = append(tokens, token{tokSemicolon, ";", i})
			i++
		case c == '\'':
			text, next, ok := scanQuoted(runes, i)
			if !ok {
				errs = append(errs, fmt.Sprintf("unterminated string literal at position %d", i))
				return tokens, errs
			}
			tokens = append(tokens, token{tokString, text, i})
			i = next
		case c == '#':
			end := i + 1
			for end < len(runes) && runes[end] != '#' {
				end++
			}
			if end >= len(runes) {
				errs = append(errs, fmt.Sprintf("unterminated date literal at position %d", i))
				return tokens, errs
			}
			tokens = append(tokens, token{tokDate, string(runes[i+1 : end]), i})
			i = end + 1
		case c == '$':
			start := i + 1
			end := start
			for end < len(runes) && isIdentRune(runes[end]) {
				end++
			}
			if end == start {
				errs = append(errs, fmt.Sprintf("empty variable reference at position %d", i))
				i++
				continue
			}
			tokens = append(tokens, token{tokVariable, string(runes[start:end]), i})
			i = end
		case unicode.IsDigit(c) || (c == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			end := i
			for end < len(runes) && (unicode.IsDigit(runes[end]) || runes[end] == '.') {
				end++
			}
			tokens = append(tokens, token{tokNumber, string(runes[i:end]), i})
			i = end
		case isIdentStart(c):
			end := i
			for end < len(runes) && (isIdentRune(runes[end]) || runes[end] == '.') {
				end++
			}
			tokens = append(tokens, token{tokIdent, string(runes[i:end]), i})
			i = end
		default:
			op, width := scanOperator(runes, i)
			if width == 0 {
				errs = append(errs, fmt.Sprintf("unexpected character %q at position %d", string(c), i))
				i++
				continue
			}
			tokens = append(tokens, token{tokOp, op, i})
			i += width
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(runes)})
	return tokens, errs
}

// scanQuoted reads a single-quoted string starting at start. Two adjacent
// quotes inside the literal escape to one, so O'Brien is written with a
// doubled quote. Returns the unescaped text and the index past the closing
// quote.
func scanQuoted(runes []rune, start int) (string, int, bool) {
	var sb strings.Builder
	i := start + 1
	for i < len(runes) {
		if runes[i] == '\'' {
			if i+1 < len(runes) && runes[i+1] == '\'' {
				sb.WriteRune('\'')
				i += 2
				continue
			}
			return sb.String(), i + 1, true
		}
		sb.WriteRune(runes[i])
		i++
	}
	return "", 0, false
}

func scanOperator(runes []rune, i int) (string, int) {
	two := ""
	if i+1 < len(runes) {
		two = string(runes[i : i+2])
	}
	switch two {
	case "<>", "<=", ">=", "!=":
		return two, 2
	}
	switch runes[i] {
	case '=', '<', '>', '+', '-', '*', '/':
		return string(runes[i]), 1
	}
	return "", 0
}

func isIdentStart(c rune) bool {
	return c == '_' || unicode.IsLetter(c)
}

func isIdentRune(c rune) bool {
	return c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c)
}
