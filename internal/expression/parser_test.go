package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildingSchema() Schema {
	return Schema{
		"AREA":    TypeNumeric,
		"TYPE":    TypeString,
		"BUILT":   TypeDate,
		"ACTIVE":  TypeBoolean,
		"STOREYS": TypeNumeric,
	}
}

func TestParseSimplePredicate(t *testing.T) {
	e := NewEngine()
	result := e.Parse("AREA > 100 AND TYPE = 'BLDG'", Schema{"AREA": TypeNumeric, "TYPE": TypeString})

	require.True(t, result.IsValid, "errors: %v", result.Errors)
	assert.Equal(t, []FieldRef{{Name: "AREA"}, {Name: "TYPE"}}, result.Expression.FieldRefs)
	assert.Equal(t, KindBoolean, result.Expression.InferredKind)
}

func TestParseRejectsMutatingKeywords(t *testing.T) {
	e := NewEngine()
	result := e.Parse("X; DROP TABLE Y", Schema{"X": TypeNumeric})

	require.False(t, result.IsValid)
	joined := ""
	for _, msg := range result.Errors {
		joined += msg + "\n"
	}
	assert.Contains(t, joined, "DROP")
	assert.Contains(t, joined, ";")
}

func TestParseRejectsUnknownField(t *testing.T) {
	e := NewEngine()
	result := e.Parse("HEIGHT > 10", buildingSchema())

	require.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "HEIGHT")
}

func TestParseRejectsUnterminatedString(t *testing.T) {
	e := NewEngine()
	result := e.Parse("TYPE = 'BLDG", buildingSchema())

	require.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "unterminated string")
}

func TestParseRejectsUnbalancedParens(t *testing.T) {
	e := NewEngine()
	result := e.Parse("(AREA > 100 AND TYPE = 'BLDG'", buildingSchema())

	require.False(t, result.IsValid)
}

func TestParseIsDeterministic(t *testing.T) {
	e := NewEngine()
	schema := buildingSchema()
	expr := "area>100 AND  type  IN ('BLDG','SHED') OR NOT active"

	first := e.Parse(expr, schema)
	second := e.Parse(expr, schema)

	require.True(t, first.IsValid, "errors: %v", first.Errors)
	// memoized: same pointer back
	assert.Same(t, first, second)

	// a fresh engine must produce identical text and refs
	third := NewEngine().Parse(expr, schema)
	require.True(t, third.IsValid)
	assert.Equal(t, first.Expression.OptimizedText, third.Expression.OptimizedText)
	assert.Equal(t, first.Expression.FieldRefs, third.Expression.FieldRefs)
}

func TestParseSchemaChangeGetsNewEntry(t *testing.T) {
	e := NewEngine()
	expr := "AREA > 100"

	first := e.Parse(expr, Schema{"AREA": TypeNumeric})
	second := e.Parse(expr, Schema{"AREA": TypeNumeric, "TYPE": TypeString})

	require.True(t, first.IsValid)
	require.True(t, second.IsValid)
	assert.NotSame(t, first, second)
}

func TestParseAliasedFields(t *testing.T) {
	e := NewEngine()
	result := e.Parse("b.AREA > 100", Schema{"AREA": TypeNumeric})

	require.True(t, result.IsValid, "errors: %v", result.Errors)
	assert.Equal(t, []FieldRef{{Alias: "b", Name: "AREA"}}, result.Expression.FieldRefs)
}

func TestParseDateLiterals(t *testing.T) {
	e := NewEngine()

	hashStyle := e.Parse("BUILT >= #2020-01-01#", buildingSchema())
	require.True(t, hashStyle.IsValid, "errors: %v", hashStyle.Errors)

	sqlStyle := e.Parse("BUILT >= DATE '2020-01-01'", buildingSchema())
	require.True(t, sqlStyle.IsValid, "errors: %v", sqlStyle.Errors)

	assert.Equal(t, sqlStyle.Expression.OptimizedText, hashStyle.Expression.OptimizedText)
}

func TestParseKindInference(t *testing.T) {
	e := NewEngine()
	cases := []struct {
		expr string
		kind ValueKind
	}{
		{"AREA > 100", KindBoolean},
		{"AREA + STOREYS", KindNumeric},
		{"UPPER(TYPE)", KindString},
		{"BUILT", KindDate},
		{"AREA + TYPE", KindMixed},
	}
	for _, tc := range cases {
		result := e.Parse(tc.expr, buildingSchema())
		require.True(t, result.IsValid, "%s: %v", tc.expr, result.Errors)
		assert.Equal(t, tc.kind, result.Expression.InferredKind, tc.expr)
	}
}

func TestParseEmptyExpression(t *testing.T) {
	e := NewEngine()
	result := e.Parse("   ", buildingSchema())

	require.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "empty")
}

func TestPurgeParsed(t *testing.T) {
	e := NewEngine()
	schema := buildingSchema()
	kept := e.Parse("AREA > 1", schema)
	purged := e.Parse("STOREYS > 2", schema)
	require.True(t, kept.IsValid)
	require.True(t, purged.IsValid)

	e.PurgeParsed(func(source string) bool { return source == "STOREYS > 2" })

	assert.Same(t, kept, e.Parse("AREA > 1", schema))
	assert.NotSame(t, purged, e.Parse("STOREYS > 2", schema))
}
