package expression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeature struct {
	oid    int64
	fields map[string]any
}

func (f *fakeFeature) OID() int64 { return f.oid }
func (f *fakeFeature) Field(name string) (any, bool) {
	v, ok := f.fields[name]
	return v, ok
}

func mustParse(t *testing.T, e *Engine, expr string, schema Schema) *ParsedExpression {
	t.Helper()
	result := e.Parse(expr, schema)
	require.True(t, result.IsValid, "parse %q: %v", expr, result.Errors)
	return result.Expression
}

func TestEvaluatePredicates(t *testing.T) {
	e := NewEngine()
	schema := buildingSchema()
	feature := &fakeFeature{oid: 7, fields: map[string]any{
		"AREA":    150.0,
		"TYPE":    "BLDG",
		"STOREYS": 2,
		"ACTIVE":  true,
		"BUILT":   time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC),
	}}

	cases := []struct {
		expr string
		want bool
	}{
		{"AREA > 100 AND TYPE = 'BLDG'", true},
		{"AREA > 200", false},
		{"TYPE IN ('BLDG', 'SHED')", true},
		{"TYPE NOT IN ('SHED')", true},
		{"TYPE LIKE 'BL%'", true},
		{"TYPE LIKE '_LDG'", true},
		{"TYPE LIKE 'SH%'", false},
		{"NOT ACTIVE", false},
		{"AREA / STOREYS >= 75", true},
		{"BUILT > DATE '2020-01-01'", true},
		{"BUILT < #2020-01-01#", false},
		{"LEN(TYPE) = 4", true},
		{"UPPER(TYPE) = 'BLDG'", true},
		{"AREA IS NULL", false},
		{"AREA IS NOT NULL", true},
	}
	for _, tc := range cases {
		parsed := mustParse(t, e, tc.expr, schema)
		result := e.Evaluate(parsed, feature, nil)
		require.True(t, result.IsSuccess, "%s: %s", tc.expr, result.ErrorMessage)
		assert.Equal(t, tc.want, result.Bool(), tc.expr)
	}
}

func TestEvaluateNullPolicies(t *testing.T) {
	e := NewEngine()
	schema := Schema{"NAME": TypeString}
	feature := &fakeFeature{oid: 1, fields: map[string]any{"NAME": nil}}
	parsed := mustParse(t, e, "NAME = 'x'", schema)

	returnNull := e.Evaluate(parsed, feature, &EvalContext{Options: EvalOptions{Nulls: NullReturnNull}})
	require.True(t, returnNull.IsSuccess)
	assert.Nil(t, returnNull.Value)

	returnFalse := e.Evaluate(parsed, feature, &EvalContext{Options: EvalOptions{Nulls: NullReturnFalse}})
	require.True(t, returnFalse.IsSuccess)
	assert.Equal(t, false, returnFalse.Value)

	thrown := e.Evaluate(parsed, feature, &EvalContext{Options: EvalOptions{Nulls: NullThrow}})
	require.False(t, thrown.IsSuccess)
	assert.Contains(t, thrown.ErrorMessage, "NAME")
}

func TestEvaluateMissingFieldNeverPanics(t *testing.T) {
	e := NewEngine()
	parsed := mustParse(t, e, "AREA > 10", Schema{"AREA": TypeNumeric})
	feature := &fakeFeature{oid: 1, fields: map[string]any{}}

	result := e.Evaluate(parsed, feature, &EvalContext{Options: EvalOptions{Nulls: NullReturnFalse}})
	require.True(t, result.IsSuccess)
	assert.Equal(t, false, result.Value)
}

func TestEvaluateTypeMismatchFails(t *testing.T) {
	e := NewEngine()
	parsed := mustParse(t, e, "TYPE * 2 > 1", Schema{"TYPE": TypeString})
	feature := &fakeFeature{oid: 1, fields: map[string]any{"TYPE": "abc"}}

	result := e.Evaluate(parsed, feature, nil)
	require.False(t, result.IsSuccess)
	assert.Contains(t, result.ErrorMessage, "numeric")
}

func TestEvaluateCoercion(t *testing.T) {
	e := NewEngine()
	parsed := mustParse(t, e, "CODE = 42", Schema{"CODE": TypeString})
	feature := &fakeFeature{oid: 1, fields: map[string]any{"CODE": "42"}}

	strict := e.Evaluate(parsed, feature, nil)
	require.True(t, strict.IsSuccess)
	assert.Equal(t, false, strict.Value)

	coerced := e.Evaluate(parsed, feature, &EvalContext{Options: EvalOptions{CoerceTypes: true}})
	require.True(t, coerced.IsSuccess)
	assert.Equal(t, true, coerced.Value)
}

func TestEvaluateCaseInsensitive(t *testing.T) {
	e := NewEngine()
	parsed := mustParse(t, e, "TYPE = 'bldg'", Schema{"TYPE": TypeString})
	feature := &fakeFeature{oid: 1, fields: map[string]any{"TYPE": "BLDG"}}

	strict := e.Evaluate(parsed, feature, nil)
	assert.Equal(t, false, strict.Value)

	relaxed := e.Evaluate(parsed, feature, &EvalContext{Options: EvalOptions{CaseInsensitive: true}})
	assert.Equal(t, true, relaxed.Value)
}

func TestEvaluateVariablesAndFunctions(t *testing.T) {
	e := NewEngine()
	schema := Schema{"AREA": TypeNumeric}
	feature := &fakeFeature{oid: 1, fields: map[string]any{"AREA": 80.0}}

	parsed := mustParse(t, e, "AREA > $threshold", schema)
	ctx := &EvalContext{Variables: map[string]any{"threshold": 50}}
	result := e.Evaluate(parsed, feature, ctx)
	require.True(t, result.IsSuccess, result.ErrorMessage)
	assert.Equal(t, true, result.Value)

	unbound := e.Evaluate(parsed, feature, nil)
	require.False(t, unbound.IsSuccess)
	assert.Contains(t, unbound.ErrorMessage, "threshold")

	custom := mustParse(t, e, "DOUBLE(AREA) = 160", schema)
	ctx = &EvalContext{Functions: map[string]EvalFunc{
		"DOUBLE": func(args []any) (any, error) { return args[0].(float64) * 2, nil },
	}}
	result = e.Evaluate(custom, feature, ctx)
	require.True(t, result.IsSuccess, result.ErrorMessage)
	assert.Equal(t, true, result.Value)
}

func TestEvaluateResultCache(t *testing.T) {
	e := NewEngine()
	schema := Schema{"AREA": TypeNumeric}
	parsed := mustParse(t, e, "AREA > 10", schema)
	feature := &fakeFeature{oid: 42, fields: map[string]any{"AREA": 20.0}}
	opts := &EvalContext{Options: EvalOptions{UseResultCache: true}}

	first := e.Evaluate(parsed, feature, opts)
	require.True(t, first.IsSuccess)

	// mutate the feature: the cached verdict must win while caching is on
	feature.fields["AREA"] = 1.0
	cached := e.Evaluate(parsed, feature, opts)
	assert.Equal(t, true, cached.Value)

	fresh := e.Evaluate(parsed, feature, nil)
	assert.Equal(t, false, fresh.Value)
}

func TestEvaluateMultiCrossTable(t *testing.T) {
	e := NewEngine()
	parcel := &fakeFeature{oid: 1, fields: map[string]any{"ZONE": "R1", "AREA": 500.0}}
	building := &fakeFeature{oid: 2, fields: map[string]any{"FOOTPRINT": 120.0}}

	result := e.EvaluateMulti(
		"b.FOOTPRINT < p.AREA AND p.ZONE = 'R1'",
		map[string]Feature{"p": parcel, "b": building},
		map[string]Schema{
			"p": {"ZONE": TypeString, "AREA": TypeNumeric},
			"b": {"FOOTPRINT": TypeNumeric},
		},
		nil,
	)
	require.True(t, result.IsSuccess, result.ErrorMessage)
	assert.Equal(t, true, result.Value)
}

func TestExtractFieldReferences(t *testing.T) {
	refs := ExtractFieldReferences("AREA > 100 AND UPPER(TYPE) = p.ZONE AND AREA < 900")
	assert.Equal(t, []FieldRef{{Name: "AREA"}, {Name: "TYPE"}, {Alias: "p", Name: "ZONE"}}, refs)
}

func TestToNativeFilter(t *testing.T) {
	assert.Equal(t,
		"AREA > 100 AND TYPE <> 'x'",
		ToNativeFilter("p.AREA > 100 AND p.TYPE != 'x'", "p"))

	assert.Equal(t,
		"BUILT >= DATE '2020-01-01'",
		ToNativeFilter("BUILT >= #2020-01-01#", ""))

	// unsupported constructs come back untouched
	original := "LEN(TYPE) = 4"
	assert.Equal(t, original, ToNativeFilter(original, ""))
}
