package rules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/spatialqc/spatialqc/internal/cache"
	"github.com/spatialqc/spatialqc/internal/datasource"
	"github.com/spatialqc/spatialqc/internal/expression"
)

const (
	nsSchema = "rule-schema"
	nsAST    = "rule-ast"
)

// Engine owns the rule registry and drives per-rule evaluation over streamed
// features. Safe for concurrent use; mutating the registry never blocks
// in-flight evaluations of other rules.
type Engine struct {
	expr   *expression.Engine
	source datasource.Provider
	log    *zap.SugaredLogger

	mu    sync.RWMutex
	rules map[string]*ConditionalRule

	schemaCache *cache.Cache[expression.Schema]
	astCache    *cache.Cache[*expression.ParseResult]

	statsMu sync.Mutex
	stats   map[string]*RuleExecutionStatistics

	// EvalOptions apply to every condition/validation evaluation.
	EvalOptions expression.EvalOptions
}

// EngineOptions tune the engine's caches. Zero values fall back to the
// defaults NewEngine uses.
type EngineOptions struct {
	// SchemaCacheTTL is the sliding lifetime of cached layer schemas.
	SchemaCacheTTL time.Duration
	// CacheAdmissionBytes caps the estimated size of a single cached schema.
	// Oversized schemas are recomputed on every lookup instead of stored.
	CacheAdmissionBytes int64
}

func NewEngine(source datasource.Provider) *Engine {
	return NewEngineWithOptions(source, EngineOptions{})
}

func NewEngineWithOptions(source datasource.Provider, opts EngineOptions) *Engine {
	ttl := opts.SchemaCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	schemaOpts := cache.Options{SlidingTTL: ttl, AdmissionBytes: opts.CacheAdmissionBytes}
	return &Engine{
		expr:   expression.NewEngine(),
		source: source,
		log:    zap.S().Named("rules"),
		rules:  make(map[string]*ConditionalRule),
		schemaCache: cache.New[expression.Schema](nsSchema, schemaOpts, func(s expression.Schema) int64 {
			return cache.EstimateStringKeyedBytes(s)
		}),
		astCache:    cache.New[*expression.ParseResult](nsAST, cache.Options{}, nil),
		stats:       make(map[string]*RuleExecutionStatistics),
		EvalOptions: expression.EvalOptions{Nulls: expression.NullReturnFalse},
	}
}

// AddRule registers rule. The id must be unused.
func (e *Engine) AddRule(rule *ConditionalRule) error {
	if err := validateShape(rule); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[rule.ID]; exists {
		return fmt.Errorf("rule %q already registered", rule.ID)
	}
	e.rules[rule.ID] = rule
	return nil
}

// RemoveRule drops a rule and purges every parse-cache entry bound to it.
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	_, existed := e.rules[id]
	delete(e.rules, id)
	e.mu.Unlock()

	if existed {
		e.astCache.InvalidateMatching(func(k cache.Key) bool {
			return strings.Contains(k.Ref, id)
		})
	}
	return existed
}

// UpdateRule replaces a registered rule (remove + add).
func (e *Engine) UpdateRule(rule *ConditionalRule) error {
	if err := validateShape(rule); err != nil {
		return err
	}
	e.RemoveRule(rule.ID)

	e.mu.Lock()
	e.rules[rule.ID] = rule
	e.mu.Unlock()
	return nil
}

// Rule returns the registered rule for id, if any.
func (e *Engine) Rule(id string) (*ConditionalRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[id]
	return r, ok
}

// ExecutionStatistics returns a snapshot copy of the per-rule telemetry.
func (e *Engine) ExecutionStatistics() map[string]RuleExecutionStatistics {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	out := make(map[string]RuleExecutionStatistics, len(e.stats))
	for id, s := range e.stats {
		snapshot := *s
		if snapshot.Executions > 0 {
			snapshot.AverageDuration = snapshot.TotalDuration / time.Duration(snapshot.Executions)
		}
		out[id] = snapshot
	}
	return out
}

// ResetStatistics zeroes all telemetry.
func (e *Engine) ResetStatistics() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats = make(map[string]*RuleExecutionStatistics)
}

// ClearCache drops all parse and schema caches plus statistics.
func (e *Engine) ClearCache() {
	e.astCache.Clear()
	e.schemaCache.Clear()
	e.expr.ClearCaches()
	e.ResetStatistics()
}

// Sweepables exposes the engine's caches for background idle sweeping.
func (e *Engine) Sweepables() []cache.Sweepable {
	return []cache.Sweepable{e.astCache, e.schemaCache}
}

// ValidateRule runs one rule against a table. Invalid rule shape is an
// argument error raised before any I/O; everything else recoverable lands in
// the outcome. Cancellation propagates as an error.
func (e *Engine) ValidateRule(ctx context.Context, path, table string, rule *ConditionalRule) (*RuleOutcome, error) {
	if err := validateShape(rule); err != nil {
		return nil, err
	}
	if !rule.Enabled {
		return &RuleOutcome{RuleID: rule.ID, Status: OutcomeSkipped, Reason: "rule disabled"}, nil
	}
	return e.validate(ctx, path, table, rule, map[string]bool{})
}

func (e *Engine) validate(ctx context.Context, path, table string, rule *ConditionalRule, visiting map[string]bool) (outcome *RuleOutcome, err error) {
	start := time.Now()
	visiting[rule.ID] = true
	defer delete(visiting, rule.ID)

	// telemetry is recorded exactly once per execution, whatever the exit path
	defer func() {
		processed, found := 0, 0
		if outcome != nil {
			processed, found = outcome.Processed, len(outcome.Errors)
		}
		e.recordExecution(rule.ID, processed, found, time.Since(start))
	}()

	// dependency gating: every dependency must have run and found nothing
	for _, depID := range rule.DependsOn {
		dep, ok := e.Rule(depID)
		if !ok {
			return &RuleOutcome{RuleID: rule.ID, Status: OutcomeSkipped,
				Reason: fmt.Sprintf("dependency %q is not registered", depID)}, nil
		}
		if visiting[depID] {
			return &RuleOutcome{RuleID: rule.ID, Status: OutcomeSkipped,
				Reason: fmt.Sprintf("dependency cycle through %q", depID)}, nil
		}
		if !dep.Enabled {
			return &RuleOutcome{RuleID: rule.ID, Status: OutcomeSkipped,
				Reason: fmt.Sprintf("dependency %q is disabled", depID)}, nil
		}
		depOutcome, depErr := e.validate(ctx, path, table, dep, visiting)
		if depErr != nil {
			return nil, depErr
		}
		if depOutcome.Status != OutcomeCompleted || len(depOutcome.Errors) > 0 {
			return &RuleOutcome{RuleID: rule.ID, Status: OutcomeSkipped,
				Reason: fmt.Sprintf("dependency %q did not pass", depID)}, nil
		}
	}

	schema, err := e.tableSchema(ctx, path, table)
	if err != nil {
		return &RuleOutcome{RuleID: rule.ID, Status: OutcomeFailed,
			Reason: fmt.Sprintf("schema for %q: %v", table, err)}, nil
	}

	condition := e.parseCached(ctx, path, rule.ID, "condition", rule.Condition, schema)
	validation := e.parseCached(ctx, path, rule.ID, "validation", rule.Validation, schema)
	if !condition.IsValid || !validation.IsValid {
		reasons := append(append([]string{}, condition.Errors...), validation.Errors...)
		return &RuleOutcome{RuleID: rule.ID, Status: OutcomeSkipped,
			Reason: "expression errors: " + strings.Join(reasons, "; ")}, nil
	}

	return e.streamAndEvaluate(ctx, path, table, rule, condition.Expression, validation.Expression)
}

func (e *Engine) streamAndEvaluate(ctx context.Context, path, table string, rule *ConditionalRule,
	condition, validation *expression.ParsedExpression) (*RuleOutcome, error) {

	start := time.Now()
	filter := expression.ToNativeFilter(rule.Condition, table)
	iter, err := e.source.Stream(ctx, table, filter)
	if err != nil {
		return &RuleOutcome{RuleID: rule.ID, Status: OutcomeFailed,
			Reason: fmt.Sprintf("open stream on %q: %v", table, err)}, nil
	}
	defer iter.Close()

	evalCtx := &expression.EvalContext{Options: e.EvalOptions}
	outcome := &RuleOutcome{RuleID: rule.ID, Status: OutcomeCompleted}

	for {
		// cancellation is observed per feature, not once per rule
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		feature, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return &RuleOutcome{RuleID: rule.ID, Status: OutcomeFailed, Processed: outcome.Processed,
				Errors: outcome.Errors, Reason: fmt.Sprintf("read feature: %v", err)}, nil
		}
		outcome.Processed++

		condResult := e.expr.Evaluate(condition, feature, evalCtx)
		if !condResult.IsSuccess {
			e.log.Warnf("rule %s: condition failed on feature %d: %s", rule.ID, feature.OID(), condResult.ErrorMessage)
			continue
		}
		if !condResult.Bool() {
			continue
		}

		validResult := e.expr.Evaluate(validation, feature, evalCtx)
		if !validResult.IsSuccess {
			e.log.Warnf("rule %s: validation failed on feature %d: %s", rule.ID, feature.OID(), validResult.ErrorMessage)
			continue
		}
		if !validResult.Bool() {
			outcome.Errors = append(outcome.Errors, AttributeRelationError{
				ObjectID: feature.OID(),
				RuleID:   rule.ID,
				Layer:    table,
				Severity: rule.Severity,
				Message:  fmt.Sprintf("validation %q not satisfied", validation.OptimizedText),
			})
		}
	}

	outcome.Elapsed = time.Since(start)
	return outcome, nil
}

// ValidateRules executes a rule set in deterministic (priority, id) order,
// admitting a rule only once all of its dependencies have executed. Rules
// whose dependencies never execute are skipped with a warning.
func (e *Engine) ValidateRules(ctx context.Context, path, table string, ruleList []*ConditionalRule) ([]*RuleOutcome, error) {
	ordered := make([]*ConditionalRule, len(ruleList))
	copy(ordered, ruleList)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	var (
		outcomes []*RuleOutcome
		executed []string
	)
	pending := ordered

	for len(pending) > 0 {
		var deferred []*ConditionalRule
		progressed := false

		for _, rule := range pending {
			ready := true
			for _, dep := range rule.DependsOn {
				if !funk.ContainsString(executed, dep) {
					ready = false
					break
				}
			}
			if !ready {
				deferred = append(deferred, rule)
				continue
			}

			outcome, err := e.ValidateRule(ctx, path, table, rule)
			if err != nil {
				return outcomes, err
			}
			outcomes = append(outcomes, outcome)
			executed = append(executed, rule.ID)
			progressed = true
		}

		if !progressed {
			for _, rule := range deferred {
				e.log.Warnf("rule %s skipped: dependencies %v never executed", rule.ID, rule.DependsOn)
				outcomes = append(outcomes, &RuleOutcome{RuleID: rule.ID, Status: OutcomeSkipped,
					Reason: "dependencies never executed"})
			}
			break
		}
		pending = deferred
	}

	return outcomes, nil
}

func (e *Engine) tableSchema(ctx context.Context, path, table string) (expression.Schema, error) {
	key := cache.Key{Source: path, Namespace: nsSchema, Ref: table}
	return e.schemaCache.GetOrCreate(ctx, key, func(ctx context.Context) (expression.Schema, error) {
		fields, err := e.source.Schema(ctx, table)
		if err != nil {
			return nil, err
		}
		return datasource.SchemaOf(fields), nil
	})
}

func (e *Engine) parseCached(ctx context.Context, path, ruleID, kind, expr string, schema expression.Schema) *expression.ParseResult {
	key := cache.Key{Source: path, Namespace: nsAST, Ref: ruleID + ":" + kind}
	result, err := e.astCache.GetOrCreate(ctx, key, func(ctx context.Context) (*expression.ParseResult, error) {
		return e.expr.Parse(expr, schema), nil
	})
	if err != nil {
		// factory cannot fail; guard anyway
		return e.expr.Parse(expr, schema)
	}
	return result
}

func (e *Engine) recordExecution(ruleID string, processed, errorsFound int, elapsed time.Duration) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	s, ok := e.stats[ruleID]
	if !ok {
		s = &RuleExecutionStatistics{RuleID: ruleID}
		e.stats[ruleID] = s
	}
	s.Executions++
	s.FeaturesProcessed += int64(processed)
	s.ErrorsFound += int64(errorsFound)
	s.TotalDuration += elapsed
}

func validateShape(rule *ConditionalRule) error {
	if rule == nil {
		return fmt.Errorf("rule is nil")
	}
	if strings.TrimSpace(rule.ID) == "" {
		return fmt.Errorf("rule id is empty")
	}
	if strings.TrimSpace(rule.Condition) == "" {
		return fmt.Errorf("rule %q: condition expression is empty", rule.ID)
	}
	if strings.TrimSpace(rule.Validation) == "" {
		return fmt.Errorf("rule %q: validation expression is empty", rule.ID)
	}
	return nil
}
