package validation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spatialqc/spatialqc/internal/datasource"
	"github.com/spatialqc/spatialqc/internal/rules"
	"github.com/spatialqc/spatialqc/pkg/metrics"
)

// Fixed progress breakpoints per stage. Percentages move between start and
// end as sub-checks finish; they are never derived from feature counts.
var stageBreakpoints = map[int]struct{ start, end float64 }{
	StageTable:    {10, 25},
	StageSchema:   {30, 50},
	StageGeometry: {55, 75},
	StageRelation: {80, 95},
}

// Orchestrator runs the four-stage pipeline for one dataset at a time per
// Run call. It is safe to share across concurrent runs; all per-run state
// lives on the stack of Run.
type Orchestrator struct {
	source   datasource.Provider
	table    TableChecker
	schema   SchemaChecker
	geometry GeometryChecker
	relation RelationChecker
	rules    *rules.Engine
	store    ResultStore
	loader   ConfigLoader
	progress ProgressSink
	log      *zap.SugaredLogger

	activeMu sync.Mutex
	active   map[uuid.UUID]struct{}
}

// OrchestratorOptions collects the collaborators. Rules is optional; when
// nil, stage 4 runs checker-delegated rows only.
type OrchestratorOptions struct {
	Source   datasource.Provider
	Table    TableChecker
	Schema   SchemaChecker
	Geometry GeometryChecker
	Relation RelationChecker
	Rules    *rules.Engine
	Store    ResultStore
	Loader   ConfigLoader
	Progress ProgressSink
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		source:   opts.Source,
		table:    opts.Table,
		schema:   opts.Schema,
		geometry: opts.Geometry,
		relation: opts.Relation,
		rules:    opts.Rules,
		store:    opts.Store,
		loader:   opts.Loader,
		progress: opts.Progress,
		log:      zap.S().Named("validation"),
		active:   make(map[uuid.UUID]struct{}),
	}
}

// ActiveRuns returns the ids of runs currently executing.
func (o *Orchestrator) ActiveRuns() []uuid.UUID {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	ids := make([]uuid.UUID, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

// Run validates the dataset at path. Recoverable failures come back as a
// Result with Status Failed and a nil error; cancellation returns the
// partial Cancelled result together with ctx.Err(); unexpected faults
// return the persisted partial result and the fault.
func (o *Orchestrator) Run(ctx context.Context, path string) (*Result, error) {
	return o.RunWithProgress(ctx, path, nil)
}

// RunWithProgress runs a validation while reporting snapshots to sink in
// addition to the orchestrator's configured sink. Callers that track runs
// per job use it to route progress to the right job record.
func (o *Orchestrator) RunWithProgress(ctx context.Context, path string, sink ProgressSink) (*Result, error) {
	runID := uuid.New()
	result := &Result{
		RunID:      runID,
		TargetPath: path,
		Status:     StatusNotStarted,
		StartedAt:  time.Now(),
	}

	// Input absence is recoverable and never reaches Running.
	if err := CheckTarget(path); err != nil {
		result.Status = StatusFailed
		result.Message = err.Error()
		result.CompletedAt = time.Now()
		o.log.Warnf("run %s rejected: %v", runID, err)
		o.persist(ctx, result)
		metrics.IncreaseValidationRunsTotalMetric(string(StatusFailed))
		return result, nil
	}

	o.activeMu.Lock()
	o.active[runID] = struct{}{}
	o.activeMu.Unlock()

	defer func() {
		// Bound cross-run memory growth regardless of outcome.
		if o.geometry != nil {
			o.geometry.DropCaches()
		}
		if o.relation != nil {
			o.relation.DropCaches()
		}
		o.activeMu.Lock()
		delete(o.active, runID)
		o.activeMu.Unlock()
	}()

	result.Status = StatusRunning
	o.push(sink, result, 0, 5, "starting validation")

	cfg, err := o.loader.Load(ctx)
	if err != nil {
		return o.fail(ctx, result, fmt.Errorf("loading configuration: %w", err))
	}

	if err := o.source.Initialize(ctx, path); err != nil {
		if errors.Is(err, context.Canceled) {
			return o.cancelled(result)
		}
		return o.fail(ctx, result, fmt.Errorf("opening dataset: %w", err))
	}
	defer o.source.Close()

	// Stage 1. A failed table check invalidates everything downstream, so
	// the run short-circuits with a partial result at 100%.
	stage, err := o.runStage(ctx, sink, result, StageTable, o.tableChecks(path, cfg.Table))
	if err != nil {
		return o.terminalFromErr(ctx, result, err)
	}
	if stage.Status == StageFailed {
		o.log.Warnf("run %s: table check failed, skipping later stages", runID)
		return o.complete(ctx, sink, result)
	}

	// A failed stage 2 or 3 does not gate later stages; their findings are
	// independent and the run keeps collecting them.
	if _, err := o.runStage(ctx, sink, result, StageSchema, o.schemaChecks(path, cfg.Schema)); err != nil {
		return o.terminalFromErr(ctx, result, err)
	}
	if _, err := o.runStage(ctx, sink, result, StageGeometry, o.geometryChecks(path, cfg.Geometry)); err != nil {
		return o.terminalFromErr(ctx, result, err)
	}
	if _, err := o.runStage(ctx, sink, result, StageRelation, o.relationChecks(path, cfg.Relation, result)); err != nil {
		return o.terminalFromErr(ctx, result, err)
	}

	return o.complete(ctx, sink, result)
}

// subCheck is one named unit of stage work.
type subCheck struct {
	name string
	run  func(ctx context.Context) (*CheckOutcome, error)
}

// runStage executes the stage's sub-checks in order, observing cancellation
// before each one. Checker I/O faults are captured as error findings; only
// cancellation propagates.
func (o *Orchestrator) runStage(ctx context.Context, sink ProgressSink, result *Result, stage int, checks []subCheck) (*StageResult, error) {
	bp := stageBreakpoints[stage]
	sr := &StageResult{
		Stage:     stage,
		Name:      StageName(stage),
		Status:    StagePassed,
		StartedAt: time.Now(),
	}
	result.setStage(stage, sr)
	o.push(sink, result, stage, bp.start, fmt.Sprintf("running %s", sr.Name))

	for i, check := range checks {
		if err := ctx.Err(); err != nil {
			return sr, err
		}
		outcome, err := check.run(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return sr, err
			}
			// Recoverable checker fault: capture and keep going.
			o.log.Warnf("run %s: %s/%s: %v", result.RunID, sr.Name, check.name, err)
			sr.absorb(&CheckOutcome{
				IsValid:    false,
				ErrorCount: 1,
				Errors:     []Issue{{Check: check.name, Message: err.Error()}},
			})
		} else {
			sr.absorb(outcome)
		}
		frac := float64(i+1) / float64(len(checks))
		o.push(sink, result, stage, bp.start+(bp.end-bp.start)*frac, fmt.Sprintf("%s: %s done", sr.Name, check.name))
	}

	sr.CompletedAt = time.Now()
	metrics.ObserveValidationStageDuration(sr.Name, sr.CompletedAt.Sub(sr.StartedAt).Seconds())
	metrics.IncreaseValidationIssuesMetric("error", sr.ErrorCount)
	metrics.IncreaseValidationIssuesMetric("warning", sr.WarningCount)
	return sr, nil
}

func (o *Orchestrator) tableChecks(path string, cfg *TableSection) []subCheck {
	return []subCheck{
		{"table list", func(ctx context.Context) (*CheckOutcome, error) {
			return o.table.CheckTableList(ctx, path, cfg)
		}},
		{"coordinate system", func(ctx context.Context) (*CheckOutcome, error) {
			return o.table.CheckCoordinateSystem(ctx, path, cfg)
		}},
		{"geometry types", func(ctx context.Context) (*CheckOutcome, error) {
			return o.table.CheckGeometryTypes(ctx, path, cfg)
		}},
	}
}

func (o *Orchestrator) schemaChecks(path string, cfg *SchemaSection) []subCheck {
	checks := []subCheck{
		{"column structure", func(ctx context.Context) (*CheckOutcome, error) {
			return o.schema.CheckColumnStructure(ctx, path, cfg)
		}},
		{"data types", func(ctx context.Context) (*CheckOutcome, error) {
			return o.schema.CheckDataTypes(ctx, path, cfg)
		}},
	}
	// Flat shapefile-style sources carry no key definitions.
	if o.source.SupportsKeys() {
		checks = append(checks,
			subCheck{"primary keys", func(ctx context.Context) (*CheckOutcome, error) {
				return o.schema.CheckPrimaryKeys(ctx, path, cfg)
			}},
			subCheck{"foreign keys", func(ctx context.Context) (*CheckOutcome, error) {
				return o.schema.CheckForeignKeys(ctx, path, cfg)
			}},
		)
	}
	return checks
}

func (o *Orchestrator) geometryChecks(path string, cfg *GeometrySection) []subCheck {
	var checks []subCheck
	for _, kind := range cfg.EnabledKinds() {
		kind := kind
		if kind == GeometryCheckUnrecognized {
			checks = append(checks, subCheck{"unrecognized check flag", func(ctx context.Context) (*CheckOutcome, error) {
				return &CheckOutcome{
					IsValid:      true,
					WarningCount: 1,
					Warnings:     []Issue{{Check: "geometry", Message: "unrecognized geometry check flag in configuration"}},
				}, nil
			}})
			continue
		}
		checks = append(checks, subCheck{string(kind), func(ctx context.Context) (*CheckOutcome, error) {
			return o.geometry.Check(ctx, path, kind, cfg)
		}})
	}
	if len(checks) == 0 {
		checks = append(checks, subCheck{"no checks enabled", func(ctx context.Context) (*CheckOutcome, error) {
			return &CheckOutcome{IsValid: true}, nil
		}})
	}
	return checks
}

func (o *Orchestrator) relationChecks(path string, cfg *RelationSection, result *Result) []subCheck {
	var checks []subCheck
	if cfg != nil {
		for _, row := range cfg.Rules {
			row := row
			if row.Disabled() {
				o.log.Debugf("run %s: relation rule %q disabled, skipping", result.RunID, row.ID)
				continue
			}
			checks = append(checks, subCheck{row.ID, func(ctx context.Context) (*CheckOutcome, error) {
				return o.relation.CheckRule(ctx, path, row)
			}})
		}
		if o.rules != nil && len(cfg.AttributeRules) > 0 {
			checks = append(checks, subCheck{"attribute rules", func(ctx context.Context) (*CheckOutcome, error) {
				return o.runAttributeRules(ctx, path, cfg.AttributeRules, result)
			}})
		}
	}
	if len(checks) == 0 {
		checks = append(checks, subCheck{"no rules configured", func(ctx context.Context) (*CheckOutcome, error) {
			return &CheckOutcome{IsValid: true}, nil
		}})
	}
	return checks
}

// runAttributeRules drives the rule engine and folds its findings into the
// relation stage's uniform outcome shape.
func (o *Orchestrator) runAttributeRules(ctx context.Context, path string, groups []AttributeRuleGroup, result *Result) (*CheckOutcome, error) {
	outcome := &CheckOutcome{IsValid: true}
	for _, group := range groups {
		rs := make([]*rules.ConditionalRule, len(group.Rules))
		for i := range group.Rules {
			rs[i] = &group.Rules[i]
		}
		outcomes, err := o.rules.ValidateRules(ctx, path, group.Layer, rs)
		if err != nil {
			return nil, err
		}
		for _, ro := range outcomes {
			for _, e := range ro.Errors {
				result.AttributeRelationErrors = append(result.AttributeRelationErrors, e)
				issue := Issue{ObjectID: e.ObjectID, Layer: e.Layer, Check: e.RuleID, Message: e.Message}
				if e.Severity == rules.SeverityWarning {
					outcome.WarningCount++
					outcome.Warnings = append(outcome.Warnings, issue)
				} else {
					outcome.IsValid = false
					outcome.ErrorCount++
					outcome.Errors = append(outcome.Errors, issue)
				}
			}
		}
	}
	return outcome, nil
}

func (o *Orchestrator) complete(ctx context.Context, sink ProgressSink, result *Result) (*Result, error) {
	result.sumCounts()
	result.Status = StatusCompleted
	result.CompletedAt = time.Now()
	o.persist(ctx, result)
	o.push(sink, result, StageRelation, 100, "validation completed")
	metrics.IncreaseValidationRunsTotalMetric(string(StatusCompleted))
	o.log.Infof("run %s completed: %d errors, %d warnings", result.RunID, result.TotalErrors, result.TotalWarnings)
	return result, nil
}

// terminalFromErr routes a mid-stage error to the cancelled or failed path.
func (o *Orchestrator) terminalFromErr(ctx context.Context, result *Result, err error) (*Result, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return o.cancelled(result)
	}
	return o.fail(ctx, result, err)
}

// cancelled persists the partial result and re-raises the cancellation so
// the caller's own wait unwinds.
func (o *Orchestrator) cancelled(result *Result) (*Result, error) {
	result.sumCounts()
	result.Status = StatusCancelled
	result.Message = "validation cancelled"
	result.CompletedAt = time.Now()
	// Persist with a fresh context; the run's own is already done.
	o.persist(context.Background(), result)
	metrics.IncreaseValidationRunsTotalMetric(string(StatusCancelled))
	o.log.Infof("run %s cancelled", result.RunID)
	return result, context.Canceled
}

// fail persists the partial result, then propagates the fault so the caller
// is informed.
func (o *Orchestrator) fail(ctx context.Context, result *Result, err error) (*Result, error) {
	result.sumCounts()
	result.Status = StatusFailed
	result.Message = err.Error()
	result.CompletedAt = time.Now()
	o.persist(ctx, result)
	metrics.IncreaseValidationRunsTotalMetric(string(StatusFailed))
	o.log.Errorf("run %s failed: %v", result.RunID, err)
	return result, err
}

func (o *Orchestrator) persist(ctx context.Context, result *Result) {
	if o.store == nil {
		return
	}
	if err := o.store.Save(ctx, result); err != nil {
		o.log.Errorf("run %s: persisting result: %v", result.RunID, err)
	}
}

// push emits a progress snapshot to the configured sink and the per-run
// sink. Sinks must not block; the orchestrator calls them inline from the
// run's task.
func (o *Orchestrator) push(sink ProgressSink, result *Result, stage int, percent float64, task string) {
	if o.progress == nil && sink == nil {
		return
	}
	snapshot := Progress{
		RunID:     result.RunID,
		Stage:     stage,
		StageName: StageName(stage),
		Percent:   percent,
		Task:      task,
		Stages:    make(map[int]StageState, 4),
	}
	for _, sr := range result.stageResults() {
		if sr == nil {
			continue
		}
		snapshot.ErrorCount += sr.ErrorCount
		snapshot.WarningCount += sr.WarningCount
		started := sr.StartedAt
		state := StageState{Status: "running", StartedAt: &started}
		if !sr.CompletedAt.IsZero() {
			completed := sr.CompletedAt
			state.Status = "completed"
			state.CompletedAt = &completed
		}
		snapshot.Stages[sr.Stage] = state
	}
	if o.progress != nil {
		o.progress(snapshot)
	}
	if sink != nil {
		sink(snapshot)
	}
}

// CheckTarget rejects missing or empty dataset paths before the run starts.
func CheckTarget(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("dataset path %q not found", path)
		}
		return fmt.Errorf("dataset path %q not accessible: %w", path, err)
	}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return fmt.Errorf("dataset path %q not accessible: %w", path, err)
		}
		if len(entries) == 0 {
			return fmt.Errorf("dataset path %q not found or empty", path)
		}
		return nil
	}
	if info.Size() == 0 {
		return fmt.Errorf("dataset path %q not found or empty", path)
	}
	return nil
}
