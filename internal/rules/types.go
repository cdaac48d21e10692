// Package rules runs declarative condition/validation expression pairs
// against streamed features, producing attribute-relation errors. Rules may
// depend on other rules; a dependency that found errors gates its dependents.
package rules

import (
	"time"
)

// Severity classifies what a violated rule produces.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ConditionalRule is one declarative attribute-relation rule. Instances are
// immutable while executing; mutation goes through the engine's registry.
type ConditionalRule struct {
	ID         string   `json:"id"`
	Condition  string   `json:"condition"`
	Validation string   `json:"validation"`
	Severity   Severity `json:"severity"`
	Priority   int      `json:"priority"`
	DependsOn  []string `json:"dependsOn,omitempty"`
	Enabled    bool     `json:"enabled"`
}

// AttributeRelationError is one violation found by a rule, keyed by the
// offending feature's object id.
type AttributeRelationError struct {
	ObjectID int64    `json:"objectId"`
	RuleID   string   `json:"ruleId"`
	Layer    string   `json:"layer"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// OutcomeStatus is the tagged result of one rule execution. Recoverable
// problems land in Skipped or Failed; only cancellation propagates as an
// error from the engine.
type OutcomeStatus string

const (
	// OutcomeCompleted means the rule ran over the full stream.
	OutcomeCompleted OutcomeStatus = "completed"
	// OutcomeSkipped means the rule did not run: disabled, unmet or failing
	// dependency, or unparseable expressions.
	OutcomeSkipped OutcomeStatus = "skipped"
	// OutcomeFailed means the rule aborted mid-run on an I/O fault.
	OutcomeFailed OutcomeStatus = "failed"
)

// RuleOutcome is what one ValidateRule call produced.
type RuleOutcome struct {
	RuleID    string
	Status    OutcomeStatus
	Reason    string
	Errors    []AttributeRelationError
	Processed int
	Elapsed   time.Duration
}

// RuleExecutionStatistics is per-rule telemetry, updated exactly once per
// execution.
type RuleExecutionStatistics struct {
	RuleID            string
	Executions        int64
	FeaturesProcessed int64
	ErrorsFound       int64
	TotalDuration     time.Duration
	AverageDuration   time.Duration
}
