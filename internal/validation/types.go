// Package validation drives a multi-stage quality pipeline over one
// geospatial dataset: table checks, schema checks, geometry checks, and
// relation/attribute rule checks, in strict stage order. Concrete geometric
// predicates live behind checker collaborators; the orchestrator owns
// sequencing, progress, persistence, and cancellation.
package validation

import (
	"time"

	"github.com/google/uuid"

	"github.com/spatialqc/spatialqc/internal/rules"
)

// Status is the lifecycle state of one validation run.
type Status string

const (
	StatusNotStarted Status = "not-started"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Stage numbers; stages always execute in ascending order.
const (
	StageTable    = 1
	StageSchema   = 2
	StageGeometry = 3
	StageRelation = 4
)

// StageName maps a stage number to its display name.
func StageName(stage int) string {
	switch stage {
	case StageTable:
		return "table check"
	case StageSchema:
		return "schema check"
	case StageGeometry:
		return "geometry check"
	case StageRelation:
		return "relation check"
	default:
		return "unknown"
	}
}

// Issue is one finding of any sub-check.
type Issue struct {
	ObjectID int64  `json:"objectId,omitempty"`
	Layer    string `json:"layer,omitempty"`
	Check    string `json:"check,omitempty"`
	Message  string `json:"message"`
}

// CheckOutcome is the uniform result shape every checker collaborator
// returns, regardless of stage.
type CheckOutcome struct {
	IsValid      bool    `json:"isValid"`
	ErrorCount   int     `json:"errorCount"`
	WarningCount int     `json:"warningCount"`
	Errors       []Issue `json:"errors,omitempty"`
	Warnings     []Issue `json:"warnings,omitempty"`
}

// Merge folds other into o.
func (o *CheckOutcome) Merge(other *CheckOutcome) {
	if other == nil {
		return
	}
	if !other.IsValid {
		o.IsValid = false
	}
	o.ErrorCount += other.ErrorCount
	o.WarningCount += other.WarningCount
	o.Errors = append(o.Errors, other.Errors...)
	o.Warnings = append(o.Warnings, other.Warnings...)
}

// StageStatus is the verdict of one completed stage.
type StageStatus string

const (
	StagePassed StageStatus = "passed"
	StageFailed StageStatus = "failed"
)

// StageResult is one stage's slice of the run result. A nil StageResult on
// the run means the stage never executed.
type StageResult struct {
	Stage        int         `json:"stage"`
	Name         string      `json:"name"`
	Status       StageStatus `json:"status"`
	ErrorCount   int         `json:"errorCount"`
	WarningCount int         `json:"warningCount"`
	Errors       []Issue     `json:"errors,omitempty"`
	Warnings     []Issue     `json:"warnings,omitempty"`
	StartedAt    time.Time   `json:"startedAt"`
	CompletedAt  time.Time   `json:"completedAt"`
}

func (s *StageResult) absorb(o *CheckOutcome) {
	if o == nil {
		return
	}
	if !o.IsValid {
		s.Status = StageFailed
	}
	s.ErrorCount += o.ErrorCount
	s.WarningCount += o.WarningCount
	s.Errors = append(s.Errors, o.Errors...)
	s.Warnings = append(s.Warnings, o.Warnings...)
}

// Result is the full outcome of one validation run. Stage pointers stay nil
// for stages that never ran.
type Result struct {
	RunID      uuid.UUID `json:"runId"`
	TargetPath string    `json:"targetPath"`
	Status     Status    `json:"status"`
	Message    string    `json:"message,omitempty"`

	TableCheck    *StageResult `json:"tableCheck,omitempty"`
	SchemaCheck   *StageResult `json:"schemaCheck,omitempty"`
	GeometryCheck *StageResult `json:"geometryCheck,omitempty"`
	RelationCheck *StageResult `json:"relationCheck,omitempty"`

	// AttributeRelationErrors are rule-engine findings merged into the
	// relation stage's counts.
	AttributeRelationErrors []rules.AttributeRelationError `json:"attributeRelationErrors,omitempty"`

	TotalErrors   int       `json:"totalErrors"`
	TotalWarnings int       `json:"totalWarnings"`
	StartedAt     time.Time `json:"startedAt"`
	CompletedAt   time.Time `json:"completedAt,omitempty"`
}

func (r *Result) stageResults() []*StageResult {
	return []*StageResult{r.TableCheck, r.SchemaCheck, r.GeometryCheck, r.RelationCheck}
}

func (r *Result) setStage(stage int, sr *StageResult) {
	switch stage {
	case StageTable:
		r.TableCheck = sr
	case StageSchema:
		r.SchemaCheck = sr
	case StageGeometry:
		r.GeometryCheck = sr
	case StageRelation:
		r.RelationCheck = sr
	}
}

// sumCounts recomputes the run-level totals from the stages that ran.
func (r *Result) sumCounts() {
	r.TotalErrors, r.TotalWarnings = 0, 0
	for _, sr := range r.stageResults() {
		if sr == nil {
			continue
		}
		r.TotalErrors += sr.ErrorCount
		r.TotalWarnings += sr.WarningCount
	}
}

// StageState is the per-stage sub-status carried by a progress snapshot.
type StageState struct {
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Progress is the one-way snapshot pushed to the progress sink. Percentages
// are fixed per-stage breakpoints, not item counts.
type Progress struct {
	RunID        uuid.UUID          `json:"runId"`
	Stage        int                `json:"stage"`
	StageName    string             `json:"stageName"`
	Percent      float64            `json:"percent"`
	Task         string             `json:"task"`
	ErrorCount   int                `json:"errorCount"`
	WarningCount int                `json:"warningCount"`
	Stages       map[int]StageState `json:"stages,omitempty"`
}
