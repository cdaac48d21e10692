// Package jobs tracks the lifecycle of long-running asynchronous operations:
// validation runs and spatial-format conversions. The registry owns each
// job's cancellation source; callers get snapshot copies, never live state.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Kind separates the two job families.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConversion Kind = "conversion"
)

// Status is the lifecycle state of a job. Validation jobs move through
// NotStarted/Running; conversion jobs report Analyzing/Converting instead.
type Status string

const (
	StatusNotStarted Status = "not-started"
	StatusRunning    Status = "running"
	StatusAnalyzing  Status = "analyzing"
	StatusConverting Status = "converting"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// StageProgress is the per-stage slice of a job's progress map.
type StageProgress struct {
	Stage       int        `json:"stage"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Job is a read-only snapshot of one tracked operation.
type Job struct {
	ID         uuid.UUID             `json:"id"`
	Kind       Kind                  `json:"kind"`
	Status     Status                `json:"status"`
	TargetPath string                `json:"targetPath"`
	Percent    float64               `json:"percent"`
	Task       string                `json:"task"`
	Message    string                `json:"message,omitempty"`
	Stages     map[int]StageProgress `json:"stages,omitempty"`
	Response   any                   `json:"response,omitempty"`
	RawResult  any                   `json:"-"`
	CreatedAt  time.Time             `json:"createdAt"`
	UpdatedAt  time.Time             `json:"updatedAt"`
}
