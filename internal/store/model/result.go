package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/spatialqc/spatialqc/internal/validation"
)

// ValidationResult is the persisted record of one run. The stage findings
// live in a single JSON payload column; the indexed columns carry only what
// List queries filter and sort on.
type ValidationResult struct {
	ID            uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(255);"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     *time.Time
	TargetPath    string `gorm:"not null;index:validation_results_target_path_idx"`
	Status        string `gorm:"not null;type:VARCHAR(50);index:validation_results_status_idx"`
	Message       string
	TotalErrors   int       `gorm:"not null"`
	TotalWarnings int       `gorm:"not null"`
	StartedAt     time.Time `gorm:"not null"`
	CompletedAt   *time.Time
	Payload       *JSONField[validation.Result] `gorm:"type:jsonb"`
}

type ValidationResultList []ValidationResult

// NewValidationResult maps a run result into its persisted form.
func NewValidationResult(result *validation.Result) *ValidationResult {
	record := &ValidationResult{
		ID:            result.RunID,
		TargetPath:    result.TargetPath,
		Status:        string(result.Status),
		Message:       result.Message,
		TotalErrors:   result.TotalErrors,
		TotalWarnings: result.TotalWarnings,
		StartedAt:     result.StartedAt,
		Payload:       MakeJSONField(*result),
	}
	if !result.CompletedAt.IsZero() {
		completed := result.CompletedAt
		record.CompletedAt = &completed
	}
	return record
}

// Unpack restores the run result from the payload column.
func (v *ValidationResult) Unpack() *validation.Result {
	if v.Payload == nil {
		return &validation.Result{
			RunID:      v.ID,
			TargetPath: v.TargetPath,
			Status:     validation.Status(v.Status),
			Message:    v.Message,
			StartedAt:  v.StartedAt,
		}
	}
	result := v.Payload.Data
	return &result
}

func (v ValidationResult) String() string {
	val, _ := json.Marshal(v)
	return string(val)
}
