package validation

import (
	"context"

	"github.com/google/uuid"
)

// TableChecker runs the stage-1 structural sub-checks.
type TableChecker interface {
	CheckTableList(ctx context.Context, path string, cfg *TableSection) (*CheckOutcome, error)
	CheckCoordinateSystem(ctx context.Context, path string, cfg *TableSection) (*CheckOutcome, error)
	CheckGeometryTypes(ctx context.Context, path string, cfg *TableSection) (*CheckOutcome, error)
}

// SchemaChecker runs the stage-2 sub-checks. Key checks are only invoked
// for sources that carry key definitions.
type SchemaChecker interface {
	CheckColumnStructure(ctx context.Context, path string, cfg *SchemaSection) (*CheckOutcome, error)
	CheckDataTypes(ctx context.Context, path string, cfg *SchemaSection) (*CheckOutcome, error)
	CheckPrimaryKeys(ctx context.Context, path string, cfg *SchemaSection) (*CheckOutcome, error)
	CheckForeignKeys(ctx context.Context, path string, cfg *SchemaSection) (*CheckOutcome, error)
}

// GeometryChecker runs one stage-3 sub-check per enabled kind. DropCaches
// releases spatial indexes built during the run.
type GeometryChecker interface {
	Check(ctx context.Context, path string, kind GeometryCheckKind, cfg *GeometrySection) (*CheckOutcome, error)
	DropCaches()
}

// RelationChecker evaluates one stage-4 relation rule row. DropCaches
// releases schema caches built during the run.
type RelationChecker interface {
	CheckRule(ctx context.Context, path string, row RelationRuleRow) (*CheckOutcome, error)
	DropCaches()
}

// ResultFilter narrows a List query. Zero values match everything.
type ResultFilter struct {
	Status     Status
	TargetPath string
}

// Paging bounds a List query. A zero Limit means no limit.
type Paging struct {
	Offset int
	Limit  int
}

// ResultStore is the persistence collaborator.
type ResultStore interface {
	Save(ctx context.Context, result *Result) error
	Get(ctx context.Context, runID uuid.UUID) (*Result, error)
	List(ctx context.Context, filter ResultFilter, paging Paging) ([]Result, int64, error)
}

// ProgressSink receives progress snapshots. It is invoked from the run's
// background task and must not block.
type ProgressSink func(Progress)

// ConfigLoader supplies the per-stage check and rule configuration.
type ConfigLoader interface {
	Load(ctx context.Context) (*RunConfig, error)
}
