package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/spatialqc/spatialqc/internal/store/model"
	"github.com/spatialqc/spatialqc/internal/validation"
)

// ResultAdapter exposes the gorm-backed store through the orchestrator's
// persistence contract.
type ResultAdapter struct {
	store Store
}

var _ validation.ResultStore = (*ResultAdapter)(nil)

func NewResultAdapter(store Store) *ResultAdapter {
	return &ResultAdapter{store: store}
}

func (a *ResultAdapter) Save(ctx context.Context, result *validation.Result) error {
	_, err := a.store.ValidationResult().Save(ctx, model.NewValidationResult(result))
	return err
}

func (a *ResultAdapter) Get(ctx context.Context, runID uuid.UUID) (*validation.Result, error) {
	record, err := a.store.ValidationResult().Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return record.Unpack(), nil
}

func (a *ResultAdapter) List(ctx context.Context, filter validation.ResultFilter, paging validation.Paging) ([]validation.Result, int64, error) {
	qf := NewResultQueryFilter()
	if filter.Status != "" {
		qf = qf.ByStatus(string(filter.Status))
	}
	if filter.TargetPath != "" {
		qf = qf.ByTargetPath(filter.TargetPath)
	}

	opts := NewResultQueryOptions().WithSortOrder(SortByCreatedTime).
		WithOffset(paging.Offset).WithLimit(paging.Limit)

	records, total, err := a.store.ValidationResult().List(ctx, qf, opts)
	if err != nil {
		return nil, 0, err
	}

	results := make([]validation.Result, 0, len(records))
	for i := range records {
		results = append(results, *records[i].Unpack())
	}
	return results, total, nil
}
