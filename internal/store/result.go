package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/spatialqc/spatialqc/internal/store/model"
)

type ValidationResult interface {
	List(ctx context.Context, filter *ResultQueryFilter, opts *ResultQueryOptions) (model.ValidationResultList, int64, error)
	Get(ctx context.Context, id uuid.UUID) (*model.ValidationResult, error)
	Save(ctx context.Context, result *model.ValidationResult) (*model.ValidationResult, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type ValidationResultStore struct {
	db *gorm.DB
}

// Make sure we conform to ValidationResult interface
var _ ValidationResult = (*ValidationResultStore)(nil)

func NewValidationResultStore(db *gorm.DB) ValidationResult {
	return &ValidationResultStore{db: db}
}

func (s *ValidationResultStore) List(ctx context.Context, filter *ResultQueryFilter, opts *ResultQueryOptions) (model.ValidationResultList, int64, error) {
	var results model.ValidationResultList

	counter := s.getDB(ctx).Model(&model.ValidationResult{})
	if filter != nil {
		for _, fn := range filter.QueryFn {
			counter = fn(counter)
		}
	}
	var total int64
	if err := counter.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	tx := s.getDB(ctx).Model(&results)
	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Find(&results).Error; err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func (s *ValidationResultStore) Get(ctx context.Context, id uuid.UUID) (*model.ValidationResult, error) {
	var result model.ValidationResult
	if err := s.getDB(ctx).First(&result, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

// Save upserts the record; a run persists its partial result on every
// terminal path, so the same id may be written more than once.
func (s *ValidationResultStore) Save(ctx context.Context, result *model.ValidationResult) (*model.ValidationResult, error) {
	tx := s.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(result)
	if tx.Error != nil {
		return nil, tx.Error
	}
	return result, nil
}

func (s *ValidationResultStore) Delete(ctx context.Context, id uuid.UUID) error {
	tx := s.getDB(ctx).Delete(&model.ValidationResult{}, "id = ?", id)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *ValidationResultStore) getDB(ctx context.Context) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
