package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/spatialqc/spatialqc/internal/store/model"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	ValidationResult() ValidationResult
	Migrate() error
	Close() error
}

type DataStore struct {
	db     *gorm.DB
	result ValidationResult
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:     db,
		result: NewValidationResultStore(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) ValidationResult() ValidationResult {
	return s.result
}

func (s *DataStore) Migrate() error {
	return s.db.AutoMigrate(&model.ValidationResult{})
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
