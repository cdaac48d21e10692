package store

import (
	"gorm.io/gorm"
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type SortOrder int

const (
	Unsorted SortOrder = iota
	SortByID
	SortByCreatedTime
	SortByUpdatedTime
)

type ResultQueryFilter BaseQuerier

func NewResultQueryFilter() *ResultQueryFilter {
	return &ResultQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *ResultQueryFilter) ByStatus(status string) *ResultQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status = ?", status)
	})
	return qf
}

func (qf *ResultQueryFilter) ByTargetPath(path string) *ResultQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("target_path = ?", path)
	})
	return qf
}

type ResultQueryOptions BaseQuerier

func NewResultQueryOptions() *ResultQueryOptions {
	return &ResultQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *ResultQueryOptions) WithSortOrder(sort SortOrder) *ResultQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		switch sort {
		case SortByID:
			return tx.Order("id")
		case SortByCreatedTime:
			return tx.Order("created_at DESC")
		case SortByUpdatedTime:
			return tx.Order("updated_at DESC")
		default:
			return tx
		}
	})
	return o
}

func (o *ResultQueryOptions) WithOffset(offset int) *ResultQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		if offset > 0 {
			return tx.Offset(offset)
		}
		return tx
	})
	return o
}

func (o *ResultQueryOptions) WithLimit(limit int) *ResultQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		if limit > 0 {
			return tx.Limit(limit)
		}
		return tx
	})
	return o
}
