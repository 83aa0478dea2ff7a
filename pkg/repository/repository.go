package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Repository is a generic read store keyed by struct filters.
type Repository[T any] interface {
	// FindOne returns nil when no row matches.
	FindOne(ctx context.Context, filter *T) (*T, error)
}

type store[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (s *store[T]) FindOne(ctx context.Context, filter *T) (*T, error) {
	var row T
	err := s.db.WithContext(ctx).Where(filter).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
