package repository

import "context"

// Repository is a generic gorm-backed store for simple lookup tables.
// A zero-valued field in a query struct does not constrain the result.
type Repository[T any] interface {
	Find(ctx context.Context, query *T) ([]*T, error)
	FindOne(ctx context.Context, query *T) (*T, error)
	Create(ctx context.Context, resource *T) error
	Count(ctx context.Context, query *T) (int64, error)
}
