package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	GetPlan(ctx context.Context, id snowflake.ID) (Plan, error)
	GetByExternalProductID(ctx context.Context, productID string) (Plan, error)
	Invalidate(id snowflake.ID)
}

var (
	ErrPlanNotFound    = errors.New("plan_not_found")
	ErrInvalidInterval = errors.New("invalid_billing_interval")
)
