package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (*Customer, error)
	// GetWithTier loads the customer with its tier preloaded.
	GetWithTier(ctx context.Context, id snowflake.ID) (*Customer, error)
	// ListActive returns active customers, optionally restricted to ids.
	ListActive(ctx context.Context, ids []snowflake.ID) ([]Customer, error)
}

var (
	ErrNotFound = errors.New("customer_not_found")
	ErrInactive = errors.New("customer_inactive")
)
