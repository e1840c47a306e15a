package apikey

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("api_key_not_found")

type CreateRequest struct {
	CustomerID snowflake.ID `json:"customer_id"`
	Name       string       `json:"name"`
	ExpiresAt  *time.Time   `json:"expires_at"`
}

// SecretResponse is the only place the raw secret is ever returned.
type SecretResponse struct {
	ID     snowflake.ID `json:"id"`
	Secret string       `json:"secret"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	List(ctx context.Context, customerID snowflake.ID) ([]APIKey, error)
	Revoke(ctx context.Context, id snowflake.ID) error
	// TouchLastUsed stamps last_used_at, best effort.
	TouchLastUsed(ctx context.Context, id snowflake.ID, at time.Time)
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(db *gorm.DB, log *zap.Logger, genID *snowflake.Node) Service {
	return &service{db: db, log: log.Named("apikey.service"), genID: genID}
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*SecretResponse, error) {
	secret, err := NewSecret()
	if err != nil {
		return nil, err
	}

	key := APIKey{
		ID:         s.genID.Generate(),
		Secret:     secret,
		Name:       req.Name,
		CustomerID: req.CustomerID,
		Active:     true,
		ExpiresAt:  req.ExpiresAt,
	}
	if err := s.db.WithContext(ctx).Create(&key).Error; err != nil {
		return nil, err
	}
	return &SecretResponse{ID: key.ID, Secret: secret}, nil
}

func (s *service) List(ctx context.Context, customerID snowflake.ID) ([]APIKey, error) {
	var keys []APIKey
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at desc").
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *service) Revoke(ctx context.Context, id snowflake.ID) error {
	result := s.db.WithContext(ctx).
		Model(&APIKey{}).
		Where("id = ?", id).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *service) TouchLastUsed(ctx context.Context, id snowflake.ID, at time.Time) {
	err := s.db.WithContext(ctx).
		Model(&APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", at).Error
	if err != nil {
		s.log.Debug("stamp last_used_at failed", zap.Error(err))
	}
}
