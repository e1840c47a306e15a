package tier

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("tier_not_found")

type Service interface {
	List(ctx context.Context) ([]Tier, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Tier, error)
	GetByName(ctx context.Context, name string) (*Tier, error)
}

type service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(db *gorm.DB, log *zap.Logger) Service {
	return &service{db: db, log: log.Named("tier.service")}
}

func (s *service) List(ctx context.Context) ([]Tier, error) {
	var tiers []Tier
	err := s.db.WithContext(ctx).
		Order("monthly_price_cents asc, id asc").
		Find(&tiers).Error
	if err != nil {
		return nil, err
	}
	return tiers, nil
}

func (s *service) GetByID(ctx context.Context, id snowflake.ID) (*Tier, error) {
	var t Tier
	err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *service) GetByName(ctx context.Context, name string) (*Tier, error) {
	var t Tier
	err := s.db.WithContext(ctx).First(&t, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
