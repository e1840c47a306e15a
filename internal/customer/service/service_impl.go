package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/metergate/internal/customer/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type service struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(db *gorm.DB, log *zap.Logger) domain.Service {
	return &service{db: db, log: log.Named("customer.service")}
}

func (s *service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.WithContext(ctx).First(&customer, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *service) GetWithTier(ctx context.Context, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.WithContext(ctx).
		Preload("Tier").
		First(&customer, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *service) ListActive(ctx context.Context, ids []snowflake.ID) ([]domain.Customer, error) {
	var customers []domain.Customer
	stmt := s.db.WithContext(ctx).Where("is_active = ?", true)
	if len(ids) > 0 {
		stmt = stmt.Where("id IN ?", ids)
	}
	err := stmt.Order("id asc").Find(&customers).Error
	if err != nil {
		return nil, err
	}
	return customers, nil
}
