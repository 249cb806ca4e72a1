package customer

import (
	"context"
	"errors"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Manager handles the database operations relating to Customers
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for customers
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Customer{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize customer.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Upsert writes the user to external customer mapping, keyed on user_id.
// Replaying the same mapping any number of times is a no-op.
func (m *Manager) Upsert(ctx context.Context, cust *Customer) error {
	if len(cust.UserID) == 0 {
		return fmt.Errorf("Customer.UserID is required")
	}
	if len(cust.ExternalCustomerID) == 0 {
		return fmt.Errorf("Customer.ExternalCustomerID is required")
	}
	result := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(cust)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot upsert customer")
	}
	return nil
}

// GetByUserID will try to return the customer in the database by the owning user id
func (m *Manager) GetByUserID(ctx context.Context, userID string) (*Customer, error) {
	var cust Customer

	result := m.db.WithContext(ctx).First(&cust, "user_id = ?", userID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get customer by user id")
	}

	return &cust, nil
}

// GetByExternalID will try to return the customer in the database by the
// payment processor's customer id
func (m *Manager) GetByExternalID(ctx context.Context, externalID string) (*Customer, error) {
	var cust Customer

	result := m.db.WithContext(ctx).First(&cust, "external_customer_id = ?", externalID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get customer by external id")
	}

	return &cust, nil
}
