package subscription

import (
	"context"
	"errors"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Manager handles the database operations relating to Subscriptions
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for subscriptions
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Subscription{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize subscription.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Upsert overwrites the full subscription row keyed on the processor's
// subscription id. Last applied event wins, field by field; this is what makes
// webhook replay and out-of-order delivery safe.
func (m *Manager) Upsert(ctx context.Context, sub *Subscription) error {
	if len(sub.ID) == 0 {
		return fmt.Errorf("Subscription.ID is required")
	}
	result := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(sub)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot upsert subscription")
	}
	return nil
}

// GetByID will try to return the subscription in the database by the
// processor's subscription id
func (m *Manager) GetByID(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription

	result := m.db.WithContext(ctx).First(&sub, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription by id")
	}

	return &sub, nil
}

// GetCurrentForProduct returns a subscription for (user, product) that is
// currently active or trialing, or nil if the user holds none
func (m *Manager) GetCurrentForProduct(ctx context.Context, userID, productID string) (*Subscription, error) {
	var sub Subscription

	result := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("product_id = ?", productID).
		Where("status IN ?", []Status{StatusActive, StatusTrialing}).
		First(&sub)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get current subscription")
	}

	return &sub, nil
}
