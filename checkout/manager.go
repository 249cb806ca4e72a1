package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to checkout Locks
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for checkout locks
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Lock{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize checkout.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// GetPending returns the non-expired pending lock for (user, product), or nil
func (m *Manager) GetPending(ctx context.Context, userID, productID string) (*Lock, error) {
	var lock Lock

	result := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("product_id = ?", productID).
		Where("status = ?", LockPending).
		Where("expires_at > ?", time.Now()).
		First(&lock)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get pending lock")
	}

	return &lock, nil
}

// Acquire attempts to insert a new pending lock. When the insert conflicts
// with a concurrent winner, the existing pending lock is returned with
// created == false; the unique index guarantees exactly one of two racing
// inserts succeeds.
func (m *Manager) Acquire(ctx context.Context, userID, productID string) (lock *Lock, created bool, err error) {
	// an expired pending row still occupies the unique index slot until the
	// janitor runs, so reclaim it inline
	if err := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("product_id = ?", productID).
		Where("status = ?", LockPending).
		Where("expires_at <= ?", time.Now()).
		Delete(&Lock{}).Error; err != nil {
		return nil, false, extErrors.Wrap(err, "Cannot reclaim expired lock")
	}

	fresh := &Lock{
		ID:        shortuuid.New(),
		UserID:    userID,
		ProductID: productID,
		Status:    LockPending,
		ExpiresAt: time.Now().Add(LockTTL),
	}

	result := m.db.WithContext(ctx).Create(fresh)
	if result.Error == nil {
		return fresh, true, nil
	}

	// expected on a race: somebody else inserted first, converge on their lock
	existing, getErr := m.GetPending(ctx, userID, productID)
	if getErr != nil {
		return nil, false, getErr
	}
	if existing != nil {
		return existing, false, nil
	}

	m.logger.Error("Database returned error",
		zap.Error(result.Error),
	)
	return nil, false, extErrors.Wrap(result.Error, "Cannot acquire checkout lock")
}

// SetCheckoutURL publishes the processor's checkout url on the lock
func (m *Manager) SetCheckoutURL(ctx context.Context, lockID, checkoutURL string) error {
	result := m.db.WithContext(ctx).
		Model(&Lock{}).
		Where("id = ?", lockID).
		Update("checkout_url", checkoutURL)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot record checkout url")
	}
	return nil
}

// CompletePending marks all pending locks for (user, product) completed. Called
// by the reconciler once the processor confirms the purchase.
func (m *Manager) CompletePending(ctx context.Context, userID, productID string) error {
	result := m.db.WithContext(ctx).
		Model(&Lock{}).
		Where("user_id = ?", userID).
		Where("product_id = ?", productID).
		Where("status = ?", LockPending).
		Update("status", LockCompleted)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot complete pending lock")
	}
	return nil
}

// SweepExpired deletes pending locks past their expiry (abandoned checkouts)
// and returns how many were removed. Completed locks are kept for audit.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	result := m.db.WithContext(ctx).
		Where("status = ?", LockPending).
		Where("expires_at <= ?", time.Now()).
		Delete(&Lock{})
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return 0, extErrors.Wrap(result.Error, "Cannot sweep expired locks")
	}
	return result.RowsAffected, nil
}
