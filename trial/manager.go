package trial

import (
	"context"
	"errors"

	"github.com/studysnap/billing/subscription"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Result is the outcome of a trial check. Remaining is nil for paid users,
// who are never trial limited.
type Result struct {
	Allowed   bool `json:"allowed"`
	Remaining *int `json:"remaining"`
}

// Manager handles the trial quota
type Manager struct {
	db     *gorm.DB
	plans  subscription.PlanReader
	logger *zap.Logger
}

// NewManager returns a new Manager for trial usage
func NewManager(logger *zap.Logger, db *gorm.DB, plans subscription.PlanReader) (*Manager, error) {
	if plans == nil {
		return nil, extErrors.New("nil PlanReader is invalid")
	}
	if err := db.AutoMigrate(&Usage{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize trial.Manager")
	}
	return &Manager{
		db:     db,
		plans:  plans,
		logger: logger,
	}, nil
}

// Check reports whether the user may perform a premium export, consuming one
// unit of quota when consume is true.
//
// The increment is a read-then-write rather than a compare-and-swap: two
// concurrent consuming calls can both observe the same count and undercount
// usage by one. Accepted for a soft quota.
func (m *Manager) Check(ctx context.Context, userID string, consume bool) (*Result, error) {
	plan, err := m.plans.GetPlan(ctx, userID)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot read plan for trial check")
	}
	if plan == subscription.PlanPlus || plan == subscription.PlanPro {
		return &Result{Allowed: true, Remaining: nil}, nil
	}

	used := 0
	var row Usage
	result := m.db.WithContext(ctx).First(&row, "user_id = ?", userID)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot read trial usage")
	}
	if result.Error == nil {
		used = row.UsedCount
	}

	if used >= Limit {
		return &Result{Allowed: false, Remaining: intPtr(0)}, nil
	}

	if !consume {
		return &Result{Allowed: true, Remaining: intPtr(Limit - used)}, nil
	}

	newCount := used + 1
	if err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&Usage{
		UserID:    userID,
		UsedCount: newCount,
	}).Error; err != nil {
		m.logger.Error("Database returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot consume trial usage")
	}

	remaining := Limit - newCount
	if remaining < 0 {
		remaining = 0
	}
	return &Result{Allowed: true, Remaining: intPtr(remaining)}, nil
}

func intPtr(n int) *int {
	return &n
}
