package trial

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/studysnap/billing/subscription"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq int64

func testDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:trial%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

type staticPlanReader struct {
	plan string
}

func (s *staticPlanReader) GetPlan(ctx context.Context, userID string) (string, error) {
	return s.plan, nil
}

func testManager(t *testing.T, plan string) (*Manager, *gorm.DB) {
	db := testDB(t)
	m, err := NewManager(zap.NewNop(), db, &staticPlanReader{plan: plan})
	require.NoError(t, err)
	return m, db
}

func TestCheckDryRunDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	m, db := testManager(t, subscription.PlanFree)

	result, err := m.Check(ctx, "user_1", false)
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.NotNil(t, result.Remaining)
	require.Equal(t, Limit, *result.Remaining)

	// dry runs never create the usage row
	var count int64
	require.NoError(t, db.Model(&Usage{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCheckConsumeDecrementsRemaining(t *testing.T) {
	ctx := context.Background()
	m, _ := testManager(t, subscription.PlanFree)

	result, err := m.Check(ctx, "user_1", true)
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.Equal(t, Limit-1, *result.Remaining)

	result, err = m.Check(ctx, "user_1", true)
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.Equal(t, Limit-2, *result.Remaining)
}

func TestCheckExhaustion(t *testing.T) {
	ctx := context.Background()
	m, db := testManager(t, subscription.PlanFree)

	require.NoError(t, db.Create(&Usage{UserID: "user_1", UsedCount: Limit - 1}).Error)

	// the last unit
	result, err := m.Check(ctx, "user_1", true)
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.Equal(t, 0, *result.Remaining)

	// quota spent: denied from here on, consuming or not
	result, err = m.Check(ctx, "user_1", true)
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.Equal(t, 0, *result.Remaining)

	result, err = m.Check(ctx, "user_1", false)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	// the counter never moves past the limit
	var row Usage
	require.NoError(t, db.First(&row, "user_id = ?", "user_1").Error)
	require.Equal(t, Limit, row.UsedCount)
}

func TestCheckPlusBypassesQuota(t *testing.T) {
	ctx := context.Background()
	m, db := testManager(t, subscription.PlanPlus)

	require.NoError(t, db.Create(&Usage{UserID: "user_1", UsedCount: Limit + 3}).Error)

	result, err := m.Check(ctx, "user_1", true)
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.Nil(t, result.Remaining)
}

func TestCheckProBypassesQuota(t *testing.T) {
	ctx := context.Background()
	m, _ := testManager(t, subscription.PlanPro)

	result, err := m.Check(ctx, "user_1", true)
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.Nil(t, result.Remaining)
}
