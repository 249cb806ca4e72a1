package checkout

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq int64

func testDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:checkout%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

func testManager(t *testing.T) (*Manager, *gorm.DB) {
	db := testDB(t)
	m, err := NewManager(zap.NewNop(), db)
	require.NoError(t, err)
	return m, db
}

func TestAcquireCreatesPendingLock(t *testing.T) {
	ctx := context.Background()
	m, _ := testManager(t)

	lock, created, err := m.Acquire(ctx, "user_1", "prod_plus")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, LockPending, lock.Status)
	require.Empty(t, lock.CheckoutURL)
	require.True(t, lock.ExpiresAt.After(time.Now()))
}

func TestAcquireConvergesOnExistingLock(t *testing.T) {
	ctx := context.Background()
	m, _ := testManager(t)

	first, created, err := m.Acquire(ctx, "user_1", "prod_plus")
	require.NoError(t, err)
	require.True(t, created)

	// second caller loses the insert to the unique index and converges
	second, created, err := m.Acquire(ctx, "user_1", "prod_plus")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)

	// a different product is an independent lock slot
	_, created, err = m.Acquire(ctx, "user_1", "prod_other")
	require.NoError(t, err)
	require.True(t, created)
}

func TestAcquireReclaimsExpiredPendingLock(t *testing.T) {
	ctx := context.Background()
	m, db := testManager(t)

	stale, created, err := m.Acquire(ctx, "user_1", "prod_plus")
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, db.Model(&Lock{}).
		Where("id = ?", stale.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	fresh, created, err := m.Acquire(ctx, "user_1", "prod_plus")
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, stale.ID, fresh.ID)
}

func TestCompletePending(t *testing.T) {
	ctx := context.Background()
	m, db := testManager(t)

	lock, _, err := m.Acquire(ctx, "user_1", "prod_plus")
	require.NoError(t, err)

	require.NoError(t, m.CompletePending(ctx, "user_1", "prod_plus"))

	var stored Lock
	require.NoError(t, db.First(&stored, "id = ?", lock.ID).Error)
	require.Equal(t, LockCompleted, stored.Status)

	// once completed, a new checkout may acquire a fresh lock
	pending, err := m.GetPending(ctx, "user_1", "prod_plus")
	require.NoError(t, err)
	require.Nil(t, pending)
}

func TestSweepExpiredScope(t *testing.T) {
	ctx := context.Background()
	m, db := testManager(t)

	// pending and expired: swept
	expired, _, err := m.Acquire(ctx, "user_1", "prod_plus")
	require.NoError(t, err)
	require.NoError(t, db.Model(&Lock{}).
		Where("id = ?", expired.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	// pending but fresh: survives
	fresh, _, err := m.Acquire(ctx, "user_2", "prod_plus")
	require.NoError(t, err)

	// completed and past expiry: survives, kept for audit
	completed, _, err := m.Acquire(ctx, "user_3", "prod_plus")
	require.NoError(t, err)
	require.NoError(t, m.CompletePending(ctx, "user_3", "prod_plus"))
	require.NoError(t, db.Model(&Lock{}).
		Where("id = ?", completed.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	deleted, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	var remaining []Lock
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 2)
	survivors := []string{remaining[0].ID, remaining[1].ID}
	require.Contains(t, survivors, fresh.ID)
	require.Contains(t, survivors, completed.ID)
}
