package services

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Wikid82/warden/internal/blockcache"
	"github.com/Wikid82/warden/internal/database"
)

// setupWardenTestDB opens a migrated sqlite file private to the test. One
// connection keeps writers from tripping over each other's locks.
func setupWardenTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "warden.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

// closeDB makes every later query on db fail.
func closeDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	db     *gorm.DB
	clock  *testClock
	store  *BlockStore
	cache  *blockcache.Cache
	ledger *EventLedger
	admin  *BlockAdmin
}

// newFixture wires the enforcement core over one database and one clock.
func newFixture(t testing.TB) *fixture {
	t.Helper()
	db := setupWardenTestDB(t)
	clock := newTestClock()

	store := NewBlockStore(db)
	store.now = clock.Now
	cache := blockcache.New(blockcache.WithClock(clock.Now))
	ledger := NewEventLedger(db)
	ledger.now = clock.Now
	admin := NewBlockAdmin(store, cache, ledger)
	admin.now = clock.Now

	return &fixture{db: db, clock: clock, store: store, cache: cache, ledger: ledger, admin: admin}
}

func int64Ptr(v int64) *int64 { return &v }
