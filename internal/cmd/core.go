package cmd

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/blockcache"
	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/services"
)

// core is the enforcement stack shared by the server and the admin commands.
type core struct {
	db         *gorm.DB
	cache      *blockcache.Cache
	store      *services.BlockStore
	ledger     *services.EventLedger
	admin      *services.BlockAdmin
	guard      *services.InputGuard
	privileges *services.PrivilegeService
	notifier   *services.AlertNotifier
}

func openCore(ctx context.Context, c config.Config) (*core, error) {
	db, err := database.Connect(c.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	privileges := services.NewPrivilegeService(db)
	if err := privileges.Seed(ctx, c.Security.PrivilegedActors); err != nil {
		return nil, fmt.Errorf("seed privileged actors: %w", err)
	}

	notifier := services.NewAlertNotifier(c.Security.AlertURLs)
	opts := []services.LedgerOption{services.WithBestEffortMedium(c.Security.BestEffortMedium)}
	if notifier.Enabled() {
		opts = append(opts, services.WithNotifier(notifier))
	}
	ledger := services.NewEventLedger(db, opts...)

	cache := blockcache.New()
	store := services.NewBlockStore(db)
	admin := services.NewBlockAdmin(store, cache, ledger)

	return &core{
		db:         db,
		cache:      cache,
		store:      store,
		ledger:     ledger,
		admin:      admin,
		guard:      services.NewInputGuard(ledger, admin, c.Security.AutoBlock),
		privileges: privileges,
		notifier:   notifier,
	}, nil
}

// Close flushes pending alerts and releases the database.
func (c *core) Close() error {
	c.notifier.Wait()
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
