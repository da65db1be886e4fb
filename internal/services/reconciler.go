package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Wikid82/warden/internal/logger"
)

const reconcileTimeout = 30 * time.Second

// Reconciler periodically rebuilds the block cache from the store so that a
// cache write lost after a successful store write does not persist. It does
// not expire anything; cache expiry stays lazy.
type Reconciler struct {
	cron     *cron.Cron
	admin    *BlockAdmin
	schedule string
}

// NewReconciler returns a Reconciler for the given cron spec ("@every 5m",
// "*/10 * * * *"). An empty schedule disables it.
func NewReconciler(admin *BlockAdmin, schedule string) *Reconciler {
	return &Reconciler{
		cron:     cron.New(),
		admin:    admin,
		schedule: schedule,
	}
}

// Start registers the job and starts the scheduler.
func (r *Reconciler) Start() error {
	if r.schedule == "" {
		logger.Log().Info("block cache reconciliation disabled")
		return nil
	}
	if _, err := r.cron.AddFunc(r.schedule, r.RunOnce); err != nil {
		return err
	}
	r.cron.Start()
	logger.Log().WithField("schedule", r.schedule).Info("block cache reconciliation scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}

// RunOnce reconciles immediately.
func (r *Reconciler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	diverged, err := r.admin.Reconcile(ctx)
	if err != nil {
		logger.Log().WithError(err).Warn("block cache reconciliation failed")
		return
	}
	logger.Log().WithField("divergent", diverged).Debug("block cache reconciled")
}
