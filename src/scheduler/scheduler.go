// Package scheduler runs periodic portfolio syncs for every user with an
// active exchange credential.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	logger "github.com/sirupsen/logrus"
)

type UserSource interface {
	UsersWithCredentials(ctx context.Context) ([]string, error)
}

type Syncer interface {
	SyncAll(ctx context.Context, users []string, concurrency int) (succeeded int, failed int)
}

type Scheduler struct {
	cron        *cron.Cron
	users       UserSource
	syncer      Syncer
	concurrency int
	running     atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns nil when cfg.Schedule is empty.
func New(cfg Config, users UserSource, syncer Syncer) (*Scheduler, error) {
	if cfg.Schedule == "" {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:        cron.New(),
		users:       users,
		syncer:      syncer,
		concurrency: cfg.Concurrency,
		ctx:         ctx,
		cancel:      cancel,
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, func() { s.RunOnce(s.ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid SYNC_SCHEDULE %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	logger.WithField("entries", len(s.cron.Entries())).Info("sync scheduler started")
	s.cron.Start()
}

// Stop cancels an in-flight tick and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	logger.Info("sync scheduler stopped")
}

// RunOnce syncs every user with an active credential. A tick that starts
// while the previous one is still running is skipped.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		logger.Warn("previous scheduled sync still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	start := time.Now()
	users, err := s.users.UsersWithCredentials(ctx)
	if err != nil {
		logger.WithError(err).Error("failed to list users for scheduled sync")
		return
	}
	if len(users) == 0 {
		logger.Debug("no users with connected exchanges, nothing to sync")
		return
	}

	succeeded, failed := s.syncer.SyncAll(ctx, users, s.concurrency)
	logger.WithFields(map[string]interface{}{
		"users":     len(users),
		"succeeded": succeeded,
		"failed":    failed,
		"duration":  time.Since(start).String(),
	}).Info("scheduled sync finished")
}
