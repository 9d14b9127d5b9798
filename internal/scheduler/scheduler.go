// Package scheduler drives pending export jobs to completion and sweeps
// expired exports. It runs in-process next to the HTTP server or as its own
// binary; both paths go through the same orchestrator Process call as the
// HTTP trigger, so the pending-only claim stays the single concurrency guard.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/coursekitlabs/coursekit/internal/audit/domain"
	"github.com/coursekitlabs/coursekit/internal/clock"
	"github.com/coursekitlabs/coursekit/internal/config"
	"github.com/coursekitlabs/coursekit/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("scheduler",
	fx.Provide(New),
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	Clock clock.Clock
	Svc   auditdomain.Service
	Repo  auditdomain.Repository
}

type Scheduler struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   config.Config
	clock clock.Clock
	svc   auditdomain.Service
	repo  auditdomain.Repository
}

func New(p Params) *Scheduler {
	return &Scheduler{
		db:    p.DB,
		log:   p.Log.Named("scheduler"),
		cfg:   p.Cfg,
		clock: p.Clock,
		svc:   p.Svc,
		repo:  p.Repo,
	}
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SchedulerInterval)
	defer ticker.Stop()

	s.log.Info("scheduler started", zap.Duration("interval", s.cfg.SchedulerInterval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			if err := s.DispatchPendingExports(ctx); err != nil {
				s.log.Error("dispatch pending exports failed", zap.Error(err))
			}
			if err := s.CleanupExpiredExports(ctx); err != nil {
				s.log.Error("cleanup expired exports failed", zap.Error(err))
			}
		}
	}
}

// DispatchPendingExports processes the oldest pending jobs, one at a time.
// A job that fails or is claimed elsewhere does not stop the batch.
func (s *Scheduler) DispatchPendingExports(ctx context.Context) error {
	refs, err := s.repo.ListPending(ctx, s.db, s.cfg.SchedulerBatchSize)
	if err != nil {
		return err
	}

	for _, ref := range refs {
		jobID := snowflake.ID(ref.ID).String()
		jobCtx := orgcontext.WithOrgID(ctx, ref.OrgID)
		jobCtx = orgcontext.WithActor(jobCtx, orgcontext.Actor{UserID: "scheduler"})

		result, err := s.svc.Process(jobCtx, jobID)
		switch {
		case err == nil:
			s.log.Info("export job processed",
				zap.String("job_id", jobID),
				zap.Int64("records", result.Records),
			)
		case errors.Is(err, auditdomain.ErrNotPending), errors.Is(err, auditdomain.ErrNotFound):
			// Claimed by a concurrent trigger, or deleted; nothing to do.
		default:
			s.log.Warn("export job processing failed",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// CleanupExpiredExports hard-deletes completed jobs past their expiry.
func (s *Scheduler) CleanupExpiredExports(ctx context.Context) error {
	cutoff := s.clock.Now(ctx)

	deleted, err := s.repo.DeleteExpired(ctx, s.db, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.log.Info("expired exports deleted", zap.Int64("count", deleted), zap.Time("cutoff", cutoff))
	}
	return nil
}
