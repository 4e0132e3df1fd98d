package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/store"
)

// HousekeepingService periodically downgrades lapsed premium accounts and
// verifies the audit hash chain.
type HousekeepingService struct {
	Store    store.Store
	Audit    *AuditLog
	Clock    Clock
	Logger   *slog.Logger
	Interval time.Duration

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(store store.Store, audit *AuditLog, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:    store,
		Audit:    audit,
		Clock:    SystemClock{},
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop() to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress run.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run immediately on startup
	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce performs one pass. Each step is independent - a failure in one
// won't stop the other.
func (s *HousekeepingService) RunOnce(ctx context.Context) {
	s.Logger.Info("starting housekeeping")

	downgraded := s.expirePremium(ctx)

	if s.Audit != nil {
		report, err := s.Audit.VerifyChain(ctx)
		switch {
		case err != nil:
			s.Logger.Error("failed to verify audit chain", "error", err)
		case !report.Intact():
			s.Logger.Error("audit chain broken", "entry", report.BrokenAt, "checked", report.Checked)
		default:
			s.Logger.Debug("audit chain verified", "checked", report.Checked, "forks", report.Forks)
		}
	}

	s.Logger.Info("housekeeping completed", "premium_expired", downgraded)
}

// expirePremium moves every premium account past its expiry back to free.
func (s *HousekeepingService) expirePremium(ctx context.Context) int {
	now := clockOrSystem(s.Clock).Now()

	users, err := s.Store.Users().ListExpiredPremium(ctx, now)
	if err != nil {
		s.Logger.Error("failed to list expired premium users", "error", err)
		return 0
	}

	var n int
	for _, u := range users {
		err := s.Store.Users().UpdateRole(ctx, u.Identity, domain.RoleFree, nil)
		if err != nil {
			s.Logger.Error("failed to downgrade expired premium", "identity", u.Identity, "error", err)
		} else {
			n++
		}
		if s.Audit != nil {
			details := map[string]string{"from": string(domain.RolePremium), "to": string(domain.RoleFree), "reason": "expired"}
			if err != nil {
				details["error"] = err.Error()
			}
			s.Audit.Append(ctx, domain.AuditEntry{
				Actor:   "system",
				Action:  domain.ActionRoleChange,
				Target:  u.Identity,
				Success: err == nil,
				Details: details,
			})
		}
	}
	return n
}
