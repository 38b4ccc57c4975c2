package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"auction-engine/internal/clock"
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

type SchedulerConfig struct {
	Spec         string
	SweepTimeout time.Duration
	BatchSize    int
	Concurrency  int
	InstanceID   string
}

// SweepReport counts what one sweep did. Skipped covers auctions another
// process got to first, or whose end time moved.
type SweepReport struct {
	Ended   int
	Settled int
	Unsold  int
	Skipped int
	Failed  int
	// NotLeader is set when the sweep stood down for another instance.
	NotLeader bool
}

// ClosingScheduler periodically closes expired auctions and settles them.
// Any number of instances may sweep at once; the guarded transitions make
// every auction close exactly once. Leader election, when configured, only
// saves the redundant work.
type ClosingScheduler struct {
	cron       *cron.Cron
	store      domain.AuctionStore
	manager    *AuctionManager
	settlement *SettlementCoordinator
	leader     domain.LeaderElection
	clock      clock.Clock
	cfg        SchedulerConfig
	log        logger.Logger

	mu         sync.Mutex
	leadership bool
}

func NewClosingScheduler(
	store domain.AuctionStore,
	manager *AuctionManager,
	settlement *SettlementCoordinator,
	leader domain.LeaderElection,
	clk clock.Clock,
	cfg SchedulerConfig,
	log logger.Logger,
) *ClosingScheduler {
	if cfg.Spec == "" {
		cfg.Spec = "@every 5s"
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &ClosingScheduler{
		cron:       cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		store:      store,
		manager:    manager,
		settlement: settlement,
		leader:     leader,
		clock:      clk,
		cfg:        cfg,
		log:        log,
	}
}

func (s *ClosingScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting closing scheduler", "spec", s.cfg.Spec, "instance_id", s.cfg.InstanceID)

	_, err := s.cron.AddFunc(s.cfg.Spec, func() {
		report := s.Sweep(ctx)
		if report.Ended+report.Settled+report.Unsold+report.Failed > 0 {
			s.log.Info("Sweep finished",
				"ended", report.Ended,
				"settled", report.Settled,
				"unsold", report.Unsold,
				"skipped", report.Skipped,
				"failed", report.Failed)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop waits for a running sweep and gives up leadership.
func (s *ClosingScheduler) Stop() error {
	s.log.Info("Stopping closing scheduler")
	<-s.cron.Stop().Done()

	s.mu.Lock()
	held := s.leadership
	s.leadership = false
	s.mu.Unlock()

	if s.leader != nil && held {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.leader.ReleaseLeadership(ctx, s.cfg.InstanceID)
	}
	return nil
}

func (s *ClosingScheduler) Sweep(ctx context.Context) SweepReport {
	if s.cfg.SweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SweepTimeout)
		defer cancel()
	}

	var report SweepReport
	if !s.holdsLease(ctx) {
		report.NotLeader = true
		return report
	}

	var mu sync.Mutex
	record := func(f func(r *SweepReport)) {
		mu.Lock()
		f(&report)
		mu.Unlock()
	}

	expired, err := s.store.ListExpiredActive(ctx, s.clock.Now(), s.cfg.BatchSize)
	if err != nil {
		s.log.Error("Failed to list expired auctions", "error", err)
		record(func(r *SweepReport) { r.Failed++ })
	} else {
		s.forEach(ctx, expired, func(ctx context.Context, id string) {
			s.closeAuction(ctx, id, record)
		})
	}

	// Auctions left Ended by a crash or a failed settlement earlier on.
	ended, err := s.store.ListByStatus(ctx, domain.AuctionEnded, s.cfg.BatchSize)
	if err != nil {
		s.log.Error("Failed to list ended auctions", "error", err)
		record(func(r *SweepReport) { r.Failed++ })
		return report
	}
	s.forEach(ctx, ended, func(ctx context.Context, id string) {
		s.settleAuction(ctx, id, record)
	})

	return report
}

func (s *ClosingScheduler) forEach(ctx context.Context, ids []string, fn func(context.Context, string)) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			fn(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *ClosingScheduler) closeAuction(ctx context.Context, id string, record func(func(*SweepReport))) {
	if _, err := s.manager.EndAuction(ctx, id); err != nil {
		if errors.Is(err, domain.ErrStaleStatus) || errors.Is(err, domain.ErrNotExpired) {
			record(func(r *SweepReport) { r.Skipped++ })
			return
		}
		s.log.Error("Failed to end auction", "auction_id", id, "error", err)
		record(func(r *SweepReport) { r.Failed++ })
		return
	}
	record(func(r *SweepReport) { r.Ended++ })
	s.settleAuction(ctx, id, record)
}

func (s *ClosingScheduler) settleAuction(ctx context.Context, id string, record func(func(*SweepReport))) {
	outcome, err := s.settlement.Settle(ctx, id)
	switch {
	case errors.Is(err, domain.ErrStaleStatus):
		record(func(r *SweepReport) { r.Skipped++ })
	case err != nil:
		s.log.Error("Failed to settle auction", "auction_id", id, "error", err)
		record(func(r *SweepReport) { r.Failed++ })
	case outcome.Reason == domain.OutcomeWon:
		record(func(r *SweepReport) { r.Settled++ })
	default:
		record(func(r *SweepReport) { r.Unsold++ })
	}
}

// holdsLease acquires or refreshes leadership. Without an election, or when
// Redis is unreachable, every instance sweeps.
func (s *ClosingScheduler) holdsLease(ctx context.Context) bool {
	if s.leader == nil {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		ok  bool
		err error
	)
	if s.leadership {
		ok, err = s.leader.RefreshLeadership(ctx, s.cfg.InstanceID)
	}
	if !ok && err == nil {
		ok, err = s.leader.BecomeLeader(ctx, s.cfg.InstanceID)
	}
	if err != nil {
		s.log.Warn("Leader election unavailable, sweeping anyway", "error", err)
		return true
	}

	if ok != s.leadership {
		s.log.Info("Closing leadership changed", "instance_id", s.cfg.InstanceID, "leader", ok)
	}
	s.leadership = ok
	return ok
}
