// Package cron runs the periodic bid sweeper on a cron schedule.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Sweeper is the unit of work the scheduler drives on each firing. The
// lifecycle service's stale-bid expiry satisfies it.
type Sweeper interface {
	ExpireStaleBids(ctx context.Context, ttl time.Duration) (int, error)
}

// Config holds the dependencies for the sweep scheduler.
type Config struct {
	Sweeper  Sweeper
	Logger   *slog.Logger
	Schedule string        // 5-field cron expression; defaults to hourly
	BidTTL   time.Duration // bids older than this are expired; 0 disables sweeping
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler fires the bid sweeper whenever its cron schedule comes due.
type Scheduler struct {
	sweeper  Sweeper
	logger   *slog.Logger
	schedule cronlib.Schedule
	bidTTL   time.Duration
	interval time.Duration

	mu      sync.Mutex
	nextRun time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config.
func NewScheduler(cfg Config) (*Scheduler, error) {
	expr := cfg.Schedule
	if expr == "" {
		expr = "0 * * * *"
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sweeper:  cfg.Sweeper,
		logger:   logger,
		schedule: schedule,
		bidTTL:   cfg.BidTTL,
		interval: interval,
		nextRun:  schedule.Next(time.Now()),
	}, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	if s.bidTTL <= 0 {
		s.logger.Info("bid sweeper disabled, ttl is zero")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("bid sweeper started", "interval", s.interval, "bid_ttl", s.bidTTL)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("bid sweeper stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Sweep immediately on startup, then whenever the schedule comes due.
	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

// tick fires the sweeper if the schedule has come due and advances nextRun.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := !now.Before(s.nextRun)
	if due {
		s.nextRun = s.schedule.Next(now)
	}
	s.mu.Unlock()
	if !due {
		return
	}
	s.sweep(ctx)
}

func (s *Scheduler) sweep(ctx context.Context) {
	expired, err := s.sweeper.ExpireStaleBids(ctx, s.bidTTL)
	if err != nil {
		s.logger.Error("bid sweep failed", "error", err)
		return
	}
	if expired > 0 {
		s.logger.Info("bid sweep complete", "expired", expired)
	}
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
