/*
scheduler.go - Automated payout batch scheduler

PURPOSE:
  Runs payout batches at the two daily windows (10:00 and 16:00 local)
  without an operator having to hit the admin endpoint.

DESIGN:
  - Runs a background goroutine with a short check interval
  - Computes the next window with payout.NextWindow and fires RunBatch
    once the wall clock passes it
  - A missed window (process was down) fires on the next check; RunBatch
    is idempotent so double-firing is safe

CONFIGURATION:
  - CheckInterval: How often to check the clock (default: 1 minute)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewPayoutScheduler(payouts, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunPayoutBatch endpoint (manual trigger)
  - payout/payout.go: RunBatch and NextWindow
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/credit-engine/payout"
)

// PayoutScheduler fires payout batches at the daily windows.
type PayoutScheduler struct {
	Payouts       *payout.Service
	CheckInterval time.Duration
	Enabled       bool

	logger  *zap.Logger
	ticker  *time.Ticker
	stop    chan bool
	wg      sync.WaitGroup
	mu      sync.Mutex
	nextRun time.Time
}

// NewPayoutScheduler creates a new scheduler.
func NewPayoutScheduler(payouts *payout.Service, logger *zap.Logger) *PayoutScheduler {
	return &PayoutScheduler{
		Payouts:       payouts,
		CheckInterval: 1 * time.Minute,
		Enabled:       true,
		logger:        logger,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ps *PayoutScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled {
		ps.logger.Info("payout scheduler disabled, not starting")
		return
	}

	ps.nextRun = payout.NextWindow(time.Now())
	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.wg.Add(1)

	go ps.run()

	ps.logger.Info("payout scheduler started",
		zap.Duration("check_interval", ps.CheckInterval),
		zap.Time("next_window", ps.nextRun))
}

// Stop stops the scheduler.
func (ps *PayoutScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker != nil {
		ps.ticker.Stop()
		close(ps.stop)
		ps.wg.Wait()
		ps.logger.Info("payout scheduler stopped")
	}
}

func (ps *PayoutScheduler) run() {
	defer ps.wg.Done()

	for {
		select {
		case <-ps.ticker.C:
			ps.checkAndRun(time.Now())
		case <-ps.stop:
			return
		}
	}
}

func (ps *PayoutScheduler) checkAndRun(now time.Time) {
	ps.mu.Lock()
	due := !now.Before(ps.nextRun)
	ps.mu.Unlock()

	if !due {
		return
	}

	summary, err := ps.Payouts.RunBatch(context.Background())
	if err != nil {
		// Leave nextRun in the past so the next tick retries.
		ps.logger.Error("scheduled payout batch failed", zap.Error(err))
		return
	}

	ps.mu.Lock()
	ps.nextRun = payout.NextWindow(now)
	ps.mu.Unlock()

	ps.logger.Info("scheduled payout batch completed",
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int64("total_amount", summary.TotalAmount),
		zap.Time("next_window", payout.NextWindow(now)))
}

// RunNow triggers an immediate batch (for testing/admin).
func (ps *PayoutScheduler) RunNow() (*payout.BatchSummary, error) {
	return ps.Payouts.RunBatch(context.Background())
}

// NextRunTime returns when the next window fires.
func (ps *PayoutScheduler) NextRunTime() time.Time {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.nextRun
}
