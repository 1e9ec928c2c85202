// Package sweep runs the periodic expiry sweep on a cron schedule.
package sweep

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/app"
)

// DefaultCron runs the sweep every minute.
const DefaultCron = "* * * * *"

// retryDelay is the pause after a schedule evaluation failure.
const retryDelay = 30 * time.Second

// Sweeper expires every negotiation past its deadline.
type Sweeper interface {
	SweepExpired(context.Context) (int, error)
}

// Runner drives a Sweeper from a cron expression.
type Runner struct {
	svc    Sweeper
	cron   string
	logger app.Logger
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
}

// New validates cron and builds a Runner. An empty cron uses DefaultCron.
func New(svc Sweeper, cron string, logger app.Logger) (*Runner, error) {
	if svc == nil {
		return nil, fmt.Errorf("sweeper is required")
	}
	cron = strings.TrimSpace(cron)
	if cron == "" {
		cron = DefaultCron
	}
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid sweep cron expression %q", cron)
	}
	if logger == nil {
		logger = discardLogger{}
	}
	return &Runner{
		svc:    svc,
		cron:   cron,
		logger: logger,
		now:    time.Now,
		after:  time.After,
	}, nil
}

// Cron returns the effective schedule.
func (r *Runner) Cron() string {
	return r.cron
}

// Next returns the first scheduled tick strictly after now.
func (r *Runner) Next(now time.Time) (time.Time, error) {
	return gronx.NextTickAfter(r.cron, now.UTC(), false)
}

// RunOnce performs a single sweep.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	start := r.now()
	n, err := r.svc.SweepExpired(ctx)
	if err != nil {
		r.logger.Error("expiry sweep failed", "err", err, "expired", n)
		return n, err
	}
	r.logger.Debug("expiry sweep finished", "expired", n, "elapsed", r.now().Sub(start))
	return n, nil
}

// Run sweeps on every tick until ctx is cancelled. Runs never overlap.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("expiry sweep scheduled", "cron", r.cron)
	for {
		if ctx.Err() != nil {
			return nil
		}
		next, err := r.Next(r.now())
		wait := retryDelay
		if err != nil {
			r.logger.Error("sweep schedule failed", "cron", r.cron, "err", err)
		} else {
			wait = max(next.Sub(r.now()), 0)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("expiry sweep stopping")
			return nil
		case <-r.after(wait):
		}
		if err != nil {
			continue
		}
		_, _ = r.RunOnce(ctx)
	}
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
