// Package scheduler runs the expiry sweeper on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultSweepTimeout = 2 * time.Minute

// Sweeper expires overdue claims.
type Sweeper interface {
	Sweep(ctx context.Context) (claims.SweepReport, error)
}

// Scheduler owns the cron runner for periodic sweeps.
type Scheduler struct {
	runner  *cron.Cron
	sweeper Sweeper
	logger  *zap.Logger
	timeout time.Duration
}

// New registers the sweep job on schedule (standard cron syntax or descriptors such as "@every 1m").
// Overlapping runs are skipped.
func New(sweeper Sweeper, schedule string, logger *zap.Logger) (*Scheduler, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	adapter := cronLogger{sugar: logger.Sugar()}
	scheduler := &Scheduler{
		runner:  cron.New(cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter))),
		sweeper: sweeper,
		logger:  logger,
		timeout: defaultSweepTimeout,
	}
	if _, err := scheduler.runner.AddFunc(schedule, scheduler.RunOnce); err != nil {
		return nil, fmt.Errorf("schedule sweep %q: %w", schedule, err)
	}
	return scheduler, nil
}

// Start begins running the job in the background.
func (scheduler *Scheduler) Start() {
	scheduler.runner.Start()
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (scheduler *Scheduler) Stop(ctx context.Context) {
	done := scheduler.runner.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		scheduler.logger.Warn("sweep still running at shutdown")
	}
}

// RunOnce performs a single sweep and logs its report.
func (scheduler *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), scheduler.timeout)
	defer cancel()
	report, err := scheduler.sweeper.Sweep(ctx)
	if err != nil {
		scheduler.logger.Error("scheduled sweep failed", zap.Error(err))
		return
	}
	for _, failure := range report.Failures {
		scheduler.logger.Warn("sweep could not expire claim",
			zap.String("kind", string(failure.Kind)),
			zap.String("claim_code", failure.ClaimCode),
			zap.String("error", failure.Error),
		)
	}
	if report.ExpiredCount == 0 && len(report.Failures) == 0 {
		scheduler.logger.Debug("scheduled sweep found nothing to expire")
		return
	}
	scheduler.logger.Info("scheduled sweep finished",
		zap.Int("expired_count", report.ExpiredCount),
		zap.Strings("expired_codes", report.ExpiredCodes),
		zap.Int("skipped", report.Skipped),
		zap.Int("failures", len(report.Failures)),
	)
}

type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (logger cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.sugar.Debugw(msg, keysAndValues...)
}

func (logger cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
