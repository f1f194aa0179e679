// Package schedule runs periodic maintenance jobs on cron expressions:
// syncing every ready project and compacting vector indexes.
package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/logging"
)

// Job is a named unit of periodic work
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs jobs on cron expressions
type Scheduler interface {
	AddJob(job Job, spec string) error
	Start(ctx context.Context)
	Stop()
}

// CronScheduler is a Scheduler backed by robfig/cron with standard
// five-field expressions. A job still running when its next tick comes is
// skipped for that tick.
type CronScheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  *zap.Logger
	ctx     atomic.Pointer[context.Context]
}

// NewCronScheduler creates a stopped scheduler
func NewCronScheduler(logger *zap.Logger) *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
		logger:  logging.OrNop(logger),
	}
}

// AddJob registers job. An empty spec disables it.
func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	logger := c.logger.With(zap.String("job", name), zap.String("spec", spec))
	if spec == "" {
		logger.Debug("job disabled")
		return nil
	}
	entryID, err := c.cron.AddFunc(spec, c.wrap(job, spec))
	if err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return err
	}
	c.entries[name] = entryID
	logger.Info("job scheduled")
	return nil
}

// Jobs returns the number of scheduled jobs
func (c *CronScheduler) Jobs() int {
	return len(c.entries)
}

// Start runs the scheduler in the background. Jobs receive ctx.
func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx.Store(&ctx)
	c.cron.Start()
}

// Stop stops the scheduler and waits for running jobs
func (c *CronScheduler) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *CronScheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		logger := c.logger.With(zap.String("job", job.Name()), zap.String("spec", spec))
		if !running.CompareAndSwap(false, true) {
			logger.Info("job skipped: still running")
			return
		}
		defer running.Store(false)

		ctx := context.Background()
		if p := c.ctx.Load(); p != nil {
			ctx = *p
		}
		start := time.Now()
		logger.Info("job started")
		err := job.Run(ctx)
		elapsed := time.Since(start)
		if err != nil {
			logger.Error("job finished", zap.Error(err), zap.Duration("duration", elapsed))
			return
		}
		logger.Info("job finished", zap.Duration("duration", elapsed))
	}
}
