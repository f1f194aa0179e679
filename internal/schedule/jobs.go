package schedule

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/config"
	"github.com/dshills/coderag-mcp/internal/indexer"
)

// Syncer syncs every ready project
type Syncer interface {
	SyncAll(ctx context.Context) ([]*indexer.Summary, error)
}

// Compactor compacts every project whose vector index has tombstones
type Compactor interface {
	CompactAll(ctx context.Context) error
}

// SyncJob periodically brings every project up to date
type SyncJob struct {
	Syncer Syncer
	Logger *zap.Logger
}

func (j *SyncJob) Name() string { return "sync" }

func (j *SyncJob) Run(ctx context.Context) error {
	sums, err := j.Syncer.SyncAll(ctx)
	if j.Logger != nil {
		for _, s := range sums {
			j.Logger.Info("scheduled sync",
				zap.String("project", s.Project),
				zap.Int("indexed", s.FilesIndexed),
				zap.Int("deleted", s.FilesDeleted),
				zap.String("state", string(s.State)))
		}
	}
	return err
}

// CompactJob periodically rebuilds vector indexes without tombstones
type CompactJob struct {
	Compactor Compactor
}

func (j *CompactJob) Name() string { return "compact" }

func (j *CompactJob) Run(ctx context.Context) error {
	return j.Compactor.CompactAll(ctx)
}

// Coordinator is what the maintenance jobs need from the indexer
type Coordinator interface {
	Syncer
	Compactor
}

// Setup registers the sync and compact jobs from configuration. Empty
// expressions leave a job out.
func Setup(s Scheduler, coord Coordinator, cfg config.ScheduleConfig, logger *zap.Logger) error {
	var errs []error
	if err := s.AddJob(&SyncJob{Syncer: coord, Logger: logger}, cfg.SyncCron); err != nil {
		errs = append(errs, fmt.Errorf("sync_cron: %w", err))
	}
	if err := s.AddJob(&CompactJob{Compactor: coord}, cfg.CompactCron); err != nil {
		errs = append(errs, fmt.Errorf("compact_cron: %w", err))
	}
	return errors.Join(errs...)
}
