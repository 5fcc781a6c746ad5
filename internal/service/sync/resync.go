package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/LaboInfra/fob-api/internal/repository"
)

// Resyncer periodically re-pushes every project's aggregates. It is the
// recovery path for the crash window between a committed ledger mutation
// and its external sync, and for transient control-plane outages.
type Resyncer struct {
	projects repository.ProjectRepository
	sync     *Synchronizer
	interval time.Duration
	logger   *slog.Logger
}

// NewResyncer constructs the background loop.
func NewResyncer(projects repository.ProjectRepository, sync *Synchronizer, interval time.Duration, logger *slog.Logger) *Resyncer {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Resyncer{projects: projects, sync: sync, interval: interval, logger: logger}
}

// Run loops until the context is cancelled. One failing project does not
// stop the sweep; rejections here are logged, not rolled back, because the
// ledger is the source of truth the sweep is converging toward.
func (r *Resyncer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("quota resync loop started", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("quota resync loop stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Resyncer) sweep(ctx context.Context) {
	projects, err := r.projects.ListProjects(ctx)
	if err != nil {
		r.logger.Error("resync sweep failed to list projects", "error", err)
		return
	}
	for _, project := range projects {
		if ctx.Err() != nil {
			return
		}
		if err := r.sync.SyncProject(ctx, &project); err != nil {
			r.logger.Warn("resync failed", "project", project.Name, "error", err)
		}
	}
}
