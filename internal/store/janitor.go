package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Janitor runs Purge on a schedule for stores that keep expired rows around.
type Janitor struct {
	cron    *cron.Cron
	purgers []Purger
	spec    string
	logger  *slog.Logger
}

// NewJanitor creates a Janitor firing on a cron spec such as "@every 5m".
func NewJanitor(spec string, logger *slog.Logger, purgers ...Purger) *Janitor {
	return &Janitor{
		cron:    cron.New(),
		purgers: purgers,
		spec:    spec,
		logger:  logger,
	}
}

// Start registers the purge job and starts the scheduler.
func (j *Janitor) Start(ctx context.Context) error {
	if _, err := j.cron.AddFunc(j.spec, func() { j.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc(%q): %w", j.spec, err)
	}
	j.cron.Start()
	j.logger.Info("store janitor started", "spec", j.spec, "stores", len(j.purgers))
	return nil
}

// Stop halts the scheduler and waits for a running purge to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce purges every store immediately.
func (j *Janitor) RunOnce(ctx context.Context) {
	for _, p := range j.purgers {
		removed, err := p.Purge(ctx)
		if err != nil {
			j.logger.Error("store purge failed", "error", err)
			continue
		}
		if removed > 0 {
			j.logger.Debug("store purge", "removed", removed)
		}
	}
}
