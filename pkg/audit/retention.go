package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const pruneTimeout = 5 * time.Minute

// Pruner deletes audit events older than a cutoff
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention periodically prunes audit events older than the retention window
type Retention struct {
	pruner    Pruner
	retention time.Duration
	schedule  string
	log       logrus.FieldLogger
	now       func() time.Time
	cron      *cron.Cron
}

// NewRetention creates a retention job. schedule is a standard five field cron expression.
func NewRetention(pruner Pruner, retention time.Duration, schedule string, log logrus.FieldLogger) *Retention {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Retention{
		pruner:    pruner,
		retention: retention,
		schedule:  schedule,
		log:       log,
		now:       time.Now,
		cron:      cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start schedules the prune job
func (r *Retention) Start() error {
	if r.retention <= 0 {
		return fmt.Errorf("audit retention must be positive, got %s", r.retention)
	}
	if _, err := r.cron.AddFunc(r.schedule, r.runScheduled); err != nil {
		return fmt.Errorf("invalid audit prune schedule %q: %w", r.schedule, err)
	}
	r.cron.Start()
	r.log.WithFields(logrus.Fields{
		"schedule":  r.schedule,
		"retention": r.retention.String(),
	}).Info("Audit retention scheduled")
	return nil
}

// Stop stops scheduling and waits for a running prune to finish or ctx to expire
func (r *Retention) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce prunes everything older than the retention window
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.retention)
	n, err := r.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	r.log.WithFields(logrus.Fields{
		"cutoff": cutoff.Format(time.RFC3339),
		"pruned": n,
	}).Info("Pruned audit events")
	return n, nil
}

func (r *Retention) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()
	if _, err := r.RunOnce(ctx); err != nil {
		r.log.WithError(err).Error("Audit prune failed")
	}
}
