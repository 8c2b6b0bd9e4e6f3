package store

import (
	"context"
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	. "github.com/roelfdiedericks/autoreply/internal/logging"
)

// Purger deletes records older than a cutoff.
type Purger interface {
	PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention periodically deletes message records older than the TTL.
type Retention struct {
	purger   Purger
	ttl      time.Duration
	schedule string
	cron     *cronlib.Cron
	now      func() time.Time
}

// NewRetention validates the schedule (standard 5-field or @descriptor).
// ttlDays <= 0 defaults to 30.
func NewRetention(p Purger, ttlDays int, schedule string) (*Retention, error) {
	if ttlDays <= 0 {
		ttlDays = 30
	}
	if schedule == "" {
		schedule = "@daily"
	}
	if _, err := cronlib.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return &Retention{
		purger:   p,
		ttl:      time.Duration(ttlDays) * 24 * time.Hour,
		schedule: schedule,
		now:      time.Now,
	}, nil
}

// RunOnce purges everything older than now - ttl.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.ttl)
	n, err := r.purger.PurgeMessagesBefore(ctx, cutoff)
	if err != nil {
		L_error("retention: purge failed", "error", err)
		return 0, err
	}
	L_debug("retention: purge complete", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
	return n, nil
}

// Start schedules the purge job.
func (r *Retention) Start(ctx context.Context) error {
	c := cronlib.New()
	if _, err := c.AddFunc(r.schedule, func() {
		_, _ = r.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule retention: %w", err)
	}
	c.Start()
	r.cron = c
	L_info("retention: scheduled", "schedule", r.schedule, "ttl", r.ttl)
	return nil
}

// Stop cancels the schedule and waits for a running purge to finish.
func (r *Retention) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil
}
