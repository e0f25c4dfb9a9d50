package artifact

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/armorclaw/crashreport/pkg/logger"
	"github.com/armorclaw/crashreport/pkg/metrics"
)

// Janitor periodically removes artifacts whose response phase never ran
type Janitor struct {
	sweeper  Sweeper
	maxAge   time.Duration
	schedule string
	log      *logger.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewJanitor creates a janitor sweeping artifacts older than maxAge on the
// given cron schedule (standard five-field spec or descriptors like "@every 1h").
func NewJanitor(sweeper Sweeper, maxAge time.Duration, schedule string, log *logger.Logger) *Janitor {
	if log == nil {
		log = logger.Global().WithComponent("janitor")
	}
	return &Janitor{
		sweeper:  sweeper,
		maxAge:   maxAge,
		schedule: schedule,
		log:      log,
		now:      time.Now,
	}
}

// RunOnce sweeps immediately and returns the number of removed artifacts
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.maxAge)
	n, err := j.sweeper.Sweep(ctx, cutoff)
	if err != nil {
		j.log.ErrorEvent(ctx, "artifact sweep failed", err)
		return n, err
	}
	if n > 0 {
		metrics.RecordSwept(n)
		j.log.Info("swept stale artifacts", "removed", n, "cutoff", cutoff)
	}
	return n, nil
}

// Start schedules the sweep. It returns an error if the schedule is invalid.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron != nil {
		return fmt.Errorf("janitor already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(j.schedule, func() {
		j.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", j.schedule, err)
	}
	c.Start()
	j.cron = c

	j.log.Info("artifact janitor started", "schedule", j.schedule, "max_age", j.maxAge)
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}
