package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner runs a named function periodically with at most one active
// invocation per name. The in-process default below covers a single
// deployment instance; clustered deployments inject an implementation
// backed by a leader lease.
type Runner interface {
	RunPeriodically(name string, interval time.Duration, fn func(ctx context.Context)) error
	Stop()
}

// CronRunner is the in-process Runner. Overlapping runs of the same job
// are skipped, not queued.
type CronRunner struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

var _ Runner = (*CronRunner)(nil)

func NewCronRunner(logger *slog.Logger) *CronRunner {
	r := &CronRunner{
		cron:    cron.New(),
		logger:  logger,
		running: make(map[string]bool),
	}
	r.cron.Start()
	return r
}

func (r *CronRunner) RunPeriodically(name string, interval time.Duration, fn func(ctx context.Context)) error {
	r.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		if !r.tryAcquire(name) {
			r.logger.Warn("periodic job still running, skipping tick",
				slog.String("job", name))
			return
		}
		defer r.release(name)

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()

		started := time.Now()
		fn(ctx)
		r.logger.Debug("periodic job finished",
			slog.String("job", name),
			slog.Duration("took", time.Since(started)))
	}))
	return nil
}

func (r *CronRunner) Stop() {
	<-r.cron.Stop().Done()
}

func (r *CronRunner) tryAcquire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[name] {
		return false
	}
	r.running[name] = true
	return true
}

func (r *CronRunner) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, name)
}
