package store

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"megaphone/pkg/logx"
)

// Janitor periodically flushes deferred writes and prunes namespaces
// past the retention window. Mostly useful in auto mode, where Set
// defers persistence until somebody flushes.
type Janitor struct {
	c     *cron.Cron
	store *Store
	log   logx.Logger

	// active supplies the live identities at run time; pruning must see
	// the collection as it is then, not as it was when the janitor
	// started.
	active func() []string
}

// NewJanitor schedules maintenance with a cron spec ("@hourly",
// "*/30 * * * *", ...). The job does not start until Start is called.
func NewJanitor(s *Store, schedule string, active func() []string, log logx.Logger) (*Janitor, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	j := &Janitor{
		c:      cron.New(),
		store:  s,
		log:    log,
		active: active,
	}
	if _, err := j.c.AddFunc(schedule, j.run); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Janitor) Start() { j.c.Start() }

// Stop halts scheduling and waits for a running job to finish.
func (j *Janitor) Stop() {
	ctx := j.c.Stop()
	<-ctx.Done()
}

func (j *Janitor) run() {
	start := time.Now()
	if err := j.store.Flush(); err != nil {
		j.log.Warn("janitor flush failed", logx.Err(err))
	}

	var live []string
	if j.active != nil {
		live = j.active()
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	removed, err := j.store.Prune(ctx, j.store.Retention(), live)
	if err != nil {
		j.log.Warn("janitor prune failed", logx.Err(err))
		return
	}
	j.log.Debug("janitor pass complete",
		logx.Int("pruned", removed), logx.Duration("dur", time.Since(start)))
}
