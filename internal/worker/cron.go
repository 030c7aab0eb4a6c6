package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const jobTimeout = 4 * time.Minute

// CacheWarmer reloads answer keys for exams that are still open.
type CacheWarmer interface {
	PrewarmAllCaches(ctx context.Context) error
}

// DraftPurger deletes persisted drafts of submitted registrations.
type DraftPurger interface {
	PurgeSubmitted(ctx context.Context) (int64, error)
}

// Schedule holds the cron specs of the maintenance jobs.
type Schedule struct {
	CacheRefresh string
	DraftPurge   string
}

// Maintenance runs periodic jobs that keep the caches and draft store tidy.
type Maintenance struct {
	cron   *cron.Cron
	warmer CacheWarmer
	purger DraftPurger
	log    zerolog.Logger
}

// NewMaintenance registers the maintenance jobs. Overlapping runs of the
// same job are skipped.
func NewMaintenance(sched Schedule, warmer CacheWarmer, purger DraftPurger, log zerolog.Logger) (*Maintenance, error) {
	m := &Maintenance{
		warmer: warmer,
		purger: purger,
		log:    log.With().Str("component", "maintenance").Logger(),
	}
	m.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger{m.log}),
		cron.SkipIfStillRunning(cronLogger{m.log}),
	))

	if _, err := m.cron.AddFunc(sched.CacheRefresh, m.RefreshCaches); err != nil {
		return nil, fmt.Errorf("schedule cache refresh %q: %w", sched.CacheRefresh, err)
	}
	if _, err := m.cron.AddFunc(sched.DraftPurge, m.PurgeDrafts); err != nil {
		return nil, fmt.Errorf("schedule draft purge %q: %w", sched.DraftPurge, err)
	}

	m.log.Info().
		Str("cache_refresh", sched.CacheRefresh).
		Str("draft_purge", sched.DraftPurge).
		Msg("Maintenance jobs scheduled")
	return m, nil
}

// Start runs the scheduler in its own goroutine.
func (m *Maintenance) Start() { m.cron.Start() }

// Stop halts scheduling and waits for running jobs.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Maintenance) RefreshCaches() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := m.warmer.PrewarmAllCaches(ctx); err != nil {
		m.log.Error().Err(err).Msg("Cache refresh failed")
	}
}

func (m *Maintenance) PurgeDrafts() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	n, err := m.purger.PurgeSubmitted(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("Draft purge failed")
		return
	}
	if n > 0 {
		m.log.Info().Int64("count", n).Msg("Purged drafts of submitted registrations")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
