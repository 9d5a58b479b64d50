package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/TobiSchelling/topicheat/internal/database"
)

// DailyJob processes one calendar day, given as YYYY-MM-DD.
type DailyJob func(ctx context.Context, date string) error

// JobInfo contains information about a scheduled job.
type JobInfo struct {
	Name    string
	Spec    string
	NextRun time.Time
	LastRun time.Time
}

// Scheduler triggers daily jobs on cron specs in a fixed timezone.
type Scheduler struct {
	cron     *cron.Cron
	jobs     map[string]cron.EntryID
	specs    map[string]string
	timezone *time.Location
	timeout  time.Duration
	logger   *zerolog.Logger

	// now is the clock used to pick the processed day; tests replace it.
	now func() time.Time
}

// New creates a scheduler. timeout bounds one job run; zero means no bound.
func New(timezone string, timeout time.Duration, logger *zerolog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid timezone %s", timezone)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		jobs:     make(map[string]cron.EntryID),
		specs:    make(map[string]string),
		timezone: loc,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Location returns the scheduler timezone.
func (s *Scheduler) Location() *time.Location {
	return s.timezone
}

// AddDaily schedules job for the day before each trigger, e.g. "30 2 * * *"
// processes yesterday's chat at 02:30.
func (s *Scheduler) AddDaily(name, spec string, job DailyJob) error {
	id, err := s.cron.AddFunc(spec, func() {
		if err := s.RunNow(name, job); err != nil {
			s.logger.Error().Err(err).Str("job", name).Msg("scheduled job failed")
		}
	})
	if err != nil {
		return eris.Wrapf(err, "failed to schedule job %s", name)
	}
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old)
	}
	s.jobs[name] = id
	s.specs[name] = spec
	s.logger.Info().Str("job", name).Str("schedule", spec).Str("timezone", s.timezone.String()).Msg("added job")
	return nil
}

// RunNow runs job immediately for yesterday in the scheduler timezone.
func (s *Scheduler) RunNow(name string, job DailyJob) error {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	date := database.Yesterday(s.now(), s.timezone)
	s.logger.Info().Str("job", name).Str("date", date).Msg("starting job")
	start := time.Now()
	if err := job(ctx, date); err != nil {
		return eris.Wrapf(err, "job %s for %s", name, date)
	}
	s.logger.Info().Str("job", name).Str("date", date).Dur("took", time.Since(start)).Msg("job completed")
	return nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info().Msg("stopping scheduler")
	return s.cron.Stop()
}

// ListJobs returns info about scheduled jobs.
func (s *Scheduler) ListJobs() []JobInfo {
	infos := make([]JobInfo, 0, len(s.jobs))
	for name, id := range s.jobs {
		entry := s.cron.Entry(id)
		infos = append(infos, JobInfo{
			Name:    name,
			Spec:    s.specs[name],
			NextRun: entry.Next,
			LastRun: entry.Prev,
		})
	}
	return infos
}
