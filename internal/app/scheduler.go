package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/config"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/service"
)

// JobRunner executes one named deadline job.
type JobRunner interface {
	Run(ctx context.Context, job string) (*service.BatchReport, error)
}

// Scheduler triggers the deadline jobs on their cron cadence.
type Scheduler struct {
	cron   *cron.Cron
	runner JobRunner
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// JobSchedules maps every job name to its cron spec.
func JobSchedules(cfg *config.Config) map[string]string {
	return map[string]string{
		service.JobPaymentReminders: cfg.CronReminders,
		service.JobPaymentDeadlines: cfg.CronDeadlines,
		service.JobHoldExpiry:       cfg.CronHoldExpiry,
		service.JobStaleLocks:       cfg.CronStaleLocks,
		service.JobCompleteSessions: cfg.CronCompletion,
	}
}

func NewScheduler(runner JobRunner, schedules map[string]string, logger *zap.Logger) (*Scheduler, error) {
	cl := cronLogger{logger.Sugar()}
	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		runner: runner,
		logger: logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	jobs := make([]string, 0, len(schedules))
	for job := range schedules {
		jobs = append(jobs, job)
	}
	sort.Strings(jobs)

	for _, job := range jobs {
		spec := schedules[job]
		if spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(spec, func() { s.runJob(job) }); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", job, spec, err)
		}
		logger.Info("Job scheduled", zap.String("job", job), zap.String("spec", spec))
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.Info("Starting deadline scheduler", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("Stopping deadline scheduler")
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("Deadline jobs still running at shutdown")
	}
}

func (s *Scheduler) runJob(job string) {
	// Errors are logged and counted by the runner; the next tick retries.
	_, _ = s.runner.Run(s.ctx, job)
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
