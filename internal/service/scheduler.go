package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler runs the periodic jobs on robfig/cron.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Entry
}

func NewScheduler(log *logrus.Entry) *Scheduler {
	log = component(log, "scheduler")
	cronLogger := cron.PrintfLogger(log)
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		log:  log,
	}
}

// Add registers job under name on schedule (a cron expression). Each run gets ctx bounded by timeout.
func (s *Scheduler) Add(ctx context.Context, name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := job(runCtx); err != nil {
			s.log.WithError(err).WithField("job", name).Error("job failed")
		}
	})
	if err != nil {
		s.log.WithError(err).WithField("job", name).Error("failed to schedule job")
		return err
	}
	s.log.WithFields(logrus.Fields{"job": name, "schedule": schedule}).Info("scheduled job")
	return nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
