// Package scheduler drives the periodic jobs: ingestion, contest state
// advancement, bot ticks, and snapshots. Every run is recorded in the
// job log with a status and counters.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sportfolio/internal/gameday"
	"sportfolio/internal/store"
)

// JobFunc does one unit of scheduled work. A nonzero errCount with a nil
// error marks the run degraded: bad records skipped, the rest landed.
type JobFunc func(ctx context.Context) (processed, errCount int64, err error)

// Job is one scheduled task. Exactly one of Every or DailyAt is set.
type Job struct {
	Name    string
	Every   time.Duration
	DailyAt string // "HH:MM" Eastern Time
	Timeout time.Duration
	Run     JobFunc
}

// Scheduler runs jobs concurrently. Each job's runs are sequential; a run
// still in flight skips the next trigger.
type Scheduler struct {
	store *store.Store
	log   *logrus.Logger
	jobs  []Job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(st *store.Store, log *logrus.Logger) *Scheduler {
	return &Scheduler{store: st, log: log}
}

func (s *Scheduler) Add(job Job) {
	if job.Timeout <= 0 {
		job.Timeout = 2 * time.Minute
	}
	s.jobs = append(s.jobs, job)
}

// Start launches every job loop. Stop with Stop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, job := range s.jobs {
		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if job.DailyAt != "" {
				s.dailyLoop(ctx, job)
			} else {
				s.intervalLoop(ctx, job)
			}
		}()
	}
	s.log.WithField("jobs", len(s.jobs)).Info("scheduler started")
}

// Stop cancels all loops and waits for in-flight runs.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) intervalLoop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) dailyLoop(ctx context.Context, job Job) {
	for {
		wait := untilNextDaily(time.Now(), job.DailyAt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			s.runOnce(ctx, job)
		}
	}
}

// untilNextDaily computes the wait until the next HH:MM in Eastern Time.
func untilNextDaily(now time.Time, at string) time.Duration {
	var hour, min int
	fmt.Sscanf(at, "%d:%d", &hour, &min)

	et := now.In(gameday.Location())
	next := time.Date(et.Year(), et.Month(), et.Day(), hour, min, 0, 0, gameday.Location())
	if !next.After(et) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(et)
}

// runOnce executes a job under its timeout with the run recorded in the
// job log. Panics are contained to the single run.
func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	logID, err := s.store.StartJobLog(job.Name)
	if err != nil {
		s.log.WithError(err).WithField("job", job.Name).Error("job log open failed")
		return
	}

	jctx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	var (
		processed, errCount int64
		runErr              error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		processed, errCount, runErr = job.Run(jctx)
	}()

	status := store.JobSuccess
	message := ""
	switch {
	case runErr != nil:
		status = store.JobFailed
		message = runErr.Error()
		s.log.WithError(runErr).WithField("job", job.Name).Error("job failed")
	case errCount > 0:
		status = store.JobDegraded
		s.log.WithFields(logrus.Fields{
			"job": job.Name, "errors": errCount, "processed": processed,
		}).Warn("job degraded")
	default:
		s.log.WithFields(logrus.Fields{
			"job": job.Name, "processed": processed,
		}).Debug("job done")
	}

	if err := s.store.FinishJobLog(logID, status, processed, errCount, message); err != nil {
		s.log.WithError(err).WithField("job", job.Name).Error("job log close failed")
	}
}

// TriggerNow runs a registered job immediately, outside its cadence. Used
// by the admin surface.
func (s *Scheduler) TriggerNow(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			s.runOnce(ctx, job)
			return nil
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

// JobNames lists registered jobs for the admin surface.
func (s *Scheduler) JobNames() []string {
	names := make([]string, 0, len(s.jobs))
	for _, job := range s.jobs {
		names = append(names, job.Name)
	}
	return names
}
