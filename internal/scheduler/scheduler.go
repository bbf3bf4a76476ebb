// Package scheduler holds the named daily-recurring background jobs.
//
// All trigger times are interpreted in UTC. The registry is process-local:
// running several instances of the server would fire each job once per
// instance, so a deployment runs a single scheduler.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job ids used by the server.
const (
	CleanupJob    = "cleanup_job"
	BackupJob     = "backup_job"
	AuditPurgeJob = "audit_purge_job"
)

type entry struct {
	id       cron.EntryID
	callback func() error
}

// A Scheduler fires registered jobs once a day at their configured time.
type Scheduler struct {
	cron *cron.Cron
	log  logrus.FieldLogger

	mu      sync.Mutex
	entries map[string]*entry
}

// New returns a stopped scheduler. Call Start once jobs are registered.
func New(log logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Shutdown stops the scheduling loop and waits for a running job to finish.
func (s *Scheduler) Shutdown() {
	<-s.cron.Stop().Done()
}

// RegisterOrReplace installs a job firing every day at hour:minute UTC.
// An existing job with the same id is replaced atomically: the previous
// trigger is removed before the new one is installed, so the job never
// double-fires.
func (s *Scheduler) RegisterOrReplace(jobID string, hour, minute int, callback func() error) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("scheduler: invalid time %02d:%02d for job %s", hour, minute, jobID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[jobID]; ok {
		s.cron.Remove(prev.id)
	}

	id, err := s.cron.AddFunc(fmt.Sprintf("%d %d * * *", minute, hour), s.guard(jobID, callback))
	if err != nil {
		delete(s.entries, jobID)
		return fmt.Errorf("scheduler: could not register job %s: %w", jobID, err)
	}

	s.entries[jobID] = &entry{id: id, callback: callback}
	return nil
}

// NextFireTime returns the next scheduled run of the job, or a zero time
// when the job is not registered. Absence is not an error.
func (s *Scheduler) NextFireTime(jobID string) time.Time {
	s.mu.Lock()
	e, ok := s.entries[jobID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(e.id).Next
}

// RunNow invokes the job's callback synchronously, independent of its
// schedule. The scheduled trigger is left untouched.
func (s *Scheduler) RunNow(jobID string) error {
	s.mu.Lock()
	e, ok := s.entries[jobID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %s", jobID)
	}
	return e.callback()
}

// guard keeps a failing or panicking callback from taking the scheduling
// loop down with it.
func (s *Scheduler) guard(jobID string, callback func() error) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.WithField("job", jobID).Errorf("job panicked: %v", r)
			}
		}()

		if err := callback(); err != nil {
			s.log.WithField("job", jobID).WithError(err).Error("job failed")
		}
	}
}

// NextDaily computes the next occurrence of hour:minute UTC after now.
// It is the display fallback when a job is not registered.
func NextDaily(now time.Time, hour, minute int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
