// Package scheduler runs periodic maintenance jobs such as inactivity sweeps.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/choraleia/helpdesk/pkg/utils"
	"github.com/robfig/cron/v3"
)

// InactivitySweepJob is the job name of the inactivity sweep.
const InactivitySweepJob = "inactivity-sweep"

// OrganizationLister finds the organizations a sweep has to visit.
type OrganizationLister interface {
	ListOrganizationsWithOpenConversations(ctx context.Context) ([]string, error)
}

// InactivityChecker runs one sweep for one organization.
type InactivityChecker interface {
	CheckInactiveConversations(ctx context.Context, orgID string)
}

// Scheduler manages named cron jobs.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string]cron.EntryID
	logger *slog.Logger
}

// New creates a scheduler. Jobs recover from panics and a run is skipped
// while the previous run of the same job is still going.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = utils.GetLogger()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		jobs:   make(map[string]cron.EntryID),
		logger: logger,
	}
}

// Start begins the cron scheduler. Blocks until context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("Scheduler started", "jobs", s.JobCount())

	<-ctx.Done()
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn("Timed out waiting for running jobs")
	}
	s.logger.Info("Scheduler stopped")
	return ctx.Err()
}

// AddJob registers fn under name, replacing a job with the same name.
// The schedule is a 5 field cron expression or a descriptor like @every 1m.
func (s *Scheduler) AddJob(name, schedule string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule, func() {
		s.logger.Debug("Cron fired", "job", name)
		fn()
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old)
	}
	s.jobs[name] = id
	s.logger.Info("Job registered", "job", name, "schedule", schedule)
	return nil
}

// RemoveJob removes a job by name.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
	}
}

// JobCount returns the number of registered jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// NextRun returns when the named job fires next.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// RegisterInactivitySweep runs SweepInactivity every interval.
func (s *Scheduler) RegisterInactivitySweep(ctx context.Context, interval time.Duration, orgs OrganizationLister, checker InactivityChecker) error {
	if interval < time.Second {
		return fmt.Errorf("scheduler: sweep interval %s is below one second", interval)
	}
	return s.AddJob(InactivitySweepJob, "@every "+interval.String(), func() {
		SweepInactivity(ctx, orgs, checker, s.logger)
	})
}

// SweepInactivity checks every organization that has open conversations.
func SweepInactivity(ctx context.Context, orgs OrganizationLister, checker InactivityChecker, logger *slog.Logger) int {
	ids, err := orgs.ListOrganizationsWithOpenConversations(ctx)
	if err != nil {
		logger.Error("Failed to list organizations for inactivity sweep", "error", err)
		return 0
	}
	for _, orgID := range ids {
		if ctx.Err() != nil {
			return 0
		}
		checker.CheckInactiveConversations(ctx, orgID)
	}
	return len(ids)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("Cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("Cron: "+msg, append(keysAndValues, "error", err)...)
}
