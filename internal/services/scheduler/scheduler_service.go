package scheduler

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// jobEntry tracks one registered cron job
type jobEntry struct {
	name     string
	schedule string
	entryID  cron.EntryID
}

// Service runs registered background jobs on cron schedules
type Service struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	mu      sync.Mutex
	jobs    map[string]*jobEntry
	started bool
}

// NewService creates a scheduler service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		cron:   cron.New(),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
	}
}

// RegisterJob adds a named job on the given cron schedule. Jobs registered
// after Start still run; duplicate names are rejected.
func (s *Service) RegisterJob(name, schedule string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q is already registered", name)
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		s.logger.Debug().Str("job", name).Msg("Running scheduled job")
		fn()
	})
	if err != nil {
		return fmt.Errorf("failed to register job %q with schedule %q: %w", name, schedule, err)
	}

	s.jobs[name] = &jobEntry{name: name, schedule: schedule, entryID: entryID}
	s.logger.Info().Str("job", name).Str("schedule", schedule).Msg("Scheduled job registered")
	return nil
}

// Start begins running registered jobs
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop halts the scheduler and waits for running jobs to finish
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.started = false
	s.logger.Info().Msg("Scheduler stopped")
}
