/*
scheduler.go - Scheduled reputation audit

PURPOSE:
  Runs the reputation audit on a cron schedule and keeps the last report
  for the admin endpoint. The audit is read-only, so overlapping or missed
  runs are harmless; overlapping runs are still skipped.

USAGE:
  s, err := jobs.NewScheduler(auditor, "0 3 * * *")
  s.Start(ctx)
  // ... later
  s.Stop()

SEE ALSO:
  - reputation/audit.go: the audit itself
  - cmd/server/main.go: wiring and the one-shot "audit" command
*/
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/warp/qa-engine/reputation"
)

// Auditor runs one audit pass.
type Auditor interface {
	Run(ctx context.Context) (reputation.Report, error)
}

// Run is the outcome of one scheduled or manual audit.
type Run struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Report     reputation.Report
	Err        error
}

// Scheduler owns the cron instance for background jobs.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	auditor Auditor
	entryID cron.EntryID

	mu      sync.Mutex
	running bool
	last    *Run
}

// NewScheduler validates spec and prepares a UTC cron instance.
func NewScheduler(auditor Auditor, spec string) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("audit schedule %q: %w", spec, err)
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		spec:    spec,
		auditor: auditor,
	}, nil
}

// Start registers the audit job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.spec, func() {
		log.Info("[CRON] Reputation audit")
		if _, err := s.RunNow(ctx); err != nil {
			log.WithError(err).Error("[CRON] Reputation audit failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule audit: %w", err)
	}
	s.entryID = id

	s.cron.Start()
	log.WithField("schedule", s.spec).Info("Scheduler started")
	return nil
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Scheduler stopped")
}

// ErrAuditRunning is returned by RunNow while another audit is in progress.
var ErrAuditRunning = errors.New("reputation audit already running")

// RunNow runs the audit immediately and records the outcome.
func (s *Scheduler) RunNow(ctx context.Context) (reputation.Report, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return reputation.Report{}, ErrAuditRunning
	}
	s.running = true
	s.mu.Unlock()

	run := Run{StartedAt: time.Now().UTC()}
	run.Report, run.Err = s.auditor.Run(ctx)
	run.FinishedAt = time.Now().UTC()

	s.mu.Lock()
	s.running = false
	s.last = &run
	s.mu.Unlock()

	return run.Report, run.Err
}

// LastRun returns the most recent audit, or nil before the first one.
func (s *Scheduler) LastRun() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// NextRun returns when the audit fires next. Zero before Start.
func (s *Scheduler) NextRun() time.Time {
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}
