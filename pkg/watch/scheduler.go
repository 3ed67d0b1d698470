package watch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Outcome is what a job run produced
type Outcome struct {
	Items  int64
	Detail string
}

// Job is a periodic task
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (Outcome, error)
}

// Scheduler runs jobs on their intervals. Last run times are persisted so a restart does not
// rerun jobs that are not due yet.
type Scheduler struct {
	jobs         []Job
	log          *logrus.Entry
	stateManager *StateManager

	running atomic.Bool // A batch of due jobs is executing

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new watch scheduler keeping its state under stateDir
func NewScheduler(jobs []Job, stateDir string, log *logrus.Entry) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		jobs:         jobs,
		log:          log.WithField("component", "watch"),
		stateManager: NewStateManager(stateDir),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// State returns the scheduler's state manager
func (s *Scheduler) State() *StateManager { return s.stateManager }

// Run starts the watch scheduler and blocks until stopped
func (s *Scheduler) Run() error {
	if len(s.jobs) == 0 {
		return fmt.Errorf("no jobs to schedule")
	}
	// Load existing state
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.Infof("Starting watch mode with %d jobs", len(s.jobs))
	s.logSchedule()

	// Run jobs that are already due
	s.runDueJobs()

	ticker := time.NewTicker(s.calculateTickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.runDueJobs()
		}
	}
}

// Stop stops the watch scheduler
func (s *Scheduler) Stop() {
	s.log.Info("Stopping watch scheduler...")
	s.cancel()
}

// runDueJobs starts the due jobs in the background unless the previous batch is still running
func (s *Scheduler) runDueJobs() {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("Previous job batch still running, skipping tick")
		return
	}
	due := s.getDueJobs()
	if len(due) == 0 {
		s.running.Store(false)
		s.logNextRun()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.RunJobs(s.ctx, due)
		s.logNextRun()
	}()
}

// RunDue runs the due jobs synchronously and returns their names
func (s *Scheduler) RunDue(ctx context.Context) []string {
	due := s.getDueJobs()
	s.RunJobs(ctx, due)
	names := make([]string, len(due))
	for i, j := range due {
		names[i] = j.Name
	}
	return names
}

// RunJobs runs jobs in order, records each outcome and saves the state
func (s *Scheduler) RunJobs(ctx context.Context, jobs []Job) {
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		jobLog := s.log.WithField("job", job.Name)
		jobLog.Info("Running job")

		start := time.Now()
		outcome, err := s.runJob(ctx, job)
		errorMsg := ""
		if err != nil {
			errorMsg = err.Error()
			jobLog.Errorf("Job failed: %v", err)
		} else {
			jobLog.WithFields(logrus.Fields{
				"items":    outcome.Items,
				"duration": time.Since(start).Round(time.Millisecond),
			}).Info("Job completed")
		}
		s.stateManager.UpdateJobState(job.Name, err == nil, outcome, errorMsg)
	}

	if err := s.stateManager.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job '%s': %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}

// getDueJobs returns jobs that are due for a run
func (s *Scheduler) getDueJobs() []Job {
	var due []Job
	for _, job := range s.jobs {
		if s.stateManager.ShouldRun(job.Name, job.Interval) {
			due = append(due, job)
		}
	}
	return due
}

// calculateTickInterval returns how often to check for due jobs
func (s *Scheduler) calculateTickInterval() time.Duration {
	shortest := s.jobs[0].Interval
	for _, job := range s.jobs[1:] {
		shortest = min(shortest, job.Interval)
	}
	// Check at least every minute, or every 1/10th of the shortest interval
	checkInterval := shortest / 10
	if checkInterval < time.Minute {
		checkInterval = time.Minute
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

// logSchedule logs the current schedule
func (s *Scheduler) logSchedule() {
	s.log.Info("Watch schedule:")
	for _, job := range s.jobs {
		state, exists := s.stateManager.GetJobState(job.Name)
		if !exists {
			s.log.Infof("  %s (every %s): never run, will run immediately", job.Name, FormatInterval(job.Interval))
			continue
		}
		status := "success"
		if !state.LastRunSuccess {
			status = "failed"
		}
		s.log.Infof("  %s (every %s): last run %v (%s, %d items), next run %v",
			job.Name,
			FormatInterval(job.Interval),
			state.LastRunTime.Format(time.RFC3339),
			status,
			state.Items,
			s.stateManager.GetNextRunTime(job.Name, job.Interval).Format(time.RFC3339))
	}
}

// logNextRun logs when the next run will occur
func (s *Scheduler) logNextRun() {
	type next struct {
		job  string
		time time.Time
	}
	var nextRuns []next
	for _, job := range s.jobs {
		nextRuns = append(nextRuns, next{job.Name, s.stateManager.GetNextRunTime(job.Name, job.Interval)})
	}
	sort.Slice(nextRuns, func(i, j int) bool {
		return nextRuns[i].time.Before(nextRuns[j].time)
	})

	if len(nextRuns) > 0 {
		n := nextRuns[0]
		until := max(time.Until(n.time), 0)
		s.log.Infof("Next job: %s in %v (at %s)", n.job, until.Round(time.Second), n.time.Format("15:04:05"))
	}
}

// GetStatus returns the current status of all scheduled jobs
func (s *Scheduler) GetStatus() map[string]JobStatus {
	status := make(map[string]JobStatus)
	for _, job := range s.jobs {
		state, exists := s.stateManager.GetJobState(job.Name)
		status[job.Name] = JobStatus{
			Name:           job.Name,
			Interval:       job.Interval,
			LastRunTime:    state.LastRunTime,
			LastRunSuccess: state.LastRunSuccess,
			Items:          state.Items,
			ErrorMessage:   state.ErrorMessage,
			NextRunTime:    s.stateManager.GetNextRunTime(job.Name, job.Interval),
			NeverRun:       !exists,
		}
	}
	return status
}

// JobStatus contains the status of a scheduled job
type JobStatus struct {
	Name           string
	Interval       time.Duration
	LastRunTime    time.Time
	LastRunSuccess bool
	Items          int64
	ErrorMessage   string
	NextRunTime    time.Time
	NeverRun       bool
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for days
func ParseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	// Check for day suffix
	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 {
		d = time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
