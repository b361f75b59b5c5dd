package collector

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Starter starts a collection run.
type Starter interface {
	Start(cutoff time.Time, trigger string) (string, error)
}

// Scheduler periodically starts a run over a rolling window of days.
type Scheduler struct {
	starter      Starter
	interval     time.Duration
	lookbackDays int
	loc          *time.Location
	now          func() time.Time

	// Status tracking for health endpoint
	lastTick   time.Time
	lastRunID  string
	lastStatus string
	statusMu   sync.RWMutex

	// Lifecycle
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. Cutoffs are midnight in loc.
func NewScheduler(starter Starter, interval time.Duration, lookbackDays int, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		starter:      starter,
		interval:     interval,
		lookbackDays: lookbackDays,
		loc:          loc,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

// Run starts the ticker loop. The first run starts immediately.
func (s *Scheduler) Run() {
	slog.Info("Scheduler starting", "interval", s.interval, "lookback_days", s.lookbackDays)

	s.wg.Add(1)
	go s.loop()
}

// Stop gracefully shuts down the scheduler. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		slog.Info("Scheduler stopping...")
		close(s.stopCh)
		s.wg.Wait()
		slog.Info("Scheduler stopped")
	})
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopCh:
			return
		}
	}
}

// Cutoff returns midnight lookbackDays before now.
func (s *Scheduler) Cutoff() time.Time {
	day := truncateDay(s.now().In(s.loc))
	return day.AddDate(0, 0, -s.lookbackDays)
}

func (s *Scheduler) tick() {
	cutoff := s.Cutoff()
	id, err := s.starter.Start(cutoff, "schedule")

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	s.lastTick = s.now()
	switch {
	case errors.Is(err, ErrRunInProgress):
		slog.Info("Scheduled run skipped, another run is active")
		s.lastStatus = "skipped: run in progress"
	case err != nil:
		slog.Error("Scheduled run failed to start", "error", err)
		s.lastStatus = "error: " + err.Error()
	default:
		slog.Info("Scheduled run started", "run_id", id, "cutoff", cutoff.Format("2006-01-02"))
		s.lastRunID = id
		s.lastStatus = "started"
	}
}

// SchedulerStatus represents the scheduler's last tick
type SchedulerStatus struct {
	Interval   time.Duration
	LastTick   time.Time
	LastRunID  string
	LastStatus string
}

// Status returns the current status of the scheduler
func (s *Scheduler) Status() *SchedulerStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()

	return &SchedulerStatus{
		Interval:   s.interval,
		LastTick:   s.lastTick,
		LastRunID:  s.lastRunID,
		LastStatus: s.lastStatus,
	}
}
