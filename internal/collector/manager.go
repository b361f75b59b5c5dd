package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skridlevsky/patrolstats/internal/progress"
)

var (
	// ErrRunInProgress is returned when a run is started while another is active.
	ErrRunInProgress = errors.New("a collection run is already in progress")
	// ErrUnknownRun is returned for a run id the manager does not hold.
	ErrUnknownRun = errors.New("unknown run")
)

// Persister stores run lifecycle changes. Errors are logged, never fatal.
type Persister interface {
	RunStarted(ctx context.Context, report *Report) error
	RunFinished(ctx context.Context, report *Report) error
}

// RunInfo describes the active run.
type RunInfo struct {
	ID        string    `json:"id"`
	Cutoff    time.Time `json:"cutoff"`
	Trigger   string    `json:"trigger"`
	StartedAt time.Time `json:"startedAt"`
}

type activeRun struct {
	info     RunInfo
	cancel   context.CancelFunc
	recorder *progress.Recorder
}

// Manager allows one collection run at a time and keeps the events and
// report of the most recent one in memory. Latest skips failed runs, the
// same rule the run history applies.
type Manager struct {
	runner    *Runner
	persister Persister
	sink      progress.Sink
	logger    *slog.Logger

	mu           sync.Mutex
	active       *activeRun
	last         *Report
	lastRecorder *progress.Recorder
	latest       *Report

	wg         sync.WaitGroup
	eventLimit int
}

// NewManager creates a manager. persister and sink may be nil.
func NewManager(runner *Runner, persister Persister, sink progress.Sink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runner:     runner,
		persister:  persister,
		sink:       sink,
		logger:     logger,
		eventLimit: 2000,
	}
}

// Start launches a run in the background and returns its id.
func (m *Manager) Start(cutoff time.Time, trigger string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return "", ErrRunInProgress
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &activeRun{
		info: RunInfo{
			ID:        uuid.NewString(),
			Cutoff:    cutoff,
			Trigger:   trigger,
			StartedAt: time.Now(),
		},
		cancel:   cancel,
		recorder: progress.NewRecorder(m.eventLimit),
	}
	m.active = run

	m.wg.Add(1)
	go m.execute(ctx, run)

	m.logger.Info("Collection run queued", "run_id", run.info.ID, "trigger", trigger, "cutoff", cutoff.Format("2006-01-02"))
	return run.info.ID, nil
}

func (m *Manager) execute(ctx context.Context, run *activeRun) {
	defer m.wg.Done()
	defer run.cancel()

	sinks := progress.Multi{run.recorder}
	if m.sink != nil {
		sinks = append(sinks, m.sink)
	}
	stream := progress.NewStream(run.info.ID, sinks)

	if m.persister != nil {
		stub := &Report{
			RunID:     run.info.ID,
			Trigger:   run.info.Trigger,
			Cutoff:    run.info.Cutoff,
			Status:    StatusRunning,
			StartedAt: run.info.StartedAt,
		}
		if err := m.persister.RunStarted(ctx, stub); err != nil {
			m.logger.Error("Failed to record run start", "run_id", run.info.ID, "error", err)
		}
	}

	report, err := m.runner.Run(ctx, run.info.Cutoff, stream)
	if report != nil {
		report.Trigger = run.info.Trigger
	}
	if err != nil {
		m.logger.Warn("Collection run ended with error", "run_id", run.info.ID, "error", err)
	}

	if m.persister != nil && report != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := m.persister.RunFinished(saveCtx, report); err != nil {
			m.logger.Error("Failed to store run report", "run_id", run.info.ID, "error", err)
		}
		cancel()
	}

	m.mu.Lock()
	m.last = report
	m.lastRecorder = run.recorder
	if report != nil && report.Status != StatusFailed {
		m.latest = report
	}
	m.active = nil
	m.mu.Unlock()
}

// Active returns the running run, if any.
func (m *Manager) Active() (RunInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return RunInfo{}, false
	}
	return m.active.info, true
}

// Cancel asks the active run with id to stop at its next page checkpoint.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.info.ID != id {
		return ErrUnknownRun
	}
	m.active.cancel()
	m.logger.Info("Collection run cancel requested", "run_id", id)
	return nil
}

// Events returns progress events of the active or last run after seq.
func (m *Manager) Events(id string, afterSeq int64) ([]progress.Event, error) {
	m.mu.Lock()
	var rec *progress.Recorder
	switch {
	case m.active != nil && m.active.info.ID == id:
		rec = m.active.recorder
	case m.last != nil && m.last.RunID == id:
		rec = m.lastRecorder
	}
	m.mu.Unlock()

	if rec == nil {
		return nil, ErrUnknownRun
	}
	return rec.Since(afterSeq), nil
}

// Report returns the report with id if it is the last finished run or the
// latest usable one.
func (m *Manager) Report(id string) (*Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range []*Report{m.last, m.latest} {
		if r != nil && r.RunID == id {
			return r, true
		}
	}
	return nil, false
}

// Latest returns the report of the last run that did not fail. Cancelled
// runs count; their partial ranking is still served.
func (m *Manager) Latest() (*Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.latest, m.latest != nil
}

// Wait blocks until no run is executing.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels the active run and waits for it to finish.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.active != nil {
		m.active.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
