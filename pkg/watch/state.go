package watch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

const stateFileName = "watch_state.json"

// JobState contains the last run information for a job
type JobState struct {
	LastRunTime    time.Time `json:"last_run_time"`
	LastRunSuccess bool      `json:"last_run_success"`
	Items          int64     `json:"items"` // URLs emitted, entries removed or URLs generated, depending on the job
	Detail         string    `json:"detail,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// WatchState contains the persistent state for the watch scheduler
type WatchState struct {
	Jobs      map[string]JobState `json:"jobs"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// StateManager handles persisting and loading watch state
type StateManager struct {
	statePath string
	state     WatchState
	now       func() time.Time
	mu        sync.RWMutex
}

// NewStateManager creates a new state manager
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		statePath: filepath.Join(stateDir, stateFileName),
		state: WatchState{
			Jobs: make(map[string]JobState),
		},
		now: time.Now,
	}
}

// SetClock replaces the manager's clock
func (m *StateManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Load loads the state from disk
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			// No state file yet, start fresh
			m.state = WatchState{Jobs: make(map[string]JobState)}
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	if m.state.Jobs == nil {
		m.state.Jobs = make(map[string]JobState)
	}
	return nil
}

// Save writes the state to disk atomically
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = m.now()
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	return utils.WriteFileAtomic(m.statePath, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// GetJobState returns the state for a specific job
func (m *StateManager) GetJobState(name string) (JobState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Jobs[name]
	return state, ok
}

// UpdateJobState records the outcome of a job run
func (m *StateManager) UpdateJobState(name string, success bool, outcome Outcome, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Jobs[name] = JobState{
		LastRunTime:    m.now(),
		LastRunSuccess: success,
		Items:          outcome.Items,
		Detail:         outcome.Detail,
		ErrorMessage:   errorMsg,
	}
}

// ShouldRun checks if a job is due based on its interval
func (m *StateManager) ShouldRun(name string, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Jobs[name]
	if !ok {
		// Never run before, should run now
		return true
	}
	return m.now().Sub(state.LastRunTime) >= interval
}

// GetNextRunTime returns when the job should next run
func (m *StateManager) GetNextRunTime(name string, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Jobs[name]
	if !ok {
		return m.now()
	}
	return state.LastRunTime.Add(interval)
}

// GetAllJobStates returns a copy of all job states
func (m *StateManager) GetAllJobStates() map[string]JobState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]JobState, len(m.state.Jobs))
	for k, v := range m.state.Jobs {
		result[k] = v
	}
	return result
}
