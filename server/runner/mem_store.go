package runner

import "sync"

const defaultMaxHistorySize = 100

// StateStore keeps the history of completed runs.
type StateStore interface {
	// Runs returns the stored runs, most recent first.
	Runs() []RunStatus
	// Get returns the run with the given ID.
	Get(id string) (RunStatus, bool)
	// Save records a completed run.
	Save(RunStatus) error
}

// MemoryStore keeps the most recent runs in memory.
type MemoryStore struct {
	mu      sync.Mutex
	runs    []RunStatus
	maxRuns int
}

// NewMemoryStore creates a store holding up to maxRuns runs. A
// non-positive value selects the default of 100.
func NewMemoryStore(maxRuns int) *MemoryStore {
	if maxRuns <= 0 {
		maxRuns = defaultMaxHistorySize
	}
	return &MemoryStore{maxRuns: maxRuns}
}

// Runs returns a copy of the stored runs, most recent first.
func (s *MemoryStore) Runs() []RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]RunStatus, len(s.runs))
	copy(result, s.runs)
	return result
}

// Get returns the run with the given ID.
func (s *MemoryStore) Get(id string) (RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, run := range s.runs {
		if run.ID == id {
			return run, true
		}
	}
	return RunStatus{}, false
}

// Save stores a run, evicting the oldest once the store is full.
func (s *MemoryStore) Save(run RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Prepend to keep most recent first
	s.runs = append([]RunStatus{run}, s.runs...)
	if len(s.runs) > s.maxRuns {
		s.runs = s.runs[:s.maxRuns]
	}
	return nil
}
