package scheduler

import "sync"

// busyState is the shared-mutex state machine: Idle, Running(kind),
// Stopping. Overlapping heavy scans are rejected, never queued.
type busyState int

const (
	stateIdle busyState = iota
	stateRunning
	stateStopping
)

// BusyMutex serialises the heavy background scans. A starting job calls
// TryEnter; if another scan holds the mutex it returns false and the job
// skips this tick. While holding, the job polls StopRequested between
// units of work and exits gracefully when asked.
type BusyMutex struct {
	mu    sync.Mutex
	state busyState
	kind  string
}

// TryEnter attempts to take the mutex for the named job kind. It returns
// false if any scan is already running or stopping.
func (m *BusyMutex) TryEnter(kind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateIdle {
		return false
	}
	m.state = stateRunning
	m.kind = kind
	return true
}

// Leave releases the mutex. Calling Leave without a successful TryEnter is
// a programming error and panics.
func (m *BusyMutex) Leave() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateIdle {
		panic("scheduler: Leave without TryEnter")
	}
	m.state = stateIdle
	m.kind = ""
}

// IsBusy reports whether a heavy scan currently holds the mutex.
func (m *BusyMutex) IsBusy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != stateIdle
}

// RunningKind returns the kind of the scan holding the mutex, or "".
func (m *BusyMutex) RunningKind() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kind
}

// RequestStop asks the scan holding the mutex to exit at its next
// stop-flag poll. A no-op when idle.
func (m *BusyMutex) RequestStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateRunning {
		m.state = stateStopping
	}
}

// StopRequested is polled by the holding job between units of work.
func (m *BusyMutex) StopRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateStopping
}
