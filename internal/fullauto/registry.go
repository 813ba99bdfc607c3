package fullauto

import "sync"

// Registry routes external administrative calls to the right in-flight
// run. It is an explicit mapping from run identifier to an owned loop
// handle with one synchronization point per run, never a process-wide
// singleton.
type Registry struct {
	mu    sync.RWMutex
	runs  map[string]*RunLoop
	locks *PerRunLockManager
}

func NewRegistry() *Registry {
	return &Registry{
		runs:  make(map[string]*RunLoop),
		locks: NewPerRunLockManager(),
	}
}

func (r *Registry) Add(loop *RunLoop) {
	if loop == nil || loop.RunID() == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[loop.RunID()] = loop
}

func (r *Registry) Get(runID string) (*RunLoop, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loop, ok := r.runs[runID]
	return loop, ok
}

func (r *Registry) Remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
	r.locks.Remove(runID)
}

func (r *Registry) List() []*RunLoop {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RunLoop, 0, len(r.runs))
	for _, loop := range r.runs {
		out = append(out, loop)
	}
	return out
}

// Lock acquires the per-run admin lock and returns the unlock function.
func (r *Registry) Lock(runID string) func() {
	return r.locks.Lock(runID)
}

// PerRunLockManager hands out one RWMutex per run so administrative
// operations on different runs never block each other.
type PerRunLockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewPerRunLockManager() *PerRunLockManager {
	return &PerRunLockManager{locks: make(map[string]*sync.RWMutex)}
}

func (m *PerRunLockManager) getLock(runID string) *sync.RWMutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[string]*sync.RWMutex)
	}
	if m.locks[runID] == nil {
		m.locks[runID] = &sync.RWMutex{}
	}
	return m.locks[runID]
}

func (m *PerRunLockManager) Lock(runID string) func() {
	lock := m.getLock(runID)
	lock.Lock()
	return func() { lock.Unlock() }
}

func (m *PerRunLockManager) RLock(runID string) func() {
	lock := m.getLock(runID)
	lock.RLock()
	return func() { lock.RUnlock() }
}

// Remove drops the lock for a run. The lock must not be held.
func (m *PerRunLockManager) Remove(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks != nil {
		delete(m.locks, runID)
	}
}
