package deployment

import (
	"sort"
	"sync"
)

// LockManager tracks which projects have a deployment in progress.
// Locks never block: a second deployment of a busy project is rejected.
type LockManager struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewLockManager creates a new lock manager
func NewLockManager() *LockManager {
	return &LockManager{
		active: make(map[string]struct{}),
	}
}

// TryLock marks projectName busy. It returns false if it already was.
func (lm *LockManager) TryLock(projectName string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, busy := lm.active[projectName]; busy {
		return false
	}
	lm.active[projectName] = struct{}{}
	return true
}

// Unlock releases projectName. Unlocking an idle project is a no-op.
func (lm *LockManager) Unlock(projectName string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	delete(lm.active, projectName)
}

// IsLocked reports whether projectName has a deployment in progress.
func (lm *LockManager) IsLocked(projectName string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	_, busy := lm.active[projectName]
	return busy
}

// Active returns the busy projects, sorted.
func (lm *LockManager) Active() []string {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	names := make([]string, 0, len(lm.active))
	for name := range lm.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
