package lifecycle

import "sync"

// taskLocks serializes lifecycle operations per task id. The sqlite store
// already resolves races with compare-and-set status updates; the per-task
// lock keeps the ledger call and the matching commit adjacent so a loser of
// the race fails fast instead of leaving an idempotent ledger entry behind.
type taskLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTaskLocks() *taskLocks {
	return &taskLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *taskLocks) lock(taskID string) func() {
	l.mu.Lock()
	m, ok := l.locks[taskID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[taskID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
