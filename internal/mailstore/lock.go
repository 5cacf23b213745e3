package mailstore

import "sync"

// Locker hands out exclusive per-mailbox locks for retrieval sessions.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

// TryLock takes the lock for mailbox without blocking. On success the
// returned unlock func releases it and is safe to call more than once.
func (l *Locker) TryLock(mailbox string) (unlock func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[mailbox]; busy {
		return nil, false
	}
	l.held[mailbox] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, mailbox)
			l.mu.Unlock()
		})
	}, true
}
