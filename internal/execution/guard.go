// Package execution serializes long-running backup and restore operations
// and runs them off the caller's goroutine.
package execution

import (
	"fmt"
	"sync"
	"time"

	appErrors "cms-backup/internal/errors"
)

// Guard is a non-blocking single-flight lock. A second caller is rejected
// immediately instead of queued.
type Guard struct {
	mu     sync.Mutex
	holder string
	since  time.Time
	now    func() time.Time
}

// NewGuard creates an unlocked guard
func NewGuard() *Guard {
	return &Guard{now: time.Now}
}

// TryAcquire takes the guard for op. The returned release func is safe to
// call more than once.
func (g *Guard) TryAcquire(op string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.holder != "" {
		return nil, appErrors.Busy(fmt.Sprintf("%s (running since %s)", g.holder, g.since.Format(time.RFC3339))).
			WithContext("operation", g.holder)
	}
	g.holder = op
	g.since = g.now()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.holder = ""
			g.since = time.Time{}
			g.mu.Unlock()
		})
	}, nil
}

// Holder returns the operation holding the guard, or "" when free
func (g *Guard) Holder() (string, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder, g.since
}
