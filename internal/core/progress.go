package core

import (
	"sync"
	"time"
)

// Progress is the latest progress line reported by a batch.
type Progress struct {
	Current   int
	Total     int
	Message   string
	UpdatedAt time.Time
}

// ProgressTracker forwards to another UserInteraction and remembers the last
// progress report so status queries can show it.
type ProgressTracker struct {
	UserInteraction

	clock Clock
	mu    sync.RWMutex
	last  Progress
}

func NewProgressTracker(ui UserInteraction, clock Clock) *ProgressTracker {
	if clock == nil {
		clock = SystemClock(time.Local)
	}
	return &ProgressTracker{UserInteraction: ui, clock: clock}
}

func (p *ProgressTracker) NotifyProgress(current, total int, message string) {
	p.mu.Lock()
	p.last = Progress{Current: current, Total: total, Message: message, UpdatedAt: p.clock.Now()}
	p.mu.Unlock()
	p.UserInteraction.NotifyProgress(current, total, message)
}

// Last returns the most recent report.
func (p *ProgressTracker) Last() Progress {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}
