package testutil

import (
	"sync"
	"sync/atomic"
	"time"
)

// ExecutionRecord holds the start and end times of one task body.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// Tracker records how many task bodies run at once and when each one ran.
// Wrap a body with Enter and the returned leave func.
type Tracker struct {
	running atomic.Int32
	peak    atomic.Int32

	mu      sync.Mutex
	records map[string]*ExecutionRecord
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]*ExecutionRecord)}
}

// Enter marks name as running. Call the returned func when it finishes.
func (p *Tracker) Enter(name string) (leave func()) {
	start := time.Now()
	n := p.running.Add(1)
	for {
		cur := p.peak.Load()
		if n <= cur || p.peak.CompareAndSwap(cur, n) {
			break
		}
	}
	return func() {
		p.running.Add(-1)
		p.mu.Lock()
		p.records[name] = &ExecutionRecord{Start: start, End: time.Now()}
		p.mu.Unlock()
	}
}

// Peak is the highest number of bodies seen running at once.
func (p *Tracker) Peak() int {
	return int(p.peak.Load())
}

// Record returns the timing of name, or nil if it never finished.
func (p *Tracker) Record(name string) *ExecutionRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.records[name]
}

// Overlapped reports whether the bodies named a and b ran at the same time.
func (p *Tracker) Overlapped(a, b string) bool {
	ra, rb := p.Record(a), p.Record(b)
	if ra == nil || rb == nil {
		return false
	}
	return ra.Start.Before(rb.End) && rb.Start.Before(ra.End)
}
