package download

import (
	"sync"
	"time"
)

// progressTracker turns byte counts into fractions that never decrease, are
// clamped to [0,1], and are emitted at most once per interval.
type progressTracker struct {
	mu       sync.Mutex
	emit     func(float32)
	interval time.Duration
	now      func() time.Time

	last     float32
	lastEmit time.Time
	emitted  bool
}

func newProgressTracker(interval time.Duration, emit func(float32)) *progressTracker {
	return &progressTracker{emit: emit, interval: interval, now: time.Now}
}

// update records done/total bytes. Unknown totals produce no fraction.
func (p *progressTracker) update(done, total int64) {
	if total <= 0 {
		return
	}
	p.report(float32(float64(done) / float64(total)))
}

func (p *progressTracker) report(f float32) {
	if p.emit == nil {
		return
	}
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.emitted && f <= p.last {
		return
	}
	now := p.now()
	if p.emitted && f < 1 && now.Sub(p.lastEmit) < p.interval {
		return
	}
	p.last = f
	p.lastEmit = now
	p.emitted = true
	p.emit(f)
}

// finish emits 1.0 unless it was already emitted.
func (p *progressTracker) finish() { p.report(1) }
