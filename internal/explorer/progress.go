package explorer

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Phase names a stage of a shard load.
type Phase string

const (
	// PhaseDownload reports bytes received across all shards of a request
	PhaseDownload Phase = "download"
	// PhaseParse reports rows decoded across all shards of a request
	PhaseParse Phase = "parse"
)

// Progress is one progress report. Total is -1 while unknown.
type Progress struct {
	Phase Phase `json:"phase"`
	Done  int64 `json:"done"`
	Total int64 `json:"total"`
}

// ProgressFunc receives progress reports. It is called from loader
// goroutines and must not call back into the Session.
type ProgressFunc func(Progress)

type progressReporter struct {
	fn       ProgressFunc
	interval time.Duration
}

func newProgressReporter(fn ProgressFunc, interval time.Duration) *progressReporter {
	return &progressReporter{fn: fn, interval: interval}
}

// begin starts tracking one phase over n parts (shards).
func (r *progressReporter) begin(phase Phase, n int) *phaseTracker {
	return &phaseTracker{
		fn:     r.fn,
		phase:  phase,
		gate:   &rate.Sometimes{Interval: r.interval},
		done:   make([]int64, n),
		totals: make([]int64, n),
	}
}

// phaseTracker aggregates per-shard counters and throttles reports.
type phaseTracker struct {
	fn    ProgressFunc
	phase Phase
	gate  *rate.Sometimes

	mu     sync.Mutex
	done   []int64
	totals []int64
}

// update records the counters of part i and maybe reports the aggregate.
func (t *phaseTracker) update(i int, done, total int64) {
	if t == nil || t.fn == nil {
		return
	}
	t.mu.Lock()
	t.done[i], t.totals[i] = done, total
	p := t.snapshotLocked()
	t.mu.Unlock()

	t.gate.Do(func() { t.fn(p) })
}

// finish reports the aggregate regardless of the throttle.
func (t *phaseTracker) finish() {
	if t == nil || t.fn == nil {
		return
	}
	t.mu.Lock()
	p := t.snapshotLocked()
	t.mu.Unlock()
	t.fn(p)
}

func (t *phaseTracker) snapshotLocked() Progress {
	p := Progress{Phase: t.phase}
	for i := range t.done {
		p.Done += t.done[i]
		if t.totals[i] < 0 || p.Total < 0 {
			p.Total = -1
			continue
		}
		p.Total += t.totals[i]
	}
	return p
}
