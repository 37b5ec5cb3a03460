package estimator

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
)

const sampleWindow = 64

// Estimator predicts per-procedure execution behavior from recent history.
// It backs the SHORTEST/LONGEST scheduling policies and the undo-logging
// fast path. With no samples it answers conservatively: unknown remaining
// time, abortable. The read-only answer comes from the static procedure
// access sets and does not depend on samples.
type Estimator struct {
	mu      sync.Mutex
	samples map[string][]float64 // procedure name -> recent durations (ns)
	aborts  map[string]int
	commits map[string]int
}

func New() *Estimator {
	return &Estimator{
		samples: make(map[string][]float64),
		aborts:  make(map[string]int),
		commits: make(map[string]int),
	}
}

// Observe records one finished execution of proc.
func (e *Estimator) Observe(proc string, d time.Duration, aborted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	window := append(e.samples[proc], float64(d))
	if len(window) > sampleWindow {
		window = window[len(window)-sampleWindow:]
	}
	e.samples[proc] = window
	if aborted {
		e.aborts[proc]++
	} else {
		e.commits[proc]++
	}
}

// RemainingTime estimates how long ts still needs to run. Unknown
// procedures report false.
func (e *Estimator) RemainingTime(ts *txn.Transaction) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	window := e.samples[ts.Proc.Name]
	if len(window) == 0 {
		return 0, false
	}
	mean, err := stats.Mean(stats.Float64Data(window))
	if err != nil {
		return 0, false
	}
	return time.Duration(mean), true
}

// Abortable reports whether the remainder of ts could still abort. True
// until the procedure has a spotless history.
func (e *Estimator) Abortable(ts *txn.Transaction) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := ts.Proc.Name
	return e.commits[name] == 0 || e.aborts[name] > 0
}

// ReadOnlyRemainder reports whether ts will only read at p from here on.
// Derived from the static procedure access sets; a procedure with any
// write table never qualifies.
func (e *Estimator) ReadOnlyRemainder(ts *txn.Transaction, p int) bool {
	return len(ts.Proc.WriteTables) == 0
}
