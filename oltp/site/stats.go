package site

import (
	"sync"

	"github.com/oltp-incubator/tinyoltp/oltp/storage"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// statsTask carries one partition's maintenance snapshot off the executor
// goroutine.
type statsTask struct {
	partition int
	stats     *storage.ResultSet
}

const statsRunnerCapacity = 128

// statsRunner digests per-partition tick snapshots in the background so
// executors never spend their loop on maintenance bookkeeping. Offers
// never block: under load a dropped snapshot just means the next tick's
// numbers win.
type statsRunner struct {
	tasks    chan statsTask
	wg       sync.WaitGroup
	lastRows map[int]int
}

func newStatsRunner() *statsRunner {
	return &statsRunner{
		tasks:    make(chan statsTask, statsRunnerCapacity),
		lastRows: make(map[int]int),
	}
}

func (r *statsRunner) start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for task := range r.tasks {
			r.handle(task)
		}
	}()
}

// offer hands the runner one snapshot, reporting whether it was accepted.
func (r *statsRunner) offer(t statsTask) bool {
	select {
	case r.tasks <- t:
		return true
	default:
		return false
	}
}

// stop drains what was already queued and waits for the runner to exit.
// All producers must be stopped first.
func (r *statsRunner) stop() {
	close(r.tasks)
	r.wg.Wait()
}

func (r *statsRunner) handle(t statsTask) {
	rows := t.stats.RowCount()
	if rows != r.lastRows[t.partition] {
		log.Debug("partition stats",
			zap.Int("partition", t.partition),
			zap.Int("tables", rows))
		r.lastRows[t.partition] = rows
	}
}
