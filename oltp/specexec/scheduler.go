package specexec

import (
	"time"

	"github.com/oltp-incubator/tinyoltp/oltp/config"
	"github.com/oltp-incubator/tinyoltp/oltp/estimator"
	"github.com/oltp-incubator/tinyoltp/oltp/lockqueue"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Scheduler figures out the next best single-partition txn to
// speculatively execute at a partition, given the current dtxn's stall
// point. A chosen candidate is removed from the lock queue and marked
// released before it is returned; a caller that then cannot run it must
// requeue it.
type Scheduler struct {
	partitionID    int
	sitePartitions txn.PartitionSet
	queue          *lockqueue.PartitionQueue
	checker        ConflictChecker
	policy         config.SpecExecPolicy
	windowSize     int
	est            *estimator.Estimator

	ignoreAllLocal        bool
	ignoreQueueSizeChange bool
	ignoreSpecTypeChange  bool

	// Scan cursor carried across calls while nothing relevant changed.
	// Queue mutations are detected through the generation counter, which
	// also catches a same-size insert/remove pair.
	haveCursor   bool
	cursorAfter  int64
	lastDtxnID   int64
	lastSpecType txn.SpeculationType
	lastGen      uint64

	// Set by enqueuing goroutines when new work arrives mid-scan; the
	// partial scan result is discarded.
	interrupted atomic.Bool
}

func NewScheduler(partitionID int, sitePartitions txn.PartitionSet, queue *lockqueue.PartitionQueue,
	checker ConflictChecker, est *estimator.Estimator, cfg *config.Config) *Scheduler {
	return &Scheduler{
		partitionID:           partitionID,
		sitePartitions:        sitePartitions,
		queue:                 queue,
		checker:               checker,
		policy:                cfg.SpecExecPolicy,
		windowSize:            cfg.SpecExecWindowSize,
		est:                   est,
		ignoreAllLocal:        cfg.SpecExecIgnoreAllLocal,
		ignoreQueueSizeChange: cfg.SpecExecIgnoreQueueSizeChange,
		ignoreSpecTypeChange:  cfg.SpecExecIgnoreSpecTypeChange,
		lastDtxnID:            -1,
	}
}

// InterruptSearch aborts an in-flight scan. Safe to call from any
// goroutine.
func (s *Scheduler) InterruptSearch() {
	s.interrupted.Store(true)
}

// Reset drops the cached scan cursor.
func (s *Scheduler) Reset() {
	s.haveCursor = false
}

func dtxnID(dtxn *txn.Transaction) int64 {
	if dtxn == nil {
		return -1
	}
	return dtxn.ID
}

// Next returns the next non-conflicting single-partition txn to run under
// the given speculation type, or nil.
func (s *Scheduler) Next(dtxn *txn.Transaction, specType txn.SpeculationType) *txn.Transaction {
	s.interrupted.Store(false)
	if specType == txn.SpecNone {
		return nil
	}

	// A dtxn that stays within this site resolves too quickly to be worth
	// scheduling around.
	if dtxn != nil && s.ignoreAllLocal &&
		dtxn.BasePartition == s.partitionID &&
		s.sitePartitions.ContainsAll(dtxn.PredictTouched) {
		return nil
	}

	after := int64(-1)
	if s.policy == config.PolicyFirst && s.haveCursor &&
		s.lastDtxnID == dtxnID(dtxn) &&
		(s.ignoreSpecTypeChange || s.lastSpecType == specType) &&
		(s.ignoreQueueSizeChange || s.lastGen == s.queue.Generation()) {
		after = s.cursorAfter
	}

	var next *txn.Transaction
	var bestTime time.Duration
	if s.policy == config.PolicyShortest {
		bestTime = time.Duration(1<<63 - 1)
	} else {
		bestTime = -1
	}
	examined := 0
	interrupted := false

	s.queue.Ascend(after, func(ts *txn.Transaction) bool {
		if s.interrupted.Load() {
			interrupted = true
			return false
		}
		// Only local single-partition txns that have not run yet are
		// candidates.
		if ts.BasePartition != s.partitionID || !ts.PredictSinglePartition {
			return true
		}
		if ts.IsMarkedReleased(s.partitionID) || s.checker.ShouldIgnoreProcedure(ts.Proc) {
			return true
		}
		examined++
		switch specType {
		case txn.SpecIdle, txn.SpecSP2RemoteBefore, txn.SpecSP3Local, txn.SpecSP3Remote:
			// Stall points where the dtxn has no uncommitted local work
			// ahead of us, or is already prepared: anything is safe.
		case txn.SpecSP1Local, txn.SpecSP2RemoteAfter:
			if dtxn != nil && !s.checker.CanExecute(dtxn, ts, s.partitionID) {
				return examined < s.windowSize
			}
		}
		if s.policy == config.PolicyFirst {
			next = ts
			return false
		}
		if remaining, ok := s.est.RemainingTime(ts); ok {
			if (s.policy == config.PolicyShortest && remaining < bestTime) ||
				(s.policy == config.PolicyLongest && remaining > bestTime) {
				bestTime = remaining
				next = ts
			}
		}
		return examined < s.windowSize
	})

	if interrupted {
		log.Debug("speculation scan interrupted",
			zap.Int("partition", s.partitionID),
			zap.Int("examined", examined))
		s.haveCursor = false
		return nil
	}

	if next != nil {
		s.queue.Remove(next.ID)
		next.MarkReleased(s.partitionID)
	}

	s.lastDtxnID = dtxnID(dtxn)
	s.lastSpecType = specType
	if s.policy == config.PolicyFirst && next != nil {
		s.haveCursor = true
		s.cursorAfter = next.ID
		// Taken after our own removal, so only foreign mutations
		// invalidate the cursor.
		s.lastGen = s.queue.Generation()
	} else {
		s.haveCursor = false
	}
	return next
}
