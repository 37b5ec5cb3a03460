package executor

import (
	"github.com/oltp-incubator/tinyoltp/oltp/fault"
	"github.com/oltp-incubator/tinyoltp/oltp/metrics"
	"github.com/oltp-incubator/tinyoltp/oltp/storage"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// prepareTransaction handles 2PC phase one for ts at this partition.
// Repeats are no-ops apart from re-acknowledging; an early commit message
// may race the first one.
func (p *Executor) prepareTransaction(ts *txn.Transaction, ack func(partition int)) {
	if ts.MarkPrepared(p.partitionID) {
		newMode := ExecModeCommitNone
		if p.cfg.SpecExecEnabled && ts.IsExecReadOnly(p.partitionID) {
			// The dtxn only read here, so read-only speculative txns can
			// start responding right away.
			newMode = ExecModeCommitReadOnly
		}
		if p.currentDtxn != nil {
			p.setExecutionMode(ts, newMode)
		}
	} else {
		log.Debug("txn already prepared",
			zap.Int64("txn", ts.ID), zap.Int("partition", p.partitionID))
	}
	if ack != nil {
		ack(p.partitionID)
	}
}

// finishTransaction commits or aborts ts's engine work at this partition
// and tells the lock-queue manager it is done here.
func (p *Executor) finishTransaction(ts *txn.Transaction, status fault.Status) error {
	if ts.IsMarkedFinished(p.partitionID) {
		return fault.NewServerFault(ts.ID, "finishing %s twice at partition %d", ts, p.partitionID)
	}
	commit := status == fault.StatusOK
	var token int64
	if commit {
		token = ts.LastUndoToken(p.partitionID)
	} else {
		token = ts.FirstUndoToken(p.partitionID)
	}
	if ts.NeedsFinish(p.partitionID) && token != storage.NullUndoToken {
		if err := p.finishWorkEE(ts, token, commit); err != nil {
			return err
		}
	}
	if commit {
		p.lastCommittedTxnID = ts.ID
	}
	p.queueMgr.LockQueueFinished(ts, status, p.partitionID)
	ts.MarkFinished(p.partitionID)
	return nil
}

// finishWorkEE reaches into the engine and commits or rolls back one undo
// token. Everything below the token (commit) or above it (abort) goes with
// it.
func (p *Executor) finishWorkEE(ts *txn.Transaction, token int64, commit bool) error {
	if token == storage.DisableUndoToken {
		// Read-only work without logging has nothing to commit, and
		// aborting writes that were never logged is unrecoverable.
		if !ts.IsExecReadOnly(p.partitionID) && !commit {
			return fault.NewServerFault(ts.ID,
				"aborting txn at partition %d that wrote without undo logging", p.partitionID)
		}
		return nil
	}
	if commit {
		if err := p.undoMgr.MarkCommitted(token); err != nil {
			return err
		}
		if err := p.engine.ReleaseUndoToken(token); err != nil {
			return err
		}
		metrics.EngineCommitCounter.WithLabelValues(p.partitionLabel).Inc()
		return nil
	}
	if err := p.undoMgr.CheckRollback(token); err != nil {
		return err
	}
	if err := p.engine.UndoUndoToken(token); err != nil {
		return err
	}
	metrics.EngineRollbackCounter.WithLabelValues(p.partitionLabel).Inc()
	return nil
}

// finishDistributedTransaction resolves a dtxn at this partition, layering
// the buffered speculative txns on top of the decision so that the
// effective serial order survives.
func (p *Executor) finishDistributedTransaction(ts *txn.Transaction, status fault.Status, ack func(partition int)) error {
	if p.currentDtxn != ts {
		// A finish for a txn that never held this partition's lock: only
		// aborts may take this path.
		if status == fault.StatusOK {
			return fault.NewServerFault(ts.ID,
				"commit for %s at partition %d but the current dtxn is %v", ts, p.partitionID, p.currentDtxn)
		}
		p.queueMgr.LockQueueFinished(ts, status, p.partitionID)
		if ack != nil {
			ack(p.partitionID)
		}
		return nil
	}

	commit := status == fault.StatusOK
	log.Debug("finishing dtxn",
		zap.Int("partition", p.partitionID),
		zap.Int64("txn", ts.ID),
		zap.Stringer("status", status),
		zap.Int("blocked-spec", len(p.specExecBlocked)))

	var err error
	if len(p.specExecBlocked) > 0 {
		if !commit && !ts.IsExecReadOnly(p.partitionID) {
			err = p.finishDtxnAbortWithWrites(ts, status)
		} else {
			err = p.finishDtxnCommitAll(ts, status)
		}
		p.specExecBlocked = nil
		p.specExecModified = false
		metrics.BlockedSpecExecGauge.WithLabelValues(p.partitionLabel).Set(0)
	} else if !ts.IsMarkedFinished(p.partitionID) {
		err = p.finishTransaction(ts, status)
	}
	if err != nil {
		return err
	}

	// Resetting the dtxn slot has to come before the mode flip; the mode
	// invariant checks it.
	p.resetCurrentDtxn()
	p.setExecutionMode(ts, ExecModeCommitAll)
	p.specExecIgnoreCurrent = false
	p.releaseBlockedTransactions(ts)
	if ack != nil {
		ack(p.partitionID)
	}
	return nil
}

// finishDtxnCommitAll handles a committing dtxn, or an aborting dtxn that
// was read-only here. Either way every buffered speculative txn can
// commit: one release at the newest allocated token covers the dtxn plus
// everything layered on top of it.
func (p *Executor) finishDtxnCommitAll(ts *txn.Transaction, status fault.Status) error {
	last := p.undoMgr.Last()
	if last != p.undoMgr.LastCommitted() {
		if err := p.finishWorkEE(ts, last, true); err != nil {
			return err
		}
	}
	if status == fault.StatusOK {
		p.lastCommittedTxnID = ts.ID
	}
	p.queueMgr.LockQueueFinished(ts, status, p.partitionID)
	ts.MarkFinished(p.partitionID)

	// Release the buffered responses in the order they were dispatched.
	for _, pair := range p.specExecBlocked {
		pair.ts.MarkFinished(p.partitionID)
		if pair.resp.Status == fault.StatusOK {
			p.lastCommittedTxnID = pair.ts.ID
		}
		if err := p.processClientResponse(pair.ts, pair.resp); err != nil {
			return err
		}
	}
	return nil
}

// finishDtxnAbortWithWrites handles the hard case: the dtxn aborts after
// writing here. Speculative txns whose first undo token predates the
// dtxn's first write ran against clean state and commit; everything else
// may have read dirty data and restarts.
func (p *Executor) finishDtxnAbortWithWrites(ts *txn.Transaction, status fault.Status) error {
	dtxnFirst := ts.FirstUndoToken(p.partitionID)

	var toCommit, toRestart []specPair
	maxToken := storage.NullUndoToken
	for _, pair := range p.specExecBlocked {
		specFirst := pair.ts.FirstUndoToken(p.partitionID)
		if specFirst == storage.NullUndoToken || specFirst < dtxnFirst {
			toCommit = append(toCommit, pair)
			if specFirst != storage.NullUndoToken && specFirst > maxToken {
				maxToken = specFirst
			}
		} else {
			toRestart = append(toRestart, pair)
		}
	}
	log.Debug("partitioned speculative txns on dtxn abort",
		zap.Int("partition", p.partitionID),
		zap.Int64("dtxn-first-undo", dtxnFirst),
		zap.Int("commit", len(toCommit)),
		zap.Int("restart", len(toRestart)))

	// One engine call commits the whole pre-dtxn prefix.
	if maxToken != storage.NullUndoToken {
		if err := p.finishWorkEE(ts, maxToken, true); err != nil {
			return err
		}
	}
	for _, pair := range toCommit {
		pair.ts.MarkFinished(p.partitionID)
		if pair.resp.Status == fault.StatusOK {
			p.lastCommittedTxnID = pair.ts.ID
		}
		if err := p.processClientResponse(pair.ts, pair.resp); err != nil {
			return err
		}
	}

	// Roll the dtxn back; every outstanding token above its first write
	// unwinds with it.
	if err := p.finishTransaction(ts, status); err != nil {
		return err
	}

	// The restarted txns' writes are already gone with the rollback; they
	// only need to be requeued with a misprediction error so the outer
	// system re-executes them.
	for _, pair := range toRestart {
		spec := pair.ts
		spec.SetPendingError(fault.NewMisprediction(spec.ID, spec.TouchedPartitions().Values()))
		pair.resp.Status = fault.StatusAbortSpeculative
		spec.MarkFinished(p.partitionID)
		p.queueMgr.LockQueueFinished(spec, fault.StatusAbortSpeculative, p.partitionID)
		if err := p.processClientResponse(spec, pair.resp); err != nil {
			return err
		}
	}
	return nil
}
