package executor

import (
	"time"

	"github.com/oltp-incubator/tinyoltp/oltp/fault"
	"github.com/oltp-incubator/tinyoltp/oltp/metrics"
	"github.com/oltp-incubator/tinyoltp/oltp/storage"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// executeTransaction runs one txn attempt's control code on this
// partition, then routes the response through the gating rules.
func (p *Executor) executeTransaction(ts *txn.Transaction) error {
	if !ts.IsMarkedReleased(p.partitionID) {
		return fault.NewServerFault(ts.ID, "%s was not released at partition %d before execution", ts, p.partitionID)
	}

	beforeMode := p.execMode

	if !ts.PredictSinglePartition {
		// A dtxn starting its control code here. If another dtxn holds the
		// partition it has to wait its turn.
		if p.currentDtxn != nil && p.currentDtxn != ts {
			p.blockTransaction(ts)
			return nil
		}
		if p.currentDtxn == nil {
			p.setCurrentDtxn(ts)
		}
		p.setExecutionMode(ts, ExecModeCommitNone)
	} else if p.currentDtxn != nil {
		// Single-partition work under a dtxn only runs speculatively.
		if p.execMode == ExecModeDisabled || !p.cfg.SpecExecEnabled {
			p.blockTransaction(ts)
			return nil
		}
		if !ts.IsSpeculative() {
			return fault.NewServerFault(ts.ID,
				"%s is not marked speculative but a dtxn holds partition %d", ts, p.partitionID)
		}
	}

	start := time.Now()
	es := newExecState(p, ts)
	results, err := ts.Proc.Run(es, ts.Params)
	if fault.IsServerFault(err) {
		// Dispatcher timeout or invariant violation; there is no
		// txn-level recovery from these.
		return err
	}
	status := fault.StatusOf(err)
	if err != nil {
		ts.SetPendingError(err)
	}
	p.est.Observe(ts.Proc.Name, time.Since(start), status != fault.StatusOK)
	if ts.IsSpeculative() {
		metrics.SpeculativeCounter.WithLabelValues(p.partitionLabel, ts.SpeculationType().String()).Inc()
		if verr := ts.CheckSpeculativeTokens(); verr != nil {
			return verr
		}
	}

	resp := &txn.Response{
		TxnID:        ts.ID,
		ClientHandle: ts.ClientHandle,
		Status:       status,
		Results:      results,
	}
	if err != nil {
		resp.Error = err.Error()
	}

	if !ts.PredictSinglePartition || p.canProcessResponseNow(ts, status, beforeMode) {
		return p.processClientResponse(ts, resp)
	}

	// The response has to wait for the dtxn. An aborted speculative write
	// unwinds its own token right away (it is the newest, so the rollback
	// touches nothing else), but the partition still stops running new
	// work until the dtxn resolves.
	if status != fault.StatusOK && !ts.IsExecReadOnly(p.partitionID) {
		if tok := ts.LastUndoToken(p.partitionID); tok != storage.NullUndoToken {
			if err := p.finishWorkEE(ts, tok, false); err != nil {
				return err
			}
		}
		p.setExecutionMode(ts, ExecModeDisabled)
		p.drainWorkQueueBlocked()
	}
	p.blockClientResponse(ts, resp)
	return nil
}

// canProcessResponseNow decides whether a locally executed
// single-partition txn can respond immediately, or
// must wait for the current dtxn.
func (p *Executor) canProcessResponseNow(ts *txn.Transaction, status fault.Status, beforeMode ExecMode) bool {
	if p.execMode == ExecModeCommitAll {
		return true
	}
	// Speculative user-aborts rolled back immediately; nothing holds
	// their response.
	if status == fault.StatusAbortUser && ts.IsSpeculative() {
		return true
	}
	// Mispredictions restart through the requeue path right away.
	if status == fault.StatusAbortMispredict {
		return true
	}
	if status == fault.StatusOK {
		switch beforeMode {
		case ExecModeCommitAll:
			return true
		case ExecModeCommitReadOnly:
			// Read-only speculative txns may respond as long as nothing
			// in this window modified the database under them.
			return !p.specExecModified && ts.IsExecReadOnly(p.partitionID)
		case ExecModeCommitNone, ExecModeCommitNonConflicting:
			return false
		case ExecModeDisabled, ExecModeDisabledReject:
			return false
		}
	}
	return false
}

// drainWorkQueueBlocked moves everything queued onto the blocked list so
// that no new work runs until the dtxn finishes.
func (p *Executor) drainWorkQueueBlocked() {
	p.blockedMessages = append(p.blockedMessages, p.pendingMsgs...)
	p.pendingMsgs = nil
	drained := p.workQueue.Drain()
	p.blockedMessages = append(p.blockedMessages, drained...)
	if moved := len(p.blockedMessages); moved > 0 {
		log.Debug("parked queued work while speculation is disabled",
			zap.Int("partition", p.partitionID), zap.Int("count", moved))
	}
}

func (p *Executor) blockClientResponse(ts *txn.Transaction, resp *txn.Response) {
	p.specExecBlocked = append(p.specExecBlocked, specPair{ts: ts, resp: resp})
	if resp.Status == fault.StatusOK && !ts.IsExecReadOnly(p.partitionID) {
		p.specExecModified = true
	}
	metrics.BlockedSpecExecGauge.WithLabelValues(p.partitionLabel).Set(float64(len(p.specExecBlocked)))
}

// processClientResponse commits/aborts the txn at this partition and moves
// its response along: out to the client, into the restart path, or into
// the dtxn's 2PC rounds.
func (p *Executor) processClientResponse(ts *txn.Transaction, resp *txn.Response) error {
	status := resp.Status
	metrics.TxnExecutedCounter.WithLabelValues(p.partitionLabel, status.String()).Inc()

	// Restart-class aborts never reach the client; the txn is requeued.
	if status.NeedsRestart() {
		if ts.PredictSinglePartition {
			// A cascading rollback has already unwound (and finished)
			// restarted speculative txns; everything else unwinds here.
			if !ts.IsMarkedFinished(p.partitionID) {
				if err := p.finishTransaction(ts, status); err != nil {
					return err
				}
			}
			p.cluster.TransactionRequeue(ts, status)
		} else {
			ts.MarkAborted()
			p.cluster.TransactionFinish(ts, status, func(int) {})
			p.cluster.TransactionRequeue(ts, status)
		}
		metrics.TxnRestartedCounter.WithLabelValues(p.partitionLabel, status.String()).Inc()
		return nil
	}

	if ts.PredictSinglePartition {
		// Out-of-order speculative commits can have finished the txn
		// already.
		if !ts.IsMarkedFinished(p.partitionID) {
			if err := p.finishTransaction(ts, status); err != nil {
				return err
			}
		}
		p.cluster.ResponseSend(ts, resp)
		p.cluster.DeleteTransaction(ts.ID, status)
		return nil
	}

	if status == fault.StatusOK {
		// Committing dtxn: flip the mode before phase one so speculation
		// knows what it is stacking on, then drive prepare everywhere the
		// txn is not already done.
		newMode := ExecModeDisabled
		if p.cfg.SpecExecEnabled {
			if ts.IsExecReadOnly(p.partitionID) {
				newMode = ExecModeCommitReadOnly
			} else {
				newMode = ExecModeCommitNone
			}
		}
		p.setExecutionMode(ts, newMode)

		prepareSet := txn.PartitionSet{}
		done := ts.DonePartitions()
		for _, part := range ts.PredictTouched.Values() {
			if !done.Contains(part) {
				prepareSet = prepareSet.Add(part)
			}
		}
		ts.SetClientResponse(resp)
		p.cluster.TransactionPrepare(ts, prepareSet, p.prepareAck(ts))
		return nil
	}

	// Aborting dtxn: the client learns immediately, then every partition
	// unwinds.
	ts.MarkAborted()
	p.cluster.ResponseSend(ts, resp)
	p.cluster.TransactionFinish(ts, status, func(int) {})
	return nil
}

// prepareAck returns the callback the coordinator invokes as partitions
// acknowledge phase one.
func (p *Executor) prepareAck(ts *txn.Transaction) func(partition int) {
	return func(partition int) {
		log.Debug("prepare acknowledged",
			zap.Int64("txn", ts.ID), zap.Int("partition", partition))
	}
}
