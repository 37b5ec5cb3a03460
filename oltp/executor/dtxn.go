package executor

import (
	"github.com/oltp-incubator/tinyoltp/oltp/executor/message"
	"github.com/oltp-incubator/tinyoltp/oltp/fault"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// setCurrentDtxn installs ts as the one distributed txn holding this
// partition. Only ever reached when the slot is free; a second dtxn's
// messages go through blockMessage instead.
func (p *Executor) setCurrentDtxn(ts *txn.Transaction) {
	if p.currentDtxn != nil {
		p.crash(fault.NewServerFault(ts.ID,
			"concurrent distributed transactions at partition %d: %s vs %s",
			p.partitionID, p.currentDtxn, ts))
		return
	}
	p.currentDtxn = ts
	if p.cfg.SpecExecEnabled && !ts.IsSysProc() {
		p.specExecIgnoreCurrent = p.checker.ShouldIgnoreProcedure(ts.Proc)
	} else {
		p.specExecIgnoreCurrent = true
	}
	log.Debug("installed current dtxn",
		zap.Int("partition", p.partitionID),
		zap.Int64("txn", ts.ID),
		zap.Bool("spec-exec-ignore", p.specExecIgnoreCurrent))
}

func (p *Executor) resetCurrentDtxn() {
	if p.currentDtxn == nil {
		p.crash(fault.NewServerFault(0, "resetting current dtxn at partition %d when it is already nil", p.partitionID))
		return
	}
	p.currentDtxn = nil
}

// setExecutionMode flips the partition's response-gating mode. ts is the
// txn that caused the flip, for tracing only.
func (p *Executor) setExecutionMode(ts *txn.Transaction, newMode ExecMode) {
	if newMode == ExecModeCommitReadOnly && p.currentDtxn == nil {
		p.crash(fault.NewServerFault(0,
			"partition %d cannot enter %s without a current dtxn", p.partitionID, newMode))
		return
	}
	if p.execMode != newMode {
		log.Debug("execution mode change",
			zap.Int("partition", p.partitionID),
			zap.Stringer("from", p.execMode),
			zap.Stringer("to", newMode))
	}
	p.execMode = newMode
}

// blockMessage parks a message until the current dtxn finishes.
func (p *Executor) blockMessage(m message.Msg) {
	p.blockedMessages = append(p.blockedMessages, m)
	log.Debug("blocked message behind current dtxn",
		zap.Int("partition", p.partitionID),
		zap.Stringer("type", m.Type),
		zap.Int("blocked", len(p.blockedMessages)))
}

func (p *Executor) blockTransaction(ts *txn.Transaction) {
	p.blockMessage(message.NewTxnMsg(message.MsgTypeStartTxn, ts, nil))
}

// releaseBlockedTransactions replays everything parked behind the dtxn
// that just finished, ahead of anything new on the work queue.
func (p *Executor) releaseBlockedTransactions(ts *txn.Transaction) {
	if len(p.blockedMessages) == 0 {
		return
	}
	log.Debug("releasing blocked messages",
		zap.Int("partition", p.partitionID),
		zap.Int64("txn", ts.ID),
		zap.Int("count", len(p.blockedMessages)))
	p.pendingMsgs = append(p.pendingMsgs, p.blockedMessages...)
	p.blockedMessages = nil
}

// calculateSpeculationType classifies the current dtxn's stall point at
// this partition.
func (p *Executor) calculateSpeculationType() txn.SpeculationType {
	dtxn := p.currentDtxn
	if dtxn == nil {
		return txn.SpecIdle
	}
	if dtxn.BasePartition == p.partitionID {
		switch {
		case !dtxn.HasExecutedWork(p.partitionID):
			return txn.SpecIdle
		case dtxn.IsMarkedPrepared(p.partitionID):
			return txn.SpecSP3Local
		default:
			return txn.SpecSP1Local
		}
	}
	switch {
	case dtxn.IsMarkedPrepared(p.partitionID):
		return txn.SpecSP3Remote
	case !dtxn.HasExecutedWork(p.partitionID):
		return txn.SpecSP2RemoteBefore
	default:
		return txn.SpecSP2RemoteAfter
	}
}

// utilityWork fills an idle slot with one speculative txn, if the
// scheduler can find a safe one. Reports whether anything ran.
func (p *Executor) utilityWork() bool {
	if !p.cfg.SpecExecEnabled || p.specExecIgnoreCurrent && p.currentDtxn != nil {
		return false
	}
	if p.currentDtxn == nil || p.lockQueue.Len() == 0 {
		return false
	}
	if p.execMode == ExecModeDisabled || p.execMode == ExecModeDisabledReject {
		return false
	}
	specType := p.calculateSpeculationType()
	specTxn := p.scheduler.Next(p.currentDtxn, specType)
	if specTxn == nil {
		return false
	}
	p.queueMgr.NotifyReleased(specTxn, p.partitionID)
	specTxn.SetSpeculative(specType)
	log.Debug("speculatively executing",
		zap.Int("partition", p.partitionID),
		zap.Int64("txn", specTxn.ID),
		zap.Stringer("spec-type", specType))
	if err := p.executeTransaction(specTxn); err != nil {
		p.crash(err)
		return false
	}
	return true
}
