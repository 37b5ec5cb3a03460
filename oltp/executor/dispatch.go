package executor

import (
	"bytes"
	"fmt"
	"time"

	"github.com/dgryski/go-farm"
	"github.com/oltp-incubator/tinyoltp/oltp/catalog"
	"github.com/oltp-incubator/tinyoltp/oltp/executor/message"
	"github.com/oltp-incubator/tinyoltp/oltp/fault"
	"github.com/oltp-incubator/tinyoltp/oltp/storage"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// execState is the per-attempt execution context handed to a stored
// procedure. It routes statement batches to the local engine, same-site
// peers, and remote sites, and blocks until every dependency returns.
type execState struct {
	p  *Executor
	ts *txn.Transaction
}

func newExecState(p *Executor, ts *txn.Transaction) *execState {
	return &execState{p: p, ts: ts}
}

func (es *execState) TxnID() int64 {
	return es.ts.ID
}

func (es *execState) BasePartition() int {
	return es.ts.BasePartition
}

func (es *execState) AbortUser(format string, args ...interface{}) error {
	return &fault.UserAbortError{TxnID: es.ts.ID, Message: fmt.Sprintf(format, args...)}
}

func paramsHash(params [][]byte) uint64 {
	return farm.Hash64(bytes.Join(params, []byte{0}))
}

// checkMisprediction verifies the batch stays inside the txn's predicted,
// not-yet-done partition set.
func (es *execState) checkMisprediction(stmts []catalog.Statement) error {
	ts := es.ts
	for _, stmt := range stmts {
		bad := false
		if ts.PredictSinglePartition && stmt.Partition != ts.BasePartition {
			bad = true
		} else if !ts.PredictTouched.Contains(stmt.Partition) {
			bad = true
		} else if ts.DonePartitions().Contains(stmt.Partition) {
			bad = true
		}
		if bad {
			ts.MarkTouched(ts.BasePartition)
			ts.MarkTouched(stmt.Partition)
			return fault.NewMisprediction(ts.ID, ts.TouchedPartitions().Values())
		}
	}
	return nil
}

type pendingWait struct {
	cb *message.Callback
	// partition (same-site round) or destination site (batched remote
	// request), for diagnostics only
	dest   int
	isSite bool
}

func (es *execState) ExecuteBatch(stmts []catalog.Statement) ([]*storage.ResultSet, error) {
	p := es.p
	ts := es.ts
	if err := es.checkMisprediction(stmts); err != nil {
		return nil, err
	}

	results := make([]*storage.ResultSet, len(stmts))

	// Group statements by destination partition, keeping batch indexes as
	// output dependency ids. Prefetched results short-circuit their
	// statements entirely.
	byPartition := make(map[int][]int)
	for i, stmt := range stmts {
		if stmt.Partition != p.partitionID {
			if rs, ok := ts.PrefetchResult(stmt.FragmentID, stmt.Partition, paramsHash(stmt.Params)); ok {
				results[i] = rs
				continue
			}
		}
		byPartition[stmt.Partition] = append(byPartition[stmt.Partition], i)
	}

	type siteBatch struct {
		frags  []*storage.WorkFragment
		params [][][]byte
	}
	var pending []pendingWait
	remoteBySite := make(map[int]*siteBatch)

	for part, idxs := range byPartition {
		if part == p.partitionID {
			if err := es.executeLocalRound(stmts, idxs, results); err != nil {
				return nil, err
			}
			continue
		}
		frag := &storage.WorkFragment{PartitionID: part}
		var params [][][]byte
		readOnly := true
		for _, i := range idxs {
			frag.FragmentIDs = append(frag.FragmentIDs, stmts[i].FragmentID)
			frag.OutputDepIDs = append(frag.OutputDepIDs, int32(i))
			params = append(params, stmts[i].Params)
			if !stmts[i].ReadOnly {
				readOnly = false
			}
		}
		frag.ReadOnly = readOnly

		if site := p.cluster.SiteOf(part); site == p.cluster.LocalSiteID() {
			// Same-site peers get their round enqueued directly.
			cb := message.NewCallback()
			pending = append(pending, pendingWait{cb: cb, dest: part})
			p.cluster.QueueWork(part, ts, frag, params, cb)
		} else {
			batch, ok := remoteBySite[site]
			if !ok {
				batch = &siteBatch{}
				remoteBySite[site] = batch
			}
			batch.frags = append(batch.frags, frag)
			batch.params = append(batch.params, params...)
		}
	}

	// One batched work request per destination site; its single result
	// carries the dependencies of every fragment in the batch.
	for site, batch := range remoteBySite {
		cb := message.NewCallback()
		pending = append(pending, pendingWait{cb: cb, dest: site, isSite: true})
		p.cluster.TransactionWork(ts, site, batch.frags, batch.params, cb)
	}

	if err := es.awaitRounds(pending, results); err != nil {
		return nil, err
	}
	return results, nil
}

// executeLocalRound runs the statements aimed at this partition inline.
func (es *execState) executeLocalRound(stmts []catalog.Statement, idxs []int, results []*storage.ResultSet) error {
	p := es.p
	ts := es.ts

	readOnly := true
	ctx := &storage.FragmentContext{
		TxnID:            ts.ID,
		LastCommittedTxn: p.lastCommittedTxnID,
	}
	for _, i := range idxs {
		ctx.FragmentIDs = append(ctx.FragmentIDs, stmts[i].FragmentID)
		ctx.Params = append(ctx.Params, stmts[i].Params)
		ctx.OutputDepIDs = append(ctx.OutputDepIDs, int32(i))
		if !stmts[i].ReadOnly {
			readOnly = false
		}
	}
	ctx.UndoToken = p.undoMgr.CalculateForRound(ts, readOnly)

	deps, err := p.engine.ExecutePlanFragments(ctx)
	ts.MarkExecutedWork(p.partitionID)
	ts.SetLastUndoToken(p.partitionID, ctx.UndoToken)
	if !readOnly {
		ts.MarkWrite(p.partitionID)
	}
	if err != nil {
		return err
	}
	for _, i := range idxs {
		results[i] = deps[int32(i)]
	}
	return nil
}

// awaitRounds blocks on the dependency latch, filling idle time with
// utility work between polls. A response timeout is fatal: the cluster is
// presumed unhealthy.
func (es *execState) awaitRounds(pending []pendingWait, results []*storage.ResultSet) error {
	p := es.p
	ts := es.ts
	deadline := time.Now().Add(p.cfg.ResponseTimeout.Duration)
	for _, wait := range pending {
		kind := "partition"
		if wait.isSite {
			kind = "site"
		}
	poll:
		for {
			select {
			case <-wait.cb.Chan():
				break poll
			case <-time.After(p.cfg.WorkQueuePollInterval.Duration):
				if time.Now().After(deadline) {
					return fault.NewServerFault(ts.ID,
						"timed out after %s waiting for work results from %s %d",
						p.cfg.ResponseTimeout, kind, wait.dest)
				}
				p.utilityWork()
			}
		}
		resp := wait.cb.Resp
		if resp == nil {
			return fault.NewServerFault(ts.ID, "work round for %s %d completed without a result", kind, wait.dest)
		}
		if err := es.applyWorkResult(resp, results); err != nil {
			return err
		}
	}
	return nil
}

func (es *execState) applyWorkResult(resp *storage.WorkResult, results []*storage.ResultSet) error {
	ts := es.ts
	status := fault.Status(resp.Status)
	if status != fault.StatusOK {
		switch status {
		case fault.StatusAbortMispredict:
			return fault.NewMisprediction(ts.ID, ts.TouchedPartitions().Add(resp.PartitionID).Values())
		case fault.StatusAbortEvictedAccess:
			return &fault.EvictedAccessError{TxnID: ts.ID}
		case fault.StatusAbortUser:
			return &fault.UserAbortError{TxnID: ts.ID, Message: resp.Error}
		default:
			return fmt.Errorf("remote work failed at partition %d: %s", resp.PartitionID, resp.Error)
		}
	}
	for i, depID := range resp.DepIDs {
		if int(depID) >= len(results) || i >= len(resp.DepData) {
			return fault.NewServerFault(ts.ID, "work result dependency %d out of range", depID)
		}
		rs, err := storage.DeserializeResultSet(resp.DepData[i])
		if err != nil {
			return err
		}
		results[depID] = rs
	}
	return nil
}

// processWorkFragment executes one incoming round for the current dtxn and
// sends the result back through the round's callback.
func (p *Executor) processWorkFragment(ts *txn.Transaction, work *message.MsgWorkFragment) error {
	frag := work.Fragment
	if frag.PartitionID != p.partitionID {
		return fault.NewServerFault(ts.ID,
			"work fragment for partition %d delivered to partition %d", frag.PartitionID, p.partitionID)
	}
	token := p.undoMgr.CalculateForRound(ts, frag.ReadOnly)
	deps, err := p.engine.ExecutePlanFragments(&storage.FragmentContext{
		TxnID:            ts.ID,
		LastCommittedTxn: p.lastCommittedTxnID,
		UndoToken:        token,
		FragmentIDs:      frag.FragmentIDs,
		Params:           work.Params,
		OutputDepIDs:     frag.OutputDepIDs,
	})
	ts.MarkExecutedWork(p.partitionID)
	ts.SetLastUndoToken(p.partitionID, token)
	if !frag.ReadOnly {
		ts.MarkWrite(p.partitionID)
	}

	result := &storage.WorkResult{PartitionID: p.partitionID}
	if err != nil {
		ts.SetPendingError(err)
		result.Status = int32(fault.StatusOf(err))
		result.Error = err.Error()
		log.Warn("work fragment failed",
			zap.Int("partition", p.partitionID),
			zap.Int64("txn", ts.ID),
			zap.Error(err))
	} else {
		result.Status = int32(fault.StatusOK)
		for _, depID := range frag.OutputDepIDs {
			if rs, ok := deps[depID]; ok {
				result.DepIDs = append(result.DepIDs, depID)
				result.DepData = append(result.DepData, storage.SerializeResultSet(rs))
			}
		}
	}
	if frag.LastFragment {
		ts.MarkDone(p.partitionID)
	}
	work.Callback.Done(result)
	return nil
}
