package executor

import (
	"fmt"
	"strconv"
	"time"

	"github.com/oltp-incubator/tinyoltp/oltp/catalog"
	"github.com/oltp-incubator/tinyoltp/oltp/config"
	"github.com/oltp-incubator/tinyoltp/oltp/estimator"
	"github.com/oltp-incubator/tinyoltp/oltp/executor/message"
	"github.com/oltp-incubator/tinyoltp/oltp/fault"
	"github.com/oltp-incubator/tinyoltp/oltp/lockqueue"
	"github.com/oltp-incubator/tinyoltp/oltp/metrics"
	"github.com/oltp-incubator/tinyoltp/oltp/specexec"
	"github.com/oltp-incubator/tinyoltp/oltp/storage"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
	"github.com/oltp-incubator/tinyoltp/oltp/undo"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Cluster is everything outside the partition the executor talks to: the
// per-site coordinator, peer executors, and the client response path.
type Cluster interface {
	// SiteOf maps a partition to the site hosting it.
	SiteOf(partition int) int
	LocalSiteID() int

	// QueueWork enqueues one work fragment round on a same-site peer.
	QueueWork(partition int, ts *txn.Transaction, frag *storage.WorkFragment, params [][][]byte, cb *message.Callback)
	// TransactionWork ships a batched work request to another site.
	TransactionWork(ts *txn.Transaction, targetSite int, frags []*storage.WorkFragment, params [][][]byte, cb *message.Callback)
	// TransactionPrepare runs 2PC phase one at the given partitions; done
	// fires once per partition as acknowledgements arrive.
	TransactionPrepare(ts *txn.Transaction, partitions txn.PartitionSet, done func(partition int))
	// TransactionFinish delivers the commit/abort decision everywhere the
	// txn may hold state.
	TransactionFinish(ts *txn.Transaction, status fault.Status, done func(partition int))

	ResponseSend(ts *txn.Transaction, resp *txn.Response)
	// TransactionRequeue re-executes a txn after a misprediction,
	// speculative abort, or evicted access.
	TransactionRequeue(ts *txn.Transaction, status fault.Status)
	NewTransaction(clientHandle int64, procName string, params [][]byte, respond func(*txn.Response)) error
	DeleteTransaction(id int64, status fault.Status)

	// ShutdownCluster is the FATAL path: an invariant broke and the whole
	// cluster must come down.
	ShutdownCluster(err error)
}

type specPair struct {
	ts   *txn.Transaction
	resp *txn.Response
}

// Executor drives all work on one partition from a single goroutine. Every
// field below the work queue is confined to that goroutine.
type Executor struct {
	partitionID int
	cfg         *config.Config
	cat         *catalog.Catalog
	engine      storage.Engine
	cluster     Cluster
	queueMgr    *lockqueue.Manager
	lockQueue   *lockqueue.PartitionQueue
	undoMgr     *undo.Manager
	scheduler   *specexec.Scheduler
	checker     specexec.ConflictChecker
	est         *estimator.Estimator

	workQueue *message.WorkQueue

	execMode    ExecMode
	currentDtxn *txn.Transaction
	// Messages that arrived for a second dtxn (or while speculation was
	// disabled); replayed when the current dtxn finishes.
	blockedMessages []message.Msg
	// Locally processed messages take priority over the work queue; blocked
	// messages are replayed through here.
	pendingMsgs []message.Msg
	// Speculative txns whose responses wait on the current dtxn, in
	// dispatch order.
	specExecBlocked []specPair
	// Has any blocked speculative txn written in the current window?
	specExecModified bool
	// The current dtxn's procedure opted out of speculation.
	specExecIgnoreCurrent bool

	currentTxnID       int64
	lastExecutedTxnID  int64
	lastCommittedTxnID int64

	lastTick     time.Time
	statsSink    StatsSink
	shuttingDown atomic.Bool
	done         chan struct{}

	partitionLabel string
}

// StatsSink receives the per-tick maintenance payloads so they can be
// digested off the executor goroutine.
type StatsSink interface {
	OfferStats(partition int, stats *storage.ResultSet)
}

func New(partitionID int, cfg *config.Config, cat *catalog.Catalog, engine storage.Engine,
	cluster Cluster, queueMgr *lockqueue.Manager, est *estimator.Estimator,
	checker specexec.ConflictChecker, sitePartitions txn.PartitionSet) *Executor {
	p := &Executor{
		partitionID:    partitionID,
		cfg:            cfg,
		cat:            cat,
		engine:         engine,
		cluster:        cluster,
		queueMgr:       queueMgr,
		lockQueue:      queueMgr.Queue(partitionID),
		undoMgr:        undo.NewManager(partitionID, cfg.ForceUndoLogging, cfg.NoUndoLogging, est),
		checker:        checker,
		est:            est,
		workQueue:      message.NewWorkQueue(cfg.WorkQueueCapacity),
		execMode:       ExecModeCommitAll,
		done:           make(chan struct{}),
		partitionLabel: strconv.Itoa(partitionID),
	}
	p.scheduler = specexec.NewScheduler(partitionID, sitePartitions, p.lockQueue, checker, est, cfg)
	return p
}

func (p *Executor) PartitionID() int { return p.partitionID }

// SetStatsSink installs the background sink for tick maintenance output.
func (p *Executor) SetStatsSink(s StatsSink) { p.statsSink = s }

// Engine exposes the thread-confined storage engine. Only for boot-time
// catalog loading and tests.
func (p *Executor) Engine() storage.Engine { return p.engine }

func (p *Executor) IsShuttingDown() bool { return p.shuttingDown.Load() }

// RequestShutdown stops the loop without waiting for it to exit. Safe to
// call from the loop itself.
func (p *Executor) RequestShutdown() {
	if p.shuttingDown.CAS(false, true) {
		// Nudge the loop out of its poll.
		p.workQueue.Push(message.NewMsg(message.MsgTypeUtilityWork, nil))
	}
}

// Shutdown stops the loop and waits for it to exit.
func (p *Executor) Shutdown() {
	p.RequestShutdown()
	<-p.done
}

// enqueue adds work from any goroutine and interrupts a speculation scan
// in flight.
func (p *Executor) enqueue(m message.Msg) {
	p.workQueue.Push(m)
	p.scheduler.InterruptSearch()
}

// QueueStartTransaction hands the executor a txn that already holds this
// partition's lock.
func (p *Executor) QueueStartTransaction(ts *txn.Transaction) {
	p.enqueue(message.NewTxnMsg(message.MsgTypeStartTxn, ts, nil))
}

// QueueWork delivers one work-fragment round for a dtxn.
func (p *Executor) QueueWork(ts *txn.Transaction, frag *storage.WorkFragment, params [][][]byte, cb *message.Callback) {
	p.enqueue(message.NewTxnMsg(message.MsgTypeWorkFragment, ts, &message.MsgWorkFragment{
		Fragment: frag,
		Params:   params,
		Callback: cb,
	}))
}

// QueuePrepare delivers 2PC phase one; ack fires with this partition's id.
func (p *Executor) QueuePrepare(ts *txn.Transaction, ack func(partition int)) {
	p.enqueue(message.NewTxnMsg(message.MsgTypePrepare, ts, ack))
}

// QueueFinish delivers the terminal commit/abort decision.
func (p *Executor) QueueFinish(ts *txn.Transaction, status fault.Status, ack func(partition int)) {
	p.enqueue(message.NewTxnMsg(message.MsgTypeFinish, ts, &finishPayload{status: status, ack: ack}))
}

// QueueSetPartitionLock installs a remote dtxn as this partition's current
// dtxn once the lock is granted.
func (p *Executor) QueueSetPartitionLock(ts *txn.Transaction) {
	p.enqueue(message.NewTxnMsg(message.MsgTypeSetDtxn, ts, nil))
}

// QueueInitializeTxn adds an initialized txn to this partition's lock
// queue.
func (p *Executor) QueueInitializeTxn(ts *txn.Transaction, cb lockqueue.ReleaseCallback) {
	p.enqueue(message.NewTxnMsg(message.MsgTypeInitializeTxn, ts, cb))
}

// QueueNewTransaction takes a raw client request that still needs a txn
// handle.
func (p *Executor) QueueNewTransaction(clientHandle int64, procName string, params [][]byte, respond func(*txn.Response)) {
	p.enqueue(message.NewMsg(message.MsgTypeInitializeRequest, &message.MsgInitializeRequest{
		ClientHandle: clientHandle,
		ProcName:     procName,
		Params:       params,
		Respond:      respond,
	}))
}

// QueueDeferredQuery schedules a statement an earlier txn deferred.
func (p *Executor) QueueDeferredQuery(txnID int64, fragmentID int32, params [][]byte) {
	p.enqueue(message.NewMsg(message.MsgTypeDeferredQuery, &message.MsgDeferredQuery{
		TxnID:      txnID,
		FragmentID: fragmentID,
		Params:     params,
	}))
}

// QueueTableStatsRequest asks the engine for table stats on the executor
// goroutine.
func (p *Executor) QueueTableStatsRequest(tables []string, respond func(*storage.ResultSet)) {
	p.enqueue(message.NewMsg(message.MsgTypeTableStatsRequest, &message.MsgTableStatsRequest{
		Tables:  tables,
		Respond: respond,
	}))
}

// QueueHalt stops the partition from accepting new work.
func (p *Executor) QueueHalt() {
	p.enqueue(message.NewMsg(message.MsgTypeHalt, nil))
}

type finishPayload struct {
	status fault.Status
	ack    func(partition int)
}

// Run is the executor loop. It owns the partition until shutdown.
func (p *Executor) Run() {
	defer close(p.done)
	log.Info("partition executor started", zap.Int("partition", p.partitionID))
	p.lastTick = time.Now()

	for !p.shuttingDown.Load() {
		p.currentTxnID = 0
		var next message.Msg
		haveNext := false

		// With no dtxn holding the partition, pull the next txn off the
		// lock queue.
		if p.currentDtxn == nil {
			p.maybeTick()
			if ts := p.queueMgr.CheckLockQueue(p.partitionID); ts != nil {
				if ts.PredictSinglePartition {
					next = message.NewTxnMsg(message.MsgTypeStartTxn, ts, nil)
					haveNext = true
				} else {
					// A remote work round may already have installed it.
					if p.currentDtxn != ts {
						p.setCurrentDtxn(ts)
					}
					continue
				}
			}
		}

		if !haveNext && len(p.pendingMsgs) > 0 {
			next = p.pendingMsgs[0]
			p.pendingMsgs = p.pendingMsgs[1:]
			haveNext = true
		}

		if !haveNext {
			next, haveNext = p.workQueue.PopTimeout(p.cfg.WorkQueuePollInterval.Duration)
		}

		if haveNext {
			if err := p.dispatch(next); err != nil {
				p.crash(err)
				return
			}
			if p.currentTxnID != 0 {
				p.lastExecutedTxnID = p.currentTxnID
			}
		} else if p.cfg.SpecExecEnabled {
			p.utilityWork()
		}
	}
	log.Info("partition executor stopping",
		zap.Int("partition", p.partitionID),
		zap.Int64("last-executed", p.lastExecutedTxnID))
}

// crash is the FATAL path: dump state, stop, bring the cluster down.
func (p *Executor) crash(err error) {
	log.Error("unexpected fatal error at partition",
		zap.Int("partition", p.partitionID),
		zap.Int64("current-txn", p.currentTxnID),
		zap.String("exec-mode", p.execMode.String()),
		zap.Int("blocked-messages", len(p.blockedMessages)),
		zap.Int("blocked-spec-responses", len(p.specExecBlocked)),
		zap.Error(err))
	p.shuttingDown.Store(true)
	p.cluster.ShutdownCluster(err)
}

func (p *Executor) dispatch(m message.Msg) error {
	if m.IsTxnMessage() {
		return p.dispatchTxnMessage(m)
	}
	switch m.Type {
	case message.MsgTypeInitializeRequest:
		return p.processInitializeRequest(m.Data.(*message.MsgInitializeRequest))
	case message.MsgTypeDeferredQuery:
		return p.processDeferredQuery(m.Data.(*message.MsgDeferredQuery))
	case message.MsgTypeUtilityWork:
		return nil
	case message.MsgTypeUpdateMemory:
		p.offerStats(storage.StatsMemory, nil)
		return nil
	case message.MsgTypeSnapshotWork:
		p.offerStats(storage.StatsTable, nil)
		return nil
	case message.MsgTypeTableStatsRequest:
		req := m.Data.(*message.MsgTableStatsRequest)
		req.Respond(p.engine.GetStats(storage.StatsTable, req.Tables, time.Now().UnixNano()))
		return nil
	case message.MsgTypeHalt:
		p.haltProcessing()
		return nil
	}
	return fault.NewServerFault(0, "unexpected work message %s at partition %d", m.Type, p.partitionID)
}

func (p *Executor) dispatchTxnMessage(m message.Msg) error {
	ts := m.Txn
	p.currentTxnID = ts.ID

	// A txn that already aborted only gets its Finish through.
	if ts.IsAborted() && m.Type != message.MsgTypeFinish {
		log.Debug("dropping message for aborted txn",
			zap.Int64("txn", ts.ID), zap.Stringer("type", m.Type))
		return nil
	}

	switch m.Type {
	case message.MsgTypeStartTxn:
		if p.execMode == ExecModeDisabledReject && !ts.IsSysProc() {
			p.rejectTransaction(ts)
			return nil
		}
		if p.cfg.SpecExecEnabled && ts.PredictSinglePartition {
			p.scheduler.Reset()
		}
		return p.executeTransaction(ts)

	case message.MsgTypeWorkFragment:
		work := m.Data.(*message.MsgWorkFragment)
		if err := ts.AcceptWork(p.partitionID); err != nil {
			return err
		}
		newMode := ExecModeDisabled
		if p.cfg.SpecExecEnabled {
			if work.Fragment.ReadOnly && ts.IsExecReadOnly(p.partitionID) {
				newMode = ExecModeCommitReadOnly
			} else {
				newMode = ExecModeCommitNone
			}
		}
		if p.currentDtxn == nil {
			p.setCurrentDtxn(ts)
		} else if p.currentDtxn != ts {
			// Another dtxn holds the partition; park this round until it
			// finishes.
			p.blockMessage(m)
			return nil
		}
		p.setExecutionMode(ts, newMode)
		return p.processWorkFragment(ts, work)

	case message.MsgTypePrepare:
		ack, _ := m.Data.(func(partition int))
		p.prepareTransaction(ts, ack)
		return nil

	case message.MsgTypeFinish:
		fp := m.Data.(*finishPayload)
		return p.finishDistributedTransaction(ts, fp.status, fp.ack)

	case message.MsgTypeSetDtxn:
		// The lock grant can trail the dtxn's first work round, or even
		// its finish.
		if ts.IsMarkedFinished(p.partitionID) {
			return nil
		}
		if p.currentDtxn != nil && p.currentDtxn != ts {
			p.blockMessage(m)
			return nil
		}
		if p.currentDtxn == nil {
			p.setCurrentDtxn(ts)
		}
		return nil

	case message.MsgTypeInitializeTxn:
		if p.execMode == ExecModeDisabledReject && !ts.IsSysProc() {
			cb, _ := m.Data.(lockqueue.ReleaseCallback)
			if cb != nil {
				cb(p.partitionID, fault.StatusAbortReject)
			}
			p.rejectTransaction(ts)
			return nil
		}
		cb, _ := m.Data.(lockqueue.ReleaseCallback)
		p.queueMgr.LockQueueInsert(ts, p.partitionID, cb)
		return nil
	}
	return fault.NewServerFault(ts.ID, "unexpected txn message %s at partition %d", m.Type, p.partitionID)
}

func (p *Executor) processInitializeRequest(req *message.MsgInitializeRequest) error {
	proc, err := p.cat.Procedure(req.ProcName)
	if err != nil {
		req.Respond(&txn.Response{
			ClientHandle: req.ClientHandle,
			Status:       fault.StatusAbortUnexpected,
			Error:        err.Error(),
		})
		return nil
	}
	if p.execMode == ExecModeDisabledReject && !proc.SysProc {
		req.Respond(&txn.Response{
			ClientHandle: req.ClientHandle,
			Status:       fault.StatusAbortReject,
			Error:        fmt.Sprintf("partition %d is halted", p.partitionID),
		})
		return nil
	}
	if err := p.cluster.NewTransaction(req.ClientHandle, req.ProcName, req.Params, req.Respond); err != nil {
		req.Respond(&txn.Response{
			ClientHandle: req.ClientHandle,
			Status:       fault.StatusAbortUnexpected,
			Error:        err.Error(),
		})
	}
	return nil
}

func (p *Executor) processDeferredQuery(q *message.MsgDeferredQuery) error {
	// Deferred queries run read-only on behalf of an already-finished
	// txn; there is nothing to undo.
	_, err := p.engine.ExecutePlanFragments(&storage.FragmentContext{
		TxnID:            q.TxnID,
		LastCommittedTxn: p.lastCommittedTxnID,
		UndoToken:        storage.DisableUndoToken,
		FragmentIDs:      []int32{q.FragmentID},
		Params:           [][][]byte{q.Params},
	})
	if err != nil {
		log.Warn("deferred query failed",
			zap.Int("partition", p.partitionID),
			zap.Int64("txn", q.TxnID),
			zap.Error(err))
	}
	return nil
}

func (p *Executor) rejectTransaction(ts *txn.Transaction) {
	ts.Respond(&txn.Response{
		TxnID:        ts.ID,
		ClientHandle: ts.ClientHandle,
		Status:       fault.StatusAbortReject,
		Error:        fmt.Sprintf("partition %d is halted", p.partitionID),
	})
	p.queueMgr.LockQueueFinished(ts, fault.StatusAbortReject, p.partitionID)
	p.cluster.DeleteTransaction(ts.ID, fault.StatusAbortReject)
	metrics.TxnExecutedCounter.WithLabelValues(p.partitionLabel, fault.StatusAbortReject.String()).Inc()
}

// haltProcessing rejects everything queued that has not run yet and flips
// the partition into reject mode.
func (p *Executor) haltProcessing() {
	log.Warn("halting transaction processing", zap.Int("partition", p.partitionID))
	p.setExecutionMode(nil, ExecModeDisabledReject)

	var keep []message.Msg
	drain := append(p.pendingMsgs, p.workQueue.Drain()...)
	p.pendingMsgs = nil
	for _, m := range drain {
		switch m.Type {
		case message.MsgTypeInitializeRequest:
			req := m.Data.(*message.MsgInitializeRequest)
			req.Respond(&txn.Response{
				ClientHandle: req.ClientHandle,
				Status:       fault.StatusAbortReject,
				Error:        fmt.Sprintf("partition %d is halted", p.partitionID),
			})
		case message.MsgTypeInitializeTxn:
			if cb, _ := m.Data.(lockqueue.ReleaseCallback); cb != nil {
				cb(p.partitionID, fault.StatusAbortReject)
			}
			p.rejectTransaction(m.Txn)
		case message.MsgTypeStartTxn:
			p.rejectTransaction(m.Txn)
		default:
			keep = append(keep, m)
		}
	}
	p.pendingMsgs = keep
}

func (p *Executor) maybeTick() {
	now := time.Now()
	if now.Sub(p.lastTick) < p.cfg.TickInterval.Duration {
		return
	}
	p.lastTick = now
	p.engine.Tick(now.UnixNano(), p.lastCommittedTxnID)
	p.offerStats(storage.StatsTable, nil)
	metrics.WorkQueueDepthGauge.WithLabelValues(p.partitionLabel).Set(float64(p.workQueue.Len()))
	metrics.LockQueueDepthGauge.WithLabelValues(p.partitionLabel).Set(float64(p.lockQueue.Len()))
	metrics.BlockedSpecExecGauge.WithLabelValues(p.partitionLabel).Set(float64(len(p.specExecBlocked)))
}

func (p *Executor) offerStats(selector storage.StatsSelector, tables []string) {
	if p.statsSink == nil {
		return
	}
	p.statsSink.OfferStats(p.partitionID, p.engine.GetStats(selector, tables, time.Now().UnixNano()))
}
