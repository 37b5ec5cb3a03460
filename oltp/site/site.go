package site

import (
	"sync"

	"github.com/dgryski/go-farm"
	"github.com/oltp-incubator/tinyoltp/oltp/catalog"
	"github.com/oltp-incubator/tinyoltp/oltp/config"
	"github.com/oltp-incubator/tinyoltp/oltp/estimator"
	"github.com/oltp-incubator/tinyoltp/oltp/executor"
	"github.com/oltp-incubator/tinyoltp/oltp/executor/message"
	"github.com/oltp-incubator/tinyoltp/oltp/fault"
	"github.com/oltp-incubator/tinyoltp/oltp/lockqueue"
	"github.com/oltp-incubator/tinyoltp/oltp/specexec"
	"github.com/oltp-incubator/tinyoltp/oltp/storage"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// How many times a txn may be requeued before the site gives up on it.
const maxRestarts = 5

// EngineFactory builds the storage engine for one partition.
type EngineFactory func(partition int) (storage.Engine, error)

// Site hosts one executor per partition plus the local coordinator that
// wires them together: lock-queue manager, 2PC driver, client response
// path, and background maintenance.
type Site struct {
	cfg      *config.Config
	cat      *catalog.Catalog
	queueMgr *lockqueue.Manager
	est      *estimator.Estimator

	executors  []*executor.Executor
	partitions txn.PartitionSet

	idGen txn.IDGenerator

	mu   sync.Mutex
	txns map[int64]*txn.Transaction

	stats *statsRunner

	shuttingDown atomic.Bool
	execWg       sync.WaitGroup
	stopOnce     sync.Once
}

func New(cfg *config.Config, cat *catalog.Catalog, factory EngineFactory) (*Site, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}
	s := &Site{
		cfg:      cfg,
		cat:      cat,
		queueMgr: lockqueue.NewManager(cfg.Partitions),
		est:      estimator.New(),
		txns:     make(map[int64]*txn.Transaction),
	}
	for p := 0; p < cfg.Partitions; p++ {
		s.partitions = s.partitions.Add(p)
	}
	checker := specexec.NewTableConflictChecker()
	for p := 0; p < cfg.Partitions; p++ {
		engine, err := factory(p)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if err := engine.LoadCatalog(cat.Tables()); err != nil {
			return nil, errors.WithStack(err)
		}
		ex := executor.New(p, cfg, cat, engine, s, s.queueMgr, s.est, checker, s.partitions)
		s.executors = append(s.executors, ex)
	}
	s.stats = newStatsRunner()
	return s, nil
}

// Start launches every partition executor plus the background stats
// runner.
func (s *Site) Start() {
	s.stats.start()
	for _, ex := range s.executors {
		ex.SetStatsSink(s)
		s.execWg.Add(1)
		go func(ex *executor.Executor) {
			defer s.execWg.Done()
			ex.Run()
		}(ex)
	}
	log.Info("site started",
		zap.Int("site", s.cfg.SiteID),
		zap.Int("partitions", s.cfg.Partitions))
}

// Shutdown stops everything and waits.
func (s *Site) Shutdown() {
	s.shuttingDown.Store(true)
	for _, ex := range s.executors {
		ex.RequestShutdown()
	}
	s.execWg.Wait()
	s.stopOnce.Do(func() {
		s.stats.stop()
		for _, ex := range s.executors {
			if err := ex.Engine().Close(); err != nil {
				log.Warn("engine close failed", zap.Int("partition", ex.PartitionID()), zap.Error(err))
			}
		}
	})
}

func (s *Site) Executor(partition int) *executor.Executor {
	return s.executors[partition]
}

// Execute submits one procedure invocation and returns a callback-style
// channel carrying the single response.
func (s *Site) Execute(clientHandle int64, procName string, params [][]byte) <-chan *txn.Response {
	ch := make(chan *txn.Response, 1)
	respond := func(resp *txn.Response) { ch <- resp }
	// Route the raw request through a partition executor, the way an
	// initialize request arrives off the wire.
	base := 0
	if proc, err := s.cat.Procedure(procName); err == nil {
		base = s.predictPartitions(proc, params).Values()[0]
	}
	s.executors[base].QueueNewTransaction(clientHandle, procName, params, respond)
	return ch
}

func (s *Site) predictPartitions(proc *catalog.Procedure, params [][]byte) txn.PartitionSet {
	if proc.Partition != nil {
		return txn.NewPartitionSet(proc.Partition(params, s.cfg.Partitions)...)
	}
	var key []byte
	if len(params) > 0 {
		key = params[0]
	}
	return txn.NewPartitionSet(int(farm.Hash32(key) % uint32(s.cfg.Partitions)))
}

// lockReleased wires lock-queue release notifications back into txn
// startup: the base partition starts the control code, remote partitions
// install the dtxn.
func (s *Site) lockReleased(ts *txn.Transaction) lockqueue.ReleaseCallback {
	return func(partition int, status fault.Status) {
		if status != fault.StatusOK {
			return
		}
		if partition == ts.BasePartition {
			if !ts.PredictSinglePartition {
				s.executors[partition].QueueStartTransaction(ts)
			}
			return
		}
		s.executors[partition].QueueSetPartitionLock(ts)
	}
}

// --- executor.Cluster ---

func (s *Site) SiteOf(partition int) int { return s.cfg.SiteID }

func (s *Site) LocalSiteID() int { return s.cfg.SiteID }

func (s *Site) QueueWork(partition int, ts *txn.Transaction, frag *storage.WorkFragment, params [][][]byte, cb *message.Callback) {
	s.executors[partition].QueueWork(ts, frag, params, cb)
}

// TransactionWork handles a batched work request for another site. This
// build is single-site, so the loopback splits the batch back out to the
// local peer executors and merges their results.
func (s *Site) TransactionWork(ts *txn.Transaction, targetSite int, frags []*storage.WorkFragment, params [][][]byte, cb *message.Callback) {
	subCallbacks := make([]*message.Callback, len(frags))
	offset := 0
	for i, frag := range frags {
		n := len(frag.FragmentIDs)
		subCallbacks[i] = message.NewCallback()
		s.executors[frag.PartitionID].QueueWork(ts, frag, params[offset:offset+n], subCallbacks[i])
		offset += n
	}
	go func() {
		merged := &storage.WorkResult{PartitionID: -1, Status: int32(fault.StatusOK)}
		for _, sub := range subCallbacks {
			resp := sub.WaitResp()
			if resp == nil {
				continue
			}
			if fault.Status(resp.Status) != fault.StatusOK && fault.Status(merged.Status) == fault.StatusOK {
				merged.Status = resp.Status
				merged.Error = resp.Error
				merged.PartitionID = resp.PartitionID
			}
			merged.DepIDs = append(merged.DepIDs, resp.DepIDs...)
			merged.DepData = append(merged.DepData, resp.DepData...)
		}
		cb.Done(merged)
	}()
}

func (s *Site) TransactionPrepare(ts *txn.Transaction, partitions txn.PartitionSet, done func(partition int)) {
	parts := partitions.Values()
	if len(parts) == 0 {
		s.finishCommit(ts)
		return
	}
	remaining := atomic.NewInt32(int32(len(parts)))
	for _, p := range parts {
		s.executors[p].QueuePrepare(ts, func(partition int) {
			if done != nil {
				done(partition)
			}
			if remaining.Dec() == 0 {
				s.finishCommit(ts)
			}
		})
	}
}

// finishCommit runs once every partition has acknowledged phase one: the
// client gets its response and phase two commits everywhere.
func (s *Site) finishCommit(ts *txn.Transaction) {
	if resp := ts.ClientResponse(); resp != nil {
		s.ResponseSend(ts, resp)
	}
	s.TransactionFinish(ts, fault.StatusOK, nil)
}

func (s *Site) TransactionFinish(ts *txn.Transaction, status fault.Status, done func(partition int)) {
	targets := ts.PredictTouched.Union(ts.TouchedPartitions())
	remaining := atomic.NewInt32(int32(targets.Len()))
	for _, p := range targets.Values() {
		s.executors[p].QueueFinish(ts, status, func(partition int) {
			if done != nil {
				done(partition)
			}
			if remaining.Dec() == 0 && !status.NeedsRestart() {
				s.DeleteTransaction(ts.ID, status)
			}
		})
	}
}

func (s *Site) ResponseSend(ts *txn.Transaction, resp *txn.Response) {
	ts.Respond(resp)
}

func (s *Site) TransactionRequeue(ts *txn.Transaction, status fault.Status) {
	if ts.Restarts() >= maxRestarts {
		log.Warn("giving up on txn after repeated restarts",
			zap.Int64("txn", ts.ID),
			zap.Int("restarts", ts.Restarts()),
			zap.Stringer("status", status))
		ts.Respond(&txn.Response{
			TxnID:        ts.ID,
			ClientHandle: ts.ClientHandle,
			Status:       fault.StatusAbortUnexpected,
			Error:        "transaction restarted too many times",
		})
		s.DeleteTransaction(ts.ID, fault.StatusAbortUnexpected)
		return
	}
	ts.PrepareRestart()
	log.Debug("requeueing txn",
		zap.Int64("txn", ts.ID),
		zap.Stringer("status", status),
		zap.Int("restart", ts.Restarts()),
		zap.Ints("predicted", ts.PredictTouched.Values()))
	cb := s.lockReleased(ts)
	for _, p := range ts.PredictTouched.Values() {
		s.executors[p].QueueInitializeTxn(ts, cb)
	}
}

func (s *Site) NewTransaction(clientHandle int64, procName string, params [][]byte, respond func(*txn.Response)) error {
	proc, err := s.cat.Procedure(procName)
	if err != nil {
		return err
	}
	predict := s.predictPartitions(proc, params)
	base := predict.Values()[0]
	ts := txn.New(s.idGen.Next(), clientHandle, base, proc, params, predict, respond)

	s.mu.Lock()
	s.txns[ts.ID] = ts
	s.mu.Unlock()

	cb := s.lockReleased(ts)
	for _, p := range predict.Values() {
		s.executors[p].QueueInitializeTxn(ts, cb)
	}
	return nil
}

func (s *Site) DeleteTransaction(id int64, status fault.Status) {
	s.mu.Lock()
	delete(s.txns, id)
	s.mu.Unlock()
}

func (s *Site) ShutdownCluster(err error) {
	log.Error("cluster shutdown requested", zap.Error(err))
	if !s.shuttingDown.CAS(false, true) {
		return
	}
	for _, ex := range s.executors {
		ex.RequestShutdown()
	}
}

// TransactionPrefetchResult records a result a remote site computed ahead
// of time for a txn, so a later batch can skip the remote round.
func (s *Site) TransactionPrefetchResult(ts *txn.Transaction, partition int, fragmentID int32, paramsHash uint64, rs *storage.ResultSet) {
	ts.AddPrefetchResult(fragmentID, partition, paramsHash, rs)
}

// OfferStats implements executor.StatsSink.
func (s *Site) OfferStats(partition int, stats *storage.ResultSet) {
	s.stats.offer(statsTask{partition: partition, stats: stats})
}
