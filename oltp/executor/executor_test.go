package executor

import (
	"sync"
	"testing"

	"github.com/oltp-incubator/tinyoltp/oltp/catalog"
	"github.com/oltp-incubator/tinyoltp/oltp/config"
	"github.com/oltp-incubator/tinyoltp/oltp/estimator"
	"github.com/oltp-incubator/tinyoltp/oltp/executor/message"
	"github.com/oltp-incubator/tinyoltp/oltp/fault"
	"github.com/oltp-incubator/tinyoltp/oltp/lockqueue"
	"github.com/oltp-incubator/tinyoltp/oltp/specexec"
	"github.com/oltp-incubator/tinyoltp/oltp/storage"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
	"github.com/pingcap/errors"
)

// Test procedures over two tables. The cross-partition writer exists to
// trip the misprediction check.
var (
	testReadProc = &catalog.Procedure{
		ID: 1, Name: "ReadAccount", ReadOnly: true,
		ReadTables: []string{"accounts"},
		Run: func(exec catalog.BatchExecutor, params [][]byte) ([]*storage.ResultSet, error) {
			return exec.ExecuteBatch([]catalog.Statement{{
				FragmentID: storage.FragGetRow,
				Partition:  exec.BasePartition(),
				Params:     [][]byte{[]byte("accounts"), params[0]},
				ReadOnly:   true,
			}})
		},
	}
	testWriteProc = &catalog.Procedure{
		ID: 2, Name: "WriteAccount",
		ReadTables:  []string{"accounts"},
		WriteTables: []string{"accounts"},
		Run: func(exec catalog.BatchExecutor, params [][]byte) ([]*storage.ResultSet, error) {
			return exec.ExecuteBatch([]catalog.Statement{{
				FragmentID: storage.FragPutRow,
				Partition:  exec.BasePartition(),
				Params:     [][]byte{[]byte("accounts"), params[0], params[1]},
			}})
		},
	}
	testOrderProc = &catalog.Procedure{
		ID: 3, Name: "WriteOrder",
		ReadTables:  []string{"orders"},
		WriteTables: []string{"orders"},
		Run: func(exec catalog.BatchExecutor, params [][]byte) ([]*storage.ResultSet, error) {
			return exec.ExecuteBatch([]catalog.Statement{{
				FragmentID: storage.FragPutRow,
				Partition:  exec.BasePartition(),
				Params:     [][]byte{[]byte("orders"), params[0], params[1]},
			}})
		},
	}
	testFailProc = &catalog.Procedure{
		ID: 4, Name: "FailWrite",
		WriteTables: []string{"accounts"},
		Run: func(exec catalog.BatchExecutor, params [][]byte) ([]*storage.ResultSet, error) {
			if _, err := exec.ExecuteBatch([]catalog.Statement{{
				FragmentID: storage.FragPutRow,
				Partition:  exec.BasePartition(),
				Params:     [][]byte{[]byte("accounts"), params[0], params[0]},
			}}); err != nil {
				return nil, err
			}
			return nil, errors.New("constraint violated")
		},
	}
	testCrossProc = &catalog.Procedure{
		ID: 5, Name: "CrossWrite",
		WriteTables: []string{"accounts"},
		Run: func(exec catalog.BatchExecutor, params [][]byte) ([]*storage.ResultSet, error) {
			return exec.ExecuteBatch([]catalog.Statement{{
				FragmentID: storage.FragPutRow,
				Partition:  1,
				Params:     [][]byte{[]byte("accounts"), params[0], params[0]},
			}})
		},
	}
	testSysProc = &catalog.Procedure{ID: 6, Name: "Quiesce", SysProc: true}
)

func testCatalog(t *testing.T) *catalog.Catalog {
	cat := catalog.New()
	cat.AddTable("accounts")
	cat.AddTable("orders")
	for _, proc := range []*catalog.Procedure{testReadProc, testWriteProc, testOrderProc, testFailProc, testCrossProc, testSysProc} {
		if err := cat.AddProcedure(proc); err != nil {
			t.Fatal(err)
		}
	}
	return cat
}

type requeueRecord struct {
	ts     *txn.Transaction
	status fault.Status
}

// fakeCluster records every interaction the executor has with the outside
// world.
type fakeCluster struct {
	mu        sync.Mutex
	responses []*txn.Response
	requeued  []requeueRecord
	prepares  []txn.PartitionSet
	finishes  []fault.Status
	deleted   []int64
	shutdown  []error

	workHandler func(partition int, ts *txn.Transaction, frag *storage.WorkFragment, params [][][]byte, cb *message.Callback)
}

func (c *fakeCluster) SiteOf(partition int) int { return 0 }
func (c *fakeCluster) LocalSiteID() int         { return 0 }

func (c *fakeCluster) QueueWork(partition int, ts *txn.Transaction, frag *storage.WorkFragment, params [][][]byte, cb *message.Callback) {
	if c.workHandler != nil {
		c.workHandler(partition, ts, frag, params, cb)
	}
}

func (c *fakeCluster) TransactionWork(ts *txn.Transaction, targetSite int, frags []*storage.WorkFragment, params [][][]byte, cb *message.Callback) {
	if c.workHandler != nil {
		for _, frag := range frags {
			c.workHandler(frag.PartitionID, ts, frag, params, cb)
		}
	}
}

func (c *fakeCluster) TransactionPrepare(ts *txn.Transaction, partitions txn.PartitionSet, done func(partition int)) {
	c.mu.Lock()
	c.prepares = append(c.prepares, partitions)
	c.mu.Unlock()
	for _, p := range partitions.Values() {
		done(p)
	}
}

func (c *fakeCluster) TransactionFinish(ts *txn.Transaction, status fault.Status, done func(partition int)) {
	c.mu.Lock()
	c.finishes = append(c.finishes, status)
	c.mu.Unlock()
}

func (c *fakeCluster) ResponseSend(ts *txn.Transaction, resp *txn.Response) {
	c.mu.Lock()
	c.responses = append(c.responses, resp)
	c.mu.Unlock()
}

func (c *fakeCluster) TransactionRequeue(ts *txn.Transaction, status fault.Status) {
	c.mu.Lock()
	c.requeued = append(c.requeued, requeueRecord{ts: ts, status: status})
	c.mu.Unlock()
	ts.PrepareRestart()
}

func (c *fakeCluster) NewTransaction(clientHandle int64, procName string, params [][]byte, respond func(*txn.Response)) error {
	return nil
}

func (c *fakeCluster) DeleteTransaction(id int64, status fault.Status) {
	c.mu.Lock()
	c.deleted = append(c.deleted, id)
	c.mu.Unlock()
}

func (c *fakeCluster) ShutdownCluster(err error) {
	c.mu.Lock()
	c.shutdown = append(c.shutdown, err)
	c.mu.Unlock()
}

type testRig struct {
	p      *Executor
	fc     *fakeCluster
	engine *storage.MemEngine
	qm     *lockqueue.Manager
	nextID int64
}

func newTestRig(t *testing.T, cfg *config.Config) *testRig {
	return newTestRigAt(t, cfg, 0)
}

func newTestRigAt(t *testing.T, cfg *config.Config, partition int) *testRig {
	engine := storage.NewMemEngine(partition)
	if err := engine.LoadCatalog([]string{"accounts", "orders"}); err != nil {
		t.Fatal(err)
	}
	qm := lockqueue.NewManager(2)
	fc := &fakeCluster{}
	p := New(partition, cfg, testCatalog(t), engine, fc, qm, estimator.New(),
		specexec.NewTableConflictChecker(), txn.NewPartitionSet(0, 1))
	return &testRig{p: p, fc: fc, engine: engine, qm: qm, nextID: int64(partition) * 1000}
}

func (r *testRig) newTxn(proc *catalog.Procedure, params [][]byte, parts ...int) *txn.Transaction {
	r.nextID++
	return txn.New(r.nextID, r.nextID, parts[0], proc, params, txn.NewPartitionSet(parts...), nil)
}

// runSP releases and executes a single-partition txn inline.
func (r *testRig) runSP(t *testing.T, ts *txn.Transaction) {
	ts.MarkReleased(0)
	if err := r.p.executeTransaction(ts); err != nil {
		t.Fatalf("executeTransaction(%s): %v", ts, err)
	}
}

// runSpec releases and executes a txn speculatively under the given stall
// point.
func (r *testRig) runSpec(t *testing.T, ts *txn.Transaction, spec txn.SpeculationType) {
	ts.MarkReleased(0)
	ts.SetSpeculative(spec)
	if err := r.p.executeTransaction(ts); err != nil {
		t.Fatalf("executeTransaction(%s): %v", ts, err)
	}
}

// deliverFragment synthesizes one work-fragment round for a dtxn at this
// partition, the way a remote base partition would send it.
func (r *testRig) deliverFragment(t *testing.T, ts *txn.Transaction, readOnly bool, key string) *message.Callback {
	var frag *storage.WorkFragment
	var params [][][]byte
	if readOnly {
		frag = &storage.WorkFragment{
			PartitionID: 0,
			FragmentIDs: []int32{storage.FragGetRow},
			OutputDepIDs: []int32{0},
			ReadOnly:    true,
		}
		params = [][][]byte{{[]byte("accounts"), []byte(key)}}
	} else {
		frag = &storage.WorkFragment{
			PartitionID: 0,
			FragmentIDs: []int32{storage.FragPutRow},
			OutputDepIDs: []int32{0},
		}
		params = [][][]byte{{[]byte("accounts"), []byte(key), []byte("dtxn")}}
	}
	cb := message.NewCallback()
	err := r.p.dispatch(message.NewTxnMsg(message.MsgTypeWorkFragment, ts, &message.MsgWorkFragment{
		Fragment: frag,
		Params:   params,
		Callback: cb,
	}))
	if err != nil {
		t.Fatalf("dispatch work fragment: %v", err)
	}
	return cb
}

func newInitializeMsg(proc string, respond func(*txn.Response)) message.Msg {
	return message.NewMsg(message.MsgTypeInitializeRequest, &message.MsgInitializeRequest{
		ClientHandle: 99,
		ProcName:     proc,
		Respond:      respond,
	})
}

func (r *testRig) finishDtxn(t *testing.T, ts *txn.Transaction, status fault.Status) {
	var acked []int
	err := r.p.finishDistributedTransaction(ts, status, func(p int) { acked = append(acked, p) })
	if err != nil {
		t.Fatalf("finishDistributedTransaction: %v", err)
	}
	if len(acked) != 1 || acked[0] != 0 {
		t.Fatalf("finish ack = %v, want [0]", acked)
	}
}
