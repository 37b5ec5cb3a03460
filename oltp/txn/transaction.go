package txn

import (
	"fmt"
	"sync"

	"github.com/oltp-incubator/tinyoltp/oltp/catalog"
	"github.com/oltp-incubator/tinyoltp/oltp/fault"
	"github.com/oltp-incubator/tinyoltp/oltp/storage"
	"go.uber.org/atomic"
)

// SpeculationType records which stall point of the current dtxn a
// speculative txn was scheduled into.
type SpeculationType int

const (
	SpecNone SpeculationType = iota
	// No dtxn, or the dtxn has not started executing at this partition.
	SpecIdle
	// Dtxn is local and mid-execution.
	SpecSP1Local
	// Dtxn is remote and has not run here yet.
	SpecSP2RemoteBefore
	// Dtxn is remote and has already run here.
	SpecSP2RemoteAfter
	// Dtxn is local and prepared here.
	SpecSP3Local
	// Dtxn is remote and prepared here.
	SpecSP3Remote
)

var specTypeNames = map[SpeculationType]string{
	SpecNone:            "NONE",
	SpecIdle:            "IDLE",
	SpecSP1Local:        "SP1_LOCAL",
	SpecSP2RemoteBefore: "SP2_REMOTE_BEFORE",
	SpecSP2RemoteAfter:  "SP2_REMOTE_AFTER",
	SpecSP3Local:        "SP3_LOCAL",
	SpecSP3Remote:       "SP3_REMOTE",
}

func (t SpeculationType) String() string {
	if name, ok := specTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// Response is the client-visible outcome of one txn attempt.
type Response struct {
	TxnID        int64
	ClientHandle int64
	Status       fault.Status
	Results      []*storage.ResultSet
	Error        string
}

// partState is the per-partition slice of a txn's state. A txn that spans
// partitions has one of these at every partition it touched.
type partState struct {
	executedWork bool
	readOnly     bool
	released     bool
	prepared     bool
	finished     bool
	firstUndo    int64
	lastUndo     int64
}

func newPartState() *partState {
	return &partState{
		readOnly:  true,
		firstUndo: storage.NullUndoToken,
		lastUndo:  storage.NullUndoToken,
	}
}

type prefetchKey struct {
	FragmentID int32
	Partition  int
	ParamsHash uint64
}

// Transaction is the handle for one txn attempt. It is owned by its base
// partition's executor for scheduling, but per-partition marks are touched
// by every executor the txn runs at, so they are guarded by a mutex.
type Transaction struct {
	ID            int64
	ClientHandle  int64
	BasePartition int
	Proc          *catalog.Procedure
	Params        [][]byte

	// PredictTouched is the partition set the planner predicted; it only
	// grows on restarts.
	PredictTouched          PartitionSet
	PredictSinglePartition  bool

	// respond delivers the client response exactly once.
	respond   func(*Response)
	responded atomic.Bool

	mu           sync.Mutex
	parts        map[int]*partState
	touched      PartitionSet
	done         PartitionSet
	specType     SpeculationType
	pendingError error
	aborted      bool
	restarts     int
	prefetch     map[prefetchKey]*storage.ResultSet
	clientResp   *Response
}

func New(id int64, clientHandle int64, basePartition int, proc *catalog.Procedure, params [][]byte, predict PartitionSet, respond func(*Response)) *Transaction {
	single := predict.Len() == 1
	return &Transaction{
		ID:                     id,
		ClientHandle:           clientHandle,
		BasePartition:          basePartition,
		Proc:                   proc,
		Params:                 params,
		PredictTouched:         predict,
		PredictSinglePartition: single,
		respond:                respond,
		parts:                  make(map[int]*partState),
	}
}

func (ts *Transaction) String() string {
	return fmt.Sprintf("%s#%d", ts.Proc.Name, ts.ID)
}

func (ts *Transaction) IsSysProc() bool {
	return ts.Proc.SysProc
}

// Respond delivers the response to the client. Duplicate deliveries are
// dropped; a restarted attempt installs a fresh sender first.
func (ts *Transaction) Respond(resp *Response) {
	if ts.respond == nil {
		return
	}
	if ts.responded.CAS(false, true) {
		ts.respond(resp)
	}
}

func (ts *Transaction) part(p int) *partState {
	st, ok := ts.parts[p]
	if !ok {
		st = newPartState()
		ts.parts[p] = st
	}
	return st
}

// AcceptWork returns a fault if the txn was already finished at p. Once a
// partition has finished a txn, no further work for it is accepted there.
func (ts *Transaction) AcceptWork(p int) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.part(p).finished {
		return fault.NewServerFault(ts.ID, "work arrived for %s after it finished at partition %d", ts, p)
	}
	return nil
}

func (ts *Transaction) MarkExecutedWork(p int) {
	ts.mu.Lock()
	ts.part(p).executedWork = true
	ts.touched = ts.touched.Add(p)
	ts.mu.Unlock()
}

func (ts *Transaction) HasExecutedWork(p int) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.part(p).executedWork
}

// MarkWrite clears the read-only bit for p.
func (ts *Transaction) MarkWrite(p int) {
	ts.mu.Lock()
	ts.part(p).readOnly = false
	ts.mu.Unlock()
}

func (ts *Transaction) IsExecReadOnly(p int) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.part(p).readOnly
}

// SetLastUndoToken records the undo token used for an execution round at p.
// The first non-sentinel token is pinned as the partition's first token.
func (ts *Transaction) SetLastUndoToken(p int, token int64) {
	if token == storage.NullUndoToken || token == storage.DisableUndoToken {
		return
	}
	ts.mu.Lock()
	st := ts.part(p)
	if st.firstUndo == storage.NullUndoToken {
		st.firstUndo = token
	}
	st.lastUndo = token
	ts.mu.Unlock()
}

func (ts *Transaction) FirstUndoToken(p int) int64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.part(p).firstUndo
}

func (ts *Transaction) LastUndoToken(p int) int64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.part(p).lastUndo
}

func (ts *Transaction) MarkReleased(p int) {
	ts.mu.Lock()
	ts.part(p).released = true
	ts.mu.Unlock()
}

func (ts *Transaction) IsMarkedReleased(p int) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.part(p).released
}

// MarkPrepared sets the 2PC prepared bit for p. It reports whether this
// call was the first; repeats are no-ops.
func (ts *Transaction) MarkPrepared(p int) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	st := ts.part(p)
	if st.prepared {
		return false
	}
	st.prepared = true
	return true
}

func (ts *Transaction) IsMarkedPrepared(p int) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.part(p).prepared
}

func (ts *Transaction) MarkFinished(p int) {
	ts.mu.Lock()
	ts.part(p).finished = true
	ts.mu.Unlock()
}

func (ts *Transaction) IsMarkedFinished(p int) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.part(p).finished
}

// NeedsFinish reports whether the engine has unfinished work for this txn
// at p.
func (ts *Transaction) NeedsFinish(p int) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	st := ts.part(p)
	return st.executedWork && !st.finished
}

// SetSpeculative marks the txn as speculatively executed under the given
// stall point.
func (ts *Transaction) SetSpeculative(t SpeculationType) {
	ts.mu.Lock()
	ts.specType = t
	ts.mu.Unlock()
}

func (ts *Transaction) IsSpeculative() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.specType != SpecNone
}

func (ts *Transaction) SpeculationType() SpeculationType {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.specType
}

// SetPendingError records the first error hit during execution; later
// errors are dropped.
func (ts *Transaction) SetPendingError(err error) {
	ts.mu.Lock()
	if ts.pendingError == nil {
		ts.pendingError = err
	}
	ts.mu.Unlock()
}

func (ts *Transaction) PendingError() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.pendingError
}

func (ts *Transaction) MarkAborted() {
	ts.mu.Lock()
	ts.aborted = true
	ts.mu.Unlock()
}

func (ts *Transaction) IsAborted() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.aborted
}

// TouchedPartitions is the set of partitions the txn actually executed
// work at so far.
func (ts *Transaction) TouchedPartitions() PartitionSet {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.touched
}

// MarkTouched records that the txn tried to reach a partition, whether or
// not any work executed there. Restart predictions grow from this set.
func (ts *Transaction) MarkTouched(p int) {
	ts.mu.Lock()
	ts.touched = ts.touched.Add(p)
	ts.mu.Unlock()
}

// MarkDone declares a partition finished early ("done"): the txn promises
// to send no further work there.
func (ts *Transaction) MarkDone(p int) {
	ts.mu.Lock()
	ts.done = ts.done.Add(p)
	ts.mu.Unlock()
}

func (ts *Transaction) DonePartitions() PartitionSet {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.done
}

func (ts *Transaction) Restarts() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.restarts
}

// PrepareRestart resets the attempt-scoped state for a requeue after a
// misprediction or speculative abort. The predicted partition set grows to
// cover everything the failed attempt touched.
func (ts *Transaction) PrepareRestart() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.PredictTouched = ts.PredictTouched.Union(ts.touched)
	ts.PredictSinglePartition = ts.PredictTouched.Len() <= 1
	ts.parts = make(map[int]*partState)
	ts.touched = nil
	ts.done = nil
	ts.specType = SpecNone
	ts.pendingError = nil
	ts.aborted = false
	ts.restarts++
	ts.responded.Store(false)
}

func (ts *Transaction) AddPrefetchResult(fragmentID int32, partition int, paramsHash uint64, rs *storage.ResultSet) {
	ts.mu.Lock()
	if ts.prefetch == nil {
		ts.prefetch = make(map[prefetchKey]*storage.ResultSet)
	}
	ts.prefetch[prefetchKey{fragmentID, partition, paramsHash}] = rs
	ts.mu.Unlock()
}

func (ts *Transaction) PrefetchResult(fragmentID int32, partition int, paramsHash uint64) (*storage.ResultSet, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	rs, ok := ts.prefetch[prefetchKey{fragmentID, partition, paramsHash}]
	return rs, ok
}

// SetClientResponse stashes the response of a committing dtxn until the
// 2PC rounds complete and it can be released.
func (ts *Transaction) SetClientResponse(resp *Response) {
	ts.mu.Lock()
	ts.clientResp = resp
	ts.mu.Unlock()
}

func (ts *Transaction) ClientResponse() *Response {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.clientResp
}

// CheckSpeculativeTokens verifies the invariant that a speculative txn has
// a real (non-disabled) undo token at every partition it executed at.
func (ts *Transaction) CheckSpeculativeTokens() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.specType == SpecNone {
		return nil
	}
	for p, st := range ts.parts {
		if !st.executedWork {
			continue
		}
		if st.lastUndo == storage.DisableUndoToken || st.lastUndo == storage.NullUndoToken {
			return fault.NewServerFault(ts.ID, "speculative %s ran without undo logging at partition %d", ts, p)
		}
	}
	return nil
}

// IDGenerator hands out monotonically increasing txn ids.
type IDGenerator struct {
	next atomic.Int64
}

func (g *IDGenerator) Next() int64 {
	return g.next.Inc()
}
