package storage

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/oltp-incubator/tinyoltp/oltp/fault"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type memTable struct {
	rows    map[string][]byte
	evicted map[string]struct{}
}

func newMemTable() *memTable {
	return &memTable{
		rows:    make(map[string][]byte),
		evicted: make(map[string]struct{}),
	}
}

// undoOp is the inverse of one row write.
type undoOp struct {
	table   string
	key     string
	prev    []byte
	existed bool
}

// forwardOp is the row write itself, kept so durable backends can apply
// committed tokens in order.
type forwardOp struct {
	table   string
	key     string
	value   []byte
	deleted bool
}

type undoRecord struct {
	token   int64
	undos   []undoOp
	forward []forwardOp
}

// MemEngine is an in-memory storage engine with token-based undo. It is
// thread-confined to its owning executor.
type MemEngine struct {
	partitionID int
	tables      map[string]*memTable

	// outstanding undo records in ascending token order
	undoLog      []*undoRecord
	lastReleased int64

	stash DependencySet

	lastTickTS  int64
	lastTickTxn int64

	// Trace observes ReleaseUndoToken/UndoUndoToken calls. Only used for
	// testing.
	Trace func(op string, token int64)

	// committed sink for durable backends; nil for the pure memory engine
	sink func(ops []forwardOp) error
}

func NewMemEngine(partitionID int) *MemEngine {
	return &MemEngine{
		partitionID:  partitionID,
		tables:       make(map[string]*memTable),
		lastReleased: NullUndoToken,
	}
}

func (e *MemEngine) LoadCatalog(tables []string) error {
	for _, name := range tables {
		if _, ok := e.tables[name]; !ok {
			e.tables[name] = newMemTable()
		}
	}
	return nil
}

func (e *MemEngine) Tick(ts int64, lastCommittedTxn int64) {
	e.lastTickTS = ts
	e.lastTickTxn = lastCommittedTxn
}

func (e *MemEngine) table(name string) (*memTable, error) {
	t, ok := e.tables[name]
	if !ok {
		return nil, errors.Errorf("unknown table %q at partition %d", name, e.partitionID)
	}
	return t, nil
}

// EvictKey marks a row as evicted by the anti-cache. Reads of it abort with
// an evicted-access error until UnevictKey is called.
func (e *MemEngine) EvictKey(table string, key []byte) {
	if t, ok := e.tables[table]; ok {
		t.evicted[string(key)] = struct{}{}
	}
}

func (e *MemEngine) UnevictKey(table string, key []byte) {
	if t, ok := e.tables[table]; ok {
		delete(t.evicted, string(key))
	}
}

// roundOps implements RowOps for one execution round, recording undo under
// the round's token.
type roundOps struct {
	e     *MemEngine
	txnID int64
	rec   *undoRecord // nil when undo logging is disabled for the round
}

func (r *roundOps) Get(table string, key []byte) ([]byte, error) {
	t, err := r.e.table(table)
	if err != nil {
		return nil, err
	}
	if _, ok := t.evicted[string(key)]; ok {
		return nil, &fault.EvictedAccessError{TxnID: r.txnID, Table: table}
	}
	val, ok := t.rows[string(key)]
	if !ok {
		return nil, nil
	}
	return val, nil
}

func (r *roundOps) Put(table string, key, value []byte) error {
	t, err := r.e.table(table)
	if err != nil {
		return err
	}
	k := string(key)
	if r.rec != nil {
		prev, existed := t.rows[k]
		r.rec.undos = append(r.rec.undos, undoOp{table: table, key: k, prev: prev, existed: existed})
	}
	r.recForward(table, k, value, false)
	t.rows[k] = value
	return nil
}

func (r *roundOps) Delete(table string, key []byte) error {
	t, err := r.e.table(table)
	if err != nil {
		return err
	}
	k := string(key)
	prev, existed := t.rows[k]
	if !existed {
		return nil
	}
	if r.rec != nil {
		r.rec.undos = append(r.rec.undos, undoOp{table: table, key: k, prev: prev, existed: true})
	}
	r.recForward(table, k, nil, true)
	delete(t.rows, k)
	return nil
}

func (r *roundOps) recForward(table, key string, value []byte, deleted bool) {
	if r.rec != nil {
		r.rec.forward = append(r.rec.forward, forwardOp{table: table, key: key, value: value, deleted: deleted})
	} else if r.e.sink != nil {
		// No undo logging for this round, so the write is committed the
		// moment it happens.
		_ = r.e.sink([]forwardOp{{table: table, key: key, value: value, deleted: deleted}})
	}
}

func (r *roundOps) Scan(table string, prefix []byte, limit int) ([][]byte, error) {
	t, err := r.e.table(table)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	rows := make([][]byte, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, t.rows[k])
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

// recordFor returns the outstanding undo record for token, creating it in
// token order if needed. A dtxn reuses its token across rounds, so the
// record is not always the newest one.
func (e *MemEngine) recordFor(token int64) (*undoRecord, error) {
	if token <= e.lastReleased {
		return nil, fault.NewServerFault(0, "undo token %d was already committed (last released %d)", token, e.lastReleased)
	}
	for i := len(e.undoLog) - 1; i >= 0; i-- {
		if e.undoLog[i].token == token {
			return e.undoLog[i], nil
		}
		if e.undoLog[i].token < token {
			rec := &undoRecord{token: token}
			e.undoLog = append(e.undoLog, nil)
			copy(e.undoLog[i+2:], e.undoLog[i+1:])
			e.undoLog[i+1] = rec
			return rec, nil
		}
	}
	rec := &undoRecord{token: token}
	e.undoLog = append([]*undoRecord{rec}, e.undoLog...)
	return rec, nil
}

func (e *MemEngine) ExecutePlanFragments(ctx *FragmentContext) (DependencySet, error) {
	if len(ctx.FragmentIDs) != len(ctx.Params) {
		return nil, errors.Errorf("fragment/param count mismatch: %d vs %d", len(ctx.FragmentIDs), len(ctx.Params))
	}
	var rec *undoRecord
	if ctx.UndoToken != DisableUndoToken {
		if ctx.UndoToken == NullUndoToken {
			return nil, fault.NewServerFault(ctx.TxnID, "executing with an uninitialized undo token")
		}
		var err error
		rec, err = e.recordFor(ctx.UndoToken)
		if err != nil {
			return nil, err
		}
	}
	inputs := ctx.InputDeps
	if inputs == nil {
		inputs = e.stash
	}
	e.stash = nil

	ops := &roundOps{e: e, txnID: ctx.TxnID, rec: rec}
	out := make(DependencySet, len(ctx.FragmentIDs))
	for i, id := range ctx.FragmentIDs {
		fn, err := lookupFragment(id)
		if err != nil {
			return nil, err
		}
		rs, err := fn(ops, ctx.Params[i], inputs)
		if err != nil {
			return nil, err
		}
		depID := int32(i)
		if i < len(ctx.OutputDepIDs) {
			depID = ctx.OutputDepIDs[i]
		}
		out[depID] = rs
	}
	return out, nil
}

func (e *MemEngine) ReleaseUndoToken(token int64) error {
	if e.Trace != nil {
		e.Trace("release", token)
	}
	if token == DisableUndoToken || token == NullUndoToken {
		return fault.NewServerFault(0, "cannot release sentinel undo token %d", token)
	}
	if token <= e.lastReleased {
		return fault.NewServerFault(0, "commit tokens must be strictly increasing: %d after %d", token, e.lastReleased)
	}
	keep := e.undoLog[:0]
	var committed []forwardOp
	for _, rec := range e.undoLog {
		if rec.token <= token {
			committed = append(committed, rec.forward...)
		} else {
			keep = append(keep, rec)
		}
	}
	e.undoLog = keep
	e.lastReleased = token
	if e.sink != nil && len(committed) > 0 {
		if err := e.sink(committed); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (e *MemEngine) UndoUndoToken(token int64) error {
	if e.Trace != nil {
		e.Trace("undo", token)
	}
	if token == DisableUndoToken || token == NullUndoToken {
		return fault.NewServerFault(0, "cannot roll back sentinel undo token %d", token)
	}
	if token <= e.lastReleased {
		return fault.NewServerFault(0, "rolling back undo token %d that was already committed (last released %d)", token, e.lastReleased)
	}
	// Aborts arrive LIFO: everything at or above the token unwinds in
	// reverse order.
	for i := len(e.undoLog) - 1; i >= 0; i-- {
		rec := e.undoLog[i]
		if rec.token < token {
			break
		}
		for j := len(rec.undos) - 1; j >= 0; j-- {
			op := rec.undos[j]
			t := e.tables[op.table]
			if t == nil {
				continue
			}
			if op.existed {
				t.rows[op.key] = op.prev
			} else {
				delete(t.rows, op.key)
			}
		}
		e.undoLog = e.undoLog[:i]
	}
	return nil
}

func (e *MemEngine) GetStats(selector StatsSelector, tables []string, ts int64) *ResultSet {
	if len(tables) == 0 {
		for name := range e.tables {
			tables = append(tables, name)
		}
		sort.Strings(tables)
	}
	rs := &ResultSet{}
	for _, name := range tables {
		t, ok := e.tables[name]
		if !ok {
			continue
		}
		size := 0
		for k, v := range t.rows {
			size += len(k) + len(v)
		}
		rs.Rows = append(rs.Rows, []byte(fmt.Sprintf("%s|%d|%d|%d", name, len(t.rows), size, ts)))
	}
	return rs
}

func (e *MemEngine) LoadTable(table string, rows [][2][]byte, txnID, lastCommitted, undoToken int64, allowExport bool) error {
	var rec *undoRecord
	if undoToken != DisableUndoToken && undoToken != NullUndoToken {
		var err error
		rec, err = e.recordFor(undoToken)
		if err != nil {
			return err
		}
	}
	ops := &roundOps{e: e, txnID: txnID, rec: rec}
	for _, kv := range rows {
		if err := ops.Put(table, kv[0], kv[1]); err != nil {
			return err
		}
	}
	log.Debug("bulk loaded table",
		zap.Int("partition", e.partitionID),
		zap.String("table", table),
		zap.Int("rows", len(rows)))
	return nil
}

func (e *MemEngine) StashWorkUnitDependencies(deps DependencySet) {
	e.stash = deps
}

// OutstandingTokens returns the outstanding (uncommitted) undo tokens in
// ascending order. Only used for testing and debug dumps.
func (e *MemEngine) OutstandingTokens() []int64 {
	tokens := make([]int64, 0, len(e.undoLog))
	for _, rec := range e.undoLog {
		tokens = append(tokens, rec.token)
	}
	return tokens
}

// GetRow reads a committed-or-live row directly. Only used for testing.
func (e *MemEngine) GetRow(table string, key []byte) []byte {
	t, ok := e.tables[table]
	if !ok {
		return nil
	}
	return t.rows[string(key)]
}

func (e *MemEngine) Close() error { return nil }
