package undo

import (
	"testing"

	"github.com/oltp-incubator/tinyoltp/oltp/catalog"
	"github.com/oltp-incubator/tinyoltp/oltp/fault"
	"github.com/oltp-incubator/tinyoltp/oltp/storage"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProc = &catalog.Procedure{ID: 1, Name: "TestProc"}

func newTxn(id int64, parts ...int) *txn.Transaction {
	return txn.New(id, 0, parts[0], testProc, nil, txn.NewPartitionSet(parts...), nil)
}

type fixedEstimator struct {
	abortable bool
	readOnly  bool
}

func (e fixedEstimator) Abortable(*txn.Transaction) bool             { return e.abortable }
func (e fixedEstimator) ReadOnlyRemainder(*txn.Transaction, int) bool { return e.readOnly }

func TestTokenBaseAndMonotonicity(t *testing.T) {
	m := NewManager(3, false, false, nil)
	first := m.Next()
	assert.Equal(t, int64(3_000_001), first)
	prev := first
	for i := 0; i < 100; i++ {
		tok := m.Next()
		assert.True(t, tok > prev)
		prev = tok
	}
}

func TestSpeculativeAlwaysFresh(t *testing.T) {
	m := NewManager(0, false, false, nil)
	ts := newTxn(1, 0)
	ts.SetSpeculative(txn.SpecSP1Local)
	tok1 := m.CalculateForRound(ts, true)
	ts.SetLastUndoToken(0, tok1)
	tok2 := m.CalculateForRound(ts, false)
	assert.NotEqual(t, storage.DisableUndoToken, tok1)
	assert.True(t, tok2 > tok1)
}

func TestReadOnlyRounds(t *testing.T) {
	m := NewManager(0, false, false, nil)
	ts := newTxn(1, 0)

	// No prior token: run unlogged.
	assert.Equal(t, storage.DisableUndoToken, m.CalculateForRound(ts, true))

	// With a prior token: reuse it.
	tok := m.CalculateForRound(ts, false)
	ts.SetLastUndoToken(0, tok)
	assert.Equal(t, tok, m.CalculateForRound(ts, true))
}

func TestWriteRounds(t *testing.T) {
	m := NewManager(0, false, false, nil)

	// First write round of a single-partition txn allocates.
	sp := newTxn(1, 0)
	tok := m.CalculateForRound(sp, false)
	assert.Equal(t, int64(1), tok)
	sp.SetLastUndoToken(0, tok)

	// Later write rounds of a single-partition txn reuse.
	assert.Equal(t, tok, m.CalculateForRound(sp, false))

	// Multi-partition txns always allocate fresh tokens.
	mp := newTxn(2, 0, 1)
	tok1 := m.CalculateForRound(mp, false)
	mp.SetLastUndoToken(0, tok1)
	tok2 := m.CalculateForRound(mp, false)
	assert.True(t, tok2 > tok1)
}

func TestForceUndoLogging(t *testing.T) {
	m := NewManager(0, true, false, nil)
	ts := newTxn(1, 0)
	tok := m.CalculateForRound(ts, false)
	ts.SetLastUndoToken(0, tok)
	assert.True(t, m.CalculateForRound(ts, false) > tok)
}

func TestBoldNoUndoPath(t *testing.T) {
	// With the estimator declaring the remainder non-abortable and
	// read-only, a later write round runs unlogged.
	m := NewManager(0, false, true, fixedEstimator{abortable: false, readOnly: true})
	ts := newTxn(1, 0)
	tok := m.CalculateForRound(ts, false)
	ts.SetLastUndoToken(0, tok)
	assert.Equal(t, storage.DisableUndoToken, m.CalculateForRound(ts, false))

	// An abortable remainder keeps logging on.
	m2 := NewManager(0, false, true, fixedEstimator{abortable: true, readOnly: true})
	ts2 := newTxn(2, 0)
	tok2 := m2.CalculateForRound(ts2, false)
	ts2.SetLastUndoToken(0, tok2)
	assert.Equal(t, tok2, m2.CalculateForRound(ts2, false))
}

func TestChosenTokenNeverBelowNewestAllocation(t *testing.T) {
	m := NewManager(0, false, false, nil)
	ts := newTxn(1, 0)
	tok := m.CalculateForRound(ts, false)
	ts.SetLastUndoToken(0, tok)

	// Another txn advances the counter.
	other := newTxn(2, 0)
	other.SetSpeculative(txn.SpecSP1Local)
	m.CalculateForRound(other, false)

	// The first txn's reuse is clamped up to the newest allocation.
	assert.Equal(t, m.Last(), m.CalculateForRound(ts, false))
}

func TestCommitFrontier(t *testing.T) {
	m := NewManager(0, false, false, nil)
	t1 := m.Next()
	t2 := m.Next()
	t3 := m.Next()

	require.NoError(t, m.MarkCommitted(t1))
	assert.Equal(t, t1, m.LastCommitted())

	// Strictly increasing.
	err := m.MarkCommitted(t1)
	require.Error(t, err)
	assert.True(t, fault.IsServerFault(err))

	require.NoError(t, m.MarkCommitted(t3))

	// Rolling back a committed token is fatal.
	err = m.CheckRollback(t2)
	require.Error(t, err)
	assert.True(t, fault.IsServerFault(err))

	// Unallocated tokens cannot commit.
	err = m.MarkCommitted(t3 + 100)
	require.Error(t, err)
}
