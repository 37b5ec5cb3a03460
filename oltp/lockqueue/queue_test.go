package lockqueue

import (
	"testing"

	"github.com/oltp-incubator/tinyoltp/oltp/catalog"
	"github.com/oltp-incubator/tinyoltp/oltp/fault"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProc = &catalog.Procedure{ID: 1, Name: "TestProc"}

func newTxn(id int64, parts ...int) *txn.Transaction {
	return txn.New(id, 0, parts[0], testProc, nil, txn.NewPartitionSet(parts...), nil)
}

func TestQueueGlobalOrder(t *testing.T) {
	q := NewPartitionQueue(0)
	for _, id := range []int64{30, 10, 20} {
		q.Insert(newTxn(id, 0))
	}
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, int64(10), q.Poll().ID)
	assert.Equal(t, int64(20), q.Poll().ID)
	assert.Equal(t, int64(30), q.Poll().ID)
	assert.Nil(t, q.Poll())
}

func TestQueueRemoveAndContains(t *testing.T) {
	q := NewPartitionQueue(0)
	q.Insert(newTxn(5, 0))
	q.Insert(newTxn(6, 0))
	assert.True(t, q.Contains(5))
	assert.True(t, q.Remove(5))
	assert.False(t, q.Remove(5))
	assert.False(t, q.Contains(5))
	assert.Equal(t, int64(6), q.Peek().ID)
}

func TestQueueGenerationTracksChanges(t *testing.T) {
	q := NewPartitionQueue(0)
	g0 := q.Generation()
	q.Insert(newTxn(1, 0))
	g1 := q.Generation()
	assert.NotEqual(t, g0, g1)
	q.Poll()
	assert.NotEqual(t, g1, q.Generation())
}

func TestQueueAscendFromPivot(t *testing.T) {
	q := NewPartitionQueue(0)
	for id := int64(1); id <= 5; id++ {
		q.Insert(newTxn(id, 0))
	}
	var seen []int64
	q.Ascend(2, func(ts *txn.Transaction) bool {
		seen = append(seen, ts.ID)
		return len(seen) < 2
	})
	assert.Equal(t, []int64{3, 4}, seen)
}

func TestManagerReleaseCallbacks(t *testing.T) {
	m := NewManager(2)
	ts := newTxn(1, 0, 1)

	var got []fault.Status
	cb := func(partition int, status fault.Status) {
		got = append(got, status)
	}
	m.LockQueueInsert(ts, 0, cb)
	m.LockQueueInsert(ts, 1, cb)

	released := m.CheckLockQueue(0)
	require.NotNil(t, released)
	assert.Equal(t, ts.ID, released.ID)
	assert.True(t, ts.IsMarkedReleased(0))
	require.Len(t, got, 1)
	assert.Equal(t, fault.StatusOK, got[0])

	// Finished at partition 1 without ever holding the lock there.
	m.LockQueueFinished(ts, fault.StatusAbortMispredict, 1)
	require.Len(t, got, 2)
	assert.Equal(t, fault.StatusAbortMispredict, got[1])
	assert.False(t, m.Queue(1).Contains(ts.ID))
}

func TestManagerEmptyPoll(t *testing.T) {
	m := NewManager(1)
	assert.Nil(t, m.CheckLockQueue(0))
}
