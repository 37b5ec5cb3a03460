package executor

import (
	"testing"
	"time"

	"github.com/oltp-incubator/tinyoltp/oltp/config"
	"github.com/oltp-incubator/tinyoltp/oltp/executor/message"
	"github.com/oltp-incubator/tinyoltp/oltp/fault"
	"github.com/oltp-incubator/tinyoltp/oltp/storage"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A single-partition-predicted txn that reaches for another partition is
// mispredicted: no commit, one restart, and the new prediction covers the
// observed touched set.
func TestMispredictionRestartsTransaction(t *testing.T) {
	r := newTestRig(t, config.NewTestConfig())

	ts := r.newTxn(testCrossProc, [][]byte{[]byte("k")}, 0)
	require.True(t, ts.PredictSinglePartition)
	r.runSP(t, ts)

	// Not committed anywhere, not answered, exactly one restart.
	assert.Empty(t, r.fc.responses)
	require.Len(t, r.fc.requeued, 1)
	assert.Equal(t, fault.StatusAbortMispredict, r.fc.requeued[0].status)
	assert.Nil(t, r.engine.GetRow("accounts", []byte("k")))

	// The restarted attempt is multi-partition over at least {0, 1}.
	assert.False(t, ts.PredictSinglePartition)
	assert.True(t, ts.PredictTouched.Contains(0))
	assert.True(t, ts.PredictTouched.Contains(1))
}

// A cached prefetch result short-circuits the remote send entirely.
func TestPrefetchSkipsRemoteSend(t *testing.T) {
	r := newTestRig(t, config.NewTestConfig())
	r.fc.workHandler = func(partition int, ts *txn.Transaction, frag *storage.WorkFragment, params [][][]byte, cb *message.Callback) {
		t.Errorf("unexpected remote send to partition %d", partition)
	}

	mp := r.newTxn(testCrossProc, [][]byte{[]byte("k")}, 0, 1)
	hash := paramsHash([][]byte{[]byte("accounts"), []byte("k"), []byte("k")})
	mp.AddPrefetchResult(storage.FragPutRow, 1, hash, &storage.ResultSet{})

	mp.MarkReleased(0)
	require.NoError(t, r.p.executeTransaction(mp))

	// The txn went straight to 2PC with no outstanding work.
	require.Len(t, r.fc.prepares, 1)
	assert.True(t, r.fc.prepares[0].Contains(0))
	assert.True(t, r.fc.prepares[0].Contains(1))
}

// A same-site round trips through the peer executor and back through the
// dependency latch.
func TestSameSiteDispatchRoundTrip(t *testing.T) {
	cfg := config.NewTestConfig()
	r := newTestRig(t, cfg)
	peer := newTestRigAt(t, cfg, 1)

	r.fc.workHandler = func(partition int, ts *txn.Transaction, frag *storage.WorkFragment, params [][][]byte, cb *message.Callback) {
		require.Equal(t, 1, partition)
		require.NoError(t, peer.p.dispatch(message.NewTxnMsg(message.MsgTypeWorkFragment, ts, &message.MsgWorkFragment{
			Fragment: frag,
			Params:   params,
			Callback: cb,
		})))
	}

	mp := r.newTxn(testCrossProc, [][]byte{[]byte("k")}, 0, 1)
	mp.MarkReleased(0)
	require.NoError(t, r.p.executeTransaction(mp))

	// The write landed on the peer and the peer now hosts the dtxn.
	assert.Equal(t, []byte("k"), peer.engine.GetRow("accounts", []byte("k")))
	assert.Equal(t, mp, peer.p.currentDtxn)
	assert.True(t, mp.HasExecutedWork(1))
	assert.False(t, mp.IsExecReadOnly(1))

	// Base partition drove 2PC for both partitions.
	require.Len(t, r.fc.prepares, 1)
	assert.Equal(t, 2, r.fc.prepares[0].Len())
}

// A dispatcher timeout is fatal: the cluster is presumed unhealthy.
func TestDispatchTimeoutIsFatal(t *testing.T) {
	cfg := config.NewTestConfig()
	cfg.WorkQueuePollInterval = config.NewDuration(time.Millisecond)
	cfg.ResponseTimeout = config.NewDuration(20 * time.Millisecond)
	r := newTestRig(t, cfg)
	// No work handler: the remote round never completes.

	mp := r.newTxn(testCrossProc, [][]byte{[]byte("k")}, 0, 1)
	mp.MarkReleased(0)
	err := r.p.executeTransaction(mp)
	require.Error(t, err)
	assert.True(t, fault.IsServerFault(err))
}
