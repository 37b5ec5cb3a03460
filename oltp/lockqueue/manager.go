package lockqueue

import (
	"sync"

	"github.com/oltp-incubator/tinyoltp/oltp/fault"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// ReleaseCallback fires once when a txn's lock-queue entry at a partition
// is resolved: released to the executor, or aborted.
type ReleaseCallback func(partition int, status fault.Status)

// Manager owns the per-partition lock queues of one site. Txn ids double
// as the global sequence: every queue releases txns in id order, which
// gives a deadlock-free cross-partition acquisition order.
type Manager struct {
	queues []*PartitionQueue

	mu        sync.Mutex
	callbacks map[int64]map[int]ReleaseCallback
}

func NewManager(partitions int) *Manager {
	m := &Manager{
		queues:    make([]*PartitionQueue, partitions),
		callbacks: make(map[int64]map[int]ReleaseCallback),
	}
	for p := range m.queues {
		m.queues[p] = NewPartitionQueue(p)
	}
	return m
}

// Queue exposes one partition's queue; the owning executor hands it to its
// speculative scheduler.
func (m *Manager) Queue(partition int) *PartitionQueue {
	return m.queues[partition]
}

// LockQueueInsert adds the txn to a partition's lock queue.
func (m *Manager) LockQueueInsert(ts *txn.Transaction, partition int, cb ReleaseCallback) {
	if cb != nil {
		m.mu.Lock()
		byPart, ok := m.callbacks[ts.ID]
		if !ok {
			byPart = make(map[int]ReleaseCallback)
			m.callbacks[ts.ID] = byPart
		}
		byPart[partition] = cb
		m.mu.Unlock()
	}
	m.queues[partition].Insert(ts)
}

func (m *Manager) takeCallback(id int64, partition int) ReleaseCallback {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPart, ok := m.callbacks[id]
	if !ok {
		return nil
	}
	cb := byPart[partition]
	delete(byPart, partition)
	if len(byPart) == 0 {
		delete(m.callbacks, id)
	}
	return cb
}

// CheckLockQueue releases the next txn in global order for the partition,
// or returns nil. Non-blocking; called from the executor loop.
func (m *Manager) CheckLockQueue(partition int) *txn.Transaction {
	ts := m.queues[partition].Poll()
	if ts == nil {
		return nil
	}
	ts.MarkReleased(partition)
	if cb := m.takeCallback(ts.ID, partition); cb != nil {
		cb(partition, fault.StatusOK)
	}
	return ts
}

// NotifyReleased records that the speculative scheduler pulled the txn out
// of the queue directly.
func (m *Manager) NotifyReleased(ts *txn.Transaction, partition int) {
	if cb := m.takeCallback(ts.ID, partition); cb != nil {
		cb(partition, fault.StatusOK)
	}
}

// LockQueueFinished tells the manager a txn is done at a partition. If the
// txn is still queued there (it never held the lock locally), it is
// dropped and its callback aborted.
func (m *Manager) LockQueueFinished(ts *txn.Transaction, status fault.Status, partition int) {
	if m.queues[partition].Remove(ts.ID) {
		log.Debug("dropped queued txn on finish",
			zap.Int64("txn", ts.ID),
			zap.Int("partition", partition),
			zap.Stringer("status", status))
	}
	if cb := m.takeCallback(ts.ID, partition); cb != nil {
		cb(partition, status)
	}
}
