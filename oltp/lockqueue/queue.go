package lockqueue

import (
	"sync"

	"github.com/google/btree"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
)

const btreeDegree = 8

type item struct {
	ts *txn.Transaction
}

func (i item) Less(than btree.Item) bool {
	return i.ts.ID < than.(item).ts.ID
}

// PartitionQueue orders the txns waiting on one partition's lock by txn id,
// which is the global serial order. It is filled by the lock-queue manager
// and drained by the owning executor, so access is mutex-guarded.
type PartitionQueue struct {
	partitionID int

	mu   sync.Mutex
	tree *btree.BTree
	gen  uint64
}

func NewPartitionQueue(partitionID int) *PartitionQueue {
	return &PartitionQueue{
		partitionID: partitionID,
		tree:        btree.New(btreeDegree),
	}
}

func (q *PartitionQueue) Insert(ts *txn.Transaction) {
	q.mu.Lock()
	q.tree.ReplaceOrInsert(item{ts: ts})
	q.gen++
	q.mu.Unlock()
}

// Poll removes and returns the next txn in global order, or nil.
func (q *PartitionQueue) Poll() *txn.Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	min := q.tree.DeleteMin()
	if min == nil {
		return nil
	}
	q.gen++
	return min.(item).ts
}

func (q *PartitionQueue) Peek() *txn.Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	min := q.tree.Min()
	if min == nil {
		return nil
	}
	return min.(item).ts
}

func (q *PartitionQueue) Remove(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	probe := item{ts: &txn.Transaction{ID: id}}
	if q.tree.Delete(probe) == nil {
		return false
	}
	q.gen++
	return true
}

func (q *PartitionQueue) Contains(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Has(item{ts: &txn.Transaction{ID: id}})
}

func (q *PartitionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len()
}

// Generation changes on every structural update. The speculative scheduler
// uses it to tell whether a cached scan position is still meaningful.
func (q *PartitionQueue) Generation() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen
}

// Ascend walks the queue in global order from the given pivot id
// (exclusive) while fn returns true. Pass a negative pivot to start at the
// head. The queue stays locked for the duration of the walk.
func (q *PartitionQueue) Ascend(afterID int64, fn func(ts *txn.Transaction) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	iter := func(i btree.Item) bool {
		return fn(i.(item).ts)
	}
	if afterID < 0 {
		q.tree.Ascend(iter)
		return
	}
	q.tree.AscendGreaterOrEqual(item{ts: &txn.Transaction{ID: afterID + 1}}, iter)
}
