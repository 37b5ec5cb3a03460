package storage

import "math"

// Undo token sentinels. Tokens are partition-local, monotonically
// increasing 64-bit tags identifying a batch of engine changes that can be
// rolled back atomically.
const (
	// NullUndoToken marks a txn that has not submitted any work yet.
	NullUndoToken int64 = -1
	// DisableUndoToken tells the engine to skip undo logging for the
	// round. Work executed under it can never be rolled back.
	DisableUndoToken int64 = math.MaxInt64
)
