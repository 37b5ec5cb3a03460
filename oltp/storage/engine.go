package storage

// StatsSelector picks which statistics GetStats returns.
type StatsSelector int

const (
	StatsTable StatsSelector = iota
	StatsMemory
)

// FragmentContext carries everything the engine needs for one execution
// round. The undo token governs whether the round's writes can be rolled
// back: DisableUndoToken skips logging entirely.
type FragmentContext struct {
	TxnID            int64
	LastCommittedTxn int64
	UndoToken        int64
	FragmentIDs      []int32
	Params           [][][]byte // one parameter set per fragment
	InputDeps        DependencySet
	OutputDepIDs     []int32
}

// Engine is the storage engine surface consumed by the partition executor.
// An Engine instance is owned by exactly one executor task and is never
// called from any other goroutine.
type Engine interface {
	// LoadCatalog installs the boot-time table definitions.
	LoadCatalog(tables []string) error

	// Tick lets the engine do time-based maintenance. lastCommittedTxn is
	// the newest txn id known committed at this partition.
	Tick(ts int64, lastCommittedTxn int64)

	// ExecutePlanFragments runs one round of plan fragments and returns
	// the produced output dependencies.
	ExecutePlanFragments(ctx *FragmentContext) (DependencySet, error)

	// ReleaseUndoToken commits the given token and, implicitly, every
	// outstanding token below it. Committed tokens must be strictly
	// increasing across calls.
	ReleaseUndoToken(token int64) error

	// UndoUndoToken rolls back the given token and, implicitly, every
	// outstanding token above it. Aborts arrive LIFO.
	UndoUndoToken(token int64) error

	// GetStats returns one stats row per selected table.
	GetStats(selector StatsSelector, tables []string, ts int64) *ResultSet

	// LoadTable bulk-inserts rows, with undo logging under the given token.
	LoadTable(table string, rows [][2][]byte, txnID, lastCommitted, undoToken int64, allowExport bool) error

	// StashWorkUnitDependencies hands the engine the input dependencies
	// for the next ExecutePlanFragments round.
	StashWorkUnitDependencies(deps DependencySet)

	Close() error
}
