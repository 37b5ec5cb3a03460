package specexec

import (
	"github.com/oltp-incubator/tinyoltp/oltp/catalog"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
)

// ConflictChecker answers whether a single-partition candidate may run
// while a dtxn holds the partition.
type ConflictChecker interface {
	// ShouldIgnoreProcedure marks procedures that speculation must never
	// be scheduled around (or as).
	ShouldIgnoreProcedure(proc *catalog.Procedure) bool
	// CanExecute reports whether candidate can run at partition without
	// violating serializability against dtxn's local work.
	CanExecute(dtxn, candidate *txn.Transaction, partition int) bool
}

// TableConflictChecker decides at table granularity using the static
// read/write sets from the catalog.
type TableConflictChecker struct{}

func NewTableConflictChecker() *TableConflictChecker {
	return &TableConflictChecker{}
}

func (c *TableConflictChecker) ShouldIgnoreProcedure(proc *catalog.Procedure) bool {
	return proc.SysProc
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (c *TableConflictChecker) CanExecute(dtxn, candidate *txn.Transaction, partition int) bool {
	dp := dtxn.Proc
	cp := candidate.Proc
	// A write-write or read-write overlap with the dtxn means the
	// candidate could observe (or clobber) uncommitted state.
	if intersects(cp.WriteTables, dp.WriteTables) || intersects(cp.WriteTables, dp.ReadTables) {
		return false
	}
	if intersects(cp.ReadTables, dp.WriteTables) {
		return false
	}
	return true
}
