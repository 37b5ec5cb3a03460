package undo

import (
	"github.com/oltp-incubator/tinyoltp/oltp/fault"
	"github.com/oltp-incubator/tinyoltp/oltp/storage"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
)

// partitionTokenSpan spaces each partition's counter far enough apart that
// tokens are unique across a site.
const partitionTokenSpan int64 = 1_000_000

// Estimator is the prediction surface the token fast path consults before
// daring to run a write round without undo logging.
type Estimator interface {
	// Abortable reports whether the remainder of the txn could still abort.
	Abortable(ts *txn.Transaction) bool
	// ReadOnlyRemainder reports whether the txn will only read at p from
	// here on.
	ReadOnlyRemainder(ts *txn.Transaction, p int) bool
}

// Manager allocates undo tokens for one partition and tracks the commit
// frontier. It is confined to the owning executor task.
type Manager struct {
	partitionID   int
	lastToken     int64
	lastCommitted int64

	forceUndoAll bool
	noUndoBold   bool
	est          Estimator
}

func NewManager(partitionID int, forceUndoAll, noUndoBold bool, est Estimator) *Manager {
	base := int64(partitionID) * partitionTokenSpan
	return &Manager{
		partitionID:   partitionID,
		lastToken:     base,
		lastCommitted: base,
		forceUndoAll:  forceUndoAll,
		noUndoBold:    noUndoBold,
		est:           est,
	}
}

// Next allocates a fresh token.
func (m *Manager) Next() int64 {
	m.lastToken++
	return m.lastToken
}

// Last returns the newest token handed out.
func (m *Manager) Last() int64 {
	return m.lastToken
}

// LastCommitted returns the newest token known committed.
func (m *Manager) LastCommitted() int64 {
	return m.lastCommitted
}

// CalculateForRound picks the token for ts's next execution round at this
// partition.
//
// Speculative txns always get a fresh token: their work must stay
// individually rollbackable underneath the dtxn. Read-only rounds reuse the
// txn's prior token, or run unlogged if there is none. Write rounds get a
// fresh token on the first round, for multi-partition txns, and when undo
// is forced; otherwise the round reuses the prior token unless the
// estimator clears the bold no-logging path.
func (m *Manager) CalculateForRound(ts *txn.Transaction, readOnly bool) int64 {
	token := storage.DisableUndoToken
	last := ts.LastUndoToken(m.partitionID)

	switch {
	case ts.IsSpeculative():
		token = m.Next()
	case readOnly:
		if last != storage.NullUndoToken {
			token = last
		}
	default:
		if last == storage.NullUndoToken || !ts.PredictSinglePartition || m.forceUndoAll {
			token = m.Next()
		} else if !m.noUndoBold || m.est == nil ||
			m.est.Abortable(ts) || !m.est.ReadOnlyRemainder(ts, m.partitionID) {
			token = last
		}
		// Otherwise the estimator says the rest of the txn cannot abort
		// and will not write here, so the round runs unlogged.
	}

	// Never hand out anything below the newest allocation.
	if token != storage.DisableUndoToken && token < m.lastToken {
		token = m.lastToken
	}
	return token
}

// MarkCommitted advances the commit frontier. Commits must be strictly
// increasing; anything else is an invariant violation that must bring the
// site down.
func (m *Manager) MarkCommitted(token int64) error {
	if token == storage.DisableUndoToken || token == storage.NullUndoToken {
		return fault.NewServerFault(0, "committing sentinel undo token %d at partition %d", token, m.partitionID)
	}
	if token <= m.lastCommitted {
		return fault.NewServerFault(0,
			"undo token commit order violated at partition %d: %d after %d",
			m.partitionID, token, m.lastCommitted)
	}
	if token > m.lastToken {
		return fault.NewServerFault(0,
			"committing undo token %d that was never allocated at partition %d (last %d)",
			token, m.partitionID, m.lastToken)
	}
	m.lastCommitted = token
	return nil
}

// CheckRollback validates a token about to be rolled back.
func (m *Manager) CheckRollback(token int64) error {
	if token == storage.DisableUndoToken {
		return fault.NewServerFault(0,
			"trying to roll back work that ran without undo logging at partition %d", m.partitionID)
	}
	if token <= m.lastCommitted {
		return fault.NewServerFault(0,
			"rolling back committed undo token %d at partition %d (frontier %d)",
			token, m.partitionID, m.lastCommitted)
	}
	return nil
}
