package fault

import (
	"fmt"

	"github.com/pingcap/errors"
)

// MispredictionError is raised when a txn touches a partition outside of its
// predicted partition set, or a partition it already declared done. The txn
// must be rolled back and requeued as multi-partition.
type MispredictionError struct {
	TxnID   int64
	Touched []int
}

func NewMisprediction(txnID int64, touched []int) *MispredictionError {
	return &MispredictionError{TxnID: txnID, Touched: touched}
}

func (e *MispredictionError) Error() string {
	return fmt.Sprintf("txn %d mispredicted its partitions, touched %v", e.TxnID, e.Touched)
}

// UserAbortError carries the message of a voluntary procedure abort.
type UserAbortError struct {
	TxnID   int64
	Message string
}

func (e *UserAbortError) Error() string {
	return fmt.Sprintf("txn %d aborted by user: %s", e.TxnID, e.Message)
}

// EvictedAccessError is raised by the engine when a txn touches a tuple that
// was evicted by the anti-cache. The upper layer fetches the block and
// retries the txn.
type EvictedAccessError struct {
	TxnID int64
	Table string
}

func (e *EvictedAccessError) Error() string {
	return fmt.Sprintf("txn %d touched evicted data in table %s", e.TxnID, e.Table)
}

// ServerFault is an invariant violation. There is no transaction-level
// recovery; the executor logs its state and asks the coordinator to bring
// the whole cluster down.
type ServerFault struct {
	TxnID   int64
	Message string
}

func NewServerFault(txnID int64, format string, args ...interface{}) *ServerFault {
	return &ServerFault{TxnID: txnID, Message: fmt.Sprintf(format, args...)}
}

func (e *ServerFault) Error() string {
	return fmt.Sprintf("server fault (txn %d): %s", e.TxnID, e.Message)
}

// StatusOf maps an execution error to the abort status it should produce.
// nil maps to StatusOK.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	switch errors.Cause(err).(type) {
	case *MispredictionError:
		return StatusAbortMispredict
	case *UserAbortError:
		return StatusAbortUser
	case *EvictedAccessError:
		return StatusAbortEvictedAccess
	case *ServerFault:
		return StatusAbortUnexpected
	}
	return StatusAbortUnexpected
}

func IsMisprediction(err error) bool {
	_, ok := errors.Cause(err).(*MispredictionError)
	return ok
}

func IsEvictedAccess(err error) bool {
	_, ok := errors.Cause(err).(*EvictedAccessError)
	return ok
}

func IsServerFault(err error) bool {
	_, ok := errors.Cause(err).(*ServerFault)
	return ok
}
