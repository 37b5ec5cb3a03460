package fault

// Status is the terminal disposition of one transaction attempt at a
// partition. Everything except StatusOK is some flavor of abort.
type Status int32

const (
	StatusOK Status = iota
	// The procedure aborted voluntarily. Rollback and respond.
	StatusAbortUser
	// The predicted partition set was wrong. Rollback and requeue the txn
	// for re-execution as multi-partition.
	StatusAbortMispredict
	// A speculative txn was invalidated by a cascading rollback. Rollback
	// and requeue.
	StatusAbortSpeculative
	// The txn touched an evicted tuple. Rollback; the anti-cache layer
	// fetches the block and retries.
	StatusAbortEvictedAccess
	// The partition is in halt mode. Respond immediately, no engine work.
	StatusAbortReject
	// Constraint violation, SQL error or engine error. Rollback and respond
	// with the serialized error.
	StatusAbortUnexpected
)

var statusNames = map[Status]string{
	StatusOK:                 "OK",
	StatusAbortUser:          "ABORT_USER",
	StatusAbortMispredict:    "ABORT_MISPREDICT",
	StatusAbortSpeculative:   "ABORT_SPECULATIVE",
	StatusAbortEvictedAccess: "ABORT_EVICTEDACCESS",
	StatusAbortReject:        "ABORT_REJECT",
	StatusAbortUnexpected:    "ABORT_UNEXPECTED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsAbort reports whether the status is any kind of abort.
func (s Status) IsAbort() bool {
	return s != StatusOK
}

// NeedsRestart reports whether a txn finishing with this status must be
// requeued for another attempt instead of being surfaced to the client.
func (s Status) NeedsRestart() bool {
	switch s {
	case StatusAbortMispredict, StatusAbortSpeculative, StatusAbortEvictedAccess:
		return true
	}
	return false
}
