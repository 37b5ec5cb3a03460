package executor

// ExecMode governs whether single-partition txns executed at this
// partition may respond to their clients immediately.
type ExecMode int

const (
	// ExecModeCommitAll: no dtxn active; txns commit and respond
	// immediately.
	ExecModeCommitAll ExecMode = iota
	// ExecModeCommitReadOnly: dtxn active but read-only here; read-only
	// speculative txns may respond immediately.
	ExecModeCommitReadOnly
	// ExecModeCommitNonConflicting: dtxn active; txns proven disjoint from
	// it may respond immediately. Requires finer-grained undo than the
	// engine provides, so it is never entered; COMMIT_NONE is the
	// conservative stand-in.
	ExecModeCommitNonConflicting
	// ExecModeCommitNone: dtxn active and has written here; every
	// speculative response queues behind it.
	ExecModeCommitNone
	// ExecModeDisabled: speculation halted (e.g. after a speculative
	// abort); all new work blocks until the dtxn finishes.
	ExecModeDisabled
	// ExecModeDisabledReject: partition halted; new non-sysproc txns are
	// rejected outright.
	ExecModeDisabledReject
)

var execModeNames = map[ExecMode]string{
	ExecModeCommitAll:            "COMMIT_ALL",
	ExecModeCommitReadOnly:       "COMMIT_READONLY",
	ExecModeCommitNonConflicting: "COMMIT_NONCONFLICTING",
	ExecModeCommitNone:           "COMMIT_NONE",
	ExecModeDisabled:             "DISABLED",
	ExecModeDisabledReject:       "DISABLED_REJECT",
}

func (m ExecMode) String() string {
	if name, ok := execModeNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}
