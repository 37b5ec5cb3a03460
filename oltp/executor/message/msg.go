package message

import (
	"github.com/oltp-incubator/tinyoltp/oltp/storage"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
)

type MsgType int64

const (
	// just a placeholder
	MsgTypeNull MsgType = 0
	// run a txn that holds this partition's lock
	MsgTypeStartTxn MsgType = 1
	// execute one round of plan fragments for a dtxn
	MsgTypeWorkFragment MsgType = 2
	// 2PC phase one for the current dtxn
	MsgTypePrepare MsgType = 3
	// terminal commit/abort decision for a dtxn
	MsgTypeFinish MsgType = 4
	// raw request from a client that still needs a txn handle
	MsgTypeInitializeRequest MsgType = 5
	// add an initialized txn to this partition's lock queue
	MsgTypeInitializeTxn MsgType = 6
	// install a remote dtxn as this partition's current dtxn
	MsgTypeSetDtxn MsgType = 7
	// run a query that an earlier txn deferred
	MsgTypeDeferredQuery MsgType = 8
	// generic poke to run utility work
	MsgTypeUtilityWork MsgType = 9
	// refresh memory stats
	MsgTypeUpdateMemory MsgType = 10
	// cooperative snapshot step
	MsgTypeSnapshotWork MsgType = 11
	// answer a table stats request from the engine
	MsgTypeTableStatsRequest MsgType = 12
	// stop accepting new work at this partition
	MsgTypeHalt MsgType = 13
)

var msgTypeNames = map[MsgType]string{
	MsgTypeNull:              "Null",
	MsgTypeStartTxn:          "StartTxn",
	MsgTypeWorkFragment:      "WorkFragment",
	MsgTypePrepare:           "Prepare",
	MsgTypeFinish:            "Finish",
	MsgTypeInitializeRequest: "InitializeRequest",
	MsgTypeInitializeTxn:     "InitializeTxn",
	MsgTypeSetDtxn:           "SetDtxn",
	MsgTypeDeferredQuery:     "DeferredQuery",
	MsgTypeUtilityWork:       "UtilityWork",
	MsgTypeUpdateMemory:      "UpdateMemory",
	MsgTypeSnapshotWork:      "SnapshotWork",
	MsgTypeTableStatsRequest: "TableStatsRequest",
	MsgTypeHalt:              "Halt",
}

func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

type Msg struct {
	Type MsgType
	Txn  *txn.Transaction
	Data interface{}
}

func NewMsg(tp MsgType, data interface{}) Msg {
	return Msg{Type: tp, Data: data}
}

func NewTxnMsg(tp MsgType, ts *txn.Transaction, data interface{}) Msg {
	return Msg{Type: tp, Txn: ts, Data: data}
}

// IsTxnMessage reports whether the message is addressed to a specific txn.
func (m Msg) IsTxnMessage() bool {
	return m.Txn != nil
}

type MsgWorkFragment struct {
	Fragment *storage.WorkFragment
	Params   [][][]byte
	// Callback receives the WorkResult for rounds requested by a remote
	// base partition.
	Callback *Callback
}

type MsgInitializeRequest struct {
	ClientHandle int64
	ProcName     string
	Params       [][]byte
	Respond      func(*txn.Response)
}

type MsgDeferredQuery struct {
	TxnID      int64
	FragmentID int32
	Params     [][]byte
}

type MsgTableStatsRequest struct {
	Tables  []string
	Respond func(*storage.ResultSet)
}
