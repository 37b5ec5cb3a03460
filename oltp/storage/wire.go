package storage

import (
	"encoding/binary"

	"github.com/pingcap/errors"
)

// WorkFragment is the unit of work shipped to a partition for one execution
// round of a distributed txn. Batched work requests carry one WorkFragment
// per destination partition.
type WorkFragment struct {
	PartitionID  int
	FragmentIDs  []int32
	ParamIndexes []int32
	InputDepIDs  []int32
	OutputDepIDs []int32
	ReadOnly     bool
	LastFragment bool
	Prefetch     bool
	NeedsInput   bool
	// Optional estimates of queries the txn is likely to issue next,
	// shipped so the remote site can speculate on our behalf.
	FutureStatements []int32
}

// WorkResult carries the output dependencies of one WorkFragment back to
// the txn's base partition.
type WorkResult struct {
	PartitionID int
	Status      int32
	DepIDs      []int32
	DepData     [][]byte // length-prefixed serialized rowsets
	Error       string   // serialized exception, empty on success
}

// ResultSet is a flat rowset. Rows are opaque to the executor core.
type ResultSet struct {
	Rows [][]byte
}

func (rs *ResultSet) RowCount() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// DependencySet maps output dependency ids to their rowsets.
type DependencySet map[int32]*ResultSet

// SerializeResultSet encodes a rowset as length-prefixed rows.
func SerializeResultSet(rs *ResultSet) []byte {
	size := 4
	for _, row := range rs.Rows {
		size += 4 + len(row)
	}
	buf := make([]byte, 0, size)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(rs.Rows)))
	buf = append(buf, tmp[:]...)
	for _, row := range rs.Rows {
		binary.BigEndian.PutUint32(tmp[:], uint32(len(row)))
		buf = append(buf, tmp[:]...)
		buf = append(buf, row...)
	}
	return buf
}

// DeserializeResultSet decodes a rowset encoded by SerializeResultSet.
func DeserializeResultSet(data []byte) (*ResultSet, error) {
	if len(data) < 4 {
		return nil, errors.New("rowset truncated: missing row count")
	}
	n := binary.BigEndian.Uint32(data)
	data = data[4:]
	rs := &ResultSet{Rows: make([][]byte, 0, n)}
	for i := uint32(0); i < n; i++ {
		if len(data) < 4 {
			return nil, errors.Errorf("rowset truncated at row %d", i)
		}
		rowLen := binary.BigEndian.Uint32(data)
		data = data[4:]
		if uint32(len(data)) < rowLen {
			return nil, errors.Errorf("rowset row %d truncated: want %d bytes, have %d", i, rowLen, len(data))
		}
		rs.Rows = append(rs.Rows, data[:rowLen])
		data = data[rowLen:]
	}
	return rs, nil
}
