package storage

import (
	"sync"

	"github.com/pingcap/errors"
)

// RowOps is the row-level surface a plan fragment executes against. Writes
// issued through it are undo-logged under the round's token.
type RowOps interface {
	Get(table string, key []byte) ([]byte, error)
	Put(table string, key, value []byte) error
	Delete(table string, key []byte) error
	Scan(table string, prefix []byte, limit int) ([][]byte, error)
}

// FragmentFunc interprets one plan fragment. inputs holds the dependencies
// stashed for this round.
type FragmentFunc func(ops RowOps, params [][]byte, inputs DependencySet) (*ResultSet, error)

// Built-in plan fragment ids. The registry is populated once at boot and is
// read-only afterwards.
const (
	FragGetRow    int32 = 1 // params: table, key
	FragPutRow    int32 = 2 // params: table, key, value
	FragDeleteRow int32 = 3 // params: table, key
	FragScanTable int32 = 4 // params: table, prefix
	FragSumInput  int32 = 5 // params: none; concatenates input dependency rows
)

var (
	fragMu    sync.Mutex
	fragments = map[int32]FragmentFunc{}
	fragSealed bool
)

// RegisterFragment installs a plan fragment implementation. Must be called
// during boot, before any executor starts.
func RegisterFragment(id int32, fn FragmentFunc) {
	fragMu.Lock()
	defer fragMu.Unlock()
	if fragSealed {
		panic("fragment registry is sealed")
	}
	if _, dup := fragments[id]; dup {
		panic("duplicate plan fragment registration")
	}
	fragments[id] = fn
}

// SealFragments freezes the registry. Lookups after sealing are lock-free.
func SealFragments() {
	fragMu.Lock()
	fragSealed = true
	fragMu.Unlock()
}

func lookupFragment(id int32) (FragmentFunc, error) {
	if !fragSealed {
		fragMu.Lock()
		defer fragMu.Unlock()
	}
	fn, ok := fragments[id]
	if !ok {
		return nil, errors.Errorf("unknown plan fragment %d", id)
	}
	return fn, nil
}

// FragmentWrites reports whether a built-in fragment id writes, for callers
// that mark rounds read-only.
func FragmentWrites(id int32) bool {
	switch id {
	case FragPutRow, FragDeleteRow:
		return true
	}
	return false
}

func init() {
	RegisterFragment(FragGetRow, func(ops RowOps, params [][]byte, _ DependencySet) (*ResultSet, error) {
		if len(params) != 2 {
			return nil, errors.Errorf("get fragment wants 2 params, got %d", len(params))
		}
		val, err := ops.Get(string(params[0]), params[1])
		if err != nil {
			return nil, err
		}
		rs := &ResultSet{}
		if val != nil {
			rs.Rows = append(rs.Rows, val)
		}
		return rs, nil
	})
	RegisterFragment(FragPutRow, func(ops RowOps, params [][]byte, _ DependencySet) (*ResultSet, error) {
		if len(params) != 3 {
			return nil, errors.Errorf("put fragment wants 3 params, got %d", len(params))
		}
		if err := ops.Put(string(params[0]), params[1], params[2]); err != nil {
			return nil, err
		}
		return &ResultSet{}, nil
	})
	RegisterFragment(FragDeleteRow, func(ops RowOps, params [][]byte, _ DependencySet) (*ResultSet, error) {
		if len(params) != 2 {
			return nil, errors.Errorf("delete fragment wants 2 params, got %d", len(params))
		}
		if err := ops.Delete(string(params[0]), params[1]); err != nil {
			return nil, err
		}
		return &ResultSet{}, nil
	})
	RegisterFragment(FragScanTable, func(ops RowOps, params [][]byte, _ DependencySet) (*ResultSet, error) {
		if len(params) != 2 {
			return nil, errors.Errorf("scan fragment wants 2 params, got %d", len(params))
		}
		rows, err := ops.Scan(string(params[0]), params[1], 0)
		if err != nil {
			return nil, err
		}
		return &ResultSet{Rows: rows}, nil
	})
	RegisterFragment(FragSumInput, func(_ RowOps, _ [][]byte, inputs DependencySet) (*ResultSet, error) {
		rs := &ResultSet{}
		for _, in := range inputs {
			rs.Rows = append(rs.Rows, in.Rows...)
		}
		return rs, nil
	})
}
