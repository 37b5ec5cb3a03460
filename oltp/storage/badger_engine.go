package storage

import (
	"os"

	"github.com/Connor1996/badger"
	"github.com/pingcap/errors"
)

// BadgerEngine keeps the live partition state in memory like MemEngine but
// applies committed undo tokens to a badger store, so a restarted site can
// reload its last committed state. Uncommitted (outstanding) tokens never
// reach disk.
type BadgerEngine struct {
	*MemEngine
	db   *badger.DB
	path string
}

func keyWithTable(table string, key string) []byte {
	return append([]byte(table+"_"), key...)
}

func NewBadgerEngine(partitionID int, path string) (*BadgerEngine, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, errors.WithStack(err)
	}
	opts := badger.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e := &BadgerEngine{
		MemEngine: NewMemEngine(partitionID),
		db:        db,
		path:      path,
	}
	e.MemEngine.sink = e.applyCommitted
	return e, nil
}

// applyCommitted writes one batch of committed row ops to badger.
func (e *BadgerEngine) applyCommitted(ops []forwardOp) error {
	if len(ops) == 0 {
		return nil
	}
	err := e.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			k := keyWithTable(op.table, op.key)
			if op.deleted {
				if err := txn.Delete(k); err != nil {
					return err
				}
			} else if err := txn.Set(k, op.value); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.WithStack(err)
}

// LoadCatalog restores each table's committed rows from badger on top of
// registering it.
func (e *BadgerEngine) LoadCatalog(tables []string) error {
	if err := e.MemEngine.LoadCatalog(tables); err != nil {
		return err
	}
	err := e.db.View(func(txn *badger.Txn) error {
		for _, name := range tables {
			prefix := []byte(name + "_")
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				item := it.Item()
				val, err := item.ValueCopy(nil)
				if err != nil {
					it.Close()
					return err
				}
				key := string(item.Key()[len(prefix):])
				e.tables[name].rows[key] = val
			}
			it.Close()
		}
		return nil
	})
	return errors.WithStack(err)
}

func (e *BadgerEngine) Close() error {
	return errors.WithStack(e.db.Close())
}
