package kv

import (
	"errors"

	"github.com/dgraph-io/badger/v3"
)

type badgerEngine struct {
	db *badger.DB
}

// OpenBadger opens a badger database in dir. An empty dir keeps everything in memory.
func OpenBadger(dir string) (Engine, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	return openBadger(opts)
}

func openBadger(opts badger.Options) (Engine, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerEngine{db: db}, nil
}

func (e *badgerEngine) Get(key []byte) ([]byte, error) {
	var val []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return val, err
}

// Write applies puts and deletes in one transaction while it fits. A batch too big for a single
// badger transaction is committed in several, so it is atomic per part only.
func (e *badgerEngine) Write(puts []Pair, deletes [][]byte) error {
	txn := e.db.NewTransaction(true)
	defer func() {
		txn.Discard()
	}()
	apply := func(op func(*badger.Txn) error) error {
		err := op(txn)
		if !errors.Is(err, badger.ErrTxnTooBig) {
			return err
		}
		if err := txn.Commit(); err != nil {
			return err
		}
		txn = e.db.NewTransaction(true)
		return op(txn)
	}
	for _, p := range puts {
		if err := apply(func(t *badger.Txn) error { return t.Set(p.Key, p.Value) }); err != nil {
			return err
		}
	}
	for _, k := range deletes {
		if err := apply(func(t *badger.Txn) error { return t.Delete(k) }); err != nil {
			return err
		}
	}
	return txn.Commit()
}

func (e *badgerEngine) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *badgerEngine) Close() error {
	return e.db.Close()
}
