package kv

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

type levelEngine struct {
	db *leveldb.DB
}

func OpenLevelDB(dir string) (Engine, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &levelEngine{db: db}, nil
}

func (e *levelEngine) Get(key []byte) ([]byte, error) {
	val, err := e.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	return val, err
}

func (e *levelEngine) Write(puts []Pair, deletes [][]byte) error {
	batch := new(leveldb.Batch)
	for _, p := range puts {
		batch.Put(p.Key, p.Value)
	}
	for _, k := range deletes {
		batch.Delete(k)
	}
	return e.db.Write(batch, nil)
}

func (e *levelEngine) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	it := e.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		// the iterator reuses its buffers
		key := append([]byte(nil), it.Key()...)
		val := append([]byte(nil), it.Value()...)
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return it.Error()
}

func (e *levelEngine) Close() error {
	return e.db.Close()
}
