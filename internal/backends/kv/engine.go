package kv

// Engine is the ordered key-value store under Store. Get returns (nil, nil) for a missing key.
// Write applies every put and delete atomically.
type Engine interface {
	Get(key []byte) ([]byte, error)
	Write(puts []Pair, deletes [][]byte) error
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

type Pair struct {
	Key   []byte
	Value []byte
}
