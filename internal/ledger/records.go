package ledger

import (
	"sync"

	"stockcontrol/internal/types"
)

// entry is one cached record. gone is set, under mu, when the entry leaves the map, so a writer
// that raced with an eviction retries against a fresh entry instead of mutating a detached one.
type entry struct {
	mu   sync.Mutex
	c    types.Counter
	gone bool
}

// snapshot is a record copied out of the cache for persistence.
type snapshot[K comparable] struct {
	key   K
	c     types.Counter
	dirty bool
}

// records is a concurrent write-back cache keyed by K. Each record has its own lock; there is no
// cache-wide mutex. The dirty set holds keys with mutations not yet persisted.
type records[K comparable] struct {
	entries sync.Map // K -> *entry
	dirty   sync.Map // K -> struct{}
}

// peek returns a copy of the record.
func (r *records[K]) peek(k K) (types.Counter, bool) {
	v, ok := r.entries.Load(k)
	if !ok {
		return types.Counter{}, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return types.Counter{}, false
	}
	return e.c, true
}

// update runs fn on the record while holding its lock and marks the record dirty when fn reports a change.
// When the record is absent it is created with create; a nil create leaves absent records alone and
// update returns false.
func (r *records[K]) update(k K, create func() types.Counter, fn func(c *types.Counter) bool) bool {
	for {
		v, ok := r.entries.Load(k)
		if !ok {
			if create == nil {
				return false
			}
			v, _ = r.entries.LoadOrStore(k, &entry{c: create()})
		}
		e := v.(*entry)
		e.mu.Lock()
		if e.gone {
			e.mu.Unlock()
			continue
		}
		if fn(&e.c) {
			r.dirty.Store(k, struct{}{})
		}
		e.mu.Unlock()
		return true
	}
}

// fill caches a record loaded from the store unless the cache already holds a newer one.
func (r *records[K]) fill(k K, c types.Counter) bool {
	_, loaded := r.entries.LoadOrStore(k, &entry{c: c})
	return !loaded
}

// restore puts back records whose persistence failed after they were evicted.
func (r *records[K]) restore(snaps []snapshot[K]) {
	for _, s := range snaps {
		if r.fill(s.key, s.c) {
			r.dirty.Store(s.key, struct{}{})
		}
	}
}

// evictWhere removes every record matching match and returns what was removed.
func (r *records[K]) evictWhere(match func(K, types.Counter) bool) []snapshot[K] {
	var out []snapshot[K]
	r.entries.Range(func(key, value any) bool {
		k := key.(K)
		e := value.(*entry)
		e.mu.Lock()
		if !e.gone && match(k, e.c) {
			_, dirty := r.dirty.LoadAndDelete(k)
			e.gone = true
			r.entries.Delete(k)
			out = append(out, snapshot[K]{key: k, c: e.c, dirty: dirty})
		}
		e.mu.Unlock()
		return true
	})
	return out
}

// takeDirty atomically clears the dirty set key by key and returns the current value of each record.
// A record mutated after its key was taken is dirty again and goes out with the next flush.
func (r *records[K]) takeDirty() []snapshot[K] {
	var out []snapshot[K]
	r.dirty.Range(func(key, _ any) bool {
		if _, ok := r.dirty.LoadAndDelete(key); !ok {
			return true
		}
		k := key.(K)
		v, ok := r.entries.Load(k)
		if !ok {
			return true
		}
		e := v.(*entry)
		e.mu.Lock()
		if !e.gone {
			out = append(out, snapshot[K]{key: k, c: e.c, dirty: true})
		}
		e.mu.Unlock()
		return true
	})
	return out
}

// remark flags records dirty again after a failed write, skipping any evicted meanwhile.
func (r *records[K]) remark(snaps []snapshot[K]) {
	for _, s := range snaps {
		if _, ok := r.entries.Load(s.key); ok {
			r.dirty.Store(s.key, struct{}{})
		}
	}
}

func (r *records[K]) each(fn func(K, types.Counter)) {
	r.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		c, gone := e.c, e.gone
		e.mu.Unlock()
		if !gone {
			fn(key.(K), c)
		}
		return true
	})
}

func (r *records[K]) len() int {
	n := 0
	r.entries.Range(func(_, _ any) bool { n++; return true })
	return n
}

func (r *records[K]) dirtyLen() int {
	n := 0
	r.dirty.Range(func(_, _ any) bool { n++; return true })
	return n
}
