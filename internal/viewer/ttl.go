package viewer

import (
	"sync"
	"time"

	"stockcontrol/internal/types"
)

// TTL is an in-process TTL map. Entries expire lazily on Get and are dropped by Range.
// It is safe for concurrent use without a map-wide lock.
type TTL[K comparable, V comparable] struct {
	data sync.Map // K -> entry[V]
}

type entry[V comparable] struct {
	val V
	exp time.Time
}

func NewTTL[K comparable, V comparable]() *TTL[K, V] {
	return &TTL[K, V]{}
}

// Get returns the value and true if found and not expired; otherwise zero value and false.
func (t *TTL[K, V]) Get(k K) (V, bool) {
	v, ok := t.data.Load(k)
	if !ok {
		var zero V
		return zero, false
	}
	e := v.(entry[V])
	if types.Now().After(e.exp) {
		t.data.CompareAndDelete(k, v)
		var zero V
		return zero, false
	}
	return e.val, true
}

func (t *TTL[K, V]) Set(k K, v V, ttl time.Duration) {
	t.data.Store(k, entry[V]{val: v, exp: types.Now().Add(ttl)})
}

// Update rewrites a live entry with fn and, when extend is set, pushes its expiry out by ttl.
// It reports false when the entry is absent or expired.
func (t *TTL[K, V]) Update(k K, ttl time.Duration, extend bool, fn func(V) V) (V, bool) {
	for {
		v, ok := t.data.Load(k)
		if !ok {
			var zero V
			return zero, false
		}
		e := v.(entry[V])
		now := types.Now()
		if now.After(e.exp) {
			t.data.CompareAndDelete(k, v)
			var zero V
			return zero, false
		}
		next := entry[V]{val: fn(e.val), exp: e.exp}
		if extend {
			next.exp = now.Add(ttl)
		}
		if t.data.CompareAndSwap(k, v, next) {
			return next.val, true
		}
	}
}

func (t *TTL[K, V]) Delete(k K) {
	t.data.Delete(k)
}

// Range calls fn for every live entry and drops the expired ones.
func (t *TTL[K, V]) Range(fn func(K, V) bool) {
	now := types.Now()
	t.data.Range(func(key, value any) bool {
		e := value.(entry[V])
		if now.After(e.exp) {
			t.data.CompareAndDelete(key, value)
			return true
		}
		return fn(key.(K), e.val)
	})
}

func (t *TTL[K, V]) Len() int {
	n := 0
	t.Range(func(K, V) bool { n++; return true })
	return n
}
