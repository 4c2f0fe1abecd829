package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"

	"stockcontrol/internal/types"
)

// memStore is an in-memory StateStore with switchable failures.
type memStore struct {
	mu     sync.Mutex
	trades map[types.ActorTradeID]types.Counter
	pools  map[types.PoolTradeID]types.Counter
	saves  int
	loads  int
	fail   bool
	// hold, when set, stalls LoadActorShop until it is closed.
	hold chan struct{}
}

var errStoreDown = errors.New("store down")

func newMemStore() *memStore {
	return &memStore{
		trades: map[types.ActorTradeID]types.Counter{},
		pools:  map[types.PoolTradeID]types.Counter{},
	}
}

func (m *memStore) setFail(v bool) {
	m.mu.Lock()
	m.fail = v
	m.mu.Unlock()
}

func (m *memStore) trade(actor, shop, trade string) (types.Counter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.trades[types.ActorTradeID{Actor: actor, Shop: shop, Trade: trade}]
	return c, ok
}

func (m *memStore) pool(shop, trade string) (types.Counter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.pools[types.PoolTradeID{Shop: shop, Trade: trade}]
	return c, ok
}

func (m *memStore) LoadTradeState(_ context.Context, id types.ActorTradeID) (*types.TradeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errStoreDown
	}
	c, ok := m.trades[id]
	if !ok {
		return nil, nil
	}
	return &types.TradeState{Actor: id.Actor, Shop: id.Shop, Trade: id.Trade, Counter: c}, nil
}

func (m *memStore) filterTrades(match func(types.ActorTradeID) bool) []types.TradeState {
	var out []types.TradeState
	for id, c := range m.trades {
		if match(id) {
			out = append(out, types.TradeState{Actor: id.Actor, Shop: id.Shop, Trade: id.Trade, Counter: c})
		}
	}
	return out
}

func (m *memStore) setHold(ch chan struct{}) {
	m.mu.Lock()
	m.hold = ch
	m.mu.Unlock()
}

func (m *memStore) actorShopLoads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

func (m *memStore) LoadActorShop(_ context.Context, actor, shop string) ([]types.TradeState, error) {
	m.mu.Lock()
	hold := m.hold
	m.mu.Unlock()
	if hold != nil {
		<-hold
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.fail {
		return nil, errStoreDown
	}
	return m.filterTrades(func(id types.ActorTradeID) bool { return id.Actor == actor && id.Shop == shop }), nil
}

func (m *memStore) LoadActor(_ context.Context, actor string) ([]types.TradeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errStoreDown
	}
	return m.filterTrades(func(id types.ActorTradeID) bool { return id.Actor == actor }), nil
}

func (m *memStore) SaveTradeStates(_ context.Context, states []types.TradeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStoreDown
	}
	m.saves++
	for _, st := range states {
		m.trades[st.ID()] = st.Counter
	}
	return nil
}

func (m *memStore) deleteTrades(match func(types.ActorTradeID) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStoreDown
	}
	for id := range m.trades {
		if match(id) {
			delete(m.trades, id)
		}
	}
	return nil
}

func (m *memStore) DeleteTradeState(_ context.Context, id types.ActorTradeID) error {
	return m.deleteTrades(func(k types.ActorTradeID) bool { return k == id })
}

func (m *memStore) DeleteActor(_ context.Context, actor string) error {
	return m.deleteTrades(func(k types.ActorTradeID) bool { return k.Actor == actor })
}

func (m *memStore) DeleteActorShop(_ context.Context, actor, shop string) error {
	return m.deleteTrades(func(k types.ActorTradeID) bool { return k.Actor == actor && k.Shop == shop })
}

func (m *memStore) DeleteShopTrade(_ context.Context, shop, trade string) error {
	return m.deleteTrades(func(k types.ActorTradeID) bool { return k.Shop == shop && k.Trade == trade })
}

func (m *memStore) DeleteShop(_ context.Context, shop string) error {
	return m.deleteTrades(func(k types.ActorTradeID) bool { return k.Shop == shop })
}

func (m *memStore) ListActors(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errStoreDown
	}
	seen := map[string]bool{}
	var out []string
	for id := range m.trades {
		if !seen[id.Actor] {
			seen[id.Actor] = true
			out = append(out, id.Actor)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) LoadPoolState(_ context.Context, id types.PoolTradeID) (*types.PoolState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errStoreDown
	}
	c, ok := m.pools[id]
	if !ok {
		return nil, nil
	}
	return &types.PoolState{Shop: id.Shop, Trade: id.Trade, Counter: c}, nil
}

func (m *memStore) LoadPoolShop(_ context.Context, shop string) ([]types.PoolState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errStoreDown
	}
	var out []types.PoolState
	for id, c := range m.pools {
		if id.Shop == shop {
			out = append(out, types.PoolState{Shop: id.Shop, Trade: id.Trade, Counter: c})
		}
	}
	return out, nil
}

func (m *memStore) SavePoolStates(_ context.Context, states []types.PoolState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStoreDown
	}
	m.saves++
	for _, st := range states {
		m.pools[st.ID()] = st.Counter
	}
	return nil
}

func (m *memStore) DeletePoolState(_ context.Context, id types.PoolTradeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStoreDown
	}
	delete(m.pools, id)
	return nil
}

func (m *memStore) DeletePoolShop(_ context.Context, shop string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStoreDown
	}
	for id := range m.pools {
		if id.Shop == shop {
			delete(m.pools, id)
		}
	}
	return nil
}

func (m *memStore) ScanTradeStates(_ context.Context, fn func(types.TradeState) error) error {
	m.mu.Lock()
	states := m.filterTrades(func(types.ActorTradeID) bool { return true })
	m.mu.Unlock()
	for _, st := range states {
		if err := fn(st); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) ScanPoolStates(ctx context.Context, fn func(types.PoolState) error) error {
	m.mu.Lock()
	var states []types.PoolState
	for id, c := range m.pools {
		states = append(states, types.PoolState{Shop: id.Shop, Trade: id.Trade, Counter: c})
	}
	m.mu.Unlock()
	for _, st := range states {
		if err := fn(st); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) Close() error { return nil }
