// Package storetest is the behavioral contract every StateStore backend runs against.
package storetest

import (
	"context"
	"sort"

	"stockcontrol/internal/ports"
	"stockcontrol/internal/types"

	"github.com/stretchr/testify/suite"
)

// StoreSuite exercises a ports.StateStore. Open must return an empty store for every test;
// the suite closes it in TearDownTest.
type StoreSuite struct {
	suite.Suite

	Open  func() ports.StateStore
	store ports.StateStore
	ctx   context.Context
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.Open()
}

func (s *StoreSuite) TearDownTest() {
	s.NoError(s.store.Close())
}

func trade(actor, shop, key string, used int, anchor int64) types.TradeState {
	return types.TradeState{
		Actor: actor, Shop: shop, Trade: key,
		Counter: types.Counter{Used: used, Anchor: anchor, WindowSeconds: 60},
	}
}

func pool(shop, key string, used int, anchor int64) types.PoolState {
	return types.PoolState{Shop: shop, Trade: key, Counter: types.Counter{Used: used, Anchor: anchor}}
}

func sortTrades(states []types.TradeState) []types.TradeState {
	sort.Slice(states, func(i, j int) bool {
		a, b := states[i], states[j]
		if a.Actor != b.Actor {
			return a.Actor < b.Actor
		}
		if a.Shop != b.Shop {
			return a.Shop < b.Shop
		}
		return a.Trade < b.Trade
	})
	return states
}

func (s *StoreSuite) seed() {
	s.Require().NoError(s.store.SaveTradeStates(s.ctx, []types.TradeState{
		trade("alice", "smith", "sword", 1, 100),
		trade("alice", "smith", "shield", 2, 200),
		trade("alice", "market", "bread", 3, 300),
		trade("bob", "smith", "sword", 4, 400),
		trade("bob", "market", "bread", 5, 500),
	}))
}

func (s *StoreSuite) TestLoadMissing() {
	st, err := s.store.LoadTradeState(s.ctx, types.ActorTradeID{Actor: "nobody", Shop: "smith", Trade: "sword"})
	s.NoError(err)
	s.Nil(st)

	ps, err := s.store.LoadPoolState(s.ctx, types.PoolTradeID{Shop: "market", Trade: "bread"})
	s.NoError(err)
	s.Nil(ps)

	all, err := s.store.LoadActor(s.ctx, "nobody")
	s.NoError(err)
	s.Empty(all)
}

func (s *StoreSuite) TestSaveAndLoad() {
	s.seed()

	st, err := s.store.LoadTradeState(s.ctx, types.ActorTradeID{Actor: "alice", Shop: "smith", Trade: "shield"})
	s.Require().NoError(err)
	s.Require().NotNil(st)
	s.Equal(trade("alice", "smith", "shield", 2, 200), *st)

	shop, err := s.store.LoadActorShop(s.ctx, "alice", "smith")
	s.NoError(err)
	s.Equal([]types.TradeState{
		trade("alice", "smith", "shield", 2, 200),
		trade("alice", "smith", "sword", 1, 100),
	}, sortTrades(shop))

	all, err := s.store.LoadActor(s.ctx, "alice")
	s.NoError(err)
	s.Len(all, 3)
}

func (s *StoreSuite) TestSaveIsUpsert() {
	s.seed()
	s.Require().NoError(s.store.SaveTradeStates(s.ctx, []types.TradeState{trade("alice", "smith", "sword", 9, 999)}))

	st, err := s.store.LoadTradeState(s.ctx, types.ActorTradeID{Actor: "alice", Shop: "smith", Trade: "sword"})
	s.Require().NoError(err)
	s.Equal(9, st.Used)
	s.Equal(int64(999), st.Anchor)

	all, err := s.store.LoadActor(s.ctx, "alice")
	s.NoError(err)
	s.Len(all, 3)
}

func (s *StoreSuite) TestSaveEmptyBatch() {
	s.NoError(s.store.SaveTradeStates(s.ctx, nil))
	s.NoError(s.store.SavePoolStates(s.ctx, nil))
}

func (s *StoreSuite) TestDeletes() {
	s.seed()

	s.NoError(s.store.DeleteTradeState(s.ctx, types.ActorTradeID{Actor: "alice", Shop: "smith", Trade: "sword"}))
	all, err := s.store.LoadActor(s.ctx, "alice")
	s.NoError(err)
	s.Len(all, 2)

	s.NoError(s.store.DeleteActorShop(s.ctx, "alice", "smith"))
	all, err = s.store.LoadActor(s.ctx, "alice")
	s.NoError(err)
	s.Equal([]types.TradeState{trade("alice", "market", "bread", 3, 300)}, all)

	s.NoError(s.store.DeleteActor(s.ctx, "alice"))
	all, err = s.store.LoadActor(s.ctx, "alice")
	s.NoError(err)
	s.Empty(all)

	bob, err := s.store.LoadActor(s.ctx, "bob")
	s.NoError(err)
	s.Len(bob, 2)

	// deleting what is not there is fine
	s.NoError(s.store.DeleteActor(s.ctx, "alice"))
	s.NoError(s.store.DeleteTradeState(s.ctx, types.ActorTradeID{Actor: "x", Shop: "y", Trade: "z"}))
}

func (s *StoreSuite) TestDeleteShopTradeAcrossActors() {
	s.seed()
	s.NoError(s.store.DeleteShopTrade(s.ctx, "smith", "sword"))

	for _, actor := range []string{"alice", "bob"} {
		st, err := s.store.LoadTradeState(s.ctx, types.ActorTradeID{Actor: actor, Shop: "smith", Trade: "sword"})
		s.NoError(err)
		s.Nil(st, actor)
	}
	st, err := s.store.LoadTradeState(s.ctx, types.ActorTradeID{Actor: "alice", Shop: "smith", Trade: "shield"})
	s.NoError(err)
	s.NotNil(st)
}

func (s *StoreSuite) TestDeleteShopAcrossActors() {
	s.seed()
	s.NoError(s.store.DeleteShop(s.ctx, "market"))

	alice, err := s.store.LoadActor(s.ctx, "alice")
	s.NoError(err)
	s.Len(alice, 2)
	bob, err := s.store.LoadActor(s.ctx, "bob")
	s.NoError(err)
	s.Equal([]types.TradeState{trade("bob", "smith", "sword", 4, 400)}, bob)
}

func (s *StoreSuite) TestListActors() {
	actors, err := s.store.ListActors(s.ctx)
	s.NoError(err)
	s.Empty(actors)

	s.seed()
	actors, err = s.store.ListActors(s.ctx)
	s.NoError(err)
	sort.Strings(actors)
	s.Equal([]string{"alice", "bob"}, actors)

	s.NoError(s.store.DeleteActor(s.ctx, "bob"))
	actors, err = s.store.ListActors(s.ctx)
	s.NoError(err)
	s.Equal([]string{"alice"}, actors)
}

func (s *StoreSuite) TestPools() {
	s.Require().NoError(s.store.SavePoolStates(s.ctx, []types.PoolState{
		pool("market", "bread", 4, 100),
		pool("market", "apple", 1, 200),
		pool("bazaar", "rug", 2, 300),
	}))

	ps, err := s.store.LoadPoolState(s.ctx, types.PoolTradeID{Shop: "market", Trade: "bread"})
	s.Require().NoError(err)
	s.Require().NotNil(ps)
	s.Equal(pool("market", "bread", 4, 100), *ps)

	shop, err := s.store.LoadPoolShop(s.ctx, "market")
	s.NoError(err)
	s.Len(shop, 2)

	s.Require().NoError(s.store.SavePoolStates(s.ctx, []types.PoolState{pool("market", "bread", 0, 999)}))
	ps, err = s.store.LoadPoolState(s.ctx, types.PoolTradeID{Shop: "market", Trade: "bread"})
	s.Require().NoError(err)
	s.Equal(0, ps.Used)

	s.NoError(s.store.DeletePoolState(s.ctx, types.PoolTradeID{Shop: "market", Trade: "apple"}))
	shop, err = s.store.LoadPoolShop(s.ctx, "market")
	s.NoError(err)
	s.Len(shop, 1)

	s.NoError(s.store.DeletePoolShop(s.ctx, "market"))
	shop, err = s.store.LoadPoolShop(s.ctx, "market")
	s.NoError(err)
	s.Empty(shop)

	other, err := s.store.LoadPoolShop(s.ctx, "bazaar")
	s.NoError(err)
	s.Len(other, 1)
}

func (s *StoreSuite) TestPoolsDoNotLeakIntoActors() {
	s.Require().NoError(s.store.SavePoolStates(s.ctx, []types.PoolState{pool("market", "bread", 4, 100)}))
	actors, err := s.store.ListActors(s.ctx)
	s.NoError(err)
	s.Empty(actors)
}

func (s *StoreSuite) TestScan() {
	s.seed()
	s.Require().NoError(s.store.SavePoolStates(s.ctx, []types.PoolState{pool("market", "bread", 4, 100)}))

	var trades []types.TradeState
	s.NoError(s.store.ScanTradeStates(s.ctx, func(st types.TradeState) error {
		trades = append(trades, st)
		return nil
	}))
	s.Len(trades, 5)
	s.Equal(trade("alice", "market", "bread", 3, 300), sortTrades(trades)[0])

	var pools []types.PoolState
	s.NoError(s.store.ScanPoolStates(s.ctx, func(st types.PoolState) error {
		pools = append(pools, st)
		return nil
	}))
	s.Equal([]types.PoolState{pool("market", "bread", 4, 100)}, pools)
}

func (s *StoreSuite) TestKeysWithSeparators() {
	st := trade("a:b#c", "shop:1", "trade#x", 1, 1)
	s.Require().NoError(s.store.SaveTradeStates(s.ctx, []types.TradeState{st}))
	got, err := s.store.LoadTradeState(s.ctx, st.ID())
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(st, *got)

	shop, err := s.store.LoadActorShop(s.ctx, "a:b#c", "shop:1")
	s.NoError(err)
	s.Len(shop, 1)
}
