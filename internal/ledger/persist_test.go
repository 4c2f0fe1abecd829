package ledger

import (
	"context"
	"time"

	"stockcontrol/internal/types"
)

type presenceMap map[string]time.Time

func (p presenceMap) LastSeen(actor string) (time.Time, bool) {
	t, ok := p[actor]
	return t, ok
}

func (s *LedgerTestSuite) TestFlushWritesEveryDirtyRecordOnce() {
	s.True(s.trade("a", "smith", "sword"))
	s.True(s.trade("a", "smith", "sword"))
	s.True(s.trade("b", "market", "bread"))
	s.Equal(2, s.stock.Stats().DirtyActorRecords)
	s.Equal(1, s.stock.Stats().DirtyPoolRecords)

	s.Require().NoError(s.stock.Flush(s.ctx))
	s.Equal(2, s.store.saves)

	cached, _ := s.personal("a", "smith", "sword")
	stored, ok := s.store.trade("a", "smith", "sword")
	s.True(ok)
	s.Equal(cached, stored)
	pool, ok := s.store.pool("market", "bread")
	s.True(ok)
	s.Equal(1, pool.Used)
	s.Len(s.store.trades, 2)

	s.Require().NoError(s.stock.Flush(s.ctx))
	s.Equal(2, s.store.saves)
	s.Equal(int64(3), s.stock.Stats().FlushedRecords)
}

func (s *LedgerTestSuite) TestFlushFailureKeepsRecordsDirty() {
	s.store.setFail(true)
	s.True(s.trade("a", "smith", "sword"))
	for i := 1; i <= 3; i++ {
		err := s.stock.Flush(s.ctx)
		s.ErrorIs(err, types.ErrDataStoreAccess)
		s.Equal(int64(i), s.stock.Stats().FlushFailures)
		s.Equal(1, s.stock.Stats().DirtyActorRecords)
	}

	s.True(s.trade("a", "smith", "sword"))
	s.store.setFail(false)
	s.Require().NoError(s.stock.Flush(s.ctx))
	s.Equal(int64(0), s.stock.Stats().FlushFailures)
	stored, ok := s.store.trade("a", "smith", "sword")
	s.True(ok)
	s.Equal(2, stored.Used)
}

func (s *LedgerTestSuite) TestMutationAfterTakeIsFlushedNextTime() {
	s.True(s.trade("a", "smith", "sword"))
	taken := s.stock.actors.recs.takeDirty()
	s.Len(taken, 1)
	s.True(s.trade("a", "smith", "sword"))
	s.Equal(1, s.stock.Stats().DirtyActorRecords)
	s.Require().NoError(s.stock.Flush(s.ctx))
	stored, _ := s.store.trade("a", "smith", "sword")
	s.Equal(2, stored.Used)
}

func (s *LedgerTestSuite) TestResetOperations() {
	s.True(s.trade("a", "smith", "sword"))
	s.True(s.trade("a", "smith", "daily"))
	s.True(s.trade("a", "market", "bread"))
	s.True(s.trade("b", "smith", "sword"))
	s.Require().NoError(s.stock.Flush(s.ctx))

	s.Require().NoError(s.stock.ResetOne(s.ctx, "a", "smith", "sword"))
	_, ok := s.personal("a", "smith", "sword")
	s.False(ok)
	_, ok = s.store.trade("a", "smith", "sword")
	s.False(ok)
	_, ok = s.store.trade("a", "smith", "daily")
	s.True(ok)

	s.Require().NoError(s.stock.ResetShopForActor(s.ctx, "a", "smith"))
	_, ok = s.store.trade("a", "smith", "daily")
	s.False(ok)
	_, ok = s.store.trade("a", "market", "bread")
	s.True(ok)

	s.Require().NoError(s.stock.ResetAllForActor(s.ctx, "a"))
	_, ok = s.store.trade("a", "market", "bread")
	s.False(ok)
	_, ok = s.personal("a", "market", "bread")
	s.False(ok)

	_, ok = s.store.trade("b", "smith", "sword")
	s.True(ok)
	s.Equal(2, s.stock.Remaining("b", "smith", "sword"))
	s.Equal(9, s.stock.PoolRemaining("market", "bread"))
}

func (s *LedgerTestSuite) TestResetDropsPendingWrites() {
	s.True(s.trade("a", "smith", "sword"))
	s.Require().NoError(s.stock.ResetOne(s.ctx, "a", "smith", "sword"))
	s.Require().NoError(s.stock.Flush(s.ctx))
	_, ok := s.store.trade("a", "smith", "sword")
	s.False(ok)
	s.Equal(0, s.store.saves)
}

func (s *LedgerTestSuite) TestResetStoreFailureStillResetsCache() {
	s.True(s.trade("a", "smith", "sword"))
	s.store.setFail(true)
	s.ErrorIs(s.stock.ResetOne(s.ctx, "a", "smith", "sword"), types.ErrDataStoreAccess)
	s.Equal(3, s.stock.Remaining("a", "smith", "sword"))
}

func (s *LedgerTestSuite) TestRestockTrade() {
	s.True(s.trade("a", "market", "bread"))
	s.True(s.trade("b", "market", "bread"))
	s.True(s.trade("b", "market", "apple"))
	s.Require().NoError(s.stock.Flush(s.ctx))

	s.Require().NoError(s.stock.RestockTrade(s.ctx, "market", "bread"))
	s.Equal(10, s.stock.PoolRemaining("market", "bread"))
	s.Equal(2, s.stock.Remaining("b", "market", "bread"))
	_, ok := s.store.pool("market", "bread")
	s.False(ok)
	_, ok = s.store.trade("a", "market", "bread")
	s.False(ok)
	_, ok = s.store.pool("market", "apple")
	s.True(ok)
	s.Equal(2, s.stock.PoolRemaining("market", "apple"))
}

func (s *LedgerTestSuite) TestPrewarmLoadsStoredState() {
	anchor := s.now.Unix()
	s.Require().NoError(s.store.SaveTradeStates(s.ctx, []types.TradeState{
		{Actor: "a", Shop: "market", Trade: "bread", Counter: types.Counter{Used: 2, Anchor: anchor, WindowSeconds: 60}},
	}))
	s.Require().NoError(s.store.SavePoolStates(s.ctx, []types.PoolState{
		{Shop: "market", Trade: "bread", Counter: types.Counter{Used: 7, Anchor: anchor, WindowSeconds: 60}},
	}))

	s.Require().NoError(s.stock.WaitWarm(s.ctx, "a", "market"))
	s.False(s.stock.CanTrade("a", "market", "bread"))
	s.Equal(3, s.stock.PoolRemaining("market", "bread"))
	s.Equal(0, s.stock.Stats().DirtyActorRecords)
}

func (s *LedgerTestSuite) TestPrewarmKeepsNewerCachedState() {
	s.Require().NoError(s.store.SaveTradeStates(s.ctx, []types.TradeState{
		{Actor: "a", Shop: "smith", Trade: "sword", Counter: types.Counter{Used: 3, Anchor: s.now.Unix(), WindowSeconds: 10}},
	}))
	s.stock.RecordTrade("a", "smith", "sword")
	s.Require().NoError(s.stock.WaitWarm(s.ctx, "a", "smith"))
	c, _ := s.personal("a", "smith", "sword")
	s.Equal(1, c.Used)
}

func (s *LedgerTestSuite) TestPrewarmFailureServesCacheAndRetries() {
	s.store.setFail(true)
	s.Require().NoError(s.stock.WaitWarm(s.ctx, "a", "smith"))
	s.True(s.stock.CanTrade("a", "smith", "sword"))

	s.store.setFail(false)
	s.Require().NoError(s.store.SaveTradeStates(s.ctx, []types.TradeState{
		{Actor: "a", Shop: "smith", Trade: "sword", Counter: types.Counter{Used: 3, Anchor: s.now.Unix(), WindowSeconds: 10}},
	}))
	s.stock.Prewarm("a", "smith")
	s.Require().NoError(s.stock.WaitWarm(s.ctx, "a", "smith"))
	s.False(s.stock.CanTrade("a", "smith", "sword"))
}

func (s *LedgerTestSuite) TestFailedPrewarmIsNotRetriedByDecisions() {
	s.store.setFail(true)
	s.stock.Prewarm("a", "smith")
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.stock.WaitWarm(s.ctx, "a", "smith"))
		s.True(s.stock.CanTrade("a", "smith", "sword"))
	}
	s.Equal(1, s.store.actorShopLoads())

	s.advance(warmRetryBackoff)
	s.Require().NoError(s.stock.WaitWarm(s.ctx, "a", "smith"))
	s.Equal(2, s.store.actorShopLoads())

	s.stock.Prewarm("a", "smith")
	s.Require().NoError(s.stock.WaitWarm(s.ctx, "a", "smith"))
	s.Equal(3, s.store.actorShopLoads())
}

func (s *LedgerTestSuite) TestWaitWarmGivesUpOnStalledStore() {
	hold := make(chan struct{})
	s.store.setHold(hold)
	defer close(hold)

	start := time.Now()
	err := s.stock.WaitWarm(s.ctx, "a", "smith")
	s.ErrorIs(err, context.DeadlineExceeded)
	s.Less(time.Since(start), 5*time.Second)
	s.True(s.stock.CanTrade("a", "smith", "sword"))

	// The stalled fill is shared, not restarted.
	s.ErrorIs(s.stock.WaitWarm(s.ctx, "a", "smith"), context.DeadlineExceeded)
	s.Equal(0, s.store.actorShopLoads())
}

func (s *LedgerTestSuite) TestEvictActorFlushesAndReloads() {
	s.True(s.trade("a", "smith", "sword"))
	s.True(s.trade("a", "smith", "sword"))
	s.True(s.trade("b", "smith", "sword"))
	s.Require().NoError(s.stock.WaitWarm(s.ctx, "a", "smith"))

	s.Require().NoError(s.stock.EvictActor(s.ctx, "a"))
	_, ok := s.personal("a", "smith", "sword")
	s.False(ok)
	stored, ok := s.store.trade("a", "smith", "sword")
	s.True(ok)
	s.Equal(2, stored.Used)
	_, ok = s.personal("b", "smith", "sword")
	s.True(ok)

	s.Require().NoError(s.stock.WaitWarm(s.ctx, "a", "smith"))
	s.Equal(1, s.stock.Remaining("a", "smith", "sword"))
}

func (s *LedgerTestSuite) TestEvictActorFailureKeepsRecords() {
	s.True(s.trade("a", "smith", "sword"))
	s.store.setFail(true)
	s.ErrorIs(s.stock.EvictActor(s.ctx, "a"), types.ErrDataStoreAccess)
	c, ok := s.personal("a", "smith", "sword")
	s.True(ok)
	s.Equal(1, c.Used)
	s.Equal(1, s.stock.Stats().DirtyActorRecords)
}

func (s *LedgerTestSuite) TestSweepEvictsOnlyExpiredUsedRecords() {
	for i := 0; i < 3; i++ {
		s.True(s.trade("a", "smith", "sword"))
	}
	s.True(s.trade("a", "smith", "relic"))
	s.True(s.trade("b", "smith", "sword"))
	s.True(s.trade("a", "market", "bread"))

	s.advance(11 * time.Second)
	s.True(s.stock.CanTrade("b", "smith", "sword"))

	res := s.stock.SweepExpired()
	s.Equal(SweepResult{Actors: 1, Pools: 0}, res)
	_, ok := s.personal("a", "smith", "sword")
	s.False(ok)
	_, ok = s.personal("a", "smith", "relic")
	s.True(ok)
	_, ok = s.personal("b", "smith", "sword")
	s.True(ok)

	s.advance(50 * time.Second)
	res = s.stock.SweepExpired()
	s.Equal(SweepResult{Actors: 1, Pools: 1}, res)
	s.Equal(10, s.stock.PoolRemaining("market", "bread"))
}

func (s *LedgerTestSuite) TestPurgeInactive() {
	for _, actor := range []string{"old", "fresh", "unknown"} {
		s.True(s.trade(actor, "smith", "sword"))
	}
	s.Require().NoError(s.stock.Flush(s.ctx))
	presence := presenceMap{
		"old":   s.now.Add(-40 * 24 * time.Hour),
		"fresh": s.now.Add(-time.Hour),
	}

	n, err := s.stock.PurgeInactive(s.ctx, presence, 30*24*time.Hour)
	s.Require().NoError(err)
	s.Equal(1, n)
	_, ok := s.store.trade("old", "smith", "sword")
	s.False(ok)
	_, ok = s.personal("old", "smith", "sword")
	s.False(ok)
	_, ok = s.store.trade("fresh", "smith", "sword")
	s.True(ok)
	_, ok = s.store.trade("unknown", "smith", "sword")
	s.True(ok)

	n, err = s.stock.PurgeInactive(s.ctx, presence, 0)
	s.NoError(err)
	s.Equal(0, n)
}
