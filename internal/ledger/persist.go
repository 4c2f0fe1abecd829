package ledger

import (
	"context"
	"errors"
	"time"

	"stockcontrol/internal/cooldown"
	"stockcontrol/internal/ports"
	"stockcontrol/internal/types"

	log "github.com/sirupsen/logrus"
)

func tradeStates(snaps []snapshot[types.ActorTradeID]) []types.TradeState {
	out := make([]types.TradeState, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, types.TradeState{Actor: sn.key.Actor, Shop: sn.key.Shop, Trade: sn.key.Trade, Counter: sn.c})
	}
	return out
}

func poolStates(snaps []snapshot[types.PoolTradeID]) []types.PoolState {
	out := make([]types.PoolState, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, types.PoolState{Shop: sn.key.Shop, Trade: sn.key.Trade, Counter: sn.c})
	}
	return out
}

func onlyDirty[K comparable](snaps []snapshot[K]) []snapshot[K] {
	out := snaps[:0:0]
	for _, sn := range snaps {
		if sn.dirty {
			out = append(out, sn)
		}
	}
	return out
}

// Flush writes every dirty record to the store in one batch per record set. Records whose write
// failed stay dirty for the next flush.
func (s *Stock) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.storeMu.RLock()
	defer s.storeMu.RUnlock()

	trades := s.actors.recs.takeDirty()
	pools := s.pools.recs.takeDirty()
	if len(trades) == 0 && len(pools) == 0 {
		return nil
	}

	var errs []error
	if len(trades) > 0 {
		if err := s.store.SaveTradeStates(ctx, tradeStates(trades)); err != nil {
			s.actors.recs.remark(trades)
			errs = append(errs, err)
		}
	}
	if len(pools) > 0 {
		if err := s.store.SavePoolStates(ctx, poolStates(pools)); err != nil {
			s.pools.recs.remark(pools)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		failures := s.flushFailures.Add(1)
		entry := log.WithError(errors.Join(errs...)).WithFields(log.Fields{
			"failures": failures,
			"records":  len(trades) + len(pools),
		})
		if failures >= s.flushAlarm {
			entry.Error("trade state flush keeps failing; changes are held in memory only")
		} else {
			entry.Warn("trade state flush failed, will retry")
		}
		return types.Err(types.ErrDataStoreAccess, errors.Join(errs...), "")
	}
	if prev := s.flushFailures.Swap(0); prev >= s.flushAlarm {
		log.WithField("failures", prev).Info("trade state flush recovered")
	}
	s.flushed.Add(int64(len(trades) + len(pools)))
	log.WithFields(log.Fields{"trades": len(trades), "pools": len(pools)}).Debug("flushed trade state")
	return nil
}

// ResetOne clears one actor's record of one trade.
func (s *Stock) ResetOne(ctx context.Context, actor, shopID, tradeKey string) error {
	id := types.ActorTradeID{Actor: actor, Shop: shopID, Trade: tradeKey}
	return s.evictAndDelete(func() {
		s.actors.evictOne(id)
	}, func() error {
		return s.store.DeleteTradeState(ctx, id)
	})
}

// ResetShopForActor clears every record the actor holds in one shop.
func (s *Stock) ResetShopForActor(ctx context.Context, actor, shopID string) error {
	return s.evictAndDelete(func() {
		s.actors.evictActorShop(actor, shopID)
	}, func() error {
		return s.store.DeleteActorShop(ctx, actor, shopID)
	})
}

// ResetAllForActor clears every record the actor holds.
func (s *Stock) ResetAllForActor(ctx context.Context, actor string) error {
	return s.evictAndDelete(func() {
		s.actors.evictActor(actor)
	}, func() error {
		return s.store.DeleteActor(ctx, actor)
	})
}

// RestockTrade refills one trade: the pool record and every actor's personal record are removed.
func (s *Stock) RestockTrade(ctx context.Context, shopID, tradeKey string) error {
	return s.evictAndDelete(func() {
		s.pools.evictTrade(shopID, tradeKey)
		s.actors.evictTrade(shopID, tradeKey)
	}, func() error {
		return errors.Join(
			s.store.DeletePoolState(ctx, types.PoolTradeID{Shop: shopID, Trade: tradeKey}),
			s.store.DeleteShopTrade(ctx, shopID, tradeKey),
		)
	})
}

// RestockShop refills every trade of a shop.
func (s *Stock) RestockShop(ctx context.Context, shopID string) error {
	return s.evictAndDelete(func() {
		s.pools.evictTrade(shopID, "")
		s.actors.evictTrade(shopID, "")
	}, func() error {
		return errors.Join(
			s.store.DeletePoolShop(ctx, shopID),
			s.store.DeleteShop(ctx, shopID),
		)
	})
}

// evictAndDelete drops records from cache and dirty set, then deletes them from the store synchronously.
// A store failure is returned but the cache stays reset.
func (s *Stock) evictAndDelete(evict func(), del func() error) error {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	evict()
	if err := del(); err != nil {
		log.WithError(err).Error("failed to delete trade state")
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	return nil
}

// EvictActor writes the actor's dirty records and drops all of them from the cache. The next shop
// open reloads them from the store. If the write fails the records stay cached and dirty.
func (s *Stock) EvictActor(ctx context.Context, actor string) error {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	snaps := s.actors.evictActor(actor)
	s.forgetActor(actor)
	dirty := onlyDirty(snaps)
	if len(dirty) == 0 {
		return nil
	}
	if err := s.store.SaveTradeStates(ctx, tradeStates(dirty)); err != nil {
		s.actors.recs.restore(dirty)
		log.WithError(err).WithField("actor", actor).Error("failed to flush trade state on disconnect")
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	s.flushed.Add(int64(len(dirty)))
	return nil
}

// SweepResult counts records evicted by one cooldown sweep.
type SweepResult struct {
	Actors int `json:"actors"`
	Pools  int `json:"pools"`
}

func (r SweepResult) Total() int { return r.Actors + r.Pools }

// SweepExpired evicts cached records whose window has elapsed and that still carry uses. Records of
// trades that never reset are kept. An evicted record is equivalent to a fresh one, so nothing is written.
func (s *Stock) SweepExpired() SweepResult {
	cat := s.catalog.Load()
	now := s.now()
	expired := func(shopID, tradeKey string, c types.Counter) bool {
		if c.Used <= 0 {
			return false
		}
		_, def := cat.Trade(shopID, tradeKey)
		if def != nil && def.CooldownMode == types.CooldownNone {
			return false
		}
		return cooldown.Expired(def, c, now)
	}
	res := SweepResult{
		Actors: len(s.actors.recs.evictWhere(func(id types.ActorTradeID, c types.Counter) bool {
			return expired(id.Shop, id.Trade, c)
		})),
		Pools: len(s.pools.recs.evictWhere(func(id types.PoolTradeID, c types.Counter) bool {
			return expired(id.Shop, id.Trade, c)
		})),
	}
	if res.Total() > 0 {
		log.WithFields(log.Fields{"actors": res.Actors, "pools": res.Pools}).Debug("evicted expired cooldowns")
	}
	return res
}

// PurgeActor deletes all of an actor's state, cached and stored.
func (s *Stock) PurgeActor(ctx context.Context, actor string) error {
	err := s.ResetAllForActor(ctx, actor)
	s.forgetActor(actor)
	return err
}

// PurgeInactive deletes all state of stored actors last seen more than threshold ago. Actors the
// presence source does not know are kept.
func (s *Stock) PurgeInactive(ctx context.Context, presence ports.Presence, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		return 0, nil
	}
	actors, err := s.store.ListActors(ctx)
	if err != nil {
		return 0, types.Err(types.ErrDataStoreAccess, err, "list actors")
	}
	cutoff := s.now().Add(-threshold)
	purged := 0
	var errs []error
	for _, actor := range actors {
		seen, ok := presence.LastSeen(actor)
		if !ok || !seen.Before(cutoff) {
			continue
		}
		if err := s.PurgeActor(ctx, actor); err != nil {
			errs = append(errs, err)
			continue
		}
		purged++
	}
	if purged > 0 {
		log.WithFields(log.Fields{"purged": purged, "threshold": threshold}).Info("purged inactive actors")
	}
	return purged, errors.Join(errs...)
}

// Stats is a point-in-time view of the caches.
type Stats struct {
	CachedActorRecords int   `json:"cached_actor_records"`
	CachedPoolRecords  int   `json:"cached_pool_records"`
	DirtyActorRecords  int   `json:"dirty_actor_records"`
	DirtyPoolRecords   int   `json:"dirty_pool_records"`
	FlushedRecords     int64 `json:"flushed_records"`
	FlushFailures      int64 `json:"consecutive_flush_failures"`
}

func (s *Stock) Stats() Stats {
	return Stats{
		CachedActorRecords: s.actors.recs.len(),
		CachedPoolRecords:  s.pools.recs.len(),
		DirtyActorRecords:  s.actors.recs.dirtyLen(),
		DirtyPoolRecords:   s.pools.recs.dirtyLen(),
		FlushedRecords:     s.flushed.Load(),
		FlushFailures:      s.flushFailures.Load(),
	}
}
