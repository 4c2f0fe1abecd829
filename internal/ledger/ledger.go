package ledger

import (
	"time"

	"stockcontrol/internal/cooldown"
	"stockcontrol/internal/types"
)

// counters holds the quota arithmetic shared by both ledgers. The limit passed in is the trade quota
// for pool records and for per-actor shops, the per-actor cap for personal records in pooled shops.
type counters[K comparable] struct {
	recs records[K]
}

// allow lazily resets an expired record and reports whether one more use fits under limit.
// An absent record is always allowed and is not created.
func (l *counters[K]) allow(k K, def *types.TradeDefinition, limit int, now time.Time) bool {
	allowed := true
	l.recs.update(k, nil, func(c *types.Counter) bool {
		if cooldown.Expired(def, *c, now) {
			cooldown.Reset(c, now)
			allowed = true
			return true
		}
		allowed = c.Used < limit
		return false
	})
	return allowed
}

// consume counts one use, creating the record anchored at now when absent. The count never goes
// past limit. It returns the use-count after the call and whether the use was counted.
func (l *counters[K]) consume(k K, def *types.TradeDefinition, limit int, now time.Time) (int, bool) {
	used, counted := 0, false
	l.recs.update(k, func() types.Counter { return newCounter(def, now) }, func(c *types.Counter) bool {
		if cooldown.Expired(def, *c, now) {
			cooldown.Reset(c, now)
		}
		if c.Used < limit {
			c.Used++
			counted = true
		}
		used = c.Used
		return true
	})
	return used, counted
}

// remaining never mutates: an expired record reports the full limit.
func (l *counters[K]) remaining(k K, def *types.TradeDefinition, limit int, now time.Time) int {
	c, ok := l.recs.peek(k)
	if !ok || cooldown.Expired(def, c, now) {
		return limit
	}
	return cooldown.Remaining(limit, c)
}

// used is the use-count as the next decision would see it.
func (l *counters[K]) used(k K, def *types.TradeDefinition, now time.Time) int {
	c, ok := l.recs.peek(k)
	if !ok || cooldown.Expired(def, c, now) {
		return 0
	}
	return c.Used
}

// timeUntilReset is 0 for an absent record.
func (l *counters[K]) timeUntilReset(k K, def *types.TradeDefinition, now time.Time) time.Duration {
	c, ok := l.recs.peek(k)
	if !ok {
		return 0
	}
	return cooldown.TimeUntilReset(def, c, now)
}

func (l *counters[K]) raw(k K) (types.Counter, bool) {
	return l.recs.peek(k)
}

func newCounter(def *types.TradeDefinition, now time.Time) types.Counter {
	c := types.Counter{Anchor: now.Unix()}
	if def != nil && def.CooldownMode == types.CooldownRolling {
		c.WindowSeconds = def.CooldownSeconds
	}
	return c
}

// Ledger is the per-actor trade-state cache.
type Ledger struct {
	counters[types.ActorTradeID]
}

func (l *Ledger) evictActor(actor string) []snapshot[types.ActorTradeID] {
	return l.recs.evictWhere(func(id types.ActorTradeID, _ types.Counter) bool {
		return id.Actor == actor
	})
}

func (l *Ledger) evictActorShop(actor, shop string) []snapshot[types.ActorTradeID] {
	return l.recs.evictWhere(func(id types.ActorTradeID, _ types.Counter) bool {
		return id.Actor == actor && id.Shop == shop
	})
}

func (l *Ledger) evictOne(id types.ActorTradeID) []snapshot[types.ActorTradeID] {
	return l.recs.evictWhere(func(k types.ActorTradeID, _ types.Counter) bool { return k == id })
}

// evictTrade drops every actor's record of one trade, or of every trade of the shop when trade is empty.
func (l *Ledger) evictTrade(shop, trade string) []snapshot[types.ActorTradeID] {
	return l.recs.evictWhere(func(id types.ActorTradeID, _ types.Counter) bool {
		return id.Shop == shop && (trade == "" || id.Trade == trade)
	})
}

// PoolLedger is the shared counterpart of Ledger: one record per pooled trade.
type PoolLedger struct {
	counters[types.PoolTradeID]
}

func (p *PoolLedger) evictTrade(shop, trade string) []snapshot[types.PoolTradeID] {
	return p.recs.evictWhere(func(id types.PoolTradeID, _ types.Counter) bool {
		return id.Shop == shop && (trade == "" || id.Trade == trade)
	})
}
