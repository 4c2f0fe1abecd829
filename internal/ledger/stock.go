package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"stockcontrol/internal/cooldown"
	"stockcontrol/internal/ports"
	"stockcontrol/internal/types"

	log "github.com/sirupsen/logrus"
)

// CatalogSource yields the live catalog snapshot.
type CatalogSource interface {
	Load() *types.Catalog
}

// Stock decides and records trades against both ledgers. Decisions are served from cache only;
// the store is touched by pre-warm, flush, reset, eviction and purge.
type Stock struct {
	catalog CatalogSource
	store   ports.StateStore
	loc     *time.Location

	actors Ledger
	pools  PoolLedger
	warm   warmer

	// storeMu orders cache fills and write-backs (read side) against evict-then-delete
	// operations (write side) so a delete is never undone by a stale write or fill.
	storeMu sync.RWMutex
	flushMu sync.Mutex

	flushAlarm    int64
	warmWait      time.Duration
	flushFailures atomic.Int64
	flushed       atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cat CatalogSource, store ports.StateStore, settings types.Settings) *Stock {
	loc := settings.Location
	if loc == nil {
		loc = time.Local
	}
	alarm := settings.FlushAlarm
	if alarm < 1 {
		alarm = types.DefaultFlushAlarm
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stock{
		catalog:    cat,
		store:      store,
		loc:        loc,
		flushAlarm: int64(alarm),
		warmWait:   settings.WarmWait,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Stock) now() time.Time {
	return types.Now().In(s.loc)
}

// Catalog returns the live catalog snapshot.
func (s *Stock) Catalog() *types.Catalog {
	return s.catalog.Load()
}

// tracked resolves a trade that quotas apply to. Unknown shops and trades, and disabled shops, are untracked.
func (s *Stock) tracked(shopID, tradeKey string) (*types.ShopDefinition, *types.TradeDefinition, bool) {
	shop, def := s.catalog.Load().Trade(shopID, tradeKey)
	if shop == nil || def == nil || !shop.Enabled {
		return nil, nil, false
	}
	return shop, def, true
}

// CanTrade reports whether the actor may make one more use of the trade. It may reset an expired
// record in place but never counts a use. Untracked trades are always allowed.
func (s *Stock) CanTrade(actor, shopID, tradeKey string) bool {
	shop, def, ok := s.tracked(shopID, tradeKey)
	if !ok {
		return true
	}
	now := s.now()
	id := types.ActorTradeID{Actor: actor, Shop: shopID, Trade: tradeKey}
	if !shop.Pooled() {
		return s.actors.allow(id, def, def.Quota, now)
	}
	if !s.pools.allow(types.PoolTradeID{Shop: shopID, Trade: tradeKey}, def, def.Quota, now) {
		return false
	}
	if limit := shop.ActorCap(def); limit > 0 {
		return s.actors.allow(id, def, limit, now)
	}
	return true
}

// RecordTrade counts one use. In pooled shops the pool is always charged and the actor's personal
// record only when a per-actor cap applies.
func (s *Stock) RecordTrade(actor, shopID, tradeKey string) {
	shop, def, ok := s.tracked(shopID, tradeKey)
	if !ok {
		return
	}
	now := s.now()
	id := types.ActorTradeID{Actor: actor, Shop: shopID, Trade: tradeKey}
	if !shop.Pooled() {
		used, counted := s.actors.consume(id, def, def.Quota, now)
		s.traceRecord(id, used, def.Quota, counted)
		return
	}
	used, counted := s.pools.consume(types.PoolTradeID{Shop: shopID, Trade: tradeKey}, def, def.Quota, now)
	s.traceRecord(id, used, def.Quota, counted)
	if limit := shop.ActorCap(def); limit > 0 {
		s.actors.consume(id, def, limit, now)
	}
}

func (s *Stock) traceRecord(id types.ActorTradeID, used, limit int, counted bool) {
	if !counted {
		log.WithFields(log.Fields{"actor": id.Actor, "shop": id.Shop, "trade": id.Trade}).
			Warn("trade committed past its quota; use not counted")
		return
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithFields(log.Fields{
			"actor": id.Actor, "shop": id.Shop, "trade": id.Trade, "used": used, "max": limit,
		}).Debug("recorded trade")
	}
}

// Remaining is the number of uses left for the actor: min(pool, personal) in capped pooled shops.
// Untracked trades report 0.
func (s *Stock) Remaining(actor, shopID, tradeKey string) int {
	shop, def, ok := s.tracked(shopID, tradeKey)
	if !ok {
		return 0
	}
	now := s.now()
	id := types.ActorTradeID{Actor: actor, Shop: shopID, Trade: tradeKey}
	if !shop.Pooled() {
		return s.actors.remaining(id, def, def.Quota, now)
	}
	left := s.pools.remaining(types.PoolTradeID{Shop: shopID, Trade: tradeKey}, def, def.Quota, now)
	if limit := shop.ActorCap(def); limit > 0 {
		left = min(left, s.actors.remaining(id, def, limit, now))
	}
	return left
}

// TimeUntilReset is how long until the actor's quota refills. It is 0 when nothing is recorded and
// cooldown.NoAutomaticReset for trades that only reset on restock. In pooled shops it follows whichever
// counter is exhausted, the pool first.
func (s *Stock) TimeUntilReset(actor, shopID, tradeKey string) time.Duration {
	shop, def, ok := s.tracked(shopID, tradeKey)
	if !ok {
		return 0
	}
	now := s.now()
	id := types.ActorTradeID{Actor: actor, Shop: shopID, Trade: tradeKey}
	if !shop.Pooled() {
		return s.actors.timeUntilReset(id, def, now)
	}
	pid := types.PoolTradeID{Shop: shopID, Trade: tradeKey}
	if s.pools.remaining(pid, def, def.Quota, now) == 0 {
		return s.pools.timeUntilReset(pid, def, now)
	}
	if limit := shop.ActorCap(def); limit > 0 && s.actors.remaining(id, def, limit, now) == 0 {
		return s.actors.timeUntilReset(id, def, now)
	}
	return 0
}

// PoolRemaining is the shared stock left, ignoring any per-actor cap.
func (s *Stock) PoolRemaining(shopID, tradeKey string) int {
	shop, def, ok := s.tracked(shopID, tradeKey)
	if !ok || !shop.Pooled() {
		return 0
	}
	return s.pools.remaining(types.PoolTradeID{Shop: shopID, Trade: tradeKey}, def, def.Quota, s.now())
}

// PoolTimeUntilReset is the time until the shared stock refills.
func (s *Stock) PoolTimeUntilReset(shopID, tradeKey string) time.Duration {
	shop, def, ok := s.tracked(shopID, tradeKey)
	if !ok || !shop.Pooled() {
		return 0
	}
	if def.CooldownMode == types.CooldownNone {
		return cooldown.NoAutomaticReset
	}
	return s.pools.timeUntilReset(types.PoolTradeID{Shop: shopID, Trade: tradeKey}, def, s.now())
}

// Display is the (used, max) pair shown to the actor for one offer.
func (s *Stock) Display(actor string, shop *types.ShopDefinition, def *types.TradeDefinition) types.DisplayPair {
	maxUses := shop.DisplayMax(def)
	used := max(0, maxUses-s.Remaining(actor, shop.ID, def.Key))
	return types.DisplayPair{Used: used, Max: maxUses}
}

// TradeStatus is the admin view of one actor's standing on one trade.
type TradeStatus struct {
	Actor          string `json:"actor"`
	Shop           string `json:"shop"`
	Trade          string `json:"trade"`
	Mode           string `json:"mode"`
	CooldownMode   string `json:"cooldown_mode"`
	Used           int    `json:"used"`
	Remaining      int    `json:"remaining"`
	Max            int    `json:"max"`
	ResetInSeconds int64  `json:"reset_in_seconds"`
	ResetIn        string `json:"reset_in"`
	ResetTime      string `json:"reset_time,omitempty"`
	PoolUsed       *int   `json:"pool_used,omitempty"`
	PoolRemaining  *int   `json:"pool_remaining,omitempty"`
	PoolResetIn    string `json:"pool_reset_in,omitempty"`
}

// Status reports raw use-count, remaining count and time-to-reset without side effects.
func (s *Stock) Status(actor, shopID, tradeKey string) (TradeStatus, error) {
	shop, def := s.catalog.Load().Trade(shopID, tradeKey)
	if shop == nil {
		return TradeStatus{}, types.Err(types.ErrUnknownShop, nil, "shop '%s'", shopID)
	}
	if def == nil {
		return TradeStatus{}, types.Err(types.ErrUnknownTrade, nil, "trade '%s' in shop '%s'", tradeKey, shopID)
	}
	now := s.now()
	st := TradeStatus{
		Actor:        actor,
		Shop:         shopID,
		Trade:        tradeKey,
		Mode:         shop.Mode.String(),
		CooldownMode: def.CooldownMode.String(),
		Used:         s.actors.used(types.ActorTradeID{Actor: actor, Shop: shopID, Trade: tradeKey}, def, now),
		Remaining:    s.Remaining(actor, shopID, tradeKey),
		Max:          shop.DisplayMax(def),
		ResetTime:    def.ResetTimeString(),
	}
	reset := s.TimeUntilReset(actor, shopID, tradeKey)
	st.ResetInSeconds = int64(reset / time.Second)
	if reset < 0 {
		st.ResetInSeconds = -1
	}
	st.ResetIn = cooldown.FormatDuration(reset)
	if shop.Pooled() {
		pid := types.PoolTradeID{Shop: shopID, Trade: tradeKey}
		used := s.pools.used(pid, def, now)
		left := s.PoolRemaining(shopID, tradeKey)
		st.PoolUsed, st.PoolRemaining = &used, &left
		st.PoolResetIn = cooldown.FormatDuration(s.PoolTimeUntilReset(shopID, tradeKey))
	}
	return st, nil
}

// Close cancels in-flight pre-warms and waits for them to finish.
func (s *Stock) Close() {
	s.cancel()
	s.warm.wg.Wait()
}
