package flow

import (
	"context"
	"time"

	"stockcontrol/internal/catalog"
	"stockcontrol/internal/cooldown"
	"stockcontrol/internal/ledger"
	"stockcontrol/internal/maintenance"
	"stockcontrol/internal/types"
	"stockcontrol/internal/viewer"

	log "github.com/sirupsen/logrus"
)

// Decision is what the host gets back for an attempt or a commit. Untracked trades are always
// allowed and carry no numbers.
type Decision struct {
	Allowed        bool   `json:"allowed"`
	Tracked        bool   `json:"tracked"`
	Shop           string `json:"shop,omitempty"`
	Trade          string `json:"trade,omitempty"`
	Remaining      int    `json:"remaining"`
	Max            int    `json:"max,omitempty"`
	ResetInSeconds int64  `json:"reset_in_seconds"`
	ResetIn        string `json:"reset_in,omitempty"`
	ResetTime      string `json:"reset_time,omitempty"`
}

// Engine is the host-facing surface: trade lifecycle events, display lookups and admin operations.
type Engine struct {
	catalog  *catalog.Holder
	stock    *ledger.Stock
	viewers  *viewer.Coordinator
	sched    *maintenance.Scheduler
	presence *Presence
}

func NewEngine(holder *catalog.Holder, stock *ledger.Stock, viewers *viewer.Coordinator,
	sched *maintenance.Scheduler, presence *Presence) *Engine {
	return &Engine{
		catalog:  holder,
		stock:    stock,
		viewers:  viewers,
		sched:    sched,
		presence: presence,
	}
}

// OnShopOpened registers the actor as a viewer of the shop and pre-warms its records.
func (e *Engine) OnShopOpened(actor, shop string) {
	e.presence.Seen(actor)
	e.viewers.RegisterViewer(actor, shop)
}

// OnTradeAttempt decides whether the trade may go ahead. A denial changes nothing.
func (e *Engine) OnTradeAttempt(ctx context.Context, ev TradeEvent) Decision {
	e.presence.Seen(ev.Actor)
	shop, def := resolve(e.catalog.Load(), ev)
	if def == nil {
		log.WithFields(log.Fields{"actor": ev.Actor, "shop": ev.Shop}).Debug("untracked trade allowed")
		return Decision{Allowed: true}
	}
	e.viewers.Touch(ev.Actor, shop.ID)
	e.awaitWarm(ctx, ev.Actor, shop.ID)

	allowed := e.stock.CanTrade(ev.Actor, shop.ID, def.Key)
	d := e.decision(ev.Actor, shop, def)
	d.Allowed = allowed
	if !allowed {
		log.WithFields(log.Fields{
			"actor": ev.Actor, "shop": shop.ID, "trade": def.Key, "reset_in": d.ResetIn,
		}).Debug("trade blocked, limit reached")
	}
	return d
}

// OnTradeCommitted records a use and, for pooled shops, schedules a refresh of every viewer's display.
func (e *Engine) OnTradeCommitted(ctx context.Context, ev TradeEvent) Decision {
	e.presence.Seen(ev.Actor)
	shop, def := resolve(e.catalog.Load(), ev)
	if def == nil {
		return Decision{Allowed: true}
	}
	e.viewers.Touch(ev.Actor, shop.ID)
	e.awaitWarm(ctx, ev.Actor, shop.ID)
	e.stock.RecordTrade(ev.Actor, shop.ID, def.Key)
	if shop.Pooled() {
		e.viewers.ScheduleSharedPush(shop.ID)
	}
	d := e.decision(ev.Actor, shop, def)
	d.Allowed = true
	return d
}

// awaitWarm waits for the pre-warm started at shop open. A late or failing store is not allowed to
// hold up the decision past the warm wait; the cache serves what it has.
func (e *Engine) awaitWarm(ctx context.Context, actor, shop string) {
	if err := e.stock.WaitWarm(ctx, actor, shop); err != nil {
		log.WithError(err).WithFields(log.Fields{"actor": actor, "shop": shop}).Warn("deciding before pre-warm finished")
	}
}

func (e *Engine) decision(actor string, shop *types.ShopDefinition, def *types.TradeDefinition) Decision {
	reset := e.stock.TimeUntilReset(actor, shop.ID, def.Key)
	d := Decision{
		Tracked:        true,
		Shop:           shop.ID,
		Trade:          def.Key,
		Remaining:      e.stock.Remaining(actor, shop.ID, def.Key),
		Max:            shop.DisplayMax(def),
		ResetInSeconds: int64(reset / time.Second),
		ResetIn:        cooldown.FormatDuration(reset),
		ResetTime:      def.ResetTimeString(),
	}
	if reset < 0 {
		d.ResetInSeconds = -1
	}
	return d
}

// ReportSeen records a last-seen time the host knows better than this process, e.g. after a restart.
func (e *Engine) ReportSeen(actor string, at time.Time) {
	e.presence.SeenAt(actor, at)
}

// OnShopClosed stops pushes to the actor; the viewer context expires on its own.
func (e *Engine) OnShopClosed(actor string) {
	e.viewers.CloseViewer(actor)
}

// OnActorDisconnected drops the viewer context, flushes the actor's records and evicts them.
func (e *Engine) OnActorDisconnected(ctx context.Context, actor string) error {
	e.presence.Seen(actor)
	e.viewers.Remove(actor)
	return e.stock.EvictActor(ctx, actor)
}

// GetDisplayPair is the (used, max) pair for one offer; false means leave the offer untouched.
func (e *Engine) GetDisplayPair(actor, shop, trade string) (types.DisplayPair, bool) {
	e.viewers.Refresh(actor, shop)
	return e.viewers.ComputeDisplay(actor, shop, trade)
}

// DisplayFor returns every tracked offer of the shop for the actor.
func (e *Engine) DisplayFor(actor, shop string) (types.DisplayUpdate, bool) {
	e.viewers.Refresh(actor, shop)
	return e.viewers.DisplayFor(actor, shop)
}
