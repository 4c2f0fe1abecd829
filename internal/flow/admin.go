package flow

import (
	"context"

	"stockcontrol/internal/ledger"
	"stockcontrol/internal/maintenance"
	"stockcontrol/internal/types"
	"stockcontrol/internal/viewer"

	log "github.com/sirupsen/logrus"
)

// Stats gathers the counters of every component.
type Stats struct {
	Ledger      ledger.Stats      `json:"ledger"`
	Viewers     viewer.Stats      `json:"viewers"`
	Maintenance maintenance.Stats `json:"maintenance"`
	Shops       int               `json:"shops"`
}

// ResetTrade clears one actor's use of one trade.
func (e *Engine) ResetTrade(ctx context.Context, actor, shop, trade string) error {
	if _, def := e.catalog.Load().Trade(shop, trade); def == nil {
		return e.unknown(shop, trade)
	}
	return e.stock.ResetOne(ctx, actor, shop, trade)
}

// ResetShop clears every use the actor made in a shop.
func (e *Engine) ResetShop(ctx context.Context, actor, shop string) error {
	if e.catalog.Load().Shop(shop) == nil {
		return types.Err(types.ErrUnknownShop, nil, "shop '%s'", shop)
	}
	return e.stock.ResetShopForActor(ctx, actor, shop)
}

// ResetAll clears every use the actor made anywhere.
func (e *Engine) ResetAll(ctx context.Context, actor string) error {
	return e.stock.ResetAllForActor(ctx, actor)
}

// Restock refills a pooled trade, or every trade of the pooled shop when trade is empty, and
// refreshes the displays of its viewers.
func (e *Engine) Restock(ctx context.Context, shop, trade string) error {
	def := e.catalog.Load().Shop(shop)
	if def == nil {
		return types.Err(types.ErrUnknownShop, nil, "shop '%s'", shop)
	}
	if !def.Pooled() {
		return types.Err(types.ErrNotPooled, nil, "shop '%s'", shop)
	}
	var err error
	if trade == "" {
		err = e.stock.RestockShop(ctx, shop)
	} else {
		if def.Trade(trade) == nil {
			return e.unknown(shop, trade)
		}
		err = e.stock.RestockTrade(ctx, shop, trade)
	}
	e.viewers.ScheduleSharedPush(shop)
	log.WithFields(log.Fields{"shop": shop, "trade": trade}).Info("restocked")
	return err
}

// Status reports raw use-count, remaining count and time to reset.
func (e *Engine) Status(actor, shop, trade string) (ledger.TradeStatus, error) {
	return e.stock.Status(actor, shop, trade)
}

// Sweep runs the cooldown sweep now.
func (e *Engine) Sweep() ledger.SweepResult {
	return e.sched.SweepNow()
}

func (e *Engine) Stats() Stats {
	return Stats{
		Ledger:      e.stock.Stats(),
		Viewers:     e.viewers.Stats(),
		Maintenance: e.sched.Stats(),
		Shops:       len(e.catalog.Load().Shops),
	}
}

// Reload re-reads the catalog. A rejected catalog leaves the live one in place. Shops dropped from the
// catalog have all their state deleted.
func (e *Engine) Reload(ctx context.Context) error {
	old := e.catalog.Load()
	if err := e.catalog.Reload(); err != nil {
		return err
	}
	cur := e.catalog.Load()
	for id := range old.Shops {
		if cur.Shop(id) != nil {
			continue
		}
		if err := e.stock.RestockShop(ctx, id); err != nil {
			log.WithError(err).WithField("shop", id).Error("failed to clean up removed shop")
			continue
		}
		log.WithField("shop", id).Info("cleaned up state of removed shop")
	}
	return nil
}

func (e *Engine) unknown(shop, trade string) error {
	if e.catalog.Load().Shop(shop) == nil {
		return types.Err(types.ErrUnknownShop, nil, "shop '%s'", shop)
	}
	return types.Err(types.ErrUnknownTrade, nil, "trade '%s' in shop '%s'", trade, shop)
}
