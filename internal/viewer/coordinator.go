package viewer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"stockcontrol/internal/ports"
	"stockcontrol/internal/types"

	log "github.com/sirupsen/logrus"
)

const pushTimeout = 5 * time.Second

// StockView is what the coordinator needs from the ledgers.
type StockView interface {
	Catalog() *types.Catalog
	Display(actor string, shop *types.ShopDefinition, def *types.TradeDefinition) types.DisplayPair
	Prewarm(actor, shop string)
}

// Context is the shop an actor has open. A closed context still answers display lookups until it
// expires but no longer receives pushes.
type Context struct {
	Shop   string
	Closed bool
}

// Stats counts fan-out work since start.
type Stats struct {
	Viewers int   `json:"viewers"`
	Passes  int64 `json:"passes"`
	Pushes  int64 `json:"pushes"`
	Failed  int64 `json:"failed_pushes"`
}

// Coordinator tracks viewers and keeps pooled-shop displays in sync across them.
type Coordinator struct {
	stock  StockView
	pusher ports.DisplayPusher
	ttl    time.Duration
	tick   time.Duration

	viewers *TTL[string, Context]

	pending   sync.Map // shop id -> struct{}
	scheduled atomic.Bool
	schedule  func(drain func())

	passes atomic.Int64
	pushes atomic.Int64
	failed atomic.Int64

	// mu orders scheduling against Close so no drain is added once Close waits.
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func NewCoordinator(stock StockView, pusher ports.DisplayPusher, settings types.Settings) *Coordinator {
	c := &Coordinator{
		stock:   stock,
		pusher:  pusher,
		ttl:     settings.ViewerTTL,
		tick:    settings.PushTick,
		viewers: NewTTL[string, Context](),
	}
	c.schedule = func(drain func()) {
		time.AfterFunc(c.tick, drain)
	}
	return c
}

// SetScheduleFn replaces how a drain is scheduled. Used in tests only.
func (c *Coordinator) SetScheduleFn(f func(drain func())) {
	c.schedule = f
}

// RegisterViewer records that the actor opened the shop and pre-warms the ledgers for it.
func (c *Coordinator) RegisterViewer(actor, shop string) {
	c.viewers.Set(actor, Context{Shop: shop}, c.ttl)
	c.stock.Prewarm(actor, shop)
	log.WithFields(log.Fields{"actor": actor, "shop": shop, "ttl": c.ttl}).Debug("registered viewer")
}

// Lookup returns the shop the actor has open. Open contexts are refreshed.
func (c *Coordinator) Lookup(actor string) (Context, bool) {
	if ctx, ok := c.viewers.Get(actor); !ok || ctx.Closed {
		return ctx, ok
	}
	return c.viewers.Update(actor, c.ttl, true, func(v Context) Context { return v })
}

// Touch refreshes the actor's context when it is for the given shop.
func (c *Coordinator) Touch(actor, shop string) {
	c.viewers.Update(actor, c.ttl, true, func(v Context) Context {
		if v.Shop == shop {
			v.Closed = false
		}
		return v
	})
}

// Refresh extends the actor's context when it is open on the given shop. A closed context is left closed.
func (c *Coordinator) Refresh(actor, shop string) {
	if v, ok := c.viewers.Get(actor); !ok || v.Closed || v.Shop != shop {
		return
	}
	c.viewers.Update(actor, c.ttl, true, func(v Context) Context { return v })
}

// CloseViewer stops pushes to the actor. The context is left to expire.
func (c *Coordinator) CloseViewer(actor string) {
	c.viewers.Update(actor, c.ttl, false, func(v Context) Context {
		v.Closed = true
		return v
	})
}

// Remove drops the actor's context at once.
func (c *Coordinator) Remove(actor string) {
	c.viewers.Delete(actor)
}

// ComputeDisplay returns the (used, max) pair for one offer. The second result is false for
// untracked trades, whose display must be left alone.
func (c *Coordinator) ComputeDisplay(actor, shopID, tradeKey string) (types.DisplayPair, bool) {
	shop, def := c.stock.Catalog().Trade(shopID, tradeKey)
	if shop == nil || def == nil || !shop.Enabled {
		return types.DisplayPair{}, false
	}
	return c.stock.Display(actor, shop, def), true
}

// DisplayFor computes every tracked offer of the shop for the actor, ordered by slot.
func (c *Coordinator) DisplayFor(actor, shopID string) (types.DisplayUpdate, bool) {
	shop := c.stock.Catalog().Shop(shopID)
	if shop == nil || !shop.Enabled {
		return types.DisplayUpdate{}, false
	}
	update := types.DisplayUpdate{Actor: actor, Shop: shopID}
	for _, def := range shop.OrderedTrades() {
		update.Offers = append(update.Offers, types.OfferDisplay{
			Slot:        def.Slot,
			Trade:       def.Key,
			DisplayPair: c.stock.Display(actor, shop, def),
		})
	}
	return update, true
}

// ScheduleSharedPush marks the shop for a refreshed push. Calls made before the pending drain runs
// are collapsed into that drain.
func (c *Coordinator) ScheduleSharedPush(shop string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pending.Store(shop, struct{}{})
	if c.scheduled.CompareAndSwap(false, true) {
		c.wg.Add(1)
		c.schedule(c.drain)
	}
}

func (c *Coordinator) drain() {
	defer c.wg.Done()
	c.scheduled.Store(false)
	var shops []string
	c.pending.Range(func(key, _ any) bool {
		if _, ok := c.pending.LoadAndDelete(key); ok {
			shops = append(shops, key.(string))
		}
		return true
	})
	for _, shop := range shops {
		c.fanOut(shop)
	}
}

// fanOut pushes fresh numbers to every open viewer of the shop.
func (c *Coordinator) fanOut(shop string) {
	c.passes.Add(1)
	var actors []string
	c.viewers.Range(func(actor string, v Context) bool {
		if v.Shop == shop && !v.Closed {
			actors = append(actors, actor)
		}
		return true
	})
	for _, actor := range actors {
		update, ok := c.DisplayFor(actor, shop)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		err := c.pusher.PushDisplay(ctx, update)
		cancel()
		if err != nil {
			c.failed.Add(1)
			log.WithError(err).WithFields(log.Fields{"actor": actor, "shop": shop}).Debug("display push skipped")
			continue
		}
		c.pushes.Add(1)
	}
}

func (c *Coordinator) Stats() Stats {
	return Stats{
		Viewers: c.viewers.Len(),
		Passes:  c.passes.Load(),
		Pushes:  c.pushes.Load(),
		Failed:  c.failed.Load(),
	}
}

// Close stops scheduling pushes and waits for a pending drain.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}
