package flow

import "stockcontrol/internal/types"

// TradeEvent identifies the offer an actor acts on. Trade is the stable trade key; when it is empty
// Slot, the offer's position in the trading UI, is resolved through the shop's slot map.
type TradeEvent struct {
	Actor string `json:"actor"`
	Shop  string `json:"shop"`
	Trade string `json:"trade,omitempty"`
	Slot  *int   `json:"slot,omitempty"`
}

// resolve finds the tracked trade an event refers to. A shop with a single trade resolves any
// event to it. It returns nil for untracked trades: unknown shop or trade, disabled shop, unmatched slot.
func resolve(cat *types.Catalog, ev TradeEvent) (*types.ShopDefinition, *types.TradeDefinition) {
	shop := cat.Shop(ev.Shop)
	if shop == nil || !shop.Enabled {
		return nil, nil
	}
	if ev.Trade != "" {
		if def := shop.Trade(ev.Trade); def != nil {
			return shop, def
		}
		return nil, nil
	}
	if len(shop.Trades) == 1 {
		for _, def := range shop.Trades {
			return shop, def
		}
	}
	if ev.Slot != nil {
		if def := shop.TradeBySlot(*ev.Slot); def != nil {
			return shop, def
		}
	}
	return nil, nil
}
