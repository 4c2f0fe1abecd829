package types

// Counter is the mutable part shared by per-actor and pooled records.
// Anchor is the cooldown anchor in epoch seconds; its meaning depends on the cooldown mode.
// WindowSeconds is the rolling window captured when the record was created.
type Counter struct {
	Used          int   `dynamodbav:"uses" json:"uses"`
	Anchor        int64 `dynamodbav:"anchor" json:"anchor"`
	WindowSeconds int64 `dynamodbav:"window_seconds" json:"window_seconds"`
}

// ActorTradeID addresses one actor's record for one trade.
type ActorTradeID struct {
	Actor string
	Shop  string
	Trade string
}

// PoolTradeID addresses the shared record of a pooled trade.
type PoolTradeID struct {
	Shop  string
	Trade string
}

// TradeState is the persisted per-actor usage of a trade.
type TradeState struct {
	Actor string `dynamodbav:"actor_id" json:"actor_id"`
	Shop  string `dynamodbav:"shop_id" json:"shop_id"`
	Trade string `dynamodbav:"trade_key" json:"trade_key"`
	Counter
}

func (s TradeState) ID() ActorTradeID {
	return ActorTradeID{Actor: s.Actor, Shop: s.Shop, Trade: s.Trade}
}

// PoolState is the persisted shared usage of a pooled trade.
type PoolState struct {
	Shop  string `dynamodbav:"shop_id" json:"shop_id"`
	Trade string `dynamodbav:"trade_key" json:"trade_key"`
	Counter
}

func (s PoolState) ID() PoolTradeID {
	return PoolTradeID{Shop: s.Shop, Trade: s.Trade}
}

// DisplayPair is what the client sees for one offer: uses out of max uses.
type DisplayPair struct {
	Used int `json:"used"`
	Max  int `json:"max"`
}

// OfferDisplay is a DisplayPair bound to its position in the trading UI.
type OfferDisplay struct {
	Slot  int    `json:"slot"`
	Trade string `json:"trade"`
	DisplayPair
}

// DisplayUpdate carries refreshed numbers for every tracked offer of a shop to one actor.
type DisplayUpdate struct {
	Actor  string         `json:"actor"`
	Shop   string         `json:"shop"`
	Offers []OfferDisplay `json:"offers"`
}
