package ports

import (
	"context"
	"stockcontrol/internal/types"
)

// StateStore is the durable backing store behind the ledgers. The ledgers are write-back caches in front of it,
// so it is only called from pre-warm, flush, reset and maintenance paths.
// Load methods MUST return (nil, nil) when the record does not exist.
// Save methods are idempotent upserts: re-saving a key overwrites it, never duplicates it.
// A batch passed to a Save method MUST be committed as one atomic unit where the backend supports it.
type StateStore interface {
	LoadTradeState(ctx context.Context, id types.ActorTradeID) (*types.TradeState, error)
	LoadActorShop(ctx context.Context, actor, shop string) ([]types.TradeState, error)
	LoadActor(ctx context.Context, actor string) ([]types.TradeState, error)
	SaveTradeStates(ctx context.Context, states []types.TradeState) error

	DeleteTradeState(ctx context.Context, id types.ActorTradeID) error
	DeleteActor(ctx context.Context, actor string) error
	DeleteActorShop(ctx context.Context, actor, shop string) error
	// DeleteShopTrade removes the per-actor records of one trade for every actor.
	DeleteShopTrade(ctx context.Context, shop, trade string) error
	// DeleteShop removes the per-actor records of every trade of a shop for every actor.
	DeleteShop(ctx context.Context, shop string) error

	// ListActors returns every distinct actor with at least one stored per-actor record.
	ListActors(ctx context.Context) ([]string, error)

	LoadPoolState(ctx context.Context, id types.PoolTradeID) (*types.PoolState, error)
	LoadPoolShop(ctx context.Context, shop string) ([]types.PoolState, error)
	SavePoolStates(ctx context.Context, states []types.PoolState) error
	DeletePoolState(ctx context.Context, id types.PoolTradeID) error
	DeletePoolShop(ctx context.Context, shop string) error

	// ScanTradeStates and ScanPoolStates walk every stored record. Used by snapshot export.
	ScanTradeStates(ctx context.Context, fn func(types.TradeState) error) error
	ScanPoolStates(ctx context.Context, fn func(types.PoolState) error) error

	Close() error
}
