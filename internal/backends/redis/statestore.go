package redis

import (
	"context"
	"errors"
	"strings"

	"stockcontrol/internal/types"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Layout:
//
//	_sc_actor_<actor>  hash  "<shop>\x00<trade>" -> counter json
//	_sc_shop_<shop>    set   "<trade>\x00<actor>", index of the actor hashes holding a shop's records
//	_sc_pool_<shop>    hash  "<trade>" -> counter json
const (
	actorKeyPrefix = "_sc_actor_"
	shopKeyPrefix  = "_sc_shop_"
	poolKeyPrefix  = "_sc_pool_"
	sep            = "\x00"
	scanCount      = 500
)

// StateStore implements ports.StateStore on hashes, one per actor and one per pooled shop.
type StateStore struct {
	cli *redis.Client
}

func NewStateStore(cli *redis.Client) *StateStore {
	return &StateStore{cli: cli}
}

func (s *StateStore) Close() error {
	return s.cli.Close()
}

func actorKey(actor string) string { return actorKeyPrefix + actor }
func shopKey(shop string) string   { return shopKeyPrefix + shop }
func poolKey(shop string) string   { return poolKeyPrefix + shop }

func join(a, b string) string { return a + sep + b }

func splitField(f string) (string, string, bool) {
	return strings.Cut(f, sep)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return types.Err(types.ErrDataStoreAccess, err, "")
}

func decodeCounter(v string) (types.Counter, error) {
	var c types.Counter
	err := json.Unmarshal([]byte(v), &c)
	return c, err
}

func (s *StateStore) LoadTradeState(ctx context.Context, id types.ActorTradeID) (*types.TradeState, error) {
	v, err := s.cli.HGet(ctx, actorKey(id.Actor), join(id.Shop, id.Trade)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	c, err := decodeCounter(v)
	if err != nil {
		return nil, wrap(err)
	}
	return &types.TradeState{Actor: id.Actor, Shop: id.Shop, Trade: id.Trade, Counter: c}, nil
}

// loadActor returns the actor's records whose shop passes keep.
func (s *StateStore) loadActor(ctx context.Context, actor string, keep func(shop string) bool) ([]types.TradeState, error) {
	m, err := s.cli.HGetAll(ctx, actorKey(actor)).Result()
	if err != nil {
		return nil, wrap(err)
	}
	var out []types.TradeState
	for f, v := range m {
		shop, trade, ok := splitField(f)
		if !ok || !keep(shop) {
			continue
		}
		c, err := decodeCounter(v)
		if err != nil {
			return nil, wrap(err)
		}
		out = append(out, types.TradeState{Actor: actor, Shop: shop, Trade: trade, Counter: c})
	}
	return out, nil
}

func (s *StateStore) LoadActorShop(ctx context.Context, actor, shop string) ([]types.TradeState, error) {
	return s.loadActor(ctx, actor, func(sh string) bool { return sh == shop })
}

func (s *StateStore) LoadActor(ctx context.Context, actor string) ([]types.TradeState, error) {
	return s.loadActor(ctx, actor, func(string) bool { return true })
}

func (s *StateStore) SaveTradeStates(ctx context.Context, states []types.TradeState) error {
	if len(states) == 0 {
		return nil
	}
	_, err := s.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, st := range states {
			v, err := json.Marshal(st.Counter)
			if err != nil {
				return err
			}
			p.HSet(ctx, actorKey(st.Actor), join(st.Shop, st.Trade), string(v))
			p.SAdd(ctx, shopKey(st.Shop), join(st.Trade, st.Actor))
		}
		return nil
	})
	return wrap(err)
}

func (s *StateStore) deleteTrades(ctx context.Context, ids []types.ActorTradeID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			p.HDel(ctx, actorKey(id.Actor), join(id.Shop, id.Trade))
			p.SRem(ctx, shopKey(id.Shop), join(id.Trade, id.Actor))
		}
		return nil
	})
	return wrap(err)
}

func (s *StateStore) DeleteTradeState(ctx context.Context, id types.ActorTradeID) error {
	return s.deleteTrades(ctx, []types.ActorTradeID{id})
}

func (s *StateStore) deleteActorWhere(ctx context.Context, actor string, keep func(shop string) bool) error {
	states, err := s.loadActor(ctx, actor, keep)
	if err != nil {
		return err
	}
	ids := make([]types.ActorTradeID, len(states))
	for i, st := range states {
		ids[i] = st.ID()
	}
	return s.deleteTrades(ctx, ids)
}

func (s *StateStore) DeleteActor(ctx context.Context, actor string) error {
	return s.deleteActorWhere(ctx, actor, func(string) bool { return true })
}

func (s *StateStore) DeleteActorShop(ctx context.Context, actor, shop string) error {
	return s.deleteActorWhere(ctx, actor, func(sh string) bool { return sh == shop })
}

// deleteShopWhere removes the indexed records of a shop whose trade passes keep.
func (s *StateStore) deleteShopWhere(ctx context.Context, shop string, keep func(trade string) bool) error {
	members, err := s.cli.SMembers(ctx, shopKey(shop)).Result()
	if err != nil {
		return wrap(err)
	}
	var ids []types.ActorTradeID
	for _, m := range members {
		trade, actor, ok := splitField(m)
		if ok && keep(trade) {
			ids = append(ids, types.ActorTradeID{Actor: actor, Shop: shop, Trade: trade})
		}
	}
	return s.deleteTrades(ctx, ids)
}

func (s *StateStore) DeleteShopTrade(ctx context.Context, shop, trade string) error {
	return s.deleteShopWhere(ctx, shop, func(t string) bool { return t == trade })
}

func (s *StateStore) DeleteShop(ctx context.Context, shop string) error {
	return s.deleteShopWhere(ctx, shop, func(string) bool { return true })
}

// scanKeys walks every key starting with prefix and passes the remainder to fn.
func (s *StateStore) scanKeys(ctx context.Context, prefix string, fn func(rest string) error) error {
	it := s.cli.Scan(ctx, 0, prefix+"*", scanCount).Iterator()
	for it.Next(ctx) {
		if err := fn(strings.TrimPrefix(it.Val(), prefix)); err != nil {
			return err
		}
	}
	return wrap(it.Err())
}

// ListActors relies on redis dropping a hash once its last field is removed.
func (s *StateStore) ListActors(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	err := s.scanKeys(ctx, actorKeyPrefix, func(actor string) error {
		// SCAN may return a key more than once
		if _, ok := seen[actor]; !ok {
			seen[actor] = struct{}{}
			out = append(out, actor)
		}
		return nil
	})
	return out, err
}

func (s *StateStore) LoadPoolState(ctx context.Context, id types.PoolTradeID) (*types.PoolState, error) {
	v, err := s.cli.HGet(ctx, poolKey(id.Shop), id.Trade).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	c, err := decodeCounter(v)
	if err != nil {
		return nil, wrap(err)
	}
	return &types.PoolState{Shop: id.Shop, Trade: id.Trade, Counter: c}, nil
}

func (s *StateStore) LoadPoolShop(ctx context.Context, shop string) ([]types.PoolState, error) {
	m, err := s.cli.HGetAll(ctx, poolKey(shop)).Result()
	if err != nil {
		return nil, wrap(err)
	}
	out := make([]types.PoolState, 0, len(m))
	for trade, v := range m {
		c, err := decodeCounter(v)
		if err != nil {
			return nil, wrap(err)
		}
		out = append(out, types.PoolState{Shop: shop, Trade: trade, Counter: c})
	}
	return out, nil
}

func (s *StateStore) SavePoolStates(ctx context.Context, states []types.PoolState) error {
	if len(states) == 0 {
		return nil
	}
	_, err := s.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, st := range states {
			v, err := json.Marshal(st.Counter)
			if err != nil {
				return err
			}
			p.HSet(ctx, poolKey(st.Shop), st.Trade, string(v))
		}
		return nil
	})
	return wrap(err)
}

func (s *StateStore) DeletePoolState(ctx context.Context, id types.PoolTradeID) error {
	return wrap(s.cli.HDel(ctx, poolKey(id.Shop), id.Trade).Err())
}

func (s *StateStore) DeletePoolShop(ctx context.Context, shop string) error {
	return wrap(s.cli.Del(ctx, poolKey(shop)).Err())
}

func (s *StateStore) ScanTradeStates(ctx context.Context, fn func(types.TradeState) error) error {
	actors, err := s.ListActors(ctx)
	if err != nil {
		return err
	}
	for _, actor := range actors {
		states, err := s.LoadActor(ctx, actor)
		if err != nil {
			return err
		}
		for _, st := range states {
			if err := fn(st); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *StateStore) ScanPoolStates(ctx context.Context, fn func(types.PoolState) error) error {
	var shops []string
	err := s.scanKeys(ctx, poolKeyPrefix, func(shop string) error {
		shops = append(shops, shop)
		return nil
	})
	if err != nil {
		return err
	}
	seen := map[string]struct{}{}
	for _, shop := range shops {
		if _, ok := seen[shop]; ok {
			continue
		}
		seen[shop] = struct{}{}
		states, err := s.LoadPoolShop(ctx, shop)
		if err != nil {
			return err
		}
		for _, st := range states {
			if err := fn(st); err != nil {
				return err
			}
		}
	}
	return nil
}
