// Package kv stores trade state in an embedded ordered key-value engine (badger or LevelDB).
package kv

import (
	"context"

	"stockcontrol/internal/types"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

type Store struct {
	engine Engine
}

func NewStore(engine Engine) *Store {
	return &Store{engine: engine}
}

// Open opens the engine named kind ("badger" or "leveldb") at dir.
func Open(kind, dir string) (*Store, error) {
	var (
		e   Engine
		err error
	)
	switch kind {
	case "badger":
		e, err = OpenBadger(dir)
	case "leveldb":
		e, err = OpenLevelDB(dir)
	default:
		return nil, types.Err(types.ErrInvalidBackend, nil, "unknown kv engine %q", kind)
	}
	if err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "open %s at %s", kind, dir)
	}
	log.WithFields(log.Fields{"engine": kind, "path": dir}).Info("kv state store opened")
	return NewStore(e), nil
}

func (s *Store) Close() error {
	return s.engine.Close()
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return types.Err(types.ErrDataStoreAccess, err, "")
}

func decodeTrade(k, v []byte) (types.TradeState, error) {
	parts, err := split(k, 3)
	if err != nil {
		return types.TradeState{}, err
	}
	st := types.TradeState{Actor: parts[0], Shop: parts[1], Trade: parts[2]}
	return st, json.Unmarshal(v, &st.Counter)
}

func decodePool(k, v []byte) (types.PoolState, error) {
	parts, err := split(k, 2)
	if err != nil {
		return types.PoolState{}, err
	}
	st := types.PoolState{Shop: parts[0], Trade: parts[1]}
	return st, json.Unmarshal(v, &st.Counter)
}

func (s *Store) collectTrades(p []byte) ([]types.TradeState, error) {
	var out []types.TradeState
	err := s.engine.Iterate(p, func(k, v []byte) error {
		st, err := decodeTrade(k, v)
		if err == nil {
			out = append(out, st)
		}
		return err
	})
	return out, wrap(err)
}

func (s *Store) LoadTradeState(_ context.Context, id types.ActorTradeID) (*types.TradeState, error) {
	k := key(tradePrefix, id.Actor, id.Shop, id.Trade)
	v, err := s.engine.Get(k)
	if err != nil || v == nil {
		return nil, wrap(err)
	}
	st, err := decodeTrade(k, v)
	if err != nil {
		return nil, wrap(err)
	}
	return &st, nil
}

func (s *Store) LoadActorShop(_ context.Context, actor, shop string) ([]types.TradeState, error) {
	return s.collectTrades(prefix(tradePrefix, actor, shop))
}

func (s *Store) LoadActor(_ context.Context, actor string) ([]types.TradeState, error) {
	return s.collectTrades(prefix(tradePrefix, actor))
}

func (s *Store) SaveTradeStates(_ context.Context, states []types.TradeState) error {
	if len(states) == 0 {
		return nil
	}
	puts := make([]Pair, 0, 2*len(states))
	for _, st := range states {
		v, err := json.Marshal(st.Counter)
		if err != nil {
			return wrap(err)
		}
		puts = append(puts,
			Pair{Key: key(tradePrefix, st.Actor, st.Shop, st.Trade), Value: v},
			Pair{Key: key(indexPrefix, st.Shop, st.Trade, st.Actor), Value: []byte{}},
		)
	}
	return wrap(s.engine.Write(puts, nil))
}

func (s *Store) deleteTrades(ids []types.ActorTradeID) error {
	if len(ids) == 0 {
		return nil
	}
	dels := make([][]byte, 0, 2*len(ids))
	for _, id := range ids {
		dels = append(dels, key(tradePrefix, id.Actor, id.Shop, id.Trade), key(indexPrefix, id.Shop, id.Trade, id.Actor))
	}
	return wrap(s.engine.Write(nil, dels))
}

func (s *Store) DeleteTradeState(_ context.Context, id types.ActorTradeID) error {
	return s.deleteTrades([]types.ActorTradeID{id})
}

func (s *Store) deleteByActorPrefix(p []byte) error {
	states, err := s.collectTrades(p)
	if err != nil {
		return err
	}
	ids := make([]types.ActorTradeID, len(states))
	for i, st := range states {
		ids[i] = st.ID()
	}
	return s.deleteTrades(ids)
}

// deleteByIndex removes every per-actor record listed under an index prefix.
func (s *Store) deleteByIndex(p []byte) error {
	var ids []types.ActorTradeID
	err := s.engine.Iterate(p, func(k, _ []byte) error {
		parts, err := split(k, 3)
		if err != nil {
			return err
		}
		ids = append(ids, types.ActorTradeID{Actor: parts[2], Shop: parts[0], Trade: parts[1]})
		return nil
	})
	if err != nil {
		return wrap(err)
	}
	return s.deleteTrades(ids)
}

func (s *Store) DeleteActor(_ context.Context, actor string) error {
	return s.deleteByActorPrefix(prefix(tradePrefix, actor))
}

func (s *Store) DeleteActorShop(_ context.Context, actor, shop string) error {
	return s.deleteByActorPrefix(prefix(tradePrefix, actor, shop))
}

func (s *Store) DeleteShopTrade(_ context.Context, shop, trade string) error {
	return s.deleteByIndex(prefix(indexPrefix, shop, trade))
}

func (s *Store) DeleteShop(_ context.Context, shop string) error {
	return s.deleteByIndex(prefix(indexPrefix, shop))
}

func (s *Store) ListActors(_ context.Context) ([]string, error) {
	var out []string
	last := ""
	// keys are sorted, so one actor's records are contiguous
	err := s.engine.Iterate([]byte{tradePrefix, sep}, func(k, _ []byte) error {
		parts, err := split(k, 3)
		if err != nil {
			return err
		}
		if len(out) == 0 || parts[0] != last {
			out = append(out, parts[0])
			last = parts[0]
		}
		return nil
	})
	return out, wrap(err)
}

func (s *Store) LoadPoolState(_ context.Context, id types.PoolTradeID) (*types.PoolState, error) {
	k := key(poolPrefix, id.Shop, id.Trade)
	v, err := s.engine.Get(k)
	if err != nil || v == nil {
		return nil, wrap(err)
	}
	st, err := decodePool(k, v)
	if err != nil {
		return nil, wrap(err)
	}
	return &st, nil
}

func (s *Store) LoadPoolShop(_ context.Context, shop string) ([]types.PoolState, error) {
	var out []types.PoolState
	err := s.engine.Iterate(prefix(poolPrefix, shop), func(k, v []byte) error {
		st, err := decodePool(k, v)
		if err == nil {
			out = append(out, st)
		}
		return err
	})
	return out, wrap(err)
}

func (s *Store) SavePoolStates(_ context.Context, states []types.PoolState) error {
	if len(states) == 0 {
		return nil
	}
	puts := make([]Pair, 0, len(states))
	for _, st := range states {
		v, err := json.Marshal(st.Counter)
		if err != nil {
			return wrap(err)
		}
		puts = append(puts, Pair{Key: key(poolPrefix, st.Shop, st.Trade), Value: v})
	}
	return wrap(s.engine.Write(puts, nil))
}

func (s *Store) DeletePoolState(_ context.Context, id types.PoolTradeID) error {
	return wrap(s.engine.Write(nil, [][]byte{key(poolPrefix, id.Shop, id.Trade)}))
}

func (s *Store) DeletePoolShop(_ context.Context, shop string) error {
	var dels [][]byte
	err := s.engine.Iterate(prefix(poolPrefix, shop), func(k, _ []byte) error {
		dels = append(dels, k)
		return nil
	})
	if err != nil {
		return wrap(err)
	}
	if len(dels) == 0 {
		return nil
	}
	return wrap(s.engine.Write(nil, dels))
}

func (s *Store) ScanTradeStates(_ context.Context, fn func(types.TradeState) error) error {
	return wrap(s.engine.Iterate([]byte{tradePrefix, sep}, func(k, v []byte) error {
		st, err := decodeTrade(k, v)
		if err != nil {
			return err
		}
		return fn(st)
	}))
}

func (s *Store) ScanPoolStates(_ context.Context, fn func(types.PoolState) error) error {
	return wrap(s.engine.Iterate([]byte{poolPrefix, sep}, func(k, v []byte) error {
		st, err := decodePool(k, v)
		if err != nil {
			return err
		}
		return fn(st)
	}))
}
