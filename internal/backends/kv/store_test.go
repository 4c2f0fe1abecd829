package kv

import (
	"context"
	"fmt"
	"testing"

	"stockcontrol/internal/backends/storetest"
	"stockcontrol/internal/ports"
	"stockcontrol/internal/types"

	"github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestBadgerStore(t *testing.T) {
	suite.Run(t, &storetest.StoreSuite{
		Open: func() ports.StateStore {
			e, err := OpenBadger("")
			require.NoError(t, err)
			return NewStore(e)
		},
	})
}

func TestLevelDBStore(t *testing.T) {
	suite.Run(t, &storetest.StoreSuite{
		Open: func() ports.StateStore {
			s, err := Open("leveldb", t.TempDir())
			require.NoError(t, err)
			return s
		},
	})
}

func TestBadgerOnDiskReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open("badger", dir)
	require.NoError(t, err)
	st := types.PoolState{Shop: "market", Trade: "bread", Counter: types.Counter{Used: 3, Anchor: 7}}
	require.NoError(t, s.SavePoolStates(t.Context(), []types.PoolState{st}))
	require.NoError(t, s.Close())

	s, err = Open("badger", dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.LoadPoolState(t.Context(), st.ID())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, st, *got)
}

func TestOpenUnknownEngine(t *testing.T) {
	_, err := Open("rocks", t.TempDir())
	assert.ErrorIs(t, err, types.ErrInvalidBackend)
}

func TestKeyPrefixDoesNotMatchLongerIDs(t *testing.T) {
	e, err := OpenBadger("")
	require.NoError(t, err)
	s := NewStore(e)
	defer s.Close()

	require.NoError(t, s.SaveTradeStates(t.Context(), []types.TradeState{
		{Actor: "al", Shop: "smith", Trade: "sword"},
		{Actor: "alice", Shop: "smith", Trade: "sword"},
	}))
	states, err := s.LoadActor(t.Context(), "al")
	require.NoError(t, err)
	assert.Len(t, states, 1)

	actors, err := s.ListActors(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"al", "alice"}, actors)
}

func TestBadgerSplitsOversizedBatches(t *testing.T) {
	// A small memtable caps a badger transaction far below the batch written here.
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil).
		WithMemTableSize(1 << 20).
		WithValueThreshold(1 << 10)
	e, err := openBadger(opts)
	require.NoError(t, err)
	store := NewStore(e)
	defer store.Close()

	ctx := context.Background()
	states := make([]types.TradeState, 5000)
	for i := range states {
		states[i] = types.TradeState{
			Actor:   fmt.Sprintf("actor-%05d", i),
			Shop:    "market",
			Trade:   "bread",
			Counter: types.Counter{Used: 1, Anchor: int64(i), WindowSeconds: 60},
		}
	}
	require.NoError(t, store.SaveTradeStates(ctx, states))

	n := 0
	require.NoError(t, store.ScanTradeStates(ctx, func(types.TradeState) error {
		n++
		return nil
	}))
	assert.Equal(t, len(states), n)

	require.NoError(t, store.DeleteShop(ctx, "market"))
	actors, err := store.ListActors(ctx)
	require.NoError(t, err)
	assert.Empty(t, actors)
}
