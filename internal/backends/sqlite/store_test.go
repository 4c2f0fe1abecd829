package sqlite

import (
	"path/filepath"
	"testing"

	"stockcontrol/internal/backends/storetest"
	"stockcontrol/internal/ports"
	"stockcontrol/internal/types"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &storetest.StoreSuite{
		Open: func() ports.StateStore {
			s, err := Open(filepath.Join(t.TempDir(), "state.db"))
			require.NoError(t, err)
			return s
		},
	})
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	require.NoError(t, err)
	st := types.TradeState{Actor: "alice", Shop: "smith", Trade: "sword", Counter: types.Counter{Used: 2, Anchor: 42}}
	require.NoError(t, s.SaveTradeStates(t.Context(), []types.TradeState{st}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.LoadTradeState(t.Context(), st.ID())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, st, *got)
}
