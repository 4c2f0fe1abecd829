package backends

import (
	"context"
	"path/filepath"
	"testing"

	"stockcontrol/internal/backends/kv"
	"stockcontrol/internal/backends/sqlite"
	"stockcontrol/internal/pub"
	"stockcontrol/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreFromEnvDefaultsToSQLite(t *testing.T) {
	t.Setenv(StateBackendEnvKey, "")
	t.Setenv(SQLitePathKey, filepath.Join(t.TempDir(), "state.db"))

	store, err := StoreFromEnv(context.Background())
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &sqlite.Store{}, store)
}

func TestStoreFromEnvKV(t *testing.T) {
	for _, backend := range []string{BackendBadger, BackendLevelDB} {
		t.Run(backend, func(t *testing.T) {
			t.Setenv(StateBackendEnvKey, backend)
			t.Setenv(KVPathKey, t.TempDir())

			store, err := StoreFromEnv(context.Background())
			require.NoError(t, err)
			defer store.Close()
			assert.IsType(t, &kv.Store{}, store)
		})
	}
}

func TestStoreFromEnvUnknown(t *testing.T) {
	t.Setenv(StateBackendEnvKey, "postgres")
	_, err := StoreFromEnv(context.Background())
	assert.ErrorIs(t, err, types.ErrInvalidBackend)
}

func TestPusherFromEnv(t *testing.T) {
	t.Setenv(PushBackendEnvKey, "")
	p, err := PusherFromEnv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pub.LogPusher{}, p)

	t.Setenv(PushBackendEnvKey, PushSNS)
	t.Setenv(PushSNSTopicKey, "")
	_, err = PusherFromEnv(context.Background())
	assert.ErrorIs(t, err, types.ErrInvalidBackend)

	t.Setenv(PushSNSTopicKey, "arn:aws:sns:us-east-1:000000000000:display")
	t.Setenv(SNSEndpointKey, "http://localhost:4566")
	p, err = PusherFromEnv(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &pub.SNSPusher{}, p)

	t.Setenv(PushBackendEnvKey, "carrier-pigeon")
	_, err = PusherFromEnv(context.Background())
	assert.ErrorIs(t, err, types.ErrInvalidBackend)
}
