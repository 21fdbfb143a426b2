package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"chroma-rag/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectWithRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	dial := func(ctx context.Context) (Store, error) {
		calls++
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline, "each attempt gets its own timeout")
		if calls < 3 {
			return nil, errors.New("connection refused")
		}
		return NewMemoryStore(), nil
	}

	store, err := connectWithRetry(context.Background(), dial, 5, time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, config.BackendMemory, store.Backend())
	assert.Equal(t, 3, calls)
}

func TestConnectWithRetry_GivesUp(t *testing.T) {
	calls := 0
	dial := func(context.Context) (Store, error) {
		calls++
		return nil, errors.New("still booting")
	}

	_, err := connectWithRetry(context.Background(), dial, 3, time.Second, time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "still booting")
	assert.Equal(t, 3, calls)
}

func TestConnectWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dial := func(context.Context) (Store, error) {
		cancel()
		return nil, errors.New("down")
	}

	_, err := connectWithRetry(ctx, dial, 10, time.Second, time.Hour)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestConnect_Backends(t *testing.T) {
	cfg := config.Default()
	cfg.VectorBackend = config.BackendMemory
	store, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	cfg.VectorBackend = "pinecone"
	_, err = Connect(context.Background(), cfg)
	assert.Error(t, err)
}

func TestConnect_ChromaHeartbeat(t *testing.T) {
	f, _ := newFakeChroma(t)

	cfg := config.Default()
	cfg.VectorBackend = config.BackendChroma
	cfg.Chroma = f.cfg
	cfg.Connect.Attempts = 1

	store, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, config.BackendChroma, store.Backend())
}
