package vectorstore

import (
	"context"
	"fmt"
	"time"

	"chroma-rag/config"
	"chroma-rag/pkg/logger"

	milvusclient "github.com/milvus-io/milvus-sdk-go/v2/client"
)

type dialFunc func(ctx context.Context) (Store, error)

// Connect builds the backend named by cfg.VectorBackend and waits until it
// answers a heartbeat. Vector databases may take tens of seconds to boot.
func Connect(ctx context.Context, cfg config.Config) (Store, error) {
	var dial dialFunc
	switch cfg.VectorBackend {
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendMilvus:
		dial = func(ctx context.Context) (Store, error) {
			cli, err := milvusclient.NewClient(ctx, milvusclient.Config{Address: cfg.Milvus.Address})
			if err != nil {
				return nil, err
			}
			return NewMilvusStore(cli, cfg.Milvus), nil
		}
	case config.BackendChroma, "":
		store := NewChromaStore(cfg.Chroma)
		dial = func(ctx context.Context) (Store, error) {
			if err := store.Heartbeat(ctx); err != nil {
				return nil, err
			}
			return store, nil
		}
	default:
		return nil, fmt.Errorf("%v: unknown backend %q", config.ModuleVectorStore, cfg.VectorBackend)
	}

	return connectWithRetry(ctx, dial,
		cfg.Connect.Attempts,
		time.Duration(cfg.Connect.AttemptTimeoutSeconds)*time.Second,
		time.Duration(cfg.Connect.DelaySeconds)*time.Second,
	)
}

func connectWithRetry(ctx context.Context, dial dialFunc, attempts int, perAttemptTimeout, delay time.Duration) (Store, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		store, err := dial(attemptCtx)
		cancel()
		if err == nil {
			logger.WithFields(map[string]interface{}{
				"backend": store.Backend(),
				"attempt": i + 1,
			}).Info("vectorstore: connected")
			return store, nil
		}
		lastErr = err
		logger.WithFields(map[string]interface{}{
			"attempt":  i + 1,
			"attempts": attempts,
			"error":    err.Error(),
		}).Warn("vectorstore: connect failed, retrying")

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v (last error: %v)", ErrUnavailable, ctx.Err(), lastErr)
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts: %v", ErrUnavailable, attempts, lastErr)
}
