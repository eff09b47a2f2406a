package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/marketplace-ledger/pkg/redis"
)

// Manager remembers which messages a consumer already handled, using Redis keys with a TTL.
// Keys follow the `ledger:idempotency:evt:processed:<consumer>:<key>` pattern.
// It is an optimization in front of handlers that are already idempotent.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds a guard that keeps processed markers for ttl.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// IsProcessed reports whether the key was already marked for consumer.
func (m *Manager) IsProcessed(ctx context.Context, consumer, key string) (bool, error) {
	storeKey, err := m.processedKey(consumer, key)
	if err != nil {
		return false, err
	}
	return m.store.Exists(ctx, storeKey)
}

// MarkProcessed records a successful handling. It returns false when the marker already existed.
func (m *Manager) MarkProcessed(ctx context.Context, consumer, key string) (bool, error) {
	storeKey, err := m.processedKey(consumer, key)
	if err != nil {
		return false, err
	}
	return m.store.SetNX(ctx, storeKey, "1", m.ttl)
}

// Delete forgets the marker so the message is handled again on redelivery.
func (m *Manager) Delete(ctx context.Context, consumer, key string) error {
	storeKey, err := m.processedKey(consumer, key)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, storeKey)
}

func (m *Manager) processedKey(consumer, key string) (string, error) {
	if strings.TrimSpace(consumer) == "" {
		return "", errors.New("consumer name is required")
	}
	if strings.TrimSpace(key) == "" {
		return "", errors.New("idempotency key is required")
	}
	scope := fmt.Sprintf("evt:processed:%s", consumer)
	return m.store.IdempotencyKey(scope, key), nil
}
