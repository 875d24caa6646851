package ocrcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	"github.com/joseph-ayodele/missingtext/internal/common"
)

// RedisStore is a Store backed by Redis or Valkey.
type RedisStore struct {
	client rueidis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to the configured addresses.
func NewRedisStore(cfg common.CacheConfig) (*RedisStore, error) {
	if len(cfg.RedisAddrs) == 0 {
		return nil, fmt.Errorf("redis addrs is required")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.RedisAddrs,
		Password:     cfg.Password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := s.client.B().Get().Key(key).Build()
	data, err := s.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	b := s.client.B().Set().Key(key).Value(rueidis.BinaryString(value))
	var err error
	if ttl > 0 {
		err = s.client.Do(ctx, b.Ex(ttl).Build()).Error()
	} else {
		err = s.client.Do(ctx, b.Build()).Error()
	}
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() {
	s.client.Close()
}
