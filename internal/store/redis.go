package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/uwase8/MedPredi/internal/clinical"
)

const defaultKeyPrefix = "medpredi:result:"

// RedisStore keeps results as JSON strings under a key prefix, with the session TTL
// applied by Redis itself.
type RedisStore struct {
	client *redis.Client
	config Config
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(config Config) (*RedisStore, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	return NewRedisStoreWithClient(client, config), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, config Config) *RedisStore {
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, config: config}
}

func (s *RedisStore) key(sessionID string) string {
	return s.config.KeyPrefix + sessionID
}

// Put stores result for sessionID, replacing any previous one and resetting its TTL
func (s *RedisStore) Put(ctx context.Context, sessionID string, result *clinical.PredictionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	if err := s.client.Set(ctx, s.key(sessionID), data, s.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

// Get returns the stored result or ErrNotFound
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*clinical.PredictionResult, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load result: %w", err)
	}

	var result clinical.PredictionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode stored result: %w", err)
	}
	return &result, nil
}

// Delete removes the result; deleting a missing key is not an error
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
