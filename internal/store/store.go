package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uwase8/MedPredi/internal/clinical"
)

// Back end names accepted by New
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ErrNotFound is returned when a session has no stored result
var ErrNotFound = errors.New("result not found")

// ResultStore holds one PredictionResult per session
type ResultStore interface {
	Put(ctx context.Context, sessionID string, result *clinical.PredictionResult) error
	Get(ctx context.Context, sessionID string) (*clinical.PredictionResult, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// Config selects and configures a back end
type Config struct {
	Backend   string
	TTL       time.Duration
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// New creates the configured back end
func New(config Config) (ResultStore, error) {
	switch config.Backend {
	case "", BackendMemory:
		return NewMemoryStore(config.TTL), nil
	case BackendRedis:
		return NewRedisStore(config)
	}
	return nil, fmt.Errorf("unknown store backend '%s'", config.Backend)
}
