package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

// Store holds graph database passwords outside the relational database.
// Connection rows carry only an opaque secret id; reads and rotations go
// through here.
type Store interface {
	Put(ctx context.Context, secret string) (string, error)
	Get(ctx context.Context, secretID string) (string, error)
	Delete(ctx context.Context, secretID string) error
}

const (
	redisKeyPrefix = "labgraph:secret:"
	envIDPrefix    = "env:"
)

type redisStore struct {
	rdb *goredis.Client
	log *logger.Logger
}

// NewRedisStore backs the store with the shared redis instance. Secret ids
// of the form "env:NAME" bypass redis and resolve from the environment,
// which covers bootstrap connections configured before the store existed.
func NewRedisStore(rdb *goredis.Client, baseLog *logger.Logger) Store {
	return &redisStore{
		rdb: rdb,
		log: baseLog.With("component", "SecretStore"),
	}
}

func (s *redisStore) Put(ctx context.Context, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secrets: empty secret")
	}
	id := uuid.NewString()
	if err := s.rdb.Set(ctx, redisKeyPrefix+id, secret, 0).Err(); err != nil {
		return "", fmt.Errorf("secrets: store: %w", err)
	}
	return id, nil
}

func (s *redisStore) Get(ctx context.Context, secretID string) (string, error) {
	secretID = strings.TrimSpace(secretID)
	if secretID == "" {
		return "", fmt.Errorf("secrets: empty secret id")
	}
	if name, ok := strings.CutPrefix(secretID, envIDPrefix); ok {
		v := os.Getenv(name)
		if v == "" {
			return "", fmt.Errorf("secrets: env var %s not set", name)
		}
		return v, nil
	}
	v, err := s.rdb.Get(ctx, redisKeyPrefix+secretID).Result()
	if err == goredis.Nil {
		return "", fmt.Errorf("secrets: secret %s not found", secretID)
	}
	if err != nil {
		return "", fmt.Errorf("secrets: read: %w", err)
	}
	return v, nil
}

func (s *redisStore) Delete(ctx context.Context, secretID string) error {
	secretID = strings.TrimSpace(secretID)
	if secretID == "" || strings.HasPrefix(secretID, envIDPrefix) {
		return nil
	}
	return s.rdb.Del(ctx, redisKeyPrefix+secretID).Err()
}
