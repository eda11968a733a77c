package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "pacebot/pkg/logx"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "pacebot:queue:"

// redisStore keeps each snapshot in one string key (SET replaces it whole).
type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisStore(client, cfg.KeyPrefix, log), nil
}

func newRedisStore(client *redis.Client, prefix string, log logx.Logger) *redisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisStore{client: client, prefix: prefix, log: log}
}

func (s *redisStore) key(name string) string { return s.prefix + snapshotKey(name) }

func (s *redisStore) LoadSnapshot(ctx context.Context, name string) ([]Record, error) {
	b, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeSnapshot(b)
}

func (s *redisStore) SaveSnapshot(ctx context.Context, name string, recs []Record) error {
	b, err := encodeSnapshot(recs)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(name), b, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *redisStore) Close() error { return s.client.Close() }
