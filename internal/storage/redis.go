package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "cruise/pkg/logx"
)

const (
	defaultRedisPrefix = "cruise:project:"
	redisResultField   = "result"
	redisHistoryLimit  = 100
)

// redisStore keeps one hash per project (<prefix><name>) with the encoded
// result plus a few flat fields for redis-cli inspection, and a capped
// history list (<prefix><name>:history).
type redisStore struct {
	client redis.UniversalClient
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (StateManager, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	log.Debug("redis state store opened", logx.String("addr", cfg.Addr), logx.Int("db", cfg.DB))
	return NewRedis(client, cfg.KeyPrefix, log), nil
}

// NewRedis wraps an existing client. An empty prefix uses "cruise:project:".
func NewRedis(client redis.UniversalClient, prefix string, log logx.Logger) StateManager {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisStore{client: client, prefix: prefix, log: log}
}

func (s *redisStore) key(project string) string { return s.prefix + project }

func (s *redisStore) HasPreviousState(ctx context.Context, project string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(project)).Result()
	return n > 0, err
}

func (s *redisStore) LoadState(ctx context.Context, project string) (IntegrationResult, error) {
	raw, err := s.client.HGet(ctx, s.key(project), redisResultField).Result()
	if errors.Is(err, redis.Nil) {
		return IntegrationResult{}, ErrNoState
	}
	if err != nil {
		return IntegrationResult{}, err
	}
	var r IntegrationResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return IntegrationResult{}, err
	}
	return r, nil
}

func (s *redisStore) SaveState(ctx context.Context, r IntegrationResult) error {
	if strings.TrimSpace(r.Project) == "" {
		return errors.New("result has no project")
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	key := s.key(r.Project)
	history := key + ":history"

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			redisResultField, string(b),
			"status", string(r.Status),
			"label", r.Label,
			"ended_at", r.EndedAt.UTC().Format(time.RFC3339),
		)
		p.LPush(ctx, history, string(b))
		p.LTrim(ctx, history, 0, redisHistoryLimit-1)
		return nil
	})
	return err
}

func (s *redisStore) Close() error { return s.client.Close() }
