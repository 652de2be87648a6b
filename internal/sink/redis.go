package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror keeps the last committed row per table and symbol in a hash
// under "latest:<table>:<symbol>".
type RedisMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisMirror(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisMirror{rdb: rdb, ttl: ttl}, nil
}

func (m *RedisMirror) Name() string { return "redis" }

func (m *RedisMirror) Close() error { return m.rdb.Close() }

// Open starts a MULTI/EXEC pipeline; nothing reaches Redis until Commit.
func (m *RedisMirror) Open(ctx context.Context) (Session, error) {
	return &redisSession{pipe: m.rdb.TxPipeline(), ttl: m.ttl}, nil
}

func latestKey(table, symbol string) string { return fmt.Sprintf("latest:%s:%s", table, symbol) }

type redisSession struct {
	pipe redis.Pipeliner
	ttl  time.Duration
}

func (s *redisSession) Append(ctx context.Context, r Row) error {
	key := latestKey(r.Table, r.Symbol)
	s.pipe.HSet(ctx, key, redisFields(r)...)
	if s.ttl > 0 {
		s.pipe.Expire(ctx, key, s.ttl)
	}
	return nil
}

func (s *redisSession) Commit(ctx context.Context) error {
	_, err := s.pipe.Exec(ctx)
	return err
}

func (s *redisSession) Close(ctx context.Context) error {
	s.pipe.Discard()
	return nil
}

func redisFields(r Row) []any {
	out := make([]any, 0, 2*len(r.Columns)+2)
	for _, c := range r.Columns {
		out = append(out, c.Name, c.Value)
	}
	return append(out, "ts", r.At.UnixMilli())
}
