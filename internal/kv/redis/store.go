package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/thihaeung/balance-ledger/internal/kv"
)

// casScript implements the conditional write. Each key is a Redis hash with
// "value" and "version" fields; EVAL runs atomically per key, which is what
// makes this a real compare-and-swap rather than a read-then-write race.
// Returns 1 when the write was accepted, 0 on a version mismatch.
const casScript = `
local ver = redis.call('HGET', KEYS[1], 'version')
if ARGV[2] == '0' then
  if ver then return 0 end
  redis.call('HSET', KEYS[1], 'value', ARGV[1], 'version', 1)
  return 1
end
if not ver or ver ~= ARGV[2] then return 0 end
redis.call('HSET', KEYS[1], 'value', ARGV[1], 'version', tonumber(ver) + 1)
return 1
`

// Store is a Redis-backed implementation of kv.Store.
type Store struct {
	client *redis.Client
	logger *zap.Logger
	cas    *redis.Script
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, logger *zap.Logger, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	logger.Info("connected to redis", zap.String("addr", addr), zap.Int("db", db))

	return &Store{
		client: client,
		logger: logger,
		cas:    redis.NewScript(casScript),
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) (kv.Record, error) {
	fields, err := s.client.HMGet(ctx, key, "value", "version").Result()
	if err != nil {
		return kv.Record{}, fmt.Errorf("redis get %q: %w", key, err)
	}
	if fields[0] == nil || fields[1] == nil {
		return kv.Record{}, kv.ErrKeyNotFound
	}

	value, ok := fields[0].(string)
	if !ok {
		return kv.Record{}, fmt.Errorf("redis get %q: unexpected value type %T", key, fields[0])
	}
	rawVersion, ok := fields[1].(string)
	if !ok {
		return kv.Record{}, fmt.Errorf("redis get %q: unexpected version type %T", key, fields[1])
	}
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return kv.Record{}, fmt.Errorf("redis get %q: parse version: %w", key, err)
	}

	return kv.Record{Key: key, Value: []byte(value), Version: version}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expectedVersion int64) error {
	accepted, err := s.cas.Run(ctx, s.client,
		[]string{key},
		string(value), strconv.FormatInt(expectedVersion, 10),
	).Int()
	if err != nil {
		return fmt.Errorf("redis put %q: %w", key, err)
	}
	if accepted == 0 {
		return kv.ErrVersionConflict
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]kv.Record, error) {
	// SCAN may return a key more than once across iterations; dedupe first.
	seen := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		seen[iter.Val()] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %q: %w", prefix, err)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]kv.Record, 0, len(keys))
	for _, k := range keys {
		rec, err := s.Get(ctx, k)
		if errors.Is(err, kv.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Ping reports whether the backing Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Compile-time check: Store implements kv.Store.
var _ kv.Store = (*Store)(nil)
