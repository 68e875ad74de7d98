package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/MrWong99/vivavoce/internal/assessment"
)

// DefaultPrefix namespaces snapshot keys.
const DefaultPrefix = "vivavoce:session:"

// noExpiry is the index score used when snapshots do not expire.
const noExpiry = 4102444800 // 2100-01-01

// RedisOption configures a [Redis] store.
type RedisOption func(*Redis)

// WithTTL expires snapshots d after their last update. Zero keeps them
// forever.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

// WithPrefix overrides [DefaultPrefix].
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// Redis is a [Store] backed by Redis. Each snapshot is a JSON string key;
// a sorted set indexes the IDs by expiry.
type Redis struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ Store = (*Redis)(nil)

// NewRedis connects to the Redis server at addr.
func NewRedis(addr, password string, db int, opts ...RedisOption) *Redis {
	return NewRedisFromClient(backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *backend.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: DefaultPrefix, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Redis) key(id string) string { return r.prefix + id }

func (r *Redis) indexKey() string { return r.prefix + "index" }

// Put implements [Store].
func (r *Redis) Put(ctx context.Context, snap assessment.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal snapshot: %w", err)
	}

	score := float64(noExpiry)
	if r.ttl > 0 {
		score = float64(r.now().Add(r.ttl).Unix())
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.key(snap.ID), data, r.ttl)
	pipe.ZAdd(ctx, r.indexKey(), backend.Z{Score: score, Member: snap.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sessionstore: put %s: %w", snap.ID, err)
	}
	return nil
}

// Get implements [Store].
func (r *Redis) Get(ctx context.Context, id string) (assessment.Snapshot, error) {
	val, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return assessment.Snapshot{}, ErrNotFound
		}
		return assessment.Snapshot{}, fmt.Errorf("sessionstore: get %s: %w", id, err)
	}
	var snap assessment.Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return assessment.Snapshot{}, fmt.Errorf("sessionstore: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// List implements [Store]. Expired IDs are pruned from the index first.
func (r *Redis) List(ctx context.Context) ([]string, error) {
	now := strconv.FormatInt(r.now().Unix(), 10)
	if err := r.client.ZRemRangeByScore(ctx, r.indexKey(), "-inf", "("+now).Err(); err != nil {
		return nil, fmt.Errorf("sessionstore: prune index: %w", err)
	}
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list: %w", err)
	}
	return ids, nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
