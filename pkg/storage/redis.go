// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix is the default prefix for all keys written by the
// Redis store.
const DefaultRedisKeyPrefix = "authgate:"

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g. redis://localhost:6379/0).
	URL string

	// Password overrides the password from the URL when set.
	Password string

	// KeyPrefix is prepended to every key. Defaults to DefaultRedisKeyPrefix.
	KeyPrefix string
}

// RedisStore implements Store on top of Redis. Records are stored as JSON
// blobs under "<prefix><collection>:<id>". Query and List scan the
// collection's keyspace; they are adequate for the modest cardinalities
// this server keeps (clients, keys, bans) but are not indexed.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests.
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{client: client, prefix: keyPrefix}
}

// Collection returns the named collection.
func (s *RedisStore) Collection(name string) Collection {
	return &redisCollection{
		client: s.client,
		prefix: s.prefix + name + ":",
	}
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisCollection struct {
	client *redis.Client
	prefix string
}

func (c *redisCollection) key(id string) string {
	return c.prefix + id
}

func (c *redisCollection) Insert(ctx context.Context, rec Record) (Record, error) {
	stored := make(Record, len(rec))
	for k, v := range rec {
		stored[k] = v
	}
	id, _ := stored[IDField].(string)
	if id == "" {
		id = uuid.NewString()
		stored[IDField] = id
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	if err := c.client.Set(ctx, c.key(id), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("redis set: %w", err)
	}
	return stored, nil
}

func (c *redisCollection) Get(ctx context.Context, id string) (Record, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

func (c *redisCollection) Update(ctx context.Context, id string, patch Record) (Record, error) {
	rec, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		if k == IDField {
			continue
		}
		rec[k] = v
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	if err := c.client.Set(ctx, c.key(id), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("redis set: %w", err)
	}
	return rec, nil
}

func (c *redisCollection) Delete(ctx context.Context, id string) error {
	n, err := c.client.Del(ctx, c.key(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *redisCollection) Query(ctx context.Context, filter Record) ([]Record, error) {
	var out []Record
	err := c.scan(ctx, func(rec Record) bool {
		if matches(rec, filter) {
			out = append(out, rec)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *redisCollection) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	var out []Record
	err := c.scan(ctx, func(rec Record) bool {
		out = append(out, rec)
		return opts.Limit <= 0 || len(out) < opts.Limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scan iterates over every record in the collection, invoking fn until it
// returns false.
func (c *redisCollection) scan(ctx context.Context, fn func(Record) bool) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := c.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			// Expired or deleted between scan and get.
			continue
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal record: %w", err)
		}
		if !fn(rec) {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ Store      = (*RedisStore)(nil)
	_ Collection = (*redisCollection)(nil)
)
