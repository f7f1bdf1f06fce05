// Package rediscas keeps content blocks in Redis, typically as a fast
// read-through tier in front of a durable store (see storage.MultiCAS).
package rediscas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/redis/go-redis/v9"

	"xdao.co/drinkpoap/cidutil"
	"xdao.co/drinkpoap/storage"
)

// DefaultKeyPrefix namespaces block keys.
const DefaultKeyPrefix = "drinkpoap:cas:"

// Connect initializes a Redis client from URL or host:port input.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

type CAS struct {
	client *redis.Client
	prefix string
	// TTL expires blocks when non-zero; zero keeps them indefinitely.
	TTL time.Duration
}

var _ storage.CAS = (*CAS)(nil)

func New(client *redis.Client, prefix string) *CAS {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &CAS{client: client, prefix: prefix}
}

func (c *CAS) key(id cid.Cid) string { return c.prefix + id.String() }

func (c *CAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, err
	}
	created, err := c.client.SetNX(ctx, c.key(id), data, c.TTL).Result()
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: rediscas: put %s: %w", storage.ErrUnavailable, id, err)
	}
	if created {
		return id, nil
	}
	existing, err := c.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrCIDMismatch) {
			return cid.Undef, storage.ErrImmutable
		}
		return cid.Undef, err
	}
	if !bytes.Equal(existing, data) {
		return cid.Undef, storage.ErrImmutable
	}
	return id, nil
}

func (c *CAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	b, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%w: rediscas: get %s: %w", storage.ErrUnavailable, id, err)
	}
	got, err := cidutil.CIDv1RawSHA256CID(b)
	if err != nil {
		return nil, err
	}
	if !got.Equals(id) {
		return nil, storage.ErrCIDMismatch
	}
	return b, nil
}

func (c *CAS) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	n, err := c.client.Exists(ctx, c.key(id)).Result()
	return err == nil && n > 0
}
