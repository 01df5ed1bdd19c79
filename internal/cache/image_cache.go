package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"picbed/api/internal/config"
)

const keyPrefix = "img:"

// Entry is a cached image payload. The cache is advisory: losing an entry
// only costs an object-store round-trip.
type Entry struct {
	Content      []byte
	MimeType     string
	OriginalName string
}

var ErrTooLarge = errors.New("payload exceeds cache threshold")

// ImageCache stores small image payloads in redis hashes with a fixed TTL.
type ImageCache struct {
	client   *redis.Client
	maxBytes int64
	ttl      time.Duration
}

func NewImageCache(client *redis.Client, cfg config.CacheConfig) *ImageCache {
	return &ImageCache{
		client:   client,
		maxBytes: cfg.MaxObjectBytes,
		ttl:      cfg.TTL,
	}
}

// Cacheable reports whether a payload of the given size is ever written.
func (c *ImageCache) Cacheable(size int64) bool {
	return size <= c.maxBytes
}

func (c *ImageCache) Put(ctx context.Context, fingerprint string, entry Entry) error {
	if int64(len(entry.Content)) > c.maxBytes {
		return ErrTooLarge
	}

	key := keyPrefix + fingerprint
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key,
		"content", entry.Content,
		"mime_type", entry.MimeType,
		"original_name", entry.OriginalName,
	)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache put %s: %w", fingerprint, err)
	}
	return nil
}

// Get returns the cached entry and whether it was present.
func (c *ImageCache) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	fields, err := c.client.HGetAll(ctx, keyPrefix+fingerprint).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache get %s: %w", fingerprint, err)
	}
	if len(fields) == 0 {
		return Entry{}, false, nil
	}

	entry := Entry{
		Content:      []byte(fields["content"]),
		MimeType:     fields["mime_type"],
		OriginalName: fields["original_name"],
	}
	if len(entry.Content) == 0 || entry.MimeType == "" {
		// Partial hash, treat as a miss and drop it.
		_, _ = c.Delete(ctx, fingerprint)
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (c *ImageCache) Delete(ctx context.Context, fingerprint string) (bool, error) {
	n, err := c.client.Del(ctx, keyPrefix+fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("cache delete %s: %w", fingerprint, err)
	}
	return n > 0, nil
}
