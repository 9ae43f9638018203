package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ErrBlobNotFound is returned when no cached blob exists for a source.
var ErrBlobNotFound = errors.New("blob not found")

const blobKeyPrefix = "blob:"

// BlobCache stores the JSON data blobs backing enrichable views (weather
// readings, calendar entries, webcam snapshots) in Redis. Writers are the
// external pollers and the source API; readers are the per-type injectors.
type BlobCache struct {
	rdb *goredis.Client
	ttl time.Duration
	sf  singleflight.Group
}

// NewBlobCache creates a cache whose entries expire after ttl. A zero ttl
// keeps blobs until overwritten.
func NewBlobCache(rdb *goredis.Client, ttl time.Duration) *BlobCache {
	return &BlobCache{rdb: rdb, ttl: ttl}
}

func blobKey(kind, source string) string {
	return blobKeyPrefix + kind + ":" + source
}

// Put stores a blob for the given kind and source, replacing any previous one.
func (c *BlobCache) Put(ctx context.Context, kind, source string, blob map[string]any) error {
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to encode blob %s/%s: %w", kind, source, err)
	}
	if err := c.rdb.Set(ctx, blobKey(kind, source), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store blob %s/%s: %w", kind, source, err)
	}
	return nil
}

// Get returns the cached blob for kind and source. Concurrent reads of the
// same key are collapsed into one Redis round trip.
func (c *BlobCache) Get(ctx context.Context, kind, source string) (map[string]any, error) {
	key := blobKey(kind, source)
	v, err, _ := c.sf.Do(key, func() (any, error) {
		data, err := c.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%s/%s: %w", kind, source, ErrBlobNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read blob %s/%s: %w", kind, source, err)
		}
		var blob map[string]any
		if err := json.Unmarshal(data, &blob); err != nil {
			return nil, fmt.Errorf("corrupt blob %s/%s: %w", kind, source, err)
		}
		return blob, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// Delete removes the cached blob for kind and source.
func (c *BlobCache) Delete(ctx context.Context, kind, source string) error {
	if err := c.rdb.Del(ctx, blobKey(kind, source)).Err(); err != nil {
		return fmt.Errorf("failed to delete blob %s/%s: %w", kind, source, err)
	}
	return nil
}
