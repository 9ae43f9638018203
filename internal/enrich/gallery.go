package enrich

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

const galleryKeyPrefix = "gallery:"

// RedisGalleryStore keeps each gallery's ordered image list in a Redis list.
// Order is append order; rotation walks the list by index.
type RedisGalleryStore struct {
	rdb *goredis.Client
}

func NewRedisGalleryStore(rdb *goredis.Client) *RedisGalleryStore {
	return &RedisGalleryStore{rdb: rdb}
}

// Images returns the gallery's image URLs in order. A missing gallery is an
// empty list, not an error.
func (s *RedisGalleryStore) Images(ctx context.Context, gallery string) ([]string, error) {
	images, err := s.rdb.LRange(ctx, galleryKeyPrefix+gallery, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read gallery %q: %w", gallery, err)
	}
	return images, nil
}

// Append adds image URLs to the end of the gallery.
func (s *RedisGalleryStore) Append(ctx context.Context, gallery string, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	args := make([]any, len(urls))
	for i, u := range urls {
		args[i] = u
	}
	if err := s.rdb.RPush(ctx, galleryKeyPrefix+gallery, args...).Err(); err != nil {
		return fmt.Errorf("failed to append to gallery %q: %w", gallery, err)
	}
	return nil
}

// Remove deletes every occurrence of the URL from the gallery.
func (s *RedisGalleryStore) Remove(ctx context.Context, gallery, url string) error {
	if err := s.rdb.LRem(ctx, galleryKeyPrefix+gallery, 0, url).Err(); err != nil {
		return fmt.Errorf("failed to remove from gallery %q: %w", gallery, err)
	}
	return nil
}
