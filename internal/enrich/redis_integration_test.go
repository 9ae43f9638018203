package enrich

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

var (
	testRedisURL   string
	redisContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	flag.Parse()

	// Skip container setup if running in short mode
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	redisContainer, err = tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
		}
	}()
	os.Exit(m.Run())
}

func setupRedis(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	opts, err := goredis.ParseURL(testRedisURL)
	require.NoError(t, err)
	rdb := goredis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisGalleryStore_AppendImagesRemove(t *testing.T) {
	store := NewRedisGalleryStore(setupRedis(t))
	ctx := context.Background()
	gallery := fmt.Sprintf("it-%d", time.Now().UnixNano())

	images, err := store.Images(ctx, gallery)
	require.NoError(t, err)
	assert.Empty(t, images, "missing gallery reads as empty")

	require.NoError(t, store.Append(ctx, gallery, "a.jpg", "b.jpg"))
	require.NoError(t, store.Append(ctx, gallery, "c.jpg"))

	images, err = store.Images(ctx, gallery)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, images, "append order is preserved")

	require.NoError(t, store.Remove(ctx, gallery, "b.jpg"))
	images, err = store.Images(ctx, gallery)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "c.jpg"}, images)
}

func TestBlobCache_PutGetDelete(t *testing.T) {
	cache := NewBlobCache(setupRedis(t), time.Minute)
	ctx := context.Background()
	source := fmt.Sprintf("it-%d", time.Now().UnixNano())

	_, err := cache.Get(ctx, "weather", source)
	assert.ErrorIs(t, err, ErrBlobNotFound)

	blob := map[string]any{"temperature": 21.5, "condition": "sunny"}
	require.NoError(t, cache.Put(ctx, "weather", source, blob))

	got, err := cache.Get(ctx, "weather", source)
	require.NoError(t, err)
	assert.Equal(t, 21.5, got["temperature"])
	assert.Equal(t, "sunny", got["condition"])

	require.NoError(t, cache.Delete(ctx, "weather", source))
	_, err = cache.Get(ctx, "weather", source)
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestBlobCache_KindsAreIsolated(t *testing.T) {
	cache := NewBlobCache(setupRedis(t), time.Minute)
	ctx := context.Background()
	source := fmt.Sprintf("it-%d", time.Now().UnixNano())

	require.NoError(t, cache.Put(ctx, "weather", source, map[string]any{"v": "w"}))

	_, err := cache.Get(ctx, "calendar", source)
	assert.ErrorIs(t, err, ErrBlobNotFound)
}
