package enrich

import (
	"context"
	"fmt"

	"github.com/redisplay/server/internal/domain"
)

// BlobGetter is the read side of the blob cache.
type BlobGetter interface {
	Get(ctx context.Context, kind, source string) (map[string]any, error)
}

// CacheInjector enriches a view by merging the cached blob for its declared
// source into the view data. Keys already present in the view win over blob
// keys, so explicit per-view data is never clobbered by a poller.
type CacheInjector struct {
	cache BlobGetter
	kind  string
}

func NewCacheInjector(cache BlobGetter, kind string) *CacheInjector {
	return &CacheInjector{cache: cache, kind: kind}
}

func (i *CacheInjector) Enrich(ctx context.Context, v *domain.View) error {
	source := v.Metadata.Source
	if source == "" {
		return nil
	}
	blob, err := i.cache.Get(ctx, i.kind, source)
	if err != nil {
		return fmt.Errorf("failed to enrich view %q: %w", v.ID, err)
	}
	if v.Data == nil {
		v.Data = make(map[string]any, len(blob))
	}
	for k, val := range blob {
		if _, exists := v.Data[k]; !exists {
			v.Data[k] = val
		}
	}
	return nil
}

// Injectors wires one cache-backed injector per enrichable view type.
// Gallery views are handled by the scheduler itself.
func Injectors(cache BlobGetter) map[domain.ViewType]domain.Injector {
	return map[domain.ViewType]domain.Injector{
		domain.ViewTypeWeather:  NewCacheInjector(cache, string(domain.ViewTypeWeather)),
		domain.ViewTypeCalendar: NewCacheInjector(cache, string(domain.ViewTypeCalendar)),
		domain.ViewTypeWebcam:   NewCacheInjector(cache, string(domain.ViewTypeWebcam)),
	}
}
