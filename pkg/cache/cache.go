// Package cache keeps recently scraped descriptors in memory in front of the
// persistent store.
//
// Lookup contract: a descriptor is served while it is younger than the
// configured TTL and none of its cookies has expired, whichever ends first.
// Entries past that point are evicted from memory and treated as absent even
// if the store still holds them, so callers re-scrape.
package cache

import (
	"context"
	"errors"
	"time"

	"vidproxy/pkg/interfaces"
	"vidproxy/pkg/logging"
	"vidproxy/pkg/types"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultTTL applies when New is given a non-positive TTL.
const DefaultTTL = 6 * time.Hour

// DescriptorCache is a TTL cache keyed by video ID.
type DescriptorCache struct {
	items *gocache.Cache
	store interfaces.DescriptorStore
	ttl   time.Duration
	log   *logging.Logger
	now   func() time.Time
}

// New creates a cache. store may be nil for a memory-only cache.
func New(store interfaces.DescriptorStore, ttl time.Duration, log *logging.Logger) *DescriptorCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cleanup := ttl / 2
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &DescriptorCache{
		items: gocache.New(ttl, cleanup),
		store: store,
		ttl:   ttl,
		log:   log.WithComponent("cache"),
		now:   time.Now,
	}
}

// Put caches d until its lifetime ends. Descriptors that are already stale
// are not cached.
func (c *DescriptorCache) Put(d *types.VideoDescriptor) {
	if d == nil || d.VideoID == "" {
		return
	}
	remaining := c.lifetime(d)
	if remaining <= 0 {
		c.items.Delete(d.VideoID)
		return
	}
	c.items.Set(d.VideoID, d, remaining)
	c.log.Debug("cached descriptor", "video_id", d.VideoID, "ttl", remaining.String())
}

// Lookup returns a live descriptor from memory, falling back to the store.
func (c *DescriptorCache) Lookup(ctx context.Context, videoID string) (*types.VideoDescriptor, bool) {
	if videoID == "" {
		return nil, false
	}

	if v, ok := c.items.Get(videoID); ok {
		d := v.(*types.VideoDescriptor)
		if c.lifetime(d) > 0 {
			return d, true
		}
		c.items.Delete(videoID)
	}

	if c.store == nil {
		return nil, false
	}

	d, err := c.store.GetDescriptor(ctx, videoID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.Debug("store lookup missed", "video_id", videoID, "error", err)
		}
		return nil, false
	}
	if c.lifetime(d) <= 0 {
		c.log.Debug("stored descriptor is stale", "video_id", videoID, "scraped_at", d.ScrapedAt)
		return nil, false
	}

	c.Put(d)
	return d, true
}

// Stored returns the persisted descriptor for videoID whether or not it is
// still live.
func (c *DescriptorCache) Stored(ctx context.Context, videoID string) (*types.VideoDescriptor, bool) {
	if videoID == "" || c.store == nil {
		return nil, false
	}
	d, err := c.store.GetDescriptor(ctx, videoID)
	if err != nil {
		return nil, false
	}
	return d, true
}

// Evict drops videoID from memory. The store is left untouched.
func (c *DescriptorCache) Evict(videoID string) {
	c.items.Delete(videoID)
}

// Len returns the number of entries in memory, including expired ones not
// yet cleaned up.
func (c *DescriptorCache) Len() int {
	return c.items.ItemCount()
}

// lifetime returns how long d remains usable.
func (c *DescriptorCache) lifetime(d *types.VideoDescriptor) time.Duration {
	now := c.now()

	scraped := d.ScrapedAt
	if scraped.IsZero() {
		scraped = now
	}
	deadline := scraped.Add(c.ttl)

	for _, ck := range d.Cookies {
		// Cookies already expired when scraped are deletions, not session limits.
		if ck.ExpiresAt == nil || !ck.ExpiresAt.After(scraped) {
			continue
		}
		if ck.ExpiresAt.Before(deadline) {
			deadline = *ck.ExpiresAt
		}
	}
	return deadline.Sub(now)
}
