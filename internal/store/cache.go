package store

import (
	"context"
	"log"
	"time"

	"github.com/dayuer/estatedesk/internal/listing"
	"github.com/dayuer/estatedesk/internal/redis"
)

// CachedRepository puts a Redis read-through cache in front of listing
// queries. Every listing write bumps a generation counter, which orphans all
// cached results at once; stale entries expire by TTL.
type CachedRepository struct {
	Repository
	cache *redis.Client
	ttl   time.Duration
}

// NewCachedRepository wraps inner. When cache is unavailable the wrapper is a
// pass-through.
func NewCachedRepository(inner Repository, cache *redis.Client, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRepository{Repository: inner, cache: cache, ttl: ttl}
}

func (r *CachedRepository) generation(ctx context.Context) string {
	gen, ok := r.cache.Get(ctx, redis.KeyGeneration)
	if !ok {
		return "0"
	}
	return gen
}

// QueryListings serves from cache when possible.
func (r *CachedRepository) QueryListings(ctx context.Context, f listing.Filter) ([]listing.Listing, error) {
	if !r.cache.Available() {
		return r.Repository.QueryListings(ctx, f)
	}

	key := redis.ListingsKey(r.generation(ctx), f.CacheKey())
	var cached []listing.Listing
	if r.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	out, err := r.Repository.QueryListings(ctx, f)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []listing.Listing{}
	}
	r.cache.SetJSON(ctx, key, out, r.ttl)
	return out, nil
}

// SaveListing writes through and invalidates cached queries.
func (r *CachedRepository) SaveListing(ctx context.Context, l listing.Listing) (int64, error) {
	id, err := r.Repository.SaveListing(ctx, l)
	if err != nil {
		return id, err
	}
	if r.cache.Available() {
		if gen, ok := r.cache.Incr(ctx, redis.KeyGeneration); ok {
			log.Printf("[Store] Listing cache generation -> %d", gen)
		}
	}
	return id, nil
}

// Close closes the inner repository and the cache.
func (r *CachedRepository) Close() error {
	err := r.Repository.Close()
	if cerr := r.cache.Close(); err == nil {
		err = cerr
	}
	return err
}
