// store/cached.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/docstore/cache"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

var _ Repo = (*CachedRepository)(nil)

// CachedRepository puts a read-through cache in front of FindByID. Update
// and Delete drop the cached entry both before and after the store call,
// so a read that lands mid-write cannot leave the old document cached past
// the write. A read that fetched the old document before the write and
// stores it after the second delete can still win until the TTL expires.
// Cache errors are logged and never fail the call.
type CachedRepository struct {
	repo   Repo
	cache  cache.Cache
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedRepository wraps repo. Keys are prefix+id.
func NewCachedRepository(repo Repo, c cache.Cache, prefix string, ttl time.Duration, logger *zap.Logger) *CachedRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRepository{repo: repo, cache: c, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *CachedRepository) FindByID(ctx context.Context, id string) (bson.M, error) {
	if _, err := ParseID(id); err != nil {
		return nil, err
	}
	key := r.prefix + id

	b, err := r.cache.Get(ctx, key)
	switch {
	case err == nil:
		var doc bson.M
		if err := bson.UnmarshalExtJSON(b, true, &doc); err == nil {
			return doc, nil
		}
		r.logger.Warn("cache entry undecodable", zap.String("key", key))
	case !errors.Is(err, cache.ErrNotFound):
		r.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}

	doc, err := r.repo.FindByID(ctx, id)
	if err != nil || doc == nil {
		return doc, err
	}
	if b, err := bson.MarshalExtJSON(doc, true, false); err != nil {
		r.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
	} else if err := r.cache.Set(ctx, key, b, r.ttl); err != nil {
		r.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return doc, nil
}

func (r *CachedRepository) FindAll(ctx context.Context) ([]bson.M, error) {
	return r.repo.FindAll(ctx)
}

func (r *CachedRepository) Save(ctx context.Context, entity bson.M) (string, error) {
	return r.repo.Save(ctx, entity)
}

func (r *CachedRepository) Update(ctx context.Context, id string, entity bson.M) (bool, error) {
	if _, err := ParseID(id); err != nil {
		return false, err
	}
	r.invalidate(ctx, id)
	ok, err := r.repo.Update(ctx, id, entity)
	r.invalidate(ctx, id)
	return ok, err
}

func (r *CachedRepository) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := ParseID(id); err != nil {
		return false, err
	}
	r.invalidate(ctx, id)
	ok, err := r.repo.Delete(ctx, id)
	r.invalidate(ctx, id)
	return ok, err
}

func (r *CachedRepository) invalidate(ctx context.Context, id string) {
	key := r.prefix + id
	if err := r.cache.Delete(ctx, key); err != nil {
		r.logger.Warn("cache invalidate failed", zap.String("key", key), zap.Error(err))
	}
}
