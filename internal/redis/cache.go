package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"postmesh/internal/metrics"
	"postmesh/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache key patterns:
// - post:{post_id} - single post snapshot
// - posts:{page}:{limit} - listing page snapshot
// - search:query:{raw_query} - search result snapshot
// - gen:{key or prefix} - fill generation, bumped by every invalidation
const (
	PostKeyPrefix        = "post:"
	PostListKeyPrefix    = "posts:"
	SearchQueryKeyPrefix = "search:query:"
	GenerationKeyPrefix  = "gen:"
)

// generationTTL must outlive any in-flight load, otherwise an expired
// generation reads the same as one that was never bumped.
const generationTTL = 24 * time.Hour

func PostKey(postID string) string {
	return PostKeyPrefix + postID
}

func PostListKey(page, limit int) string {
	return PostListKeyPrefix + strconv.Itoa(page) + ":" + strconv.Itoa(limit)
}

// SearchQueryKey uses the query exactly as the client sent it.
func SearchQueryKey(rawQuery string) string {
	return SearchQueryKeyPrefix + rawQuery
}

// GenerationKey returns the counter guarding fills of key. Listing and search
// snapshots are invalidated by prefix, so they share one counter per family.
func GenerationKey(key string) string {
	switch {
	case strings.HasPrefix(key, PostListKeyPrefix):
		return GenerationKeyPrefix + PostListKeyPrefix
	case strings.HasPrefix(key, SearchQueryKeyPrefix):
		return GenerationKeyPrefix + SearchQueryKeyPrefix
	default:
		return GenerationKeyPrefix + key
	}
}

// fillScript stores a snapshot only while the generation read before the load
// is still current. KEYS[1] snapshot, KEYS[2] generation; ARGV: expected
// generation, payload, ttl in ms.
var fillScript = goredis.NewScript(`
local current = redis.call('GET', KEYS[2])
if (current or '') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// CacheConfig contains configuration for caching
type CacheConfig struct {
	PostTTL   time.Duration // single post snapshots (default 1h)
	ListTTL   time.Duration // listing pages (default 5m)
	SearchTTL time.Duration // search results (default 2m)
	Timeout   time.Duration // bound on every cache round trip
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		PostTTL:   time.Hour,
		ListTTL:   5 * time.Minute,
		SearchTTL: 2 * time.Minute,
		Timeout:   250 * time.Millisecond,
	}
}

// CacheStore is a best-effort JSON snapshot cache. It is never the system of
// record: read errors are reported as misses by Fetch.
type CacheStore struct {
	client  *goredis.Client
	config  CacheConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewCacheStore(client *goredis.Client, config CacheConfig, l *logger.Logger, m *metrics.Metrics) *CacheStore {
	defaults := DefaultCacheConfig()
	if config.PostTTL <= 0 {
		config.PostTTL = defaults.PostTTL
	}
	if config.ListTTL <= 0 {
		config.ListTTL = defaults.ListTTL
	}
	if config.SearchTTL <= 0 {
		config.SearchTTL = defaults.SearchTTL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	return &CacheStore{
		client:  client,
		config:  config,
		logger:  l,
		metrics: m,
	}
}

func (c *CacheStore) Config() CacheConfig {
	return c.config
}

// GetJSON loads key into dest. found is false on a cache miss.
func (c *CacheStore) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores a snapshot of value under key. Entries always expire.
func (c *CacheStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl for %s must be positive, got %v", key, ttl)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Generation reads the fill generation of key. A key never invalidated has
// the empty generation.
func (c *CacheStore) Generation(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	gen, err := c.client.Get(ctx, GenerationKey(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	return gen, err
}

// SetJSONIfGeneration stores value under key only if its generation still
// equals gen. stored is false when an invalidation happened in between.
func (c *CacheStore) SetJSONIfGeneration(ctx context.Context, key, gen string, value any, ttl time.Duration) (stored bool, err error) {
	if ttl <= 0 {
		return false, fmt.Errorf("cache ttl for %s must be positive, got %v", key, ttl)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	n, err := fillScript.Run(ctx, c.client, []string{key, GenerationKey(key)}, gen, data, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// bumpGenerations advances the given generation counters so fills that loaded
// before this point are discarded.
func (c *CacheStore) bumpGenerations(ctx context.Context, genKeys ...string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, key := range genKeys {
			pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, generationTTL)
		}
		return nil
	})
	return err
}

func (c *CacheStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	return c.client.Del(ctx, keys...).Err()
}

// DeleteByPrefix removes every key starting with prefix. It walks the keyspace
// with SCAN so large caches do not block the server.
func (c *CacheStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	ctx, cancel := context.WithTimeout(ctx, 4*c.config.Timeout)
	defer cancel()

	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.client.Del(ctx, batch...).Err()
	}
	return nil
}

// InvalidatePost drops the post's own snapshot and every listing page, since
// one write can shift membership of any page. Generations are bumped first so
// a read that loaded before the write cannot store its snapshot afterwards.
func (c *CacheStore) InvalidatePost(ctx context.Context, postID string) error {
	key := PostKey(postID)
	if err := c.bumpGenerations(ctx, GenerationKey(key), GenerationKey(PostListKeyPrefix)); err != nil {
		return errors.Join(err, c.Delete(ctx, key), c.DeleteByPrefix(ctx, PostListKeyPrefix))
	}
	return errors.Join(
		c.Delete(ctx, key),
		c.DeleteByPrefix(ctx, PostListKeyPrefix),
	)
}

// InvalidateSearch drops every cached search result.
func (c *CacheStore) InvalidateSearch(ctx context.Context) error {
	if err := c.bumpGenerations(ctx, GenerationKey(SearchQueryKeyPrefix)); err != nil {
		return errors.Join(err, c.DeleteByPrefix(ctx, SearchQueryKeyPrefix))
	}
	return c.DeleteByPrefix(ctx, SearchQueryKeyPrefix)
}

// Ping checks if Redis is available
func (c *CacheStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Fetch is a read-through lookup: a cached snapshot is returned when present,
// otherwise load runs and its result is cached for ttl. Cache failures fall
// through to load. Errors from load are returned and never cached. The fill is
// dropped if key was invalidated while load ran.
func Fetch[T any](ctx context.Context, c *CacheStore, cacheName, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var cached T
	found, err := c.GetJSON(ctx, key, &cached)
	switch {
	case err != nil:
		c.metrics.Cache(cacheName, "error")
		c.logger.Warn(ctx, "cache read failed, falling through to store",
			zap.String("key", key), zap.Error(err))
	case found:
		c.metrics.Cache(cacheName, "hit")
		return cached, nil
	default:
		c.metrics.Cache(cacheName, "miss")
	}

	gen, genErr := c.Generation(ctx, key)

	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if genErr != nil {
		return value, nil
	}
	stored, err := c.SetJSONIfGeneration(ctx, key, gen, value, ttl)
	switch {
	case err != nil:
		c.logger.Warn(ctx, "cache write failed", zap.String("key", key), zap.Error(err))
	case !stored:
		c.logger.Debugf("cache fill for %s skipped, invalidated during load", key)
	}
	return value, nil
}
