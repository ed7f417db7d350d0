package bloggart

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/eringen/bloggart/internal/memcache"
)

const staticKeyPrefix = "static:"

// StaticCache holds every rendered public resource. Records live in the
// static_content table; reads go through memcache first.
type StaticCache struct {
	store *Store
	mc    memcache.Client
	log   zerolog.Logger
	now   func() time.Time
}

// NewStaticCache returns a StaticCache backed by s and mc.
func NewStaticCache(s *Store, mc memcache.Client, logger zerolog.Logger) *StaticCache {
	return &StaticCache{store: s, mc: mc, log: logger, now: time.Now}
}

// SetOption adjusts a record before it is stored.
type SetOption func(*StaticRecord)

// NotIndexed keeps the record out of the sitemap.
func NotIndexed() SetOption {
	return func(r *StaticRecord) { r.Indexed = false }
}

// WithLastModified overrides the modification time, which defaults to now.
func WithLastModified(t time.Time) SetOption {
	return func(r *StaticRecord) { r.LastModified = t }
}

// WithHeader adds a response header served with the record.
func WithHeader(key, value string) SetOption {
	return func(r *StaticRecord) {
		if r.Headers == nil {
			r.Headers = map[string]string{}
		}
		r.Headers[key] = value
	}
}

// Set stores body at path and returns the stored record.
func (c *StaticCache) Set(ctx context.Context, path string, body []byte, contentType string, opts ...SetOption) (*StaticRecord, error) {
	sum := sha1.Sum(body)
	r := &StaticRecord{
		Path:         path,
		Body:         body,
		ContentType:  contentType,
		Status:       200,
		LastModified: c.now().UTC(),
		ETag:         hex.EncodeToString(sum[:]),
		Indexed:      true,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.LastModified = r.LastModified.UTC()
	if err := c.store.PutStatic(ctx, r); err != nil {
		return nil, err
	}
	c.cache(ctx, r)
	return r, nil
}

// Get returns the record at path, or ErrNotFound.
func (c *StaticCache) Get(ctx context.Context, path string) (*StaticRecord, error) {
	if b, err := c.mc.Get(ctx, staticKeyPrefix+path); err == nil {
		var r StaticRecord
		if err := json.Unmarshal(b, &r); err == nil {
			return &r, nil
		}
		c.log.Warn().Str("path", path).Msg("discarding undecodable cached document")
	} else if !errors.Is(err, memcache.ErrCacheMiss) {
		c.log.Warn().Err(err).Str("path", path).Msg("memcache get failed")
	}
	r, err := c.store.GetStatic(ctx, path)
	if err != nil {
		return nil, err
	}
	c.cache(ctx, r)
	return r, nil
}

// Remove deletes the record at path. Removing a missing path is a no-op.
func (c *StaticCache) Remove(ctx context.Context, path string) error {
	if err := c.store.DeleteStatic(ctx, path); err != nil {
		return err
	}
	if err := c.mc.Delete(ctx, staticKeyPrefix+path); err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("memcache delete failed")
	}
	return nil
}

// IndexedPaths lists the paths that belong in the sitemap.
func (c *StaticCache) IndexedPaths(ctx context.Context) ([]string, error) {
	return c.store.IndexedStaticPaths(ctx)
}

// Empty reports whether nothing has been rendered yet.
func (c *StaticCache) Empty(ctx context.Context) (bool, error) {
	n, err := c.store.CountStatic(ctx)
	return n == 0, err
}

func (c *StaticCache) cache(ctx context.Context, r *StaticRecord) {
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.mc.Set(ctx, staticKeyPrefix+r.Path, b, 0); err != nil {
		c.log.Warn().Err(err).Str("path", r.Path).Msg("memcache set failed")
	}
}
