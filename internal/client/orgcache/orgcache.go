// Package orgcache caches resolved organization membership on the client so
// repeat bootstraps skip the network entirely.
//
// The cache is two ordered tiers: a session tier that lives as long as the
// process, checked first, and a persistent file tier whose entries go stale
// after a TTL. Reads stop at the first tier holding a fresh, valid entry and
// backfill the tiers in front of it; writes go to every tier best-effort, so
// a broken file tier never fails a resolution.
package orgcache

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// DefaultTTL is how long a persisted entry stays usable.
const DefaultTTL = 5 * time.Minute

const keyPrefix = "dealdesk.org."

var validate = validator.New()

// Organization is the cached slice of the membership payload. Entries
// missing the id or name are treated as cache corruption and discarded.
type Organization struct {
	ID     string   `json:"id" validate:"required"`
	Name   string   `json:"name" validate:"required"`
	Plan   string   `json:"plan"`
	Stages []string `json:"stages"`
}

// Entry is one cached membership resolution.
type Entry struct {
	Organization Organization `json:"organization" validate:"required"`
	Role         string       `json:"role" validate:"required"`
	CachedAt     time.Time    `json:"cached_at"`
}

// Store is one cache tier's backing storage. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Delete(key string)
	Keys() []string
}

// Tier is one cache layer. A zero TTL means entries in this tier never go
// stale; they live until deleted.
type Tier struct {
	Name  string
	Store Store
	TTL   time.Duration
}

// Cache reads and writes entries across an ordered list of tiers.
type Cache struct {
	tiers []Tier
	now   func() time.Time
	log   *zap.Logger
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock injects the time source. Tests use this to age entries.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New builds a cache over the given tiers, checked in order.
func New(logger *zap.Logger, tiers []Tier, opts ...Option) *Cache {
	c := &Cache{
		tiers: tiers,
		now:   time.Now,
		log:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Default builds the standard two-tier cache: session memory, which only a
// logout clears, in front of a TTL-bound file tier rooted at dir.
func Default(logger *zap.Logger, dir string, opts ...Option) *Cache {
	return New(logger, []Tier{
		{Name: "session", Store: NewMemoryStore()},
		{Name: "file", Store: NewFileStore(dir), TTL: DefaultTTL},
	}, opts...)
}

// Key returns the cache key for a user's membership entry.
func Key(userID string) string {
	return keyPrefix + userID
}

// Get returns the freshest valid entry for the user, or nil. Stale and
// corrupt entries are evicted as they are encountered; a hit in a later tier
// is promoted into the tiers in front of it.
func (c *Cache) Get(userID string) *Entry {
	key := Key(userID)

	for i, tier := range c.tiers {
		raw, ok := tier.Store.Get(key)
		if !ok {
			continue
		}

		entry, err := c.decode(raw, tier.TTL)
		if err != nil {
			c.log.Debug("evicting unusable cache entry",
				zap.String("tier", tier.Name),
				zap.String("key", key),
				zap.Error(err))
			tier.Store.Delete(key)
			continue
		}

		for j := 0; j < i; j++ {
			if err := c.tiers[j].Store.Set(key, raw); err != nil {
				c.log.Debug("cache promotion failed",
					zap.String("tier", c.tiers[j].Name),
					zap.Error(err))
			}
		}
		return entry
	}
	return nil
}

// Put stamps the entry and writes it to every tier. Tier write failures are
// logged and swallowed; caching is never allowed to fail a resolution.
func (c *Cache) Put(userID string, entry Entry) {
	entry.CachedAt = c.now()

	raw, err := json.Marshal(entry)
	if err != nil {
		c.log.Warn("cache entry marshal failed", zap.Error(err))
		return
	}

	key := Key(userID)
	for _, tier := range c.tiers {
		if err := tier.Store.Set(key, raw); err != nil {
			c.log.Debug("cache write failed",
				zap.String("tier", tier.Name),
				zap.String("key", key),
				zap.Error(err))
		}
	}
}

// Clear removes every key mentioning the user from every tier. It runs on
// logout and when a resolution is known to be stale.
func (c *Cache) Clear(userID string) {
	if userID == "" {
		return
	}
	for _, tier := range c.tiers {
		for _, key := range tier.Store.Keys() {
			if strings.Contains(key, userID) {
				tier.Store.Delete(key)
			}
		}
	}
}

func (c *Cache) decode(raw []byte, ttl time.Duration) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	if err := validate.Struct(entry); err != nil {
		return nil, err
	}
	if ttl > 0 {
		if age := c.now().Sub(entry.CachedAt); age >= ttl {
			return nil, errStale{age: age}
		}
	}
	return &entry, nil
}

type errStale struct{ age time.Duration }

func (e errStale) Error() string {
	return "cache entry is stale (age " + e.age.String() + ")"
}
