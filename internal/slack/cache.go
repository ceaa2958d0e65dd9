package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a cache build stays fresh.
const DefaultCacheTTL = 24 * time.Hour

// Directory is the slice of the API the cache needs to rebuild itself.
// *Client satisfies it.
type Directory interface {
	ListUsers(ctx context.Context) ([]User, PageResult, error)
	ListChannels(ctx context.Context, includePrivate bool, cursor string) ([]Channel, PageResult, error)
}

// LookupStatus reports how a cache lookup resolved.
type LookupStatus int

const (
	LookupFound LookupStatus = iota
	LookupNotFound
	LookupAmbiguous
)

// Lookup carries the outcome of a cache query. Stale is set when the
// entry was served from an expired build because a rebuild failed.
// Partial is set when the current build hit the listing page cap, so a
// NotFound may just mean the entity fell past the cap.
type Lookup struct {
	Status  LookupStatus
	Stale   bool
	Partial bool
}

// EntityCache holds the workspace's users and channels with a TTL.
// Expired entries trigger a rebuild on next access; if the rebuild
// fails the expired data is served with Stale set rather than failing
// the lookup. Safe for concurrent use.
type EntityCache struct {
	dir            Directory
	ttl            time.Duration
	includePrivate bool
	log            *slog.Logger
	now            func() time.Time

	rebuildMu sync.Mutex // single-flight guard for rebuilds

	mu         sync.RWMutex
	users      map[string]User
	channels   map[string]Channel
	chanByName map[string][]string // normalized name -> channel IDs
	fetchedAt  time.Time
	partial    bool // the build hit the page cap and is incomplete
}

// NewEntityCache creates an empty cache over the given directory.
func NewEntityCache(dir Directory, ttl time.Duration, includePrivate bool, log *slog.Logger) *EntityCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &EntityCache{
		dir:            dir,
		ttl:            ttl,
		includePrivate: includePrivate,
		log:            log,
		now:            time.Now,
		users:          map[string]User{},
		channels:       map[string]Channel{},
		chanByName:     map[string][]string{},
	}
}

// WithClock sets the time source, for tests. Call before first use.
func (c *EntityCache) WithClock(now func() time.Time) *EntityCache {
	c.now = now
	return c
}

func (c *EntityCache) fresh() bool {
	return !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl
}

// Rebuild fetches users and channels and swaps them in atomically.
// Concurrent callers coalesce onto one fetch.
func (c *EntityCache) Rebuild(ctx context.Context) error {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	// Another caller may have finished a rebuild while we waited.
	c.mu.RLock()
	fresh := c.fresh()
	c.mu.RUnlock()
	if fresh {
		return nil
	}

	users, ures, err := c.dir.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("cache rebuild: %w", err)
	}
	channels, cres, err := c.dir.ListChannels(ctx, c.includePrivate, "")
	if err != nil {
		return fmt.Errorf("cache rebuild: %w", err)
	}
	partial := ures.Partial || cres.Partial

	umap := make(map[string]User, len(users))
	for _, u := range users {
		umap[u.ID] = u
	}
	cmap := make(map[string]Channel, len(channels))
	byName := make(map[string][]string, len(channels))
	for _, ch := range channels {
		cmap[ch.ID] = ch
		key := normalizeChannelName(ch.Name)
		byName[key] = append(byName[key], ch.ID)
	}

	c.mu.Lock()
	c.users = umap
	c.channels = cmap
	c.chanByName = byName
	c.fetchedAt = c.now()
	c.partial = partial
	c.mu.Unlock()

	if partial {
		c.log.Warn("entity cache rebuilt from capped listings, lookups may miss entities",
			"users", len(umap), "channels", len(cmap))
	} else {
		c.log.Info("entity cache rebuilt", "users", len(umap), "channels", len(cmap))
	}
	return nil
}

// ensure rebuilds when the cache is empty or expired. Returns true when
// the lookup should be marked stale.
func (c *EntityCache) ensure(ctx context.Context) bool {
	c.mu.RLock()
	fresh := c.fresh()
	empty := c.fetchedAt.IsZero()
	c.mu.RUnlock()
	if fresh {
		return false
	}
	if err := c.Rebuild(ctx); err != nil {
		if empty {
			return false
		}
		c.log.Warn("cache rebuild failed, serving stale entries", "error", err)
		return true
	}
	return false
}

// User looks up a user by ID, rebuilding the cache when expired.
func (c *EntityCache) User(ctx context.Context, id string) (User, Lookup) {
	stale := c.ensure(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	if !ok {
		return User{}, Lookup{Status: LookupNotFound, Stale: stale, Partial: c.partial}
	}
	return u, Lookup{Status: LookupFound, Stale: stale, Partial: c.partial}
}

// ChannelByID looks up a channel by ID.
func (c *EntityCache) ChannelByID(ctx context.Context, id string) (Channel, Lookup) {
	stale := c.ensure(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.channels[id]
	if !ok {
		return Channel{}, Lookup{Status: LookupNotFound, Stale: stale, Partial: c.partial}
	}
	return ch, Lookup{Status: LookupFound, Stale: stale, Partial: c.partial}
}

// ChannelByName resolves a channel by name. Names are matched after
// lowercasing and stripping any leading "#". A name shared by more than
// one channel resolves to LookupAmbiguous with no channel.
func (c *EntityCache) ChannelByName(ctx context.Context, name string) (Channel, Lookup) {
	stale := c.ensure(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.chanByName[normalizeChannelName(name)]
	switch len(ids) {
	case 0:
		return Channel{}, Lookup{Status: LookupNotFound, Stale: stale, Partial: c.partial}
	case 1:
		return c.channels[ids[0]], Lookup{Status: LookupFound, Stale: stale, Partial: c.partial}
	default:
		return Channel{}, Lookup{Status: LookupAmbiguous, Stale: stale, Partial: c.partial}
	}
}

// Users returns a copy of all cached users.
func (c *EntityCache) Users() []User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]User, 0, len(c.users))
	for _, u := range c.users {
		out = append(out, u)
	}
	return out
}

// Channels returns a copy of all cached channels.
func (c *EntityCache) Channels() []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

// FetchedAt reports when the current build was fetched.
func (c *EntityCache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

type cacheSnapshot struct {
	FetchedAt time.Time `json:"fetched_at"`
	Partial   bool      `json:"partial,omitempty"`
	Users     []User    `json:"users"`
	Channels  []Channel `json:"channels"`
}

// Save writes the cache contents to path as JSON.
func (c *EntityCache) Save(path string) error {
	c.mu.RLock()
	snap := cacheSnapshot{
		FetchedAt: c.fetchedAt,
		Partial:   c.partial,
		Users:     make([]User, 0, len(c.users)),
		Channels:  make([]Channel, 0, len(c.channels)),
	}
	for _, u := range c.users {
		snap.Users = append(snap.Users, u)
	}
	for _, ch := range c.channels {
		snap.Channels = append(snap.Channels, ch)
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	return nil
}

// Load replaces the cache contents with a snapshot written by Save.
// A missing file is not an error; the cache just starts cold.
func (c *EntityCache) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading cache file: %w", err)
	}
	var snap cacheSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parsing cache file: %w", err)
	}

	umap := make(map[string]User, len(snap.Users))
	for _, u := range snap.Users {
		umap[u.ID] = u
	}
	cmap := make(map[string]Channel, len(snap.Channels))
	byName := make(map[string][]string, len(snap.Channels))
	for _, ch := range snap.Channels {
		cmap[ch.ID] = ch
		key := normalizeChannelName(ch.Name)
		byName[key] = append(byName[key], ch.ID)
	}

	c.mu.Lock()
	c.users = umap
	c.channels = cmap
	c.chanByName = byName
	c.fetchedAt = snap.FetchedAt
	c.partial = snap.Partial
	c.mu.Unlock()
	return nil
}

func normalizeChannelName(name string) string {
	return strings.ToLower(strings.TrimPrefix(name, "#"))
}
