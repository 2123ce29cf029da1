package rbac

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gatherly/gatherly/pkg/observability"
)

// PolicySource is the subset of Store the checker needs.
type PolicySource interface {
	PoliciesForUser(ctx context.Context, userID int64) ([]Policy, error)
	UsersWithRole(ctx context.Context, roleID int64) ([]int64, error)
}

// Checker answers permission questions, caching per-user decisions in
// an LRU so hot paths avoid a database round trip per request.
type Checker struct {
	source  PolicySource
	cache   *lru.Cache[string, bool]
	metrics *observability.Metrics
	logger  *observability.Logger

	mu    sync.Mutex
	users map[int64][]string // cached keys per user, for invalidation
}

// NewChecker builds a Checker with the given cache size.
func NewChecker(source PolicySource, cacheSize int, metrics *observability.Metrics, logger *observability.Logger) (*Checker, error) {
	c := &Checker{
		source:  source,
		metrics: metrics,
		logger:  logger,
		users:   make(map[int64][]string),
	}
	cache, err := lru.NewWithEvict[string, bool](cacheSize, c.evicted)
	if err != nil {
		return nil, fmt.Errorf("create decision cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

// evicted prunes an evicted cache key from the per-user index so the
// index cannot outgrow the cache under churn.
func (c *Checker) evicted(key string, _ bool) {
	sep := strings.IndexByte(key, '\x00')
	if sep < 0 {
		return
	}
	userID, err := strconv.ParseInt(key[:sep], 10, 64)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.users[userID]
	for i, k := range keys {
		if k == key {
			keys[i] = keys[len(keys)-1]
			keys = keys[:len(keys)-1]
			break
		}
	}
	if len(keys) == 0 {
		delete(c.users, userID)
	} else {
		c.users[userID] = keys
	}
}

func cacheKey(userID int64, action, resource string) string {
	return fmt.Sprintf("%d\x00%s\x00%s", userID, action, resource)
}

// Allowed reports whether the user may perform action on resource.
func (c *Checker) Allowed(ctx context.Context, userID int64, action, resource string) (bool, error) {
	key := cacheKey(userID, action, resource)
	if decision, ok := c.cache.Get(key); ok {
		c.metrics.PermissionCacheHit.Inc()
		return decision, nil
	}

	policies, err := c.source.PoliciesForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load policies for user %d: %w", userID, err)
	}
	decision := Evaluate(policies, action, resource)

	c.cache.Add(key, decision)
	c.mu.Lock()
	c.users[userID] = append(c.users[userID], key)
	c.mu.Unlock()

	outcome := "deny"
	if decision {
		outcome = "allow"
	}
	c.metrics.PermissionChecks.WithLabelValues(outcome).Inc()
	return decision, nil
}

// InvalidateUser drops all cached decisions for a user. Called when
// the user's role assignments change.
func (c *Checker) InvalidateUser(userID int64) {
	c.mu.Lock()
	keys := c.users[userID]
	delete(c.users, userID)
	c.mu.Unlock()
	for _, key := range keys {
		c.cache.Remove(key)
	}
}

// InvalidateRole drops cached decisions for every user holding the
// role. Called when a role's policies or a policy's statements change.
func (c *Checker) InvalidateRole(ctx context.Context, roleID int64) {
	users, err := c.source.UsersWithRole(ctx, roleID)
	if err != nil {
		// Fail open on invalidation errors by purging everything.
		c.logger.WithError(err).Warn("role invalidation fell back to full cache purge")
		c.InvalidateAll()
		return
	}
	for _, id := range users {
		c.InvalidateUser(id)
	}
}

// InvalidateAll clears the entire decision cache.
func (c *Checker) InvalidateAll() {
	c.cache.Purge()
	c.mu.Lock()
	c.users = make(map[int64][]string)
	c.mu.Unlock()
}
