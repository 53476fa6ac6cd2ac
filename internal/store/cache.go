// internal/store/cache.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"entitlement-workers/internal/common/logger"
	"entitlement-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

// cachedEntitlement keeps the credential secret, which models.Entitlement
// leaves out of its JSON form.
type cachedEntitlement struct {
	models.Entitlement
	Secret string `json:"credentialSecret"`
}

// CachedEntitlements is a read-through Redis cache in front of an Entitlements
// backend. Only existing rows are cached; entitlements are immutable so there
// is nothing to invalidate. Redis failures fall through to the backend.
type CachedEntitlements struct {
	next  Entitlements
	redis *redis.Client
	ttl   time.Duration
	log   logger.Logger
}

func NewCachedEntitlements(next Entitlements, rdb *redis.Client, ttl time.Duration, log logger.Logger) *CachedEntitlements {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedEntitlements{
		next:  next,
		redis: rdb,
		ttl:   ttl,
		log:   log.WithFields(map[string]interface{}{"component": "entitlement-cache"}),
	}
}

func entitlementKey(subjectID, itemID int64) string {
	return fmt.Sprintf("entitlement:%d:%d", subjectID, itemID)
}

func (c *CachedEntitlements) FindBySubjectAndItem(ctx context.Context, subjectID, itemID int64) (*models.Entitlement, bool, error) {
	key := entitlementKey(subjectID, itemID)

	val, err := c.redis.Get(ctx, key).Result()
	switch {
	case err == nil:
		var cached cachedEntitlement
		if jsonErr := json.Unmarshal([]byte(val), &cached); jsonErr == nil {
			e := cached.Entitlement
			e.CredentialSecret = cached.Secret
			return &e, true, nil
		}
		c.log.Warn("discarding unreadable cache entry", map[string]interface{}{"key": key})
	case !errors.Is(err, redis.Nil):
		c.log.Warn("entitlement cache read failed", map[string]interface{}{"key": key, "error": err})
	}

	e, found, err := c.next.FindBySubjectAndItem(ctx, subjectID, itemID)
	if err != nil || !found {
		return e, found, err
	}
	c.store(ctx, e)
	return e, true, nil
}

func (c *CachedEntitlements) TryInsert(ctx context.Context, e models.Entitlement) (*models.Entitlement, bool, error) {
	stored, inserted, err := c.next.TryInsert(ctx, e)
	if err != nil {
		return nil, false, err
	}
	c.store(ctx, stored)
	return stored, inserted, nil
}

func (c *CachedEntitlements) store(ctx context.Context, e *models.Entitlement) {
	data, err := json.Marshal(cachedEntitlement{Entitlement: *e, Secret: e.CredentialSecret})
	if err != nil {
		return
	}
	key := entitlementKey(e.SubjectID, e.ItemID)
	if err := c.redis.Set(ctx, key, string(data), c.ttl).Err(); err != nil {
		c.log.Warn("entitlement cache write failed", map[string]interface{}{"key": key, "error": err})
	}
}
