package quota

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"replyflow/internal/logger"
)

// CachedPolicyProvider shadows policy lookups in redis with a short TTL.
// Pure performance optimization: any cache error falls through to the
// underlying provider, and quota counts themselves are never cached.
type CachedPolicyProvider struct {
	next PolicyProvider
	rdb  *redis.Client
	ttl  time.Duration
}

// NewCachedPolicyProvider wraps next with a redis read-shadow cache.
func NewCachedPolicyProvider(next PolicyProvider, rdb *redis.Client, ttl time.Duration) *CachedPolicyProvider {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedPolicyProvider{next: next, rdb: rdb, ttl: ttl}
}

func policyKey(accountID string) string {
	return "replyflow:policy:" + accountID
}

// PolicyFor implements PolicyProvider.
func (c *CachedPolicyProvider) PolicyFor(ctx context.Context, accountID string) (Policy, error) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, policyKey(accountID)).Result()
		if err == nil {
			var policy Policy
			if jsonErr := json.Unmarshal([]byte(raw), &policy); jsonErr == nil {
				return policy, nil
			}
		} else if err != redis.Nil {
			logger.Warningf("policy cache read failed for %s: %v", accountID, err)
		}
	}

	policy, err := c.next.PolicyFor(ctx, accountID)
	if err != nil {
		return Policy{}, err
	}

	if c.rdb != nil {
		if data, jsonErr := json.Marshal(policy); jsonErr == nil {
			if err := c.rdb.Set(ctx, policyKey(accountID), data, c.ttl).Err(); err != nil {
				logger.Warningf("policy cache write failed for %s: %v", accountID, err)
			}
		}
	}

	return policy, nil
}
