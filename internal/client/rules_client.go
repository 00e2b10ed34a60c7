package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/procurehq/be-proc-requests/internal/rules"
)

// RulesClient fetches the organization rule registry. Reads go through a
// Redis read-through cache; cache failures degrade to a direct lookup, and a
// registry failure propagates so the validation gate fails closed — the one
// thing this client must never do is invent a permissive default.
type RulesClient struct {
	http  *httpClient
	redis *redis.Client
	ttl   time.Duration
	retry RetryPolicy
	log   zerolog.Logger
}

// NewRulesClient creates a rules registry client. redisClient may be nil to
// disable caching.
func NewRulesClient(baseURL string, timeout time.Duration, redisClient *redis.Client, ttl time.Duration, log zerolog.Logger) *RulesClient {
	return &RulesClient{
		http:  newHTTPClient(baseURL, timeout),
		redis: redisClient,
		ttl:   ttl,
		retry: DefaultRetryPolicy,
		log:   log.With().Str("client", "rules").Logger(),
	}
}

type rulesResponse struct {
	Rules []rules.Rule `json:"rules"`
}

// GetRules returns the resolved rule set for an organization.
func (c *RulesClient) GetRules(ctx context.Context, organizationID string) (rules.Set, error) {
	cacheKey := fmt.Sprintf("proc:rules:%s", organizationID)

	if cached, ok := c.cacheGet(ctx, cacheKey); ok {
		return rules.Resolve(cached), nil
	}

	var resp rulesResponse
	path := fmt.Sprintf("/api/v1/organizations/%s/rules", organizationID)
	err := c.retry.Do(ctx, func() error {
		return c.http.Get(ctx, path, &resp)
	})
	if err != nil {
		return rules.Set{}, fmt.Errorf("failed to fetch rules for organization %s: %w", organizationID, err)
	}

	c.cacheSet(ctx, cacheKey, resp.Rules)
	return rules.Resolve(resp.Rules), nil
}

func (c *RulesClient) cacheGet(ctx context.Context, key string) ([]rules.Rule, bool) {
	if c.redis == nil {
		return nil, false
	}

	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("key", key).Msg("rule cache read failed")
		}
		return nil, false
	}

	var raw []rules.Rule
	if err := json.Unmarshal(data, &raw); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("rule cache entry corrupt; ignoring")
		return nil, false
	}
	return raw, true
}

func (c *RulesClient) cacheSet(ctx context.Context, key string, raw []rules.Rule) {
	if c.redis == nil {
		return
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("rule cache write failed")
	}
}
