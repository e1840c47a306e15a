// Package keyresolver turns a presented API key secret into an
// authorization context, caching hits in the fast store.
package keyresolver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/metergate/internal/apikey"
	"github.com/smallbiznis/metergate/internal/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	cacheKeyPrefix = "key-context:"
	// contextTTL is the staleness budget: tier or activation changes
	// take effect within this window.
	contextTTL = 300 * time.Second
	// fastStoreTimeout bounds cache round-trips so a slow fast store
	// cannot stall admission; the durable store is the fallback.
	fastStoreTimeout = 100 * time.Millisecond
)

// ErrNoMatch is the typed no-match signal: absent, inactive or expired
// key, or inactive owning customer.
var ErrNoMatch = errors.New("key_no_match")

type CustomerContext struct {
	ID         snowflake.ID `json:"id"`
	Email      string       `json:"email"`
	TierID     snowflake.ID `json:"tier_id"`
	TierName   string       `json:"tier_name"`
	DailyQuota int64        `json:"daily_quota"`
}

type DeveloperContext struct {
	ID              snowflake.ID `json:"id"`
	Name            string       `json:"name"`
	UpstreamBaseURL string       `json:"upstream_base_url"`
}

type KeyContext struct {
	ID        snowflake.ID `json:"id"`
	Active    bool         `json:"active"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
}

// AuthContext is the resolved (customer, developer, key) triple.
type AuthContext struct {
	Customer  CustomerContext  `json:"customer"`
	Developer DeveloperContext `json:"developer"`
	Key       KeyContext       `json:"key"`
}

type Resolver interface {
	Resolve(ctx context.Context, secret string) (*AuthContext, error)
}

type resolver struct {
	db    *gorm.DB
	cache *redis.Client
	keys  apikey.Service
	clock clock.Clock
	log   *zap.Logger
}

func New(db *gorm.DB, cache *redis.Client, keys apikey.Service, clk clock.Clock, log *zap.Logger) Resolver {
	return &resolver{
		db:    db,
		cache: cache,
		keys:  keys,
		clock: clk,
		log:   log.Named("keyresolver"),
	}
}

func (r *resolver) Resolve(ctx context.Context, secret string) (*AuthContext, error) {
	if secret == "" {
		return nil, ErrNoMatch
	}

	if auth, ok := r.fromCache(ctx, secret); ok {
		return auth, nil
	}

	auth, err := r.fromDurable(ctx, secret)
	if err != nil {
		return nil, err
	}

	r.toCache(ctx, secret, auth)
	r.keys.TouchLastUsed(ctx, auth.Key.ID, r.clock.Now())
	return auth, nil
}

func (r *resolver) fromCache(ctx context.Context, secret string) (*AuthContext, bool) {
	cctx, cancel := context.WithTimeout(ctx, fastStoreTimeout)
	defer cancel()

	payload, err := r.cache.Get(cctx, cacheKeyPrefix+secret).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		r.log.Warn("key-context cache read failed", zap.Error(err))
		return nil, false
	}

	var auth AuthContext
	if err := json.Unmarshal([]byte(payload), &auth); err != nil {
		r.log.Warn("key-context cache entry malformed", zap.Error(err))
		return nil, false
	}
	return &auth, true
}

func (r *resolver) toCache(ctx context.Context, secret string, auth *AuthContext) {
	payload, err := json.Marshal(auth)
	if err != nil {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, fastStoreTimeout)
	defer cancel()

	if err := r.cache.Set(cctx, cacheKeyPrefix+secret, payload, contextTTL).Err(); err != nil {
		r.log.Warn("key-context cache write failed", zap.Error(err))
	}
}

type resolvedRow struct {
	KeyID           snowflake.ID `gorm:"column:key_id"`
	KeyActive       bool         `gorm:"column:key_active"`
	KeyExpiresAt    *time.Time   `gorm:"column:key_expires_at"`
	CustomerID      snowflake.ID `gorm:"column:customer_id"`
	CustomerEmail   string       `gorm:"column:customer_email"`
	CustomerActive  bool         `gorm:"column:customer_active"`
	TierID          snowflake.ID `gorm:"column:tier_id"`
	TierName        string       `gorm:"column:tier_name"`
	DailyQuota      int64        `gorm:"column:daily_quota"`
	DeveloperID     snowflake.ID `gorm:"column:developer_id"`
	DeveloperName   string       `gorm:"column:developer_name"`
	UpstreamBaseURL string       `gorm:"column:upstream_base_url"`
}

func (r *resolver) fromDurable(ctx context.Context, secret string) (*AuthContext, error) {
	var row resolvedRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT k.id              AS key_id,
		        k.is_active       AS key_active,
		        k.expires_at      AS key_expires_at,
		        c.id              AS customer_id,
		        c.email           AS customer_email,
		        c.is_active       AS customer_active,
		        t.id              AS tier_id,
		        t.name            AS tier_name,
		        t.daily_quota     AS daily_quota,
		        d.id              AS developer_id,
		        d.name            AS developer_name,
		        d.upstream_base_url AS upstream_base_url
		 FROM api_keys k
		 JOIN customers c ON c.id = k.customer_id
		 JOIN tiers t     ON t.id = c.tier_id
		 JOIN developers d ON d.id = c.developer_id
		 WHERE k.secret = ?
		 LIMIT 1`,
		secret,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.KeyID == 0 {
		return nil, ErrNoMatch
	}

	now := r.clock.Now()
	if !row.KeyActive || !row.CustomerActive {
		return nil, ErrNoMatch
	}
	if row.KeyExpiresAt != nil && !row.KeyExpiresAt.After(now) {
		return nil, ErrNoMatch
	}

	return &AuthContext{
		Customer: CustomerContext{
			ID:         row.CustomerID,
			Email:      row.CustomerEmail,
			TierID:     row.TierID,
			TierName:   row.TierName,
			DailyQuota: row.DailyQuota,
		},
		Developer: DeveloperContext{
			ID:              row.DeveloperID,
			Name:            row.DeveloperName,
			UpstreamBaseURL: row.UpstreamBaseURL,
		},
		Key: KeyContext{
			ID:        row.KeyID,
			Active:    row.KeyActive,
			ExpiresAt: row.KeyExpiresAt,
		},
	}, nil
}
