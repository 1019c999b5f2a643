package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"swiftdash-backend/internal/realtime"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// locationKeyPrefix namespaces partner position keys in Redis.
const locationKeyPrefix = "partner:location:"

// DefaultLocationTTL is how long a cached position stays valid without
// a fresh report.
const DefaultLocationTTL = 2 * time.Minute

// LocationCache keeps each partner's last reported position in Redis
// with a TTL, so read endpoints can answer without touching Postgres.
// Entries expire on their own once a partner goes quiet.
type LocationCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLocationCache connects to Redis and verifies the connection.
func NewLocationCache(addr, password string, db int, ttl time.Duration) (*LocationCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infof("✅ Location cache connected to Redis at %s", addr)
	return &LocationCache{client: rdb, ttl: ttl}, nil
}

func (c *LocationCache) Close() error {
	return c.client.Close()
}

// SetLocation stores the partner's latest position with the cache TTL.
func (c *LocationCache) SetLocation(ctx context.Context, partnerID string, pos realtime.PartnerPosition) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}
	if err := c.client.Set(ctx, locationKeyPrefix+partnerID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache position for partner %s: %w", partnerID, err)
	}
	return nil
}

// GetLocation returns the cached position, or (nil, nil) on a miss.
func (c *LocationCache) GetLocation(ctx context.Context, partnerID string) (*realtime.PartnerPosition, error) {
	data, err := c.client.Get(ctx, locationKeyPrefix+partnerID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached position for partner %s: %w", partnerID, err)
	}

	var pos realtime.PartnerPosition
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("failed to decode cached position for partner %s: %w", partnerID, err)
	}
	return &pos, nil
}
