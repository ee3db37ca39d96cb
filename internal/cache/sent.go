// Package cache keeps a short-lived record of delivered messages in Redis,
// so support tooling can answer "did this go out, and through what gateway
// id" without touching the primary store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"clinotify/internal/domain"
)

type SentCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSentCache(rdb *redis.Client, ttl time.Duration) *SentCache {
	return &SentCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	RemoteID string    `json:"remoteId"`
	Owner    string    `json:"owner"`
	SentAt   time.Time `json:"sentAt"`
}

// StoreSent records a delivery keyed by queue and record id. Best effort;
// callers log and move on when it fails.
func (c *SentCache) StoreSent(ctx context.Context, q domain.Queue, recordID, remoteID, owner string, sentAt time.Time) error {
	key := fmt.Sprintf("sent:%s:%s", q, recordID)
	b, err := json.Marshal(sentValue{
		RemoteID: remoteID,
		Owner:    owner,
		SentAt:   sentAt.UTC(),
	})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}
