package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const pendingCountPrefix = "ack:pending:"

// PendingCounts caches per-staff acknowledgement badge counts in Redis.
type PendingCounts struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPendingCounts(client *redis.Client, ttl time.Duration) *PendingCounts {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &PendingCounts{client: client, ttl: ttl}
}

func pendingCountKey(staffID uuid.UUID) string {
	return pendingCountPrefix + staffID.String()
}

func (p *PendingCounts) Get(ctx context.Context, staffID uuid.UUID) (int64, bool, error) {
	count, err := p.client.Get(ctx, pendingCountKey(staffID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read pending count: %w", err)
	}
	return count, true, nil
}

func (p *PendingCounts) Set(ctx context.Context, staffID uuid.UUID, count int64) error {
	if err := p.client.Set(ctx, pendingCountKey(staffID), count, p.ttl).Err(); err != nil {
		return fmt.Errorf("write pending count: %w", err)
	}
	return nil
}

func (p *PendingCounts) Invalidate(ctx context.Context, staffIDs ...uuid.UUID) error {
	if len(staffIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(staffIDs))
	for _, id := range staffIDs {
		keys = append(keys, pendingCountKey(id))
	}
	if err := p.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate pending counts: %w", err)
	}
	return nil
}
