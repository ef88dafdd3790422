package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// deliveredTTL must outlive any plausible broker redelivery window.
const deliveredTTL = 24 * time.Hour

func deliveredKey(taskID string) string { return "result:delivered:" + taskID }

// DedupStore collapses duplicate result deliveries to one per task id.
type DedupStore interface {
	// FirstDelivery claims the task id and reports whether this caller won.
	// Subsequent calls for the same id return false until the claim expires.
	FirstDelivery(ctx context.Context, taskID string) (bool, error)
}

type dedupStore struct {
	client *redis.Client
}

// NewDedupStore creates a Redis-backed DedupStore.
func NewDedupStore(client *redis.Client) DedupStore {
	return &dedupStore{client: client}
}

func (d *dedupStore) FirstDelivery(ctx context.Context, taskID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, deliveredKey(taskID), "1", deliveredTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim for %s: %w", taskID, err)
	}
	return ok, nil
}
