package livecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LatestTTL bounds staleness: a camera with no running session stops
// answering after this window.
const LatestTTL = 2 * time.Minute

var ErrNoTick = errors.New("livecache: no tick for camera")

// Cache keeps the most recent tick per camera in Redis so polling surfaces
// can read current state without joining a stream.
type Cache struct {
	client *redis.Client
}

func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func NewFromAddr(addr, password string) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	return &Cache{client: rdb}
}

func key(cameraID string) string {
	return fmt.Sprintf("flood:latest:%s", cameraID)
}

// SetLatest stores the tick payload under the camera key with a refresh TTL.
func (c *Cache) SetLatest(ctx context.Context, cameraID string, tick any) error {
	b, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("marshal tick: %w", err)
	}
	if err := c.client.Set(ctx, key(cameraID), b, LatestTTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// GetLatest returns the raw JSON of the camera's most recent tick.
func (c *Cache) GetLatest(ctx context.Context, cameraID string) ([]byte, error) {
	b, err := c.client.Get(ctx, key(cameraID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoTick
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return b, nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
