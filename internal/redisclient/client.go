package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client caches course seat availability for the cart's soft capacity
// pre-check. The cache is best-effort only; the authoritative check at
// order completion always goes to the database under a row lock.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func availabilityKey(courseID int64) string {
	return fmt.Sprintf("course:availability:%d", courseID)
}

// GetCourseAvailability returns the cached remaining-seat count for a
// course. The second return is false on a cache miss.
func (c *Client) GetCourseAvailability(ctx context.Context, courseID int64) (int, bool, error) {
	val, err := c.rdb.Get(ctx, availabilityKey(courseID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	available, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt availability value for course %d: %w", courseID, err)
	}
	return available, true, nil
}

// SetCourseAvailability caches a course's remaining seats with a TTL
func (c *Client) SetCourseAvailability(ctx context.Context, courseID int64, available int, ttl time.Duration) error {
	return c.rdb.Set(ctx, availabilityKey(courseID), available, ttl).Err()
}

// InvalidateCourseAvailability drops the cached count after enrollments
// change
func (c *Client) InvalidateCourseAvailability(ctx context.Context, courseID int64) error {
	return c.rdb.Del(ctx, availabilityKey(courseID)).Err()
}

// AcquireLock acquires a distributed lock, used to keep two instances
// from running the installment sweep concurrently
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
