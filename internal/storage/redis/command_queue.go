package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CommandQueue is the Redis list the station consumes command requests from.
// Producers RPUSH JSON-encoded requests; the station blocks on BLPOP so one
// command is fully processed before the next is taken.
type CommandQueue struct {
	client *Client
	key    string
}

// NewCommandQueue returns a queue bound to the given list key.
func NewCommandQueue(client *Client, key string) *CommandQueue {
	if key == "" {
		key = "sram:commands"
	}
	return &CommandQueue{client: client, key: key}
}

// Push enqueues one raw request. Used by tooling and tests; the station
// itself only consumes.
func (q *CommandQueue) Push(ctx context.Context, payload []byte) error {
	return q.client.RPush(ctx, q.key, payload).Err()
}

// Pop blocks up to timeout for the next request. Returns (nil, nil) when the
// wait times out with an empty queue.
func (q *CommandQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BLPop returns [key, value].
	if len(res) != 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Len reports the number of pending requests.
func (q *CommandQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
