package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"spot-engine/src/models"
)

// ErrMalformedEnvelope marks a queue item that is not a {clientId, message} object.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// RedisQueue pops command envelopes from the right of a Redis list.
type RedisQueue struct {
	client      redis.Cmdable
	key         string
	pollTimeout time.Duration
}

func NewRedisQueue(client redis.Cmdable, key string, pollTimeout time.Duration) *RedisQueue {
	return &RedisQueue{client: client, key: key, pollTimeout: pollTimeout}
}

// Next blocks until an envelope arrives or ctx is done. BRPOP runs with a
// bounded timeout so cancellation is noticed between polls.
func (q *RedisQueue) Next(ctx context.Context) (models.Envelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return models.Envelope{}, err
		}
		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return models.Envelope{}, ctx.Err()
			}
			return models.Envelope{}, fmt.Errorf("brpop %s: %w", q.key, err)
		}
		// res is [key, value]
		return decodeEnvelope(res[1])
	}
}

func decodeEnvelope(raw string) (models.Envelope, error) {
	var env models.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return models.Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(env.Message) == 0 {
		return models.Envelope{}, fmt.Errorf("%w: no message", ErrMalformedEnvelope)
	}
	return env, nil
}
