package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"spot-engine/src/models"
)

// ErrTimeout is returned when the engine does not answer in time.
var ErrTimeout = errors.New("timed out waiting for engine response")

// Dispatcher is the gateway side of the queue: it enqueues commands and
// waits for the engine's answer on a per-request channel.
type Dispatcher struct {
	client  *redis.Client
	key     string
	timeout time.Duration
	newID   func() string
}

func NewDispatcher(client *redis.Client, key string, timeout time.Duration) *Dispatcher {
	return &Dispatcher{client: client, key: key, timeout: timeout, newID: uuid.NewString}
}

// SendAndAwait enqueues cmd and blocks for its response. The subscription
// is confirmed before the push so a fast engine cannot answer into the void.
func (d *Dispatcher) SendAndAwait(ctx context.Context, cmd models.Command) (models.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	clientID := d.newID()
	sub := d.client.Subscribe(ctx, clientID)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return models.Response{}, d.waitErr(ctx, fmt.Errorf("subscribe %s: %w", clientID, err))
	}
	if err := d.push(ctx, clientID, cmd); err != nil {
		return models.Response{}, err
	}

	select {
	case msg, ok := <-sub.Channel():
		if !ok {
			return models.Response{}, fmt.Errorf("subscription %s closed", clientID)
		}
		var resp models.Response
		if err := json.Unmarshal([]byte(msg.Payload), &resp); err != nil {
			return models.Response{}, fmt.Errorf("decode response: %w", err)
		}
		return resp, nil
	case <-ctx.Done():
		log.Warn().Str("client_id", clientID).Str("type", cmd.Type).Msg("Engine response timed out")
		return models.Response{}, d.waitErr(ctx, ctx.Err())
	}
}

// Send enqueues cmd without waiting for a response.
func (d *Dispatcher) Send(ctx context.Context, cmd models.Command) error {
	return d.push(ctx, "", cmd)
}

func (d *Dispatcher) push(ctx context.Context, clientID string, cmd models.Command) error {
	message, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd.Type, err)
	}
	raw, err := json.Marshal(models.Envelope{ClientID: clientID, Message: message})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := d.client.LPush(ctx, d.key, raw).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", d.key, err)
	}
	return nil
}

func (d *Dispatcher) waitErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, d.timeout)
	}
	return err
}
