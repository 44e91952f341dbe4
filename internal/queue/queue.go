package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is a session event on its way from the session manager to the
// worker. Type is session.alert or session.finalized; Body is the JSON payload.
type Message struct {
	Type string
	Body []byte
}

// Queue carries session events between the api and the worker.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory hands events to a worker running inside the api process.
type InMemory struct {
	ch chan Message
}

// NewInMemory buffers up to size events; a full buffer makes Publish wait.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{ch: make(chan Message, size)}
}

func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel that is closed once ctx is done. Events still
// buffered at that point are dropped.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue shares session events with a separate worker process through a
// redis list. The api pushes on the left and the worker pops from the right.
type RedisQueue struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// NewRedisQueue uses engagement:events when key is empty.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "engagement:events"
	}
	return &RedisQueue{client: client, key: key, timeout: 5 * time.Second}
}

func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Consume pops events until ctx is done. Entries that do not decode are
// skipped; an unreachable redis is retried once a second.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, q.timeout, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					select {
					case <-time.After(time.Second):
					case <-ctx.Done():
						return
					}
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			msg, err := decode(res[1])
			if err != nil {
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// envelope is the list entry format. Body must already be JSON.
type envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

func encode(msg Message) (string, error) {
	if !json.Valid(msg.Body) {
		return "", fmt.Errorf("%s: body is not json", msg.Type)
	}
	data, err := json.Marshal(envelope{Type: msg.Type, Body: msg.Body})
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return string(data), nil
}

func decode(s string) (Message, error) {
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return Message{}, fmt.Errorf("decode event: %w", err)
	}
	if env.Type == "" {
		return Message{}, errors.New("decode event: missing type")
	}
	return Message{Type: env.Type, Body: env.Body}, nil
}
