package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Queue is the surface shared by the redis and in-process queues.
type Queue interface {
	RegisterJob(job Job)
	Start() error
	Stop(ctx context.Context) error
	Enqueue(ctx context.Context, msgType string, payload interface{}) error
	// EnqueueAfter makes the message visible to workers after delay.
	EnqueueAfter(ctx context.Context, msgType string, payload interface{}, delay time.Duration) error
	Stats(ctx context.Context) (Stats, error)
}

// Stats reports queue depth.
type Stats struct {
	Pending   int64 `json:"pending"`
	Scheduled int64 `json:"scheduled"`
	Dead      int64 `json:"dead"`
}

// ErrDrop tells the queue not to retry a message. Wrap it with Drop.
var ErrDrop = errors.New("queue: drop message")

// Drop marks err as not worth retrying.
func Drop(err error) error {
	return fmt.Errorf("%w: %v", ErrDrop, err)
}

// QueueConfig contains the configuration for the queue
type QueueConfig struct {
	Workers    int           // number of workers
	QueueSize  int           // size of the queue
	RetryLimit int           // number of maximum retries
	RetryDelay time.Duration // time delay between retries
}

// Message represents a message in the queue
type Message struct {
	ID        string
	Type      string
	Payload   interface{}
	Attempts  int
	Timestamp time.Time
}

func ParsePayload[T any](payload interface{}) (*T, error) {
	var result T

	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case map[string]interface{}:
		jsonData, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal map to json: %w", err)
		}
		if err := json.Unmarshal(jsonData, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal json to struct: %w", err)
		}
		return &result, nil
	case []interface{}:
		jsonData, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal slice to json: %w", err)
		}
		if err := json.Unmarshal(jsonData, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal json to struct slice: %w", err)
		}
		return &result, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}
