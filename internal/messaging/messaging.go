package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EnhanceQueue    = "enhance_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type EnhanceTaskPayload struct {
	JobId uuid.UUID `json:"job_id"`
}

type Publisher interface {
	PublishEnhanceTask(ctx context.Context, payload EnhanceTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
