package detect

import (
	"context"
	"encoding/json"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/go-redis/redis/v8"

	"github.com/fuchsia74/modelcheck/common"
	"github.com/fuchsia74/modelcheck/common/logger"
)

const progressChannel = "detection:progress"

// Event kinds delivered on the progress bus.
const (
	EventConnected = "connected"
	EventProgress  = "progress"
	EventHeartbeat = "heartbeat"
	EventError     = "error"
)

// Event is one progress-bus message. Delivery is best-effort: a slow
// subscriber never back-pressures workers.
type Event struct {
	Kind            string `json:"kind"`
	ChannelId       int    `json:"channelId,omitempty"`
	ModelId         int    `json:"modelId,omitempty"`
	ModelName       string `json:"modelName,omitempty"`
	Status          string `json:"status,omitempty"`
	Latency         int64  `json:"latency,omitempty"`
	EndpointType    string `json:"endpointType,omitempty"`
	IsModelComplete bool   `json:"isModelComplete,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Publish fans the event out to every subscriber. Errors are logged,
// not returned: persistence is decoupled from emission.
func Publish(ctx context.Context, event Event) {
	buf, err := json.Marshal(event)
	if err != nil {
		logger.Logger.Warn("failed to marshal progress event", zap.Error(err))
		return
	}
	if err := common.RDB.Publish(ctx, progressChannel, buf).Err(); err != nil {
		logger.Logger.Warn("failed to publish progress event", zap.Error(err))
	}
}

// Subscription is one subscriber's view of the progress bus.
type Subscription struct {
	pubsub *redis.PubSub
	Events <-chan Event
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

// Subscribe attaches to the progress channel. The returned Events
// channel closes when the subscription ends.
func Subscribe(ctx context.Context) (*Subscription, error) {
	subscriber, ok := common.RDB.(interface {
		Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	})
	if !ok {
		return nil, errors.New("progress bus requires a subscribable redis client")
	}
	pubsub := subscriber.Subscribe(ctx, progressChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errors.Wrap(err, "subscribe progress bus")
	}

	events := make(chan Event, 64)
	go func() {
		defer close(events)
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case events <- event:
			default:
				// drop on a full buffer rather than stall the reader
			}
		}
	}()

	return &Subscription{pubsub: pubsub, Events: events}, nil
}
