package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

const TopicMemoryChanged = "memory.changed"

type Kind string

const (
	KindConversationSaved Kind = "conversation_saved"
	KindFeedbackAdded     Kind = "feedback_added"
	KindReloaded          Kind = "reloaded"
)

// ChangeEvent announces that a namespace's collections were mutated.
type ChangeEvent struct {
	Kind           Kind      `json:"kind"`
	Namespace      string    `json:"namespace"`
	ConversationID string    `json:"conversation_id,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher is the narrow side of the bus that mutating components depend on.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// Bus is an in-process pub/sub for memory change notifications.
type Bus struct {
	pubsub *gochannel.GoChannel
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			NewZapLogger(logger),
		),
	}
}

func (b *Bus) Publish(ctx context.Context, ev ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	return b.pubsub.Publish(TopicMemoryChanged, msg)
}

// Subscribe returns the change stream. Every received message must be acked.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, TopicMemoryChanged)
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Decode reads the ChangeEvent carried by msg.
func Decode(msg *message.Message) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("failed to decode change event: %w", err)
	}
	return ev, nil
}
