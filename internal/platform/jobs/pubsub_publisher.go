package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/panierapp/api/internal/platform/textutil"
	"github.com/panierapp/api/internal/services"
)

// PubSubTaskPublisher publishes background task messages to a Pub/Sub topic.
type PubSubTaskPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubTaskPublisher constructs a Pub/Sub backed task publisher.
func NewPubSubTaskPublisher(topic *pubsub.Topic) (*PubSubTaskPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub task publisher: topic is required")
	}
	return &PubSubTaskPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishTask enqueues a task message on the configured topic.
func (p *PubSubTaskPublisher) PublishTask(ctx context.Context, message services.TaskMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub task publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "taskId", message.TaskID)
	setAttr(attrs, "topic", message.Topic)
	for key, value := range textutil.NormalizeStringMap(message.Attrs) {
		setAttr(attrs, key, value)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish task: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
