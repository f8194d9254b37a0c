package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	taskTopicImageMirror       = "cart.image_mirror"
	taskTopicOrderNotification = "order.notification"
)

// ErrJobInvalidInput indicates required fields were missing from the payload.
var ErrJobInvalidInput = errors.New("jobs: invalid input")

// TaskPublisher publishes background task messages to the worker queue.
type TaskPublisher interface {
	PublishTask(ctx context.Context, message TaskMessage) (string, error)
}

// TaskMessage is the payload delivered to background workers via Pub/Sub.
type TaskMessage struct {
	TaskID   string            `json:"taskId"`
	Topic    string            `json:"topic"`
	QueuedAt time.Time         `json:"queuedAt"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// BackgroundJobDispatcherDeps enumerates collaborators required to construct the dispatcher.
type BackgroundJobDispatcherDeps struct {
	Publisher   TaskPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type backgroundJobDispatcher struct {
	publisher TaskPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewBackgroundJobDispatcher wires dependencies into a BackgroundJobDispatcher implementation.
func NewBackgroundJobDispatcher(deps BackgroundJobDispatcherDeps) (BackgroundJobDispatcher, error) {
	if deps.Publisher == nil {
		return nil, errors.New("background job dispatcher: publisher is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &backgroundJobDispatcher{
		publisher: deps.Publisher,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// EnqueueImageMirror queues a copy of a product image into the assets bucket
// so order snapshots survive retailer CDN churn.
func (d *backgroundJobDispatcher) EnqueueImageMirror(ctx context.Context, payload ImageMirrorPayload) (string, error) {
	userID := strings.TrimSpace(payload.UserID)
	sourceURL := strings.TrimSpace(payload.SourceURL)
	if userID == "" || sourceURL == "" {
		return "", ErrJobInvalidInput
	}

	message := TaskMessage{
		TaskID:   d.newID(),
		Topic:    taskTopicImageMirror,
		QueuedAt: d.clock(),
		Attrs: map[string]string{
			"userId":    userID,
			"itemId":    strings.TrimSpace(payload.ItemID),
			"sourceUrl": sourceURL,
		},
	}
	return d.publish(ctx, message)
}

// EnqueueOrderNotification fans out an order lifecycle event to notification workers.
func (d *backgroundJobDispatcher) EnqueueOrderNotification(ctx context.Context, payload OrderNotificationPayload) (string, error) {
	orderID := strings.TrimSpace(payload.OrderID)
	event := strings.TrimSpace(payload.Event)
	if orderID == "" || event == "" {
		return "", ErrJobInvalidInput
	}

	message := TaskMessage{
		TaskID:   d.newID(),
		Topic:    taskTopicOrderNotification,
		QueuedAt: d.clock(),
		Attrs: map[string]string{
			"orderId": orderID,
			"userId":  strings.TrimSpace(payload.UserID),
			"event":   event,
		},
	}
	return d.publish(ctx, message)
}

func (d *backgroundJobDispatcher) publish(ctx context.Context, message TaskMessage) (string, error) {
	id, err := d.publisher.PublishTask(ctx, message)
	if err != nil {
		d.logger(ctx, "jobs.publish_failed", map[string]any{
			"topic":  message.Topic,
			"taskID": message.TaskID,
			"error":  err.Error(),
		})
		return "", err
	}
	d.logger(ctx, "jobs.published", map[string]any{
		"topic":     message.Topic,
		"taskID":    message.TaskID,
		"messageID": id,
	})
	return id, nil
}
