package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubTaskPublisher struct {
	messages []TaskMessage
	err      error
}

func (s *stubTaskPublisher) PublishTask(_ context.Context, message TaskMessage) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.messages = append(s.messages, message)
	return "msg-1", nil
}

func newTestDispatcher(t *testing.T, publisher TaskPublisher) BackgroundJobDispatcher {
	t.Helper()
	dispatcher, err := NewBackgroundJobDispatcher(BackgroundJobDispatcherDeps{
		Publisher:   publisher,
		Clock:       func() time.Time { return time.Date(2025, 3, 4, 11, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "task-1" },
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return dispatcher
}

func TestDispatcherEnqueueImageMirror(t *testing.T) {
	publisher := &stubTaskPublisher{}
	dispatcher := newTestDispatcher(t, publisher)

	id, err := dispatcher.EnqueueImageMirror(context.Background(), ImageMirrorPayload{
		UserID:    "user-1",
		ItemID:    "item-1",
		SourceURL: "https://shop.example.com/img/1.jpg",
	})
	if err != nil {
		t.Fatalf("enqueue image mirror: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("expected message id msg-1, got %q", id)
	}
	if len(publisher.messages) != 1 {
		t.Fatalf("expected one published message, got %d", len(publisher.messages))
	}
	msg := publisher.messages[0]
	if msg.Topic != "cart.image_mirror" {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}
	if msg.TaskID != "task-1" {
		t.Fatalf("unexpected task id %q", msg.TaskID)
	}
	if msg.Attrs["sourceUrl"] != "https://shop.example.com/img/1.jpg" || msg.Attrs["itemId"] != "item-1" {
		t.Fatalf("unexpected attrs %+v", msg.Attrs)
	}
}

func TestDispatcherEnqueueOrderNotification(t *testing.T) {
	publisher := &stubTaskPublisher{}
	dispatcher := newTestDispatcher(t, publisher)

	if _, err := dispatcher.EnqueueOrderNotification(context.Background(), OrderNotificationPayload{
		OrderID: "order-1",
		UserID:  "user-1",
		Event:   "order.submitted",
	}); err != nil {
		t.Fatalf("enqueue order notification: %v", err)
	}
	msg := publisher.messages[0]
	if msg.Topic != "order.notification" {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}
	if msg.Attrs["event"] != "order.submitted" || msg.Attrs["orderId"] != "order-1" {
		t.Fatalf("unexpected attrs %+v", msg.Attrs)
	}
}

func TestDispatcherRejectsMissingFields(t *testing.T) {
	dispatcher := newTestDispatcher(t, &stubTaskPublisher{})

	if _, err := dispatcher.EnqueueImageMirror(context.Background(), ImageMirrorPayload{UserID: "user-1"}); !errors.Is(err, ErrJobInvalidInput) {
		t.Fatalf("expected ErrJobInvalidInput for missing source url, got %v", err)
	}
	if _, err := dispatcher.EnqueueOrderNotification(context.Background(), OrderNotificationPayload{OrderID: "order-1"}); !errors.Is(err, ErrJobInvalidInput) {
		t.Fatalf("expected ErrJobInvalidInput for missing event, got %v", err)
	}
}

func TestDispatcherPropagatesPublishError(t *testing.T) {
	failing := &stubTaskPublisher{err: errors.New("pubsub unavailable")}
	dispatcher := newTestDispatcher(t, failing)

	if _, err := dispatcher.EnqueueOrderNotification(context.Background(), OrderNotificationPayload{
		OrderID: "order-1",
		Event:   "order.submitted",
	}); err == nil {
		t.Fatalf("expected publish error")
	}
}
