// Package workers runs the background task consumers that keep product
// images mirrored and order snapshots self-contained.
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/panierapp/api/internal/platform/storage"
	"github.com/panierapp/api/internal/repositories"
	"github.com/panierapp/api/internal/services"
)

// ImageMirrorer copies a remote image into the assets bucket.
type ImageMirrorer interface {
	MirrorImage(ctx context.Context, sourceURL string, objectPath string) (string, error)
}

// ObjectCopier copies stored objects between bucket locations.
type ObjectCopier interface {
	CopyObject(ctx context.Context, sourceBucket, sourceObject, destBucket, destObject string) error
}

// Deps bundles collaborators for the background worker.
type Deps struct {
	Mirror       ImageMirrorer
	Copier       ObjectCopier
	AssetsBucket string
	Carts        repositories.CartRepository
	Orders       repositories.OrderRepository
	Logger       *zap.Logger
}

// Worker dispatches queued task messages to their handlers.
type Worker struct {
	mirror       ImageMirrorer
	copier       ObjectCopier
	assetsBucket string
	carts        repositories.CartRepository
	orders       repositories.OrderRepository
	logger       *zap.Logger
}

// New validates dependencies and constructs a Worker.
func New(deps Deps) (*Worker, error) {
	if deps.Mirror == nil {
		return nil, errors.New("worker: mirror is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("worker: cart repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("worker: order repository is required")
	}
	if strings.TrimSpace(deps.AssetsBucket) == "" {
		return nil, errors.New("worker: assets bucket is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		mirror:       deps.Mirror,
		copier:       deps.Copier,
		assetsBucket: strings.TrimSpace(deps.AssetsBucket),
		carts:        deps.Carts,
		orders:       deps.Orders,
		logger:       logger,
	}, nil
}

// Run consumes the subscription until the context is cancelled.
func (w *Worker) Run(ctx context.Context, sub *pubsub.Subscription) error {
	if sub == nil {
		return errors.New("worker: subscription is required")
	}
	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var task services.TaskMessage
		if err := json.Unmarshal(msg.Data, &task); err != nil {
			w.logger.Warn("worker: discarding malformed task", zap.Error(err))
			msg.Ack()
			return
		}
		if err := w.Handle(ctx, task); err != nil {
			w.logger.Error("worker: task failed",
				zap.String("topic", task.Topic),
				zap.String("taskId", task.TaskID),
				zap.Error(err))
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Handle routes a single task message to its handler.
func (w *Worker) Handle(ctx context.Context, task services.TaskMessage) error {
	switch task.Topic {
	case "cart.image_mirror":
		return w.handleImageMirror(ctx, task)
	case "order.notification":
		return w.handleOrderNotification(ctx, task)
	default:
		w.logger.Warn("worker: unknown task topic", zap.String("topic", task.Topic))
		return nil
	}
}

// handleImageMirror copies the product image into the assets bucket and
// records the stored object on the cart line.
func (w *Worker) handleImageMirror(ctx context.Context, task services.TaskMessage) error {
	userID := strings.TrimSpace(task.Attrs["userId"])
	itemID := strings.TrimSpace(task.Attrs["itemId"])
	sourceURL := strings.TrimSpace(task.Attrs["sourceUrl"])
	if userID == "" || itemID == "" || sourceURL == "" {
		w.logger.Warn("worker: image mirror task missing attributes", zap.String("taskId", task.TaskID))
		return nil
	}

	objectPath, err := storage.BuildObjectPath(storage.PurposeCartImage, storage.PathParams{
		UserID:   userID,
		ItemID:   itemID,
		FileName: storage.SourceFileName(sourceURL),
	})
	if err != nil {
		return fmt.Errorf("build object path: %w", err)
	}

	stored, err := w.mirror.MirrorImage(ctx, sourceURL, objectPath)
	if err != nil {
		return fmt.Errorf("mirror image: %w", err)
	}

	cart, err := w.carts.GetCart(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("load cart: %w", err)
	}
	updated := false
	for i := range cart.Items {
		if cart.Items[i].ID != itemID {
			continue
		}
		ref := stored
		cart.Items[i].MirrorRef = &ref
		updated = true
		break
	}
	if !updated {
		// Item was removed while the mirror was in flight.
		return nil
	}
	if _, err := w.carts.ReplaceItems(ctx, userID, cart.Items); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("store mirror ref: %w", err)
	}
	w.logger.Info("worker: image mirrored",
		zap.String("userId", userID),
		zap.String("itemId", itemID),
		zap.String("object", stored))
	return nil
}

// handleOrderNotification pins mirrored cart images under the order prefix
// so the snapshot survives cart cleanup.
func (w *Worker) handleOrderNotification(ctx context.Context, task services.TaskMessage) error {
	orderID := strings.TrimSpace(task.Attrs["orderId"])
	event := strings.TrimSpace(task.Attrs["event"])
	if orderID == "" {
		w.logger.Warn("worker: order notification missing order id", zap.String("taskId", task.TaskID))
		return nil
	}
	if event != "order.submitted" {
		w.logger.Info("worker: order event observed",
			zap.String("orderId", orderID),
			zap.String("event", event))
		return nil
	}
	if w.copier == nil {
		return nil
	}

	order, err := w.orders.FindByID(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("load order: %w", err)
	}

	changed := false
	for i := range order.Items {
		item := order.Items[i]
		if item.MirrorRef == nil || !strings.HasPrefix(*item.MirrorRef, "assets/carts/") {
			continue
		}
		dest, err := storage.BuildObjectPath(storage.PurposeOrderImage, storage.PathParams{
			OrderID:  order.ID,
			ItemID:   item.ID,
			FileName: storage.SourceFileName(*item.MirrorRef),
		})
		if err != nil {
			w.logger.Warn("worker: skipping order image", zap.String("itemId", item.ID), zap.Error(err))
			continue
		}
		if err := w.copier.CopyObject(ctx, w.assetsBucket, *item.MirrorRef, w.assetsBucket, dest); err != nil {
			return fmt.Errorf("copy order image: %w", err)
		}
		ref := dest
		order.Items[i].MirrorRef = &ref
		changed = true
	}
	if !changed {
		return nil
	}
	if err := w.orders.Update(ctx, order); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("store order image refs: %w", err)
	}
	w.logger.Info("worker: order images pinned", zap.String("orderId", order.ID))
	return nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
