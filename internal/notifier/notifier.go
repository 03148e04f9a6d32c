// Package notifier delivers rendered announcements to the messaging channel.
package notifier

//go:generate mockgen -source=notifier.go -destination=mocks/notifier_mock.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"launchwatch/internal/models"
	"launchwatch/logger"
)

// ErrDelivery marks a send that the channel did not accept.
var ErrDelivery = errors.New("delivery failed")

// Notifier sends one announcement. A nil error means the channel accepted it.
type Notifier interface {
	Deliver(ctx context.Context, payload models.NotificationPayload) (models.DeliveryReceipt, error)
	DeliverWithImage(ctx context.Context, payload models.NotificationPayload) (models.DeliveryReceipt, error)
}

// LogNotifier writes announcements to the log instead of sending them. It is
// used when Telegram is disabled.
type LogNotifier struct {
	log *logger.Entry
	seq atomic.Int64
}

func NewLogNotifier(log *logger.Log) *LogNotifier {
	if log == nil {
		log = logger.GetLogger()
	}
	return &LogNotifier{log: log.WithComponent("notifier")}
}

func (n *LogNotifier) Deliver(_ context.Context, payload models.NotificationPayload) (models.DeliveryReceipt, error) {
	return n.write(payload, false), nil
}

func (n *LogNotifier) DeliverWithImage(_ context.Context, payload models.NotificationPayload) (models.DeliveryReceipt, error) {
	return n.write(payload, payload.Image != nil), nil
}

func (n *LogNotifier) write(payload models.NotificationPayload, image bool) models.DeliveryReceipt {
	seq := n.seq.Add(1)
	receipt := models.DeliveryReceipt{MessageID: fmt.Sprintf("log-%d", seq), DeliveredAt: time.Now().UTC()}
	n.log.WithFields(logger.Fields{
		"message_id": receipt.MessageID,
		"with_image": image,
		"actions":    len(payload.Actions),
	}).Info(payload.Text)
	return receipt
}
