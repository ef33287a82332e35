/**
 * @description
 * The notification worker consumes subscription lifecycle events from RabbitMQ
 * and emails the affected user.
 *
 * @notes
 * - Each send is retried with exponential backoff up to a fixed number of attempts.
 * - Messages that cannot be delivered are logged and acknowledged, never re-queued,
 *   so a bad address cannot block the queue.
 */
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Allforms/estatepadi/internal/domain"
	"github.com/Allforms/estatepadi/pkg/rabbitmq"
)

// Worker turns subscription notifications into emails.
type Worker struct {
	sender      Sender
	logger      *slog.Logger
	maxAttempts int
	newBackOff  func() backoff.BackOff
}

// NewWorker creates a worker that tries each email up to maxAttempts times.
func NewWorker(sender Sender, logger *slog.Logger, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{
		sender:      sender,
		logger:      logger,
		maxAttempts: maxAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

// Bindings returns the routing keys the worker handles.
func (w *Worker) Bindings() map[string]rabbitmq.Handler {
	return map[string]rabbitmq.Handler{
		domain.RoutingKeyActivated:     w.Handle,
		domain.RoutingKeyReactivated:   w.Handle,
		domain.RoutingKeyCancelled:     w.Handle,
		domain.RoutingKeyPaymentFailed: w.Handle,
	}
}

// Handle processes one message body. It always reports the message as handled.
func (w *Worker) Handle(ctx context.Context, body []byte) bool {
	var n domain.SubscriptionNotification
	if err := json.Unmarshal(body, &n); err != nil {
		w.logger.Error("dropping malformed subscription notification", "error", err)
		return true
	}
	logger := w.logger.With("notification_id", n.ID, "type", n.Type, "user_id", n.UserID)

	if n.Email == "" {
		logger.Warn("dropping subscription notification without recipient")
		return true
	}

	email, ok, err := BuildEmail(n)
	if !ok {
		logger.Warn("no email template for notification type")
		return true
	}
	if err != nil {
		logger.Error("failed to render notification email", "error", err)
		return true
	}

	attempts := 0
	op := func() error {
		attempts++
		return w.sender.Send(ctx, email)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(w.newBackOff(), uint64(w.maxAttempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		logger.Error("failed to send subscription email", "attempts", attempts, "error", err)
		return true
	}

	logger.Info("subscription email sent", "attempts", attempts)
	return true
}
