// Package notify guards outbound notifications with exactly-once
// semantics per (subscription, type): a lock around the send plus a
// unique log row underneath it.
package notify

import (
	"context"
	"time"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

const sendLockTTL = 30 * time.Second

// Service sends notifications idempotently.
type Service struct {
	log      ports.NotificationLogRepository
	locker   ports.Locker
	notifier ports.Notifier
	logger   ports.Logger
}

// NewService creates a new notification service.
func NewService(log ports.NotificationLogRepository, locker ports.Locker, notifier ports.Notifier, logger ports.Logger) *Service {
	return &Service{log: log, locker: locker, notifier: notifier, logger: logger}
}

// Send delivers the notification unless one of this type has already
// gone out for the subscription. The lock serializes racing senders;
// the unique log row backstops the lock.
func (s *Service) Send(ctx context.Context, n *ports.Notification) error {
	lock, err := s.locker.Acquire(ctx, ports.NotificationLockKey(n.SubscriptionID, n.Type), sendLockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Warn("notification lock release failed", ports.Err(rerr))
		}
	}()

	sent, err := s.log.Exists(ctx, nil, n.SubscriptionID, n.Type)
	if err != nil {
		return err
	}
	if sent {
		return nil
	}

	if err := s.notifier.Send(ctx, n); err != nil {
		return err
	}

	if err := s.log.Record(ctx, nil, n.SubscriptionID, n.Type); err != nil {
		if domain.IsConflict(err) {
			// Another sender won the race after our check; the message
			// may have gone out twice, which the lock makes rare.
			return nil
		}
		return err
	}

	s.logger.Debug("notification sent",
		ports.String("subscription_id", n.SubscriptionID),
		ports.String("type", n.Type))
	return nil
}

// LoggingNotifier is the development and test delivery: it writes the
// notification to the log instead of an external channel.
type LoggingNotifier struct {
	Logger ports.Logger
}

// Send implements ports.Notifier.
func (l *LoggingNotifier) Send(ctx context.Context, n *ports.Notification) error {
	l.Logger.Info("notification",
		ports.String("user_id", n.UserID),
		ports.String("subscription_id", n.SubscriptionID),
		ports.String("type", n.Type),
		ports.String("subject", n.Subject))
	return nil
}

// LogAlerter raises operator alerts through the structured log, for
// deployments without a paging integration.
type LogAlerter struct {
	Logger ports.Logger
}

// Alert implements ports.Alerter.
func (l *LogAlerter) Alert(ctx context.Context, topic, message string, fields map[string]interface{}) error {
	alertFields := []ports.Field{ports.String("topic", topic)}
	for k, v := range fields {
		alertFields = append(alertFields, ports.Field{Key: k, Value: v})
	}
	l.Logger.Error("ALERT: "+message, alertFields...)
	return nil
}
