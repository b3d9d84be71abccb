// Package ingest owns the webhook receive path: verify, persist,
// dispatch. The contract with providers is acknowledge-once-stored:
// only a bad signature earns a 4xx, every stored event returns 200 and
// failures are retried from our side.
package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/pkg/observability"
	"github.com/patronhq/payment-service/pkg/resilience"
	"github.com/patronhq/payment-service/pkg/timeutil"
)

// EventApplier applies one decoded event; the returned id is the
// payment row the event created or touched.
type EventApplier interface {
	Apply(ctx context.Context, event *domain.ProviderEvent) (*string, error)
}

// Service ingests provider webhooks.
type Service struct {
	events   ports.WebhookEventRepository
	payments ports.PaymentRepository
	sources  map[domain.Provider]ports.WebhookSource
	queue    ports.EventQueue
	applier  EventApplier
	logger   ports.Logger
}

// NewService creates a new webhook ingestion service.
func NewService(
	events ports.WebhookEventRepository,
	payments ports.PaymentRepository,
	sources []ports.WebhookSource,
	queue ports.EventQueue,
	applier EventApplier,
	logger ports.Logger,
) *Service {
	m := make(map[domain.Provider]ports.WebhookSource, len(sources))
	for _, src := range sources {
		m[src.Name()] = src
	}
	return &Service{
		events:   events,
		payments: payments,
		sources:  m,
		queue:    queue,
		applier:  applier,
		logger:   logger,
	}
}

// Ingest verifies and stores one webhook delivery. The returned error
// is only non-nil when the delivery must be rejected with a 4xx; apply
// failures are absorbed here and retried later.
func (s *Service) Ingest(ctx context.Context, provider domain.Provider, payload []byte, signature string) error {
	src, ok := s.sources[provider]
	if !ok {
		return domain.NewDomainError(domain.ErrorCodeInvalidRequest, "unknown webhook provider").
			WithDetail("provider", string(provider))
	}

	event, err := src.VerifyAndDecode(payload, signature)
	if err != nil {
		observability.RecordWebhookEvent(string(provider), "invalid", "rejected", 0)
		return err
	}

	row, inserted, err := s.events.Upsert(ctx, nil, &domain.WebhookEvent{
		ID:        uuid.NewString(),
		Provider:  provider,
		EventID:   event.Key,
		EventType: event.RawType,
		Status:    domain.WebhookStatusReceived,
		Payload:   payload,
		CreatedAt: timeutil.Now(),
	})
	if err != nil {
		return err
	}

	if !inserted {
		switch row.Status {
		case domain.WebhookStatusProcessed, domain.WebhookStatusSkipped, domain.WebhookStatusDeadLetter:
			observability.RecordWebhookEvent(string(provider), event.RawType, "duplicate", 0)
			return nil
		}
		if row.ShouldDeadLetter() {
			if err := s.events.MarkFailed(ctx, nil, event.Key, "retry budget exhausted", true); err != nil {
				s.logger.Error("dead-letter mark failed", ports.String("event_id", event.Key), ports.Err(err))
			}
			observability.RecordWebhookEvent(string(provider), event.RawType, "dead_letter", 0)
			return nil
		}
	}

	if event.Kind == domain.EventUnknown {
		if err := s.events.MarkSkipped(ctx, nil, event.Key, nil); err != nil {
			s.logger.Error("skip mark failed", ports.String("event_id", event.Key), ports.Err(err))
		}
		observability.RecordWebhookEvent(string(provider), event.RawType, "skipped", 0)
		return nil
	}

	// Short circuit: a charge whose payment row already exists needs no
	// lock or transaction to be recognized as done.
	if event.Kind == domain.EventChargeSucceeded {
		if p, err := s.payments.GetByProviderRef(ctx, nil, provider, event.Charge.Ref); err == nil {
			if err := s.events.MarkSkipped(ctx, nil, event.Key, &p.ID); err != nil {
				s.logger.Error("skip mark failed", ports.String("event_id", event.Key), ports.Err(err))
			}
			observability.RecordWebhookEvent(string(provider), event.RawType, "skipped", 0)
			return nil
		}
	}

	if s.queue != nil && s.queue.Available() {
		if err := s.queue.Enqueue(ctx, queueToken(provider, event.Key)); err == nil {
			return nil
		} else {
			s.logger.Warn("enqueue failed, applying inline", ports.Err(err))
		}
	}

	s.process(ctx, provider, event)
	return nil
}

// process applies one event and records the outcome on its row.
// Conflicts mean some earlier delivery already did the work; a held
// lock means a concurrent worker is doing it right now, and both leave
// the event retryable rather than dead.
func (s *Service) process(ctx context.Context, provider domain.Provider, event *domain.ProviderEvent) {
	start := time.Now()
	paymentID, err := s.applier.Apply(ctx, event)

	var outcome string
	switch {
	case err == nil:
		outcome = "processed"
		if merr := s.events.MarkProcessed(ctx, nil, event.Key, paymentID); merr != nil {
			s.logger.Error("processed mark failed", ports.String("event_id", event.Key), ports.Err(merr))
		}
	case domain.GetErrorCode(err) == domain.ErrorCodeLockNotAcquired:
		outcome = "failed"
		if merr := s.events.MarkFailed(ctx, nil, event.Key, err.Error(), false); merr != nil {
			s.logger.Error("failed mark failed", ports.String("event_id", event.Key), ports.Err(merr))
		}
	case domain.IsConflict(err):
		outcome = "skipped"
		if merr := s.events.MarkSkipped(ctx, nil, event.Key, paymentID); merr != nil {
			s.logger.Error("skip mark failed", ports.String("event_id", event.Key), ports.Err(merr))
		}
	default:
		deadLetter := !domain.IsRetryable(err)
		if !deadLetter {
			if row, gerr := s.events.GetByEventID(ctx, nil, provider, event.Key); gerr == nil {
				deadLetter = row.ShouldDeadLetter()
			}
		}
		outcome = "failed"
		if deadLetter {
			outcome = "dead_letter"
			s.logger.Error("event dead-lettered",
				ports.String("event_id", event.Key),
				ports.String("event_type", event.RawType),
				ports.Err(err))
		}
		if merr := s.events.MarkFailed(ctx, nil, event.Key, err.Error(), deadLetter); merr != nil {
			s.logger.Error("failed mark failed", ports.String("event_id", event.Key), ports.Err(merr))
		}
	}

	observability.RecordWebhookEvent(string(provider), event.RawType, outcome, time.Since(start))
}

// Retry re-decodes a stored event and applies it. Used by the retry
// scheduler and the admin dead-letter replay.
func (s *Service) Retry(ctx context.Context, provider domain.Provider, eventID string) error {
	src, ok := s.sources[provider]
	if !ok {
		return domain.NewDomainError(domain.ErrorCodeInvalidRequest, "unknown webhook provider")
	}
	row, err := s.events.GetByEventID(ctx, nil, provider, eventID)
	if err != nil {
		return err
	}
	if row.Status == domain.WebhookStatusProcessed || row.Status == domain.WebhookStatusSkipped {
		return nil
	}

	event, err := src.DecodeStored(row.Payload)
	if err != nil {
		return err
	}
	s.process(ctx, provider, event)
	return nil
}

// RunWorker drains the event queue until ctx is canceled. Multiple
// workers are safe: application is serialized by subject locks and the
// payment unique index.
func (s *Service) RunWorker(ctx context.Context) {
	s.logger.Info("webhook worker started")
	backoff := resilience.WebhookBackoff()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("webhook worker stopped")
			return
		default:
		}

		token, err := s.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.Warn("queue dequeue failed", ports.Err(err))
			time.Sleep(backoff.NextDelay(failures))
			failures++
			continue
		}
		failures = 0
		if token == "" {
			continue
		}

		provider, eventID, ok := splitToken(token)
		if !ok {
			s.logger.Error("malformed queue token", ports.String("token", token))
			continue
		}
		if err := s.Retry(ctx, provider, eventID); err != nil {
			s.logger.Error("queued event apply failed",
				ports.String("event_id", eventID), ports.Err(err))
		}
	}
}

func queueToken(provider domain.Provider, eventID string) string {
	return string(provider) + "|" + eventID
}

func splitToken(token string) (domain.Provider, string, bool) {
	provider, eventID, ok := strings.Cut(token, "|")
	if !ok || provider == "" || eventID == "" {
		return "", "", false
	}
	return domain.Provider(provider), eventID, true
}
