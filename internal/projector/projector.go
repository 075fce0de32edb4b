// Package projector consumes order events and keeps the Redis status
// projection in step with the database.
package projector

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type Service struct {
	Cache       *redisx.Cache
	ServiceName string
	Log         logrus.FieldLogger
}

// Handle is installed as the consumer handler. Malformed messages are
// logged and skipped; a Redis failure is returned so the offset is not
// committed.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.Decode[orders.Envelope](m.Value)
	if err != nil {
		s.Log.WithError(err).WithField("topic", m.Topic).Warn("skip malformed event")
		return nil
	}
	log := s.Log.WithFields(logrus.Fields{"event_id": env.EventID, "event_type": env.EventType, "trace_id": env.TraceID})

	first, err := s.Cache.FirstSeen(ctx, s.ServiceName, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		log.Debug("duplicate event")
		return nil
	}

	if err := s.apply(ctx, env); err != nil {
		if ferr := s.Cache.Forget(ctx, s.ServiceName, env.EventID); ferr != nil {
			log.WithError(ferr).Warn("release dedup mark")
		}
		return err
	}
	log.Debug("event projected")
	return nil
}

func (s *Service) apply(ctx context.Context, env orders.Envelope) error {
	var orderID, userID string
	var status orders.Status

	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			s.Log.WithError(err).WithField("event_id", env.EventID).Warn("skip bad payload")
			return nil
		}
		orderID, userID, status = p.OrderID, p.UserID, orders.StatusPending
	case orders.EventStatusChanged, orders.EventOrderCancelled, orders.EventOrderRefunded:
		p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
		if err != nil {
			s.Log.WithError(err).WithField("event_id", env.EventID).Warn("skip bad payload")
			return nil
		}
		orderID, userID, status = p.OrderID, p.UserID, p.To
	case orders.EventPaymentRecorded:
		p, err := kafkax.UnwrapPayload[orders.PaymentRecordedPayload](env.Payload)
		if err != nil {
			s.Log.WithError(err).WithField("event_id", env.EventID).Warn("skip bad payload")
			return nil
		}
		orderID, userID, status = p.OrderID, p.UserID, p.OrderStatus
	default:
		return nil
	}

	if err := s.Cache.InvalidateOrder(ctx, orderID); err != nil {
		return fmt.Errorf("invalidate order %s: %w", orderID, err)
	}
	entry := redisx.StatusEntry{Status: string(status), UserID: userID, UpdatedAt: env.OccurredAt}
	if err := s.Cache.SetStatus(ctx, orderID, entry); err != nil {
		return fmt.Errorf("cache status for %s: %w", orderID, err)
	}
	return nil
}
