package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-digital-store/internal/kafka"
	"github.com/ariefcatur/go-digital-store/internal/orders"
	"github.com/ariefcatur/go-digital-store/internal/redisx"
)

type Sender interface {
	Send(ctx context.Context, e Email) (string, error)
}

// Dedup remembers handled event ids.
type Dedup interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) (bool, error)
}

type Service struct {
	Sender   Sender
	Dedup    Dedup
	From     string
	StoreURL string
	Name     string
	Log      *slog.Logger
}

// HandleOrderSettled is installed as the order.settled consumer handler.
// A returned error leaves the offset uncommitted so the event is retried.
func (s *Service) HandleOrderSettled(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.logger().Warn("drop undecodable event", "key", string(m.Key), "err", err)
		return nil
	}
	if env.EventType != orders.EventOrderPaid && env.EventType != orders.EventOrderBackordered {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.name(), env.EventID)
	if s.Dedup != nil {
		if seen, err := s.Dedup.Seen(ctx, dkey); err == nil && seen {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.OrderSettledPayload](env.Payload)
	if err != nil {
		s.logger().Warn("drop event with bad payload", "event_id", env.EventID, "err", err)
		return nil
	}
	log := s.logger().With("event_id", env.EventID, "order_id", p.OrderID)
	if p.Email == "" {
		log.Info("order has no buyer email, skipping")
		return nil
	}

	subject, html, err := Render(p, s.StoreURL)
	if err != nil {
		return err
	}
	id, err := s.Sender.Send(ctx, Email{From: s.From, To: []string{p.Email}, Subject: subject, HTML: html})
	if err != nil {
		log.Error("email send failed", "err", err)
		return err
	}
	log.Info("email sent", "message_id", id, "status", p.Status)

	if s.Dedup != nil {
		if _, err := s.Dedup.Mark(ctx, dkey); err != nil {
			log.Warn("mark event handled", "err", err)
		}
	}
	return nil
}

func (s *Service) name() string {
	if s.Name != "" {
		return s.Name
	}
	return "mailer"
}

func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
