package natsadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/samirrijal/fleetmap/internal/core/domain"
)

// Subscriber implements ports.EventSubscriber using NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber connects to NATS with its own connection.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, js, err := connect(url)
	if err != nil {
		return nil, err
	}
	if err := ensureStreams(js); err != nil {
		conn.Close()
		return nil, err
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeVehiclePositions delivers every new reading to handler. The
// consumer is ephemeral: each instance draws every vehicle on its own maps.
// Invalid readings are terminated rather than redelivered.
func (s *Subscriber) SubscribeVehiclePositions(ctx context.Context, handler func(ctx context.Context, vp *domain.VehiclePosition) error) error {
	sub, err := s.js.Subscribe(SubjectVehiclePositions, func(msg *nats.Msg) {
		var vp domain.VehiclePosition
		if err := json.Unmarshal(msg.Data, &vp); err != nil {
			slog.Warn("discarding undecodable vehicle position", "subject", msg.Subject, "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ctx, &vp); err != nil {
			if errors.Is(err, domain.ErrInvalidOverlay) {
				_ = msg.Term()
				return
			}
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.DeliverNew(),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
