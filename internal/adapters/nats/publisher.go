package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/samirrijal/fleetmap/internal/core/domain"
)

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and makes sure the streams exist.
func NewPublisher(url string) (*Publisher, error) {
	conn, js, err := connect(url)
	if err != nil {
		return nil, err
	}
	if err := ensureStreams(js); err != nil {
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, js: js}, nil
}

func (p *Publisher) PublishMapEvent(ctx context.Context, event *domain.MapEvent) error {
	if event.SessionID == "" {
		return fmt.Errorf("publish map event: missing session id")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(MapEventSubject(event.SessionID, string(event.Type)), data, nats.Context(ctx))
	return err
}

// PublishVehiclePosition feeds a reading into the fleet stream.
func (p *Publisher) PublishVehiclePosition(ctx context.Context, vp *domain.VehiclePosition) error {
	data, err := json.Marshal(vp)
	if err != nil {
		return err
	}
	_, err = p.js.Publish("fleet.vehicle."+vp.VehicleID, data, nats.Context(ctx))
	return err
}

// Conn exposes the connection for health checks.
func (p *Publisher) Conn() *nats.Conn { return p.conn }

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}
