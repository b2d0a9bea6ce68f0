package natsadapter

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectVehiclePositions carries the fleet feed, one subject per vehicle.
	SubjectVehiclePositions = "fleet.vehicle.>"
	// SubjectMapEvents is the prefix for events raised by remote map engines.
	SubjectMapEvents = "map.events"
)

var streams = []nats.StreamConfig{
	{
		Name:      "FLEET_POSITIONS",
		Subjects:  []string{SubjectVehiclePositions},
		Retention: nats.LimitsPolicy,
		MaxAge:    10 * time.Minute,
		Storage:   nats.MemoryStorage,
	},
	{
		Name:      "MAP_EVENTS",
		Subjects:  []string{SubjectMapEvents + ".>"},
		Retention: nats.InterestPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	},
}

func connect(url string) (*nats.Conn, nats.JetStreamContext, error) {
	conn, err := nats.Connect(url,
		nats.Name("fleetmap"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return conn, js, nil
}

func ensureStreams(js nats.JetStreamContext) error {
	for _, cfg := range streams {
		cfg := cfg
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist
			if _, err := js.UpdateStream(&cfg); err != nil {
				return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

// MapEventSubject returns the subject a map event is published on.
func MapEventSubject(sessionID, eventType string) string {
	return SubjectMapEvents + "." + sessionID + "." + eventType
}
