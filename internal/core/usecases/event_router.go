package usecases

import (
	"fmt"

	"github.com/samirrijal/fleetmap/internal/core/domain"
)

// EventHandlers receive demultiplexed remote events. Nil handlers are skipped.
type EventHandlers struct {
	OnReady        func()
	OnMarkerPress  func(id string)
	OnMapPress     func(coord domain.Coordinate)
	OnRegionChange func(region domain.Region)
}

// EventRouter dispatches RemoteEvents by tag.
type EventRouter struct {
	handlers EventHandlers
}

func NewEventRouter(h EventHandlers) *EventRouter {
	return &EventRouter{handlers: h}
}

// Route delivers evt to its handler. Marker taps are forwarded even for ids the
// host never added, since host and remote may be a frame out of sync.
// Out-of-range payloads fail with ErrMalformedEvent and reach no handler.
func (r *EventRouter) Route(evt domain.RemoteEvent) error {
	switch evt.Type {
	case domain.EvtReady:
		if r.handlers.OnReady != nil {
			r.handlers.OnReady()
		}
	case domain.EvtMarkerTapped:
		if evt.MarkerID == "" {
			return fmt.Errorf("%w: marker tap without id", domain.ErrMalformedEvent)
		}
		if r.handlers.OnMarkerPress != nil {
			r.handlers.OnMarkerPress(evt.MarkerID)
		}
	case domain.EvtMapTapped:
		if err := evt.Coordinate.Validate(); err != nil {
			return fmt.Errorf("%w: map tap: %v", domain.ErrMalformedEvent, err)
		}
		if r.handlers.OnMapPress != nil {
			r.handlers.OnMapPress(evt.Coordinate)
		}
	case domain.EvtRegionChanged:
		if err := evt.Region.Validate(); err != nil {
			return fmt.Errorf("%w: region change: %v", domain.ErrMalformedEvent, err)
		}
		if r.handlers.OnRegionChange != nil {
			r.handlers.OnRegionChange(evt.Region)
		}
	default:
		return fmt.Errorf("%w: unknown event type %q", domain.ErrMalformedEvent, evt.Type)
	}
	return nil
}
