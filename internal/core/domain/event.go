package domain

// EventType tags a RemoteEvent variant. The value is the wire tag.
type EventType string

const (
	EvtReady         EventType = "ready"
	EvtMarkerTapped  EventType = "marker_tapped"
	EvtMapTapped     EventType = "map_tapped"
	EvtRegionChanged EventType = "region_changed"
)

// RemoteEvent is emitted by the remote engine. Only the fields of its Type are meaningful.
type RemoteEvent struct {
	Type       EventType
	MarkerID   string     // marker_tapped
	Coordinate Coordinate // map_tapped
	Region     Region     // region_changed
}

// SessionState is the handshake state of a bridge session.
type SessionState int

const (
	SessionBooting SessionState = iota
	SessionReady
	SessionDisposed
)

func (s SessionState) String() string {
	switch s {
	case SessionBooting:
		return "booting"
	case SessionReady:
		return "ready"
	case SessionDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}
