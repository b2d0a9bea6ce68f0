// Package codec serializes bridge commands and remote events across the
// channel boundary. Every frame is an envelope {type, payload}; the payload
// shape depends on the type. Frames can be carried as JSON, CBOR or a
// protobuf Struct.
//
// Decoding never panics. A frame that cannot be parsed fails with
// domain.ErrChannel; a frame that parses but carries an unknown type or an
// invalid payload fails with domain.ErrMalformedEvent.
package codec

import (
	"fmt"
	"strings"

	"github.com/samirrijal/fleetmap/internal/core/domain"
)

// Format selects the frame encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCBOR     Format = "cbor"
	FormatProtobuf Format = "protobuf"
)

// ParseFormat accepts json, cbor or protobuf (case-insensitive). Empty means json.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCBOR, FormatProtobuf:
		return f, nil
	default:
		return "", fmt.Errorf("unknown codec format %q", s)
	}
}

// TypeInitialize is the bootstrap frame carrying the API key and initial region.
const TypeInitialize = "initialize"

const typeSnapshot = "snapshot"

// Codec encodes and decodes frames in one Format. Safe for concurrent use.
type Codec struct {
	format Format
	frame  framing
}

// New returns a codec for f.
func New(f Format) (*Codec, error) {
	c := &Codec{format: f}
	switch f {
	case FormatJSON:
		c.frame = jsonFraming{}
	case FormatCBOR:
		fr, err := newCBORFraming()
		if err != nil {
			return nil, err
		}
		c.frame = fr
	case FormatProtobuf:
		c.frame = protoFraming{}
	default:
		return nil, fmt.Errorf("unknown codec format %q", f)
	}
	return c, nil
}

// Format returns the codec's frame encoding.
func (c *Codec) Format() Format { return c.format }

// Binary reports whether frames should travel as binary messages.
func (c *Codec) Binary() bool { return c.format != FormatJSON }

// EncodeInit builds the one-time bootstrap frame.
func (c *Codec) EncodeInit(apiKey string, region domain.Region) ([]byte, error) {
	return c.encode(TypeInitialize, initPayload{APIKey: apiKey, Region: region})
}

// DecodeInit parses a bootstrap frame.
func (c *Codec) DecodeInit(data []byte) (string, domain.Region, error) {
	typ, payload, err := c.decodeEnvelope(data)
	if err != nil {
		return "", domain.Region{}, err
	}
	if typ != TypeInitialize {
		return "", domain.Region{}, fmt.Errorf("%w: expected %s frame, got %q", domain.ErrMalformedEvent, TypeInitialize, typ)
	}
	var p initPayload
	if err := payload(&p); err != nil {
		return "", domain.Region{}, malformed(typ, err)
	}
	return p.APIKey, p.Region, nil
}

// EncodeCommand serializes cmd. The sequence number stays host-side.
func (c *Codec) EncodeCommand(cmd domain.Command) ([]byte, error) {
	var payload any
	switch cmd.Type {
	case domain.CmdAddOverlay:
		p, err := toOverlayPayload(cmd.Overlay)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrChannel, err)
		}
		payload = p
	case domain.CmdRemoveOverlay:
		payload = removePayload{Kind: cmd.Target.Kind, ID: cmd.Target.ID}
	case domain.CmdAnimateToRegion:
		payload = animatePayload{Region: cmd.Region, DurationMs: cmd.DurationMs}
	case domain.CmdSetStyle:
		payload = stylePayload{Style: cmd.Style}
	case domain.CmdSetLayerVisible:
		payload = layerPayload{LayerID: cmd.LayerID, Visible: cmd.Visible}
	case domain.CmdClear:
	default:
		return nil, fmt.Errorf("%w: unknown command type %q", domain.ErrChannel, cmd.Type)
	}
	return c.encode(string(cmd.Type), payload)
}

// DecodeCommand parses a command frame, as the remote engine would.
func (c *Codec) DecodeCommand(data []byte) (domain.Command, error) {
	typ, payload, err := c.decodeEnvelope(data)
	if err != nil {
		return domain.Command{}, err
	}
	cmd := domain.Command{Type: domain.CommandType(typ)}
	switch cmd.Type {
	case domain.CmdAddOverlay:
		var p overlayPayload
		if err := payload(&p); err != nil {
			return cmd, malformed(typ, err)
		}
		o, err := p.overlay()
		if err != nil {
			return cmd, malformed(typ, err)
		}
		cmd.Overlay = o
	case domain.CmdRemoveOverlay:
		var p removePayload
		if err := payload(&p); err != nil {
			return cmd, malformed(typ, err)
		}
		if !p.Kind.Valid() || p.ID == "" {
			return cmd, fmt.Errorf("%w: %s: bad overlay key %s/%q", domain.ErrMalformedEvent, typ, p.Kind, p.ID)
		}
		cmd.Target = domain.OverlayKey{Kind: p.Kind, ID: p.ID}
	case domain.CmdAnimateToRegion:
		var p animatePayload
		if err := payload(&p); err != nil {
			return cmd, malformed(typ, err)
		}
		cmd.Region, cmd.DurationMs = p.Region, p.DurationMs
	case domain.CmdSetStyle:
		var p stylePayload
		if err := payload(&p); err != nil {
			return cmd, malformed(typ, err)
		}
		cmd.Style = p.Style
	case domain.CmdSetLayerVisible:
		var p layerPayload
		if err := payload(&p); err != nil {
			return cmd, malformed(typ, err)
		}
		cmd.LayerID, cmd.Visible = p.LayerID, p.Visible
	case domain.CmdClear:
	default:
		return cmd, fmt.Errorf("%w: unknown command type %q", domain.ErrMalformedEvent, typ)
	}
	return cmd, nil
}

// EncodeEvent serializes a remote event, as the remote engine would.
func (c *Codec) EncodeEvent(evt domain.RemoteEvent) ([]byte, error) {
	var payload any
	switch evt.Type {
	case domain.EvtReady:
	case domain.EvtMarkerTapped:
		payload = markerTappedPayload{ID: evt.MarkerID}
	case domain.EvtMapTapped:
		payload = mapTappedPayload{Coordinate: toWireCoordinate(evt.Coordinate)}
	case domain.EvtRegionChanged:
		payload = regionChangedPayload{Region: toWireRegion(evt.Region)}
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", domain.ErrChannel, evt.Type)
	}
	return c.encode(string(evt.Type), payload)
}

// DecodeEvent parses and validates an inbound event frame.
func (c *Codec) DecodeEvent(data []byte) (domain.RemoteEvent, error) {
	typ, payload, err := c.decodeEnvelope(data)
	if err != nil {
		return domain.RemoteEvent{}, err
	}
	evt := domain.RemoteEvent{Type: domain.EventType(typ)}
	switch evt.Type {
	case domain.EvtReady:
	case domain.EvtMarkerTapped:
		var p markerTappedPayload
		if err := payload(&p); err != nil {
			return evt, malformed(typ, err)
		}
		if p.ID == "" {
			return evt, fmt.Errorf("%w: %s: empty marker id", domain.ErrMalformedEvent, typ)
		}
		evt.MarkerID = p.ID
	case domain.EvtMapTapped:
		var p mapTappedPayload
		if err := payload(&p); err != nil {
			return evt, malformed(typ, err)
		}
		coord, err := p.Coordinate.coordinate()
		if err != nil {
			return evt, malformed(typ, err)
		}
		evt.Coordinate = coord
	case domain.EvtRegionChanged:
		var p regionChangedPayload
		if err := payload(&p); err != nil {
			return evt, malformed(typ, err)
		}
		region, err := p.Region.region()
		if err != nil {
			return evt, malformed(typ, err)
		}
		evt.Region = region
	default:
		return evt, fmt.Errorf("%w: unknown event type %q", domain.ErrMalformedEvent, typ)
	}
	return evt, nil
}

// EncodeSnapshot serializes an overlay set and camera for persistence.
func (c *Codec) EncodeSnapshot(overlays []domain.Overlay, camera *domain.Region) ([]byte, error) {
	p := snapshotPayload{Overlays: make([]overlayPayload, 0, len(overlays)), Camera: camera}
	for _, o := range overlays {
		op, err := toOverlayPayload(o)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrChannel, err)
		}
		p.Overlays = append(p.Overlays, op)
	}
	return c.encode(typeSnapshot, p)
}

// DecodeSnapshot parses a persisted overlay set. Invalid overlays are skipped.
func (c *Codec) DecodeSnapshot(data []byte) ([]domain.Overlay, *domain.Region, error) {
	typ, payload, err := c.decodeEnvelope(data)
	if err != nil {
		return nil, nil, err
	}
	if typ != typeSnapshot {
		return nil, nil, fmt.Errorf("%w: expected %s frame, got %q", domain.ErrMalformedEvent, typeSnapshot, typ)
	}
	var p snapshotPayload
	if err := payload(&p); err != nil {
		return nil, nil, malformed(typ, err)
	}
	overlays := make([]domain.Overlay, 0, len(p.Overlays))
	for _, op := range p.Overlays {
		o, err := op.overlay()
		if err != nil {
			continue
		}
		overlays = append(overlays, o)
	}
	if p.Camera != nil && p.Camera.Validate() != nil {
		p.Camera = nil
	}
	return overlays, p.Camera, nil
}

func (c *Codec) encode(typ string, payload any) ([]byte, error) {
	data, err := c.frame.encode(typ, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", domain.ErrChannel, typ, err)
	}
	return data, nil
}

func (c *Codec) decodeEnvelope(data []byte) (string, payloadFunc, error) {
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty frame", domain.ErrChannel)
	}
	typ, payload, err := c.frame.decode(data)
	if err != nil {
		return "", nil, fmt.Errorf("%w: decode %s frame: %v", domain.ErrChannel, c.format, err)
	}
	if typ == "" {
		return "", nil, fmt.Errorf("%w: frame without type", domain.ErrMalformedEvent)
	}
	return typ, payload, nil
}

func malformed(typ string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrMalformedEvent, typ, err)
}
