package domain

import "strings"

// CommandType tags a Command variant. The value is the wire tag.
type CommandType string

const (
	CmdAddOverlay      CommandType = "add_overlay"
	CmdRemoveOverlay   CommandType = "remove_overlay"
	CmdAnimateToRegion CommandType = "animate_to_region"
	CmdSetStyle        CommandType = "set_style"
	CmdSetLayerVisible CommandType = "set_layer_visible"
	CmdClear           CommandType = "clear"
)

// DefaultAnimationMs is used when AnimateToRegion is called without a positive duration.
const DefaultAnimationMs = 500

// TrafficLayer is the layer toggled by the traffic-visibility flag.
const TrafficLayer = "traffic"

// Command is an imperative instruction for the remote engine. Only the fields
// of its Type are meaningful. Seq is stamped by the session for diagnostics.
type Command struct {
	Seq  uint64
	Type CommandType

	Overlay Overlay    // add_overlay
	Target  OverlayKey // remove_overlay

	Region     Region // animate_to_region
	DurationMs int

	Style MapStyle // set_style

	LayerID string // set_layer_visible
	Visible bool
}

func AddOverlay(o Overlay) Command {
	return Command{Type: CmdAddOverlay, Overlay: o}
}

func RemoveOverlay(key OverlayKey) Command {
	return Command{Type: CmdRemoveOverlay, Target: key}
}

func AnimateToRegion(r Region, durationMs int) Command {
	return Command{Type: CmdAnimateToRegion, Region: r, DurationMs: durationMs}
}

func SetStyle(s MapStyle) Command {
	return Command{Type: CmdSetStyle, Style: s}
}

func SetLayerVisible(layerID string, visible bool) Command {
	return Command{Type: CmdSetLayerVisible, LayerID: layerID, Visible: visible}
}

func Clear() Command {
	return Command{Type: CmdClear}
}

// MapStyle is the base map style.
type MapStyle string

const (
	StyleNormal    MapStyle = "normal"
	StyleSatellite MapStyle = "satellite"
	StyleTerrain   MapStyle = "terrain"
	StyleTraffic   MapStyle = "traffic"
	StyleLogistics MapStyle = "logistics"
)

// ParseMapStyle maps s to a known style; unrecognized values fall back to StyleNormal.
func ParseMapStyle(s string) MapStyle {
	switch st := MapStyle(strings.ToLower(strings.TrimSpace(s))); st {
	case StyleNormal, StyleSatellite, StyleTerrain, StyleTraffic, StyleLogistics:
		return st
	default:
		return StyleNormal
	}
}
