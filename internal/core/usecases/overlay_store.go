package usecases

import (
	"sort"

	"github.com/samirrijal/fleetmap/internal/core/domain"
)

type storeEntry struct {
	overlay domain.Overlay
	seq     uint64 // insertion order
}

// OverlayStore is the host-side source of truth for the declarative overlay set.
//
// It tracks the declared set and the last set acknowledged to the remote
// mirror. Before GoLive nothing is emitted; afterwards every mutation returns
// the commands that move the mirror to the declared set: RemoveOverlay for keys
// that disappeared, AddOverlay for new or content-changed keys, nothing for
// unchanged overlays. The acknowledged set is updated optimistically when the
// commands are returned.
type OverlayStore struct {
	current map[domain.OverlayKey]storeEntry
	acked   map[domain.OverlayKey]domain.Overlay
	camera  *domain.Region
	nextSeq uint64
	live    bool
}

// NewOverlayStore returns an empty store that has not gone live.
func NewOverlayStore() *OverlayStore {
	return &OverlayStore{
		current: make(map[domain.OverlayKey]storeEntry),
		acked:   make(map[domain.OverlayKey]domain.Overlay),
	}
}

// Upsert inserts o or replaces the overlay with the same kind and id.
func (s *OverlayStore) Upsert(o domain.Overlay) []domain.Command {
	o = domain.NormalizeOverlay(o)
	key := o.Key()
	s.put(key, o)
	if !s.live {
		return nil
	}
	return s.sync(key)
}

// Remove deletes the overlay identified by kind and id. Unknown keys are a no-op.
func (s *OverlayStore) Remove(kind domain.OverlayKind, id string) []domain.Command {
	key := domain.OverlayKey{Kind: kind, ID: id}
	delete(s.current, key)
	if !s.live {
		return nil
	}
	return s.sync(key)
}

// ReplaceAll swaps the declared set for overlays and returns the diff against
// the acknowledged set. Removes come first, then adds in the order given.
// When overlays repeats a key the last one wins.
func (s *OverlayStore) ReplaceAll(overlays []domain.Overlay) []domain.Command {
	next := make(map[domain.OverlayKey]storeEntry, len(overlays))
	var order []domain.OverlayKey
	for _, o := range overlays {
		o = domain.NormalizeOverlay(o)
		key := o.Key()
		if e, ok := next[key]; ok {
			e.overlay = o
			next[key] = e
			continue
		}
		seq := s.nextSeq
		if prev, ok := s.current[key]; ok {
			seq = prev.seq
		} else {
			s.nextSeq++
		}
		next[key] = storeEntry{overlay: o, seq: seq}
		order = append(order, key)
	}
	s.current = next
	if !s.live {
		return nil
	}

	var removed []domain.OverlayKey
	for key := range s.acked {
		if _, ok := next[key]; !ok {
			removed = append(removed, key)
		}
	}
	sortKeys(removed)

	cmds := make([]domain.Command, 0, len(removed))
	for _, key := range removed {
		cmds = append(cmds, s.sync(key)...)
	}
	for _, key := range order {
		cmds = append(cmds, s.sync(key)...)
	}
	return cmds
}

// Clear empties the declared set. While live the caller is expected to send a
// single Clear command, so the acknowledged set is emptied as well.
func (s *OverlayStore) Clear() {
	s.current = make(map[domain.OverlayKey]storeEntry)
	s.acked = make(map[domain.OverlayKey]domain.Overlay)
}

// GoLive marks the remote mirror as reachable and returns one AddOverlay per
// declared overlay, in insertion order. Subsequent calls return nil.
func (s *OverlayStore) GoLive() []domain.Command {
	if s.live {
		return nil
	}
	s.live = true
	overlays := s.Overlays()
	cmds := make([]domain.Command, 0, len(overlays))
	for _, o := range overlays {
		s.acked[o.Key()] = o
		cmds = append(cmds, domain.AddOverlay(o))
	}
	return cmds
}

// SetCamera records the last requested camera region.
func (s *OverlayStore) SetCamera(r domain.Region) {
	s.camera = &r
}

// Camera returns the last requested camera region, if any.
func (s *OverlayStore) Camera() (domain.Region, bool) {
	if s.camera == nil {
		return domain.Region{}, false
	}
	return *s.camera, true
}

// Get returns the declared overlay for key.
func (s *OverlayStore) Get(key domain.OverlayKey) (domain.Overlay, bool) {
	e, ok := s.current[key]
	return e.overlay, ok
}

// Overlays returns the declared set in insertion order.
func (s *OverlayStore) Overlays() []domain.Overlay {
	entries := make([]storeEntry, 0, len(s.current))
	for _, e := range s.current {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]domain.Overlay, len(entries))
	for i, e := range entries {
		out[i] = e.overlay
	}
	return out
}

// Len returns the number of declared overlays.
func (s *OverlayStore) Len() int { return len(s.current) }

// Live reports whether mutations emit commands.
func (s *OverlayStore) Live() bool { return s.live }

func (s *OverlayStore) put(key domain.OverlayKey, o domain.Overlay) {
	if e, ok := s.current[key]; ok {
		e.overlay = o
		s.current[key] = e
		return
	}
	s.current[key] = storeEntry{overlay: o, seq: s.nextSeq}
	s.nextSeq++
}

// sync reconciles one key between the declared and acknowledged sets.
func (s *OverlayStore) sync(key domain.OverlayKey) []domain.Command {
	cur, declared := s.current[key]
	ack, acked := s.acked[key]
	switch {
	case declared && acked && cur.overlay.Equal(ack):
		return nil
	case declared:
		s.acked[key] = cur.overlay
		return []domain.Command{domain.AddOverlay(cur.overlay)}
	case acked:
		delete(s.acked, key)
		return []domain.Command{domain.RemoveOverlay(key)}
	default:
		return nil
	}
}

func sortKeys(keys []domain.OverlayKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].ID < keys[j].ID
	})
}
