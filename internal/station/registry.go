// Package station tracks the live state of the four process stations.
package station

import (
	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/telemetry"
)

// Entry is the registry's view of one station.
type Entry struct {
	Name         model.StationName
	State        model.StationState
	CurrentWafer int // 0 means none
	Handle       model.StationHandle
}

// Registry is the associative store of station state, keyed by name.
type Registry struct {
	entries map[model.StationName]*Entry
	log     *telemetry.Logger
}

// New builds an empty Registry.
func New(log *telemetry.Logger) *Registry {
	return &Registry{
		entries: map[model.StationName]*Entry{},
		log:     log.WithComponent("station-registry"),
	}
}

// Register adds a station with its initial state and, if non-zero, the
// wafer it starts out holding. Idempotent: registering the same name with
// identical arguments a second time leaves state unchanged and fires no
// callback path (stations don't have completion callbacks).
func (r *Registry) Register(name model.StationName, handle model.StationHandle, initial model.StationState, wafer int) {
	if e, ok := r.entries[name]; ok {
		if e.State == initial && e.CurrentWafer == wafer {
			return
		}
		e.State = initial
		e.CurrentWafer = wafer
		if handle != nil {
			e.Handle = handle
		}
		return
	}
	r.entries[name] = &Entry{
		Name:         name,
		State:        initial,
		CurrentWafer: wafer,
		Handle:       handle,
	}
	r.log.WithField("station", name).Infof("registered in state %s", initial)
}

// Get returns a copy of the station's current entry, and whether it exists.
func (r *Registry) Get(name model.StationName) (Entry, bool) {
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// UpdateState applies a reported state transition. Returns false if the
// station isn't registered, which callers treat as a no-op rather than an
// error.
func (r *Registry) UpdateState(name model.StationName, state model.StationState, waferID int) bool {
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	e.State = state
	e.CurrentWafer = waferID
	return true
}

// SourceReady reports whether a station is ready to be the source of a leg:
// Carrier is always ready; Buffer requires occupied; Polisher/Cleaner
// require done or idle.
func (r *Registry) SourceReady(name model.StationName) bool {
	if name == model.Carrier {
		return true
	}
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	if name == model.Buffer {
		return e.State == model.StationOccupied
	}
	return e.State == model.StationDone || e.State == model.StationIdle
}

// DestinationReady reports whether a station is ready to receive a leg:
// Carrier is always ready; everything else must be idle.
func (r *Registry) DestinationReady(name model.StationName) bool {
	if name == model.Carrier {
		return true
	}
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	return e.State == model.StationIdle
}

// Occupy sets a station busy with a wafer, per the orchestrator's
// "immediate occupancy" rule used to avoid the race where the next dispatch
// tick would otherwise still see the station idle. For Polisher/Cleaner the
// busy state is "processing"; for Buffer it's "occupied". Returns
// ErrStationBusy-equivalent false if the station already holds a different
// wafer.
func (r *Registry) Occupy(name model.StationName, busyState model.StationState, waferID int) bool {
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	if e.CurrentWafer != 0 && e.CurrentWafer != waferID {
		r.log.WithField("station", name).Errorf("refusing to occupy with wafer %d: already holds %d", waferID, e.CurrentWafer)
		return false
	}
	e.State = busyState
	e.CurrentWafer = waferID
	return true
}

// Clear resets a station to idle with no wafer, e.g. Buffer after the final
// leg of a wafer's journey departs it.
func (r *Registry) Clear(name model.StationName) {
	if e, ok := r.entries[name]; ok {
		e.State = model.StationIdle
		e.CurrentWafer = 0
	}
}
