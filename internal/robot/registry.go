// Package robot tracks the live state of the robot fleet. It is a plain
// associative store; all mutation is expected to happen from the
// dispatcher's single serial processor, so it carries no locking of its own.
package robot

import (
	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/telemetry"
	"github.com/pkg/errors"
)

// ErrHandleMismatch is returned when RegisterRobot is called twice for the
// same id with a different handle.
var ErrHandleMismatch = errors.New("robot already registered with a different handle")

// Entry is the registry's view of one robot.
type Entry struct {
	ID          model.RobotID
	Handle      model.RobotHandle
	State       model.RobotState
	HeldWaferID int // 0 means none
	WaitingFor  string
}

// Registry is the associative store of robot state, keyed by RobotID.
type Registry struct {
	entries map[model.RobotID]*Entry
	log     *telemetry.Logger
}

// New builds an empty Registry.
func New(log *telemetry.Logger) *Registry {
	return &Registry{
		entries: map[model.RobotID]*Entry{},
		log:     log.WithComponent("robot-registry"),
	}
}

// Register adds a robot, or, if already present, verifies the handle is
// identical (idempotent registration). A new robot starts idle with no
// held wafer.
func (r *Registry) Register(id model.RobotID, handle model.RobotHandle) error {
	if existing, ok := r.entries[id]; ok {
		if existing.Handle != handle {
			return errors.Wrapf(ErrHandleMismatch, "robot %q", id)
		}
		return nil
	}
	r.entries[id] = &Entry{
		ID:     id,
		Handle: handle,
		State:  model.RobotIdle,
	}
	r.log.WithField("robot", id).Infof("registered")
	return nil
}

// Get returns a copy of the robot's current entry, and whether it exists.
func (r *Registry) Get(id model.RobotID) (Entry, bool) {
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// UpdateResult reports the side effects an UpdateState call produced, so the
// caller (the dispatcher) can decide whether to consult the completion
// tracker and/or kick a dispatch cycle.
type UpdateResult struct {
	TransitionedToIdle bool
	RepairedInvalid    bool
}

// UpdateState applies a reported state transition. If the reported state is
// idle while a wafer is still held, HeldWaferID is cleared and
// RepairedInvalid is reported; state always wins over the held-wafer field.
// Returns (zero, false) if the robot isn't registered, which callers treat
// as a no-op rather than an error.
func (r *Registry) UpdateState(id model.RobotID, state model.RobotState, heldWaferID int, waitingFor string) (UpdateResult, bool) {
	e, ok := r.entries[id]
	if !ok {
		return UpdateResult{}, false
	}

	was := e.State
	e.State = state
	e.HeldWaferID = heldWaferID
	e.WaitingFor = waitingFor

	result := UpdateResult{}
	if state == model.RobotIdle && e.HeldWaferID != 0 {
		r.log.WithField("robot", id).Warnf("idle robot reported held wafer %d; clearing", e.HeldWaferID)
		e.HeldWaferID = 0
		result.RepairedInvalid = true
	}
	if state == model.RobotIdle && was != model.RobotIdle {
		result.TransitionedToIdle = true
	}
	return result, true
}

// IdleEligible returns, from candidates, those robots that are currently
// idle, preserving the order of candidates (which callers keep lexically
// sorted for the deterministic tie-break).
func (r *Registry) IdleEligible(candidates []model.RobotID) []model.RobotID {
	out := make([]model.RobotID, 0, len(candidates))
	for _, id := range candidates {
		if e, ok := r.entries[id]; ok && e.State == model.RobotIdle {
			out = append(out, id)
		}
	}
	return out
}

// IsIdle reports whether id is registered and idle.
func (r *Registry) IsIdle(id model.RobotID) bool {
	e, ok := r.entries[id]
	return ok && e.State == model.RobotIdle
}

// AllIdle reports whether every registered robot is idle. Used by the
// synchronized-batch policy.
func (r *Registry) AllIdle() bool {
	for _, e := range r.entries {
		if e.State != model.RobotIdle {
			return false
		}
	}
	return true
}

// Commit marks id busy, holding wafer waferID. Called by the dispatcher at
// the moment a transfer is committed to a robot.
func (r *Registry) Commit(id model.RobotID, waferID int) {
	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.State = model.RobotBusy
	e.HeldWaferID = waferID
}

// StateOf returns the robot's state as a string, or "unknown" if absent —
// the exact sentinel the external query contract requires.
func (r *Registry) StateOf(id model.RobotID) string {
	e, ok := r.entries[id]
	if !ok {
		return "unknown"
	}
	return string(e.State)
}

// IDs returns every registered robot id, in no particular order.
func (r *Registry) IDs() []model.RobotID {
	out := make([]model.RobotID, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}
