// Package dispatch is the decision engine: the dispatcher accepts transfer
// requests, tracks robot/station state, and decides when and to which robot
// each request may go. A channel-driven serial processor is built around a
// pluggable Policy, so every dispatch policy variant (event-driven, poll,
// broadcast, pheromone, batch) shares one contract.
package dispatch

import (
	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/route"
)

// Policy picks a robot among the currently idle, route-eligible candidates,
// and optionally reacts to a completed transfer and to periodic ticks. It is
// the one piece of the dispatcher that varies between variants; everything
// else (queue, registries, completion tracker, invariants) is shared.
type Policy interface {
	// Name identifies the policy for logging and configuration.
	Name() string

	// SelectRobot chooses one robot from candidates (all idle, all eligible
	// for route, already filtered for any per-cycle claims) for req. Returns
	// ok=false if none should be chosen this cycle (e.g. to defer for a
	// future tick).
	SelectRobot(route route.ID, candidates []model.RobotID, req model.TransferRequest) (robot model.RobotID, ok bool)

	// OnDeposit is called after a robot returns to idle having served route,
	// with the wall-clock seconds the transfer took. No-op for policies that
	// don't adapt.
	OnDeposit(route route.ID, robot model.RobotID, completionSeconds float64)

	// BatchMode reports whether this policy wants the synchronized-batch
	// cycle shape (fire only when all robots are idle; dispatch at most one
	// request per robot in the same cycle) instead of the default
	// single-dispatch-per-kick shape.
	BatchMode() bool
}

// basePolicy gives concrete policies a no-op OnDeposit/BatchMode so each one
// only needs to implement what it actually customizes.
type basePolicy struct{}

func (basePolicy) OnDeposit(route.ID, model.RobotID, float64) {}
func (basePolicy) BatchMode() bool                            { return false }
