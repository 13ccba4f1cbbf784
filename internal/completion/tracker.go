// Package completion implements the dispatcher's active-transfer bookkeeping:
// which robot is serving which request, drained and fired exactly once when
// the robot returns to idle.
package completion

import (
	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/route"
	"github.com/brightforge/wafercell/internal/telemetry"
)

// active is the record of one in-flight transfer.
type active struct {
	waferID     int
	route       route.ID
	onCompleted func(int)
}

// Tracker maps a busy robot to the request it's currently serving.
type Tracker struct {
	byRobot map[model.RobotID]active
	log     *telemetry.Logger
}

// New builds an empty Tracker.
func New(log *telemetry.Logger) *Tracker {
	return &Tracker{
		byRobot: map[model.RobotID]active{},
		log:     log.WithComponent("completion-tracker"),
	}
}

// Record registers robot as now serving req on route r, called at dispatch
// commit time.
func (t *Tracker) Record(robot model.RobotID, req model.TransferRequest, r route.ID) {
	t.byRobot[robot] = active{waferID: req.WaferID, route: r, onCompleted: req.OnCompleted}
}

// RouteOf returns the route of robot's active transfer, without draining it.
// Used by adaptive dispatch policies that need to know which (route, robot)
// pair just completed, before the record is removed.
func (t *Tracker) RouteOf(robot model.RobotID) (route.ID, bool) {
	a, ok := t.byRobot[robot]
	if !ok {
		return route.Invalid, false
	}
	return a.route, true
}

// Drain fires the completion callback for robot's active transfer, if any,
// and removes the record. If robot has no active transfer, the idle report
// is treated as spurious and nothing fires. A panic inside the callback is
// recovered and logged without corrupting the tracker. Reports the wafer id
// and whether an active record was drained (true even when the record had
// no callback or its callback panicked).
func (t *Tracker) Drain(robot model.RobotID) (waferID int, fired bool) {
	a, ok := t.byRobot[robot]
	if !ok {
		t.log.WithField("robot", robot).Debugf("idle report with no active transfer; spurious")
		return 0, false
	}
	delete(t.byRobot, robot)
	t.invoke(robot, a)
	return a.waferID, true
}

func (t *Tracker) invoke(robot model.RobotID, a active) {
	defer func() {
		if r := recover(); r != nil {
			t.log.WithField("robot", robot).WithField("wafer", a.waferID).Errorf("OnCompleted panicked: %v", r)
		}
	}()
	if a.onCompleted != nil {
		a.onCompleted(a.waferID)
	}
}

// Active reports whether robot currently has an active transfer recorded.
func (t *Tracker) Active(robot model.RobotID) bool {
	_, ok := t.byRobot[robot]
	return ok
}
