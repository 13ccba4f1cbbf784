package dispatch

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/brightforge/wafercell/internal/completion"
	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/queue"
	"github.com/brightforge/wafercell/internal/robot"
	"github.com/brightforge/wafercell/internal/route"
	"github.com/brightforge/wafercell/internal/station"
	"github.com/brightforge/wafercell/internal/telemetry"
)

// QueryTimeout bounds every cross-plane read (QueueSize, RobotState): the
// serial processor answers in order with everything else it's doing, so a
// caller that can't wait gets the documented sentinel instead of blocking
// forever.
const QueryTimeout = 100 * time.Millisecond

// Dispatcher is the cell's single serial decision processor. All mutable
// state — the queue, the robot and station registries, the completion
// tracker, and whatever a Policy keeps privately — is touched only from the
// loop goroutine started by New. Every public method is a channel round trip
// into that goroutine; there is no other way to reach the state.
type Dispatcher struct {
	robots   *robot.Registry
	stations *station.Registry
	queue    *queue.Queue
	tracker  *completion.Tracker
	policy   Policy
	metrics  *telemetry.Metrics
	log      *telemetry.Logger

	commitAt map[model.RobotID]time.Time

	registerRobotCh   chan registerRobotMsg
	updateRobotCh     chan updateRobotMsg
	registerStationCh chan registerStationMsg
	updateStationCh   chan updateStationMsg
	transferCh        chan transferMsg
	queueSizeCh       chan chan int
	robotStateCh      chan robotStateQuery

	kickCh chan struct{}
	tickCh chan struct{}

	stopTicker chan struct{}
	quit       chan chan struct{}
}

// New builds a Dispatcher around policy and starts its serial loop. bound is
// the queue's head-of-line bypass bound (<=0 for the default).
func New(policy Policy, bound int, metrics *telemetry.Metrics, log *telemetry.Logger) *Dispatcher {
	l := log.WithComponent("dispatcher")
	d := &Dispatcher{
		robots:   robot.New(log),
		stations: station.New(log),
		queue:    queue.New(bound),
		tracker:  completion.New(log),
		policy:   policy,
		metrics:  metrics,
		log:      l,

		commitAt: map[model.RobotID]time.Time{},

		registerRobotCh:   make(chan registerRobotMsg),
		updateRobotCh:     make(chan updateRobotMsg),
		registerStationCh: make(chan registerStationMsg),
		updateStationCh:   make(chan updateStationMsg),
		transferCh:        make(chan transferMsg),
		queueSizeCh:       make(chan chan int),
		robotStateCh:      make(chan robotStateQuery),

		kickCh: make(chan struct{}, 1),
		tickCh: make(chan struct{}, 1),

		stopTicker: make(chan struct{}),
		quit:       make(chan chan struct{}),
	}

	go d.loop()
	if t, ok := policy.(Ticker); ok {
		go d.driveTicker(t)
	}
	l.Infof("dispatcher started with policy %s", policy.Name())
	return d
}

// Stop halts the serial loop and any ticker goroutine, and waits for the
// loop to actually exit.
func (d *Dispatcher) Stop() {
	close(d.stopTicker)
	done := make(chan struct{})
	d.quit <- done
	<-done
}

// driveTicker feeds a lightweight signal into the serial plane on every
// policy tick interval. It never touches policy state itself — only Tick,
// called from loop(), does that.
func (d *Dispatcher) driveTicker(t Ticker) {
	ticker := time.NewTicker(t.TickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case d.tickCh <- struct{}{}:
			default:
			}
		case <-d.stopTicker:
			return
		}
	}
}

func (d *Dispatcher) loop() {
	for {
		select {
		case m := <-d.registerRobotCh:
			err := d.robots.Register(m.id, m.handle)
			m.resp <- err
			if err == nil {
				d.kick()
			}

		case m := <-d.updateRobotCh:
			d.handleUpdateRobot(m)

		case m := <-d.registerStationCh:
			d.stations.Register(m.name, m.handle, m.initial, m.wafer)
			m.resp <- nil
			d.kick()

		case m := <-d.updateStationCh:
			d.handleUpdateStation(m)

		case m := <-d.transferCh:
			d.handleTransfer(m)

		case resp := <-d.queueSizeCh:
			resp <- d.queue.Len()

		case q := <-d.robotStateCh:
			q.resp <- d.robots.StateOf(q.id)

		case <-d.kickCh:
			d.runCycle()

		case <-d.tickCh:
			if t, ok := d.policy.(Ticker); ok {
				t.Tick()
			}
			d.exportPheromoneStrength()
			d.kick()

		case done := <-d.quit:
			close(done)
			return
		}
	}
}

// pheromoneSnapshotter is implemented by Policy variants that track
// per-(route, robot) pheromone strength. Only PheromonePolicy satisfies it
// today.
type pheromoneSnapshotter interface {
	Snapshot() []PheromoneReading
}

// exportPheromoneStrength publishes the pheromone policy's current strength
// readings to the PheromoneStrength gauge. A no-op for every other policy.
func (d *Dispatcher) exportPheromoneStrength() {
	p, ok := d.policy.(pheromoneSnapshotter)
	if !ok {
		return
	}
	for _, r := range p.Snapshot() {
		d.metrics.PheromoneStrength.WithLabelValues(r.Route.String(), string(r.Robot)).Set(r.Strength)
	}
}

func (d *Dispatcher) handleUpdateRobot(m updateRobotMsg) {
	result, ok := d.robots.UpdateState(m.id, m.state, m.heldWaferID, m.waitingFor)
	if !ok {
		d.log.WithField("robot", m.id).Debugf("%v: state update for unregistered robot ignored", model.ErrMissingEntity)
		m.resp <- nil
		return
	}
	if result.RepairedInvalid {
		d.log.WithField("robot", m.id).Warnf("%v: held wafer cleared on idle report", model.ErrInvalidState)
		d.metrics.TransfersRejected.WithLabelValues("invalid_state").Inc()
	}
	if result.TransitionedToIdle {
		d.settleCompletion(m.id)
		d.kick()
	}
	m.resp <- nil
}

// settleCompletion runs when robot id has just transitioned to idle: it
// deposits pheromone (or whatever the policy does with a completion) against
// the route the robot was just serving, then drains the completion record so
// the orchestrator's OnCompleted callback fires exactly once.
func (d *Dispatcher) settleCompletion(id model.RobotID) {
	var elapsed float64
	if start, ok := d.commitAt[id]; ok {
		elapsed = time.Since(start).Seconds()
		delete(d.commitAt, id)
	}
	if r, active := d.tracker.RouteOf(id); active {
		d.policy.OnDeposit(r, id, elapsed)
	}
	if _, fired := d.tracker.Drain(id); fired {
		d.metrics.Completions.Inc()
	}
}

func (d *Dispatcher) handleUpdateStation(m updateStationMsg) {
	ok := d.stations.UpdateState(m.name, m.state, m.waferID)
	if !ok {
		d.log.WithField("station", m.name).Debugf("%v: state update for unregistered station ignored", model.ErrMissingEntity)
		m.resp <- nil
		return
	}
	m.resp <- nil
	if m.state == model.StationDone || m.state == model.StationOccupied {
		d.kick()
	}
}

func (d *Dispatcher) handleTransfer(m transferMsg) {
	if !route.Valid(m.req.From, m.req.To) {
		d.metrics.TransfersRejected.WithLabelValues("invalid_route").Inc()
		d.log.WithField("wafer", m.req.WaferID).Errorf("rejecting %s -> %s: invalid route", m.req.From, m.req.To)
		m.resp <- errors.Wrapf(model.ErrInvalidRoute, "%s -> %s", m.req.From, m.req.To)
		return
	}
	d.queue.Enqueue(m.req)
	d.metrics.QueueSize.Set(float64(d.queue.Len()))
	m.resp <- nil
	d.kick()
}

// kick schedules a dispatch cycle without blocking the caller. Any number of
// kicks that arrive before the loop gets around to running one collapse into
// a single re-run, since kickCh has capacity 1.
func (d *Dispatcher) kick() {
	select {
	case d.kickCh <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) runCycle() {
	d.metrics.DispatchCycles.Inc()
	cycleID := uuid.NewString()
	if d.policy.BatchMode() {
		if !d.robots.AllIdle() {
			return
		}
		claimed := map[model.RobotID]bool{}
		for d.dispatchOnce(claimed, cycleID) {
		}
	} else {
		d.dispatchOnce(nil, cycleID)
	}
	d.metrics.QueueSize.Set(float64(d.queue.Len()))
}

// dispatchOnce runs a single bounded scan of the queue and commits at most
// one request to one robot. claimed, when non-nil, excludes robots already
// committed earlier in the same batch cycle. cycleID correlates every log
// line this dispatch produces back to the cycle that produced it.
func (d *Dispatcher) dispatchOnce(claimed map[model.RobotID]bool, cycleID string) bool {
	var chosenRoute route.ID

	req, chosenRobot, ok := d.queue.Dispatch(func(r model.TransferRequest) queue.Decision {
		rid := route.Of(r.From, r.To)
		if rid == route.Invalid {
			d.metrics.TransfersRejected.WithLabelValues("invalid_route").Inc()
			d.log.WithField("cycle", cycleID).WithField("wafer", r.WaferID).Errorf("dropping queued request: invalid route %s -> %s", r.From, r.To)
			return queue.Decision{Action: queue.Drop}
		}
		if !d.stations.SourceReady(r.From) || !d.stations.DestinationReady(r.To) {
			return queue.Decision{Action: queue.Keep}
		}
		robotID, picked := d.chooseRobot(rid, r, claimed)
		if !picked {
			return queue.Decision{Action: queue.Keep}
		}
		chosenRoute = rid
		return queue.Decision{Action: queue.Take, Robot: robotID}
	})
	if !ok {
		return false
	}

	d.commit(req, chosenRobot, chosenRoute, cycleID)
	if claimed != nil {
		claimed[chosenRobot] = true
	}
	return true
}

// chooseRobot resolves which robot should serve req on route rid. A
// preferred robot must itself be eligible, idle, and not already claimed
// this cycle, or the request is deferred rather than reassigned. Otherwise
// the policy picks among every idle, eligible, unclaimed candidate.
func (d *Dispatcher) chooseRobot(rid route.ID, req model.TransferRequest, claimed map[model.RobotID]bool) (model.RobotID, bool) {
	elig := route.Eligible(rid)

	if req.PreferredRobotID != "" {
		if !containsRobot(elig, req.PreferredRobotID) {
			return "", false
		}
		if claimed != nil && claimed[req.PreferredRobotID] {
			return "", false
		}
		if !d.robots.IsIdle(req.PreferredRobotID) {
			return "", false
		}
		return req.PreferredRobotID, true
	}

	idle := d.robots.IdleEligible(elig)
	candidates := make([]model.RobotID, 0, len(idle))
	for _, r := range idle {
		if claimed != nil && claimed[r] {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	return d.policy.SelectRobot(rid, candidates, req)
}

// commit records req as dispatched to robot on route rid: marks the robot
// busy, starts the completion record and the elapsed-time clock, and fires
// Pickup on the robot's handle.
func (d *Dispatcher) commit(req model.TransferRequest, robotID model.RobotID, rid route.ID, cycleID string) {
	d.robots.Commit(robotID, req.WaferID)
	d.tracker.Record(robotID, req, rid)
	d.commitAt[robotID] = time.Now()

	if e, ok := d.robots.Get(robotID); ok && e.Handle != nil {
		e.Handle.Pickup(model.PickupMessage{
			WaferID: req.WaferID,
			From:    req.From,
			To:      req.To,
		})
	}

	d.metrics.TransfersDispatched.Inc()
	d.log.WithField("cycle", cycleID).WithField("wafer", req.WaferID).WithField("robot", robotID).Infof("dispatched %s -> %s", req.From, req.To)
}

func containsRobot(list []model.RobotID, id model.RobotID) bool {
	for _, r := range list {
		if r == id {
			return true
		}
	}
	return false
}

// RegisterRobot adds robot id to the fleet, or verifies an identical
// re-registration. Blocks until the serial plane processes it.
func (d *Dispatcher) RegisterRobot(id model.RobotID, handle model.RobotHandle) error {
	resp := make(chan error, 1)
	d.registerRobotCh <- registerRobotMsg{id: id, handle: handle, resp: resp}
	return <-resp
}

// UpdateRobotState reports robot id's current state, held wafer (0 for
// none), and wait reason. Unregistered robots are silently ignored
// (MissingEntity).
func (d *Dispatcher) UpdateRobotState(id model.RobotID, state model.RobotState, heldWaferID int, waitingFor string) error {
	resp := make(chan error, 1)
	d.updateRobotCh <- updateRobotMsg{id: id, state: state, heldWaferID: heldWaferID, waitingFor: waitingFor, resp: resp}
	return <-resp
}

// RegisterStation adds station name to the cell with its initial state and
// held wafer (0 for none).
func (d *Dispatcher) RegisterStation(name model.StationName, handle model.StationHandle, initial model.StationState, wafer int) error {
	resp := make(chan error, 1)
	d.registerStationCh <- registerStationMsg{name: name, handle: handle, initial: initial, wafer: wafer, resp: resp}
	return <-resp
}

// UpdateStationState reports station name's current state and held wafer.
func (d *Dispatcher) UpdateStationState(name model.StationName, state model.StationState, waferID int) error {
	resp := make(chan error, 1)
	d.updateStationCh <- updateStationMsg{name: name, state: state, waferID: waferID, resp: resp}
	return <-resp
}

// RequestTransfer enqueues req. Returns ErrInvalidRoute immediately,
// without ever touching the queue, if (req.From, req.To) isn't legal.
func (d *Dispatcher) RequestTransfer(req model.TransferRequest) error {
	resp := make(chan error, 1)
	d.transferCh <- transferMsg{req: req, resp: resp}
	return <-resp
}

// QueueSize returns the number of currently queued requests, or 0 if the
// serial plane doesn't answer within QueryTimeout.
func (d *Dispatcher) QueueSize() int {
	resp := make(chan int, 1)
	select {
	case d.queueSizeCh <- resp:
	case <-time.After(QueryTimeout):
		d.log.Debugf("%v: QueueSize query dropped", model.ErrQueryTimeout)
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-time.After(QueryTimeout):
		d.log.Debugf("%v: QueueSize response dropped", model.ErrQueryTimeout)
		return 0
	}
}

// RobotState returns id's current state token, or "unknown" if id isn't
// registered or the serial plane doesn't answer within QueryTimeout.
func (d *Dispatcher) RobotState(id model.RobotID) string {
	resp := make(chan string, 1)
	q := robotStateQuery{id: id, resp: resp}
	select {
	case d.robotStateCh <- q:
	case <-time.After(QueryTimeout):
		d.log.WithField("robot", id).Debugf("%v: RobotState query dropped", model.ErrQueryTimeout)
		return "unknown"
	}
	select {
	case s := <-resp:
		return s
	case <-time.After(QueryTimeout):
		d.log.WithField("robot", id).Debugf("%v: RobotState response dropped", model.ErrQueryTimeout)
		return "unknown"
	}
}
