// Package journey drives the fixed eight-step wafer lifecycle on top of the
// dispatcher: it emits transfer requests as stations free up, reacts to
// dispatch completions, and tracks carrier-lot boundaries. It runs on the
// same serial-execution plane as the dispatcher — every exported method here
// is expected to be called from that single goroutine, never concurrently
// with itself.
package journey

import (
	"github.com/pkg/errors"

	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/telemetry"
)

// Stage is one of the eight wafer lifecycle stages, in the exact vocabulary
// of the cell.
type Stage string

const (
	InCarrier Stage = "InCarrier"
	ToPolisher Stage = "ToPolisher"
	Polishing Stage = "Polishing"
	ToCleaner Stage = "ToCleaner"
	Cleaning Stage = "Cleaning"
	ToBuffer Stage = "ToBuffer"
	InBuffer Stage = "InBuffer"
	ToCarrier Stage = "ToCarrier"
)

// ProcessingState tracks what's been done to the physical wafer, independent
// of where it currently sits.
type ProcessingState string

const (
	Raw      ProcessingState = "Raw"
	Polished ProcessingState = "Polished"
	Cleaned  ProcessingState = "Cleaned"
)

const (
	preferredCarrierRobot  = model.RobotID("R1")
	preferredPolisherRobot = model.RobotID("R2")
	preferredCleanerRobot  = model.RobotID("R3")

	returnPriority = 2
)

// Wafer is the orchestrator's view of one wafer's progress through the cell.
type Wafer struct {
	ID             int
	Stage          Stage
	CurrentStation model.StationName
	Processing     ProcessingState
	IsCompleted    bool
}

// TransferRequester is the subset of the dispatcher's contract the
// orchestrator needs: submitting transfer requests, and pushing the
// "immediate occupancy" station writes that keep a dispatch cycle from
// racing a wafer's arrival.
type TransferRequester interface {
	RequestTransfer(model.TransferRequest) error
	UpdateStationState(name model.StationName, state model.StationState, waferID int) error
}

// Orchestrator is the per-cell journey driver. One instance tracks exactly
// one carrier lot at a time, as in the reference design; a new
// OnCarrierArrival replaces the current lot.
type Orchestrator struct {
	dispatcher TransferRequester
	stations   map[model.StationName]model.StationHandle
	metrics    *telemetry.Metrics
	log        *telemetry.Logger

	onCarrierCompleted func(carrierID string)

	wafers map[int]*Wafer

	carrierID   string
	lotWaferIDs []int
	nextIdx     int
	lotFired    bool

	stationState map[model.StationName]model.StationState
	stationWafer map[model.StationName]int
}

// New builds an Orchestrator. stations supplies the handles used to deliver
// LOAD_WAFER/UNLOAD_WAFER/STORE_WAFER/RETRIEVE_WAFER directly; onCarrierCompleted
// is the external observer fired exactly once per completed lot.
func New(dispatcher TransferRequester, stations map[model.StationName]model.StationHandle, onCarrierCompleted func(string), metrics *telemetry.Metrics, log *telemetry.Logger) *Orchestrator {
	return &Orchestrator{
		dispatcher:         dispatcher,
		stations:           stations,
		metrics:            metrics,
		log:                log.WithComponent("journey"),
		onCarrierCompleted: onCarrierCompleted,
		wafers:             map[int]*Wafer{},
		stationState:       map[model.StationName]model.StationState{},
		stationWafer:       map[model.StationName]int{},
	}
}

// OnCarrierArrival records a new lot, resets the next-to-start pointer to
// its first wafer, and replaces any previously tracked lot. The driver will
// only admit wafers belonging to the current lot.
func (o *Orchestrator) OnCarrierArrival(carrierID string, waferIDs []int) {
	o.carrierID = carrierID
	o.lotWaferIDs = append([]int(nil), waferIDs...)
	o.nextIdx = 0
	o.lotFired = false
	o.wafers = map[int]*Wafer{}
	for _, id := range waferIDs {
		o.wafers[id] = &Wafer{
			ID:             id,
			Stage:          InCarrier,
			CurrentStation: model.Carrier,
			Processing:     Raw,
		}
	}
	o.log.WithField("carrier", carrierID).Infof("lot arrived with %d wafers", len(waferIDs))
}

// Reset clears all tracked lot and wafer state.
func (o *Orchestrator) Reset() {
	o.carrierID = ""
	o.lotWaferIDs = nil
	o.nextIdx = 0
	o.lotFired = false
	o.wafers = map[int]*Wafer{}
}

// Wafer returns a copy of the tracked wafer, and whether it exists.
func (o *Orchestrator) Wafer(id int) (Wafer, bool) {
	w, ok := o.wafers[id]
	if !ok {
		return Wafer{}, false
	}
	return *w, true
}

// IsCurrentCarrierComplete reports whether every wafer of the current lot
// has reached IsCompleted.
func (o *Orchestrator) IsCurrentCarrierComplete() bool {
	if len(o.lotWaferIDs) == 0 {
		return false
	}
	for _, id := range o.lotWaferIDs {
		w, ok := o.wafers[id]
		if !ok || !w.IsCompleted {
			return false
		}
	}
	return true
}

// NotifyStationState is the orchestrator's view of a station state change —
// call it alongside (before or after, order doesn't matter to correctness)
// the dispatcher's own UpdateStationState, since both must observe the same
// event stream to stay in sync. It updates the cached view the driver reads
// and then runs the driver.
func (o *Orchestrator) NotifyStationState(name model.StationName, state model.StationState, waferID int) {
	o.stationState[name] = state
	o.stationWafer[name] = waferID
	o.drive()
}

// drive inspects every incomplete wafer of the current lot against the
// cached station states and emits the next transfer request for any wafer
// whose trigger condition now holds. Transit stages are passive: they only
// advance from OnCompleted.
func (o *Orchestrator) drive() {
	for _, id := range o.lotWaferIDs {
		w := o.wafers[id]
		if w == nil || w.IsCompleted {
			continue
		}
		switch w.Stage {
		case InCarrier:
			o.tryAdmit(w)
		case Polishing:
			if o.stationState[model.Polisher] == model.StationDone && o.stationWafer[model.Polisher] == w.ID {
				o.advanceFromPolisher(w)
			}
		case Cleaning:
			if o.stationState[model.Cleaner] == model.StationDone && o.stationWafer[model.Cleaner] == w.ID {
				o.advanceFromCleaner(w)
			}
		case InBuffer:
			if o.stationState[model.Buffer] == model.StationOccupied && o.stationWafer[model.Buffer] == w.ID {
				o.advanceFromBuffer(w)
			}
		}
	}
}

// tryAdmit starts w's trip from the carrier to the polisher once the
// polisher is idle, no other wafer is already on its way to it, and w is the
// next-in-carrier wafer of the lot.
func (o *Orchestrator) tryAdmit(w *Wafer) {
	if o.nextIdx >= len(o.lotWaferIDs) || o.lotWaferIDs[o.nextIdx] != w.ID {
		return
	}
	if o.stationState[model.Polisher] != model.StationIdle {
		return
	}
	for _, other := range o.wafers {
		if other.Stage == ToPolisher {
			return
		}
	}
	if err := o.request(w.ID, model.Carrier, model.Polisher, preferredCarrierRobot, 1); err != nil {
		return
	}
	w.Stage = ToPolisher
	o.nextIdx++
}

func (o *Orchestrator) advanceFromPolisher(w *Wafer) {
	o.sendStation(model.Polisher, model.UnloadWafer, w.ID)
	if err := o.request(w.ID, model.Polisher, model.Cleaner, preferredPolisherRobot, 1); err != nil {
		return
	}
	w.Stage = ToCleaner
	w.Processing = Polished
}

func (o *Orchestrator) advanceFromCleaner(w *Wafer) {
	o.sendStation(model.Cleaner, model.UnloadWafer, w.ID)
	if err := o.request(w.ID, model.Cleaner, model.Buffer, preferredCleanerRobot, 1); err != nil {
		return
	}
	w.Stage = ToBuffer
	w.Processing = Cleaned
}

func (o *Orchestrator) advanceFromBuffer(w *Wafer) {
	o.sendStation(model.Buffer, model.RetrieveWafer, w.ID)
	if err := o.request(w.ID, model.Buffer, model.Carrier, preferredCarrierRobot, returnPriority); err != nil {
		return
	}
	w.Stage = ToCarrier
}

func (o *Orchestrator) request(waferID int, from, to model.StationName, preferred model.RobotID, priority int) error {
	err := o.dispatcher.RequestTransfer(model.TransferRequest{
		WaferID:          waferID,
		From:             from,
		To:               to,
		Priority:         priority,
		PreferredRobotID: preferred,
		OnCompleted:      o.onCompleted,
	})
	if err != nil {
		o.log.WithField("wafer", waferID).Errorf("transfer request %s -> %s rejected: %v", from, to, err)
	}
	return err
}

// onCompleted is the callback handed to every transfer request: it fires
// when the serving robot returns to idle, strictly after that transition
// per the dispatcher's ordering guarantee.
func (o *Orchestrator) onCompleted(waferID int) {
	w, ok := o.wafers[waferID]
	if !ok {
		return
	}
	switch w.Stage {
	case ToPolisher:
		o.arrive(w, model.Polisher, Polishing, model.StationProcessing, model.LoadWafer)
	case ToCleaner:
		o.arrive(w, model.Cleaner, Cleaning, model.StationProcessing, model.LoadWafer)
	case ToBuffer:
		o.arrive(w, model.Buffer, InBuffer, model.StationOccupied, model.StoreWafer)
	case ToCarrier:
		o.arriveCarrier(w)
	}
}

// arrive handles a non-final leg's arrival: immediate occupancy of the
// destination station (so the next dispatch cycle never sees it still
// idle), then the corresponding load/store event. If the destination
// already holds a different wafer, the load is refused and logged, and the
// wafer is left exactly where it was.
func (o *Orchestrator) arrive(w *Wafer, dest model.StationName, stage Stage, busyState model.StationState, event model.StationEvent) {
	if held := o.stationWafer[dest]; held != 0 && held != w.ID {
		err := errors.Wrapf(model.ErrStationBusy, "station %s holds wafer %d, refusing wafer %d", dest, held, w.ID)
		o.log.WithField("station", dest).Errorf("%v", err)
		return
	}
	w.CurrentStation = dest
	w.Stage = stage
	if err := o.dispatcher.UpdateStationState(dest, busyState, w.ID); err != nil {
		o.log.WithField("station", dest).Errorf("immediate occupancy update failed: %v", err)
	}
	o.stationState[dest] = busyState
	o.stationWafer[dest] = w.ID
	o.sendStation(dest, event, w.ID)
}

func (o *Orchestrator) arriveCarrier(w *Wafer) {
	w.IsCompleted = true
	w.Stage = InCarrier
	w.CurrentStation = model.Carrier

	if err := o.dispatcher.UpdateStationState(model.Buffer, model.StationIdle, 0); err != nil {
		o.log.WithField("station", model.Buffer).Errorf("clearing after final leg failed: %v", err)
	}
	o.stationState[model.Buffer] = model.StationIdle
	o.stationWafer[model.Buffer] = 0

	if o.lotFired || !o.IsCurrentCarrierComplete() {
		return
	}
	o.lotFired = true
	o.metrics.CarrierCompletions.Inc()
	o.log.WithField("carrier", o.carrierID).Infof("lot complete")
	if o.onCarrierCompleted != nil {
		o.onCarrierCompleted(o.carrierID)
	}
}

func (o *Orchestrator) sendStation(name model.StationName, event model.StationEvent, waferID int) {
	h, ok := o.stations[name]
	if !ok || h == nil {
		return
	}
	h.Send(model.StationMessage{Event: event, WaferID: waferID})
}
