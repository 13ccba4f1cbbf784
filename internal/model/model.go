// Package model holds the data types shared across the cell: stations,
// robots, wafers, and the messages that cross between them. It has no
// dependencies on the dispatcher or orchestrator, so either side can be
// tested against it in isolation.
package model

import "github.com/pkg/errors"

// StationName identifies one of the four fixed process stations.
type StationName string

// The closed set of station names in the cell.
const (
	Carrier  StationName = "Carrier"
	Polisher StationName = "Polisher"
	Cleaner  StationName = "Cleaner"
	Buffer   StationName = "Buffer"
)

// StationState is the exact, persisted/compared-by-value station state token.
type StationState string

const (
	StationIdle       StationState = "idle"
	StationProcessing StationState = "processing"
	StationDone       StationState = "done"
	StationOccupied   StationState = "occupied"
)

// RobotID uniquely identifies a robot within the cell.
type RobotID string

// RobotState is the exact, persisted/compared-by-value robot state token.
type RobotState string

const (
	RobotIdle     RobotState = "idle"
	RobotBusy     RobotState = "busy"
	RobotCarrying RobotState = "carrying"
)

// StationEvent names an outbound message sent to a station handle.
type StationEvent string

const (
	LoadWafer     StationEvent = "LOAD_WAFER"
	StoreWafer    StationEvent = "STORE_WAFER"
	UnloadWafer   StationEvent = "UNLOAD_WAFER"
	RetrieveWafer StationEvent = "RETRIEVE_WAFER"
)

// PickupMessage is delivered to a robot handle on dispatch.
type PickupMessage struct {
	WaferID int
	From    StationName
	To      StationName
}

// StationMessage is delivered to a station handle on wafer arrival/departure.
type StationMessage struct {
	Event   StationEvent
	WaferID int
}

// RobotHandle is the opaque recipient of PICKUP commands. Implementations are
// the physical robot state machines; this package never looks inside one.
type RobotHandle interface {
	Pickup(PickupMessage)
}

// StationHandle is the opaque recipient of station load/unload/store/retrieve
// commands.
type StationHandle interface {
	Send(StationMessage)
}

// TransferRequest is created by the journey orchestrator and consumed at
// most once by the dispatcher.
type TransferRequest struct {
	WaferID          int
	From             StationName
	To               StationName
	Priority         int // default 1, 2 for return-to-carrier; the queue is FIFO and does not reorder by it
	PreferredRobotID RobotID
	OnCompleted      func(waferID int)
}

// Sentinel error kinds, per the error-handling design. Callers discriminate
// with errors.Is rather than string matching.
var (
	ErrInvalidRoute  = errors.New("invalid route")
	ErrInvalidState  = errors.New("invalid state")
	ErrMissingEntity = errors.New("missing entity")
	ErrStationBusy   = errors.New("station busy")
	ErrQueryTimeout  = errors.New("query timeout")
)
