package api

import (
	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/telemetry"
)

// LoggingRobotHandle stands in for the physical robot state machine, an
// opaque external collaborator this cell doesn't model: it just logs every
// PICKUP it's handed. Real deployments wire a handle that actually drives
// hardware or a simulator instead.
type LoggingRobotHandle struct {
	ID  model.RobotID
	log *telemetry.Logger
}

// NewLoggingRobotHandle builds a handle that logs PICKUP deliveries for id.
func NewLoggingRobotHandle(id model.RobotID, log *telemetry.Logger) *LoggingRobotHandle {
	return &LoggingRobotHandle{ID: id, log: log.WithComponent("robot-handle")}
}

func (h *LoggingRobotHandle) Pickup(m model.PickupMessage) {
	h.log.WithField("robot", h.ID).Infof("PICKUP wafer=%d %s -> %s", m.WaferID, m.From, m.To)
}

// LoggingStationHandle stands in for the process-station simulation model,
// an opaque external collaborator this cell doesn't model: it just logs
// every load/unload/store/retrieve event it's handed.
type LoggingStationHandle struct {
	Name model.StationName
	log  *telemetry.Logger
}

// NewLoggingStationHandle builds a handle that logs events for name.
func NewLoggingStationHandle(name model.StationName, log *telemetry.Logger) *LoggingStationHandle {
	return &LoggingStationHandle{Name: name, log: log.WithComponent("station-handle")}
}

func (h *LoggingStationHandle) Send(m model.StationMessage) {
	h.log.WithField("station", h.Name).Infof("%s wafer=%d", m.Event, m.WaferID)
}
