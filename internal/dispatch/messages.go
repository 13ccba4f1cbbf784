package dispatch

import "github.com/brightforge/wafercell/internal/model"

type registerRobotMsg struct {
	id     model.RobotID
	handle model.RobotHandle
	resp   chan error
}

type updateRobotMsg struct {
	id          model.RobotID
	state       model.RobotState
	heldWaferID int
	waitingFor  string
	resp        chan error
}

type registerStationMsg struct {
	name    model.StationName
	handle  model.StationHandle
	initial model.StationState
	wafer   int
	resp    chan error
}

type updateStationMsg struct {
	name    model.StationName
	state   model.StationState
	waferID int
	resp    chan error
}

type transferMsg struct {
	req  model.TransferRequest
	resp chan error
}

type robotStateQuery struct {
	id   model.RobotID
	resp chan string
}
