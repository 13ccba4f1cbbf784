// Package api exposes the cell's control plane over HTTP: carrier arrival,
// robot/station registration and state reporting, manual transfer
// submission, and read-only queue/robot/metrics queries. Routing uses
// httprouter, with streadway/handy/report for per-request access logging.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streadway/handy/report"

	"github.com/brightforge/wafercell/internal/dispatch"
	"github.com/brightforge/wafercell/internal/journey"
	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/telemetry"
)

// Server is the cell's HTTP control plane.
type Server struct {
	router *httprouter.Router
	d      *dispatch.Dispatcher
	j      *journey.Orchestrator
	log    *telemetry.Logger
}

// New builds a Server wired to dispatcher d, orchestrator j, and reg for
// metrics export. j may be nil if no journey orchestrator is running.
func New(d *dispatch.Dispatcher, j *journey.Orchestrator, reg *prometheus.Registry, log *telemetry.Logger) *Server {
	s := &Server{router: httprouter.New(), d: d, j: j, log: log.WithComponent("api")}

	noParams := func(h http.HandlerFunc) httprouter.Handle {
		wrapped := report.JSON(s.accessLog(), h)
		return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
			wrapped.ServeHTTP(w, r)
		}
	}
	withParams := func(h func(http.ResponseWriter, *http.Request, httprouter.Params)) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			report.JSON(s.accessLog(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				h(w, r, ps)
			})).ServeHTTP(w, r)
		}
	}

	s.router.POST("/robots", noParams(s.handleRegisterRobot))
	s.router.POST("/robots/:id/state", withParams(s.handleUpdateRobotState))
	s.router.GET("/robots/:id", withParams(s.handleGetRobotState))
	s.router.POST("/stations", noParams(s.handleRegisterStation))
	s.router.POST("/stations/:name/state", withParams(s.handleUpdateStationState))
	s.router.POST("/transfers", noParams(s.handleRequestTransfer))
	s.router.POST("/carriers", noParams(s.handleCarrierArrival))
	s.router.GET("/queue", noParams(s.handleQueueSize))
	s.router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP lets Server satisfy http.Handler directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type reportWriter struct{ log *telemetry.Logger }

func (w reportWriter) Write(p []byte) (int, error) {
	w.log.Infof("%s", p)
	return len(p), nil
}

func (s *Server) accessLog() reportWriter { return reportWriter{s.log} }

type registerRobotRequest struct {
	ID model.RobotID `json:"id"`
}

func (s *Server) handleRegisterRobot(w http.ResponseWriter, r *http.Request) {
	var req registerRobotRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	handle := NewLoggingRobotHandle(req.ID, s.log)
	if err := s.d.RegisterRobot(req.ID, handle); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeOK(w, fmt.Sprintf("robot %s registered", req.ID))
}

type updateRobotStateRequest struct {
	State       model.RobotState `json:"state"`
	HeldWaferID int              `json:"heldWaferId"`
	WaitingFor  string           `json:"waitingFor"`
}

func (s *Server) handleUpdateRobotState(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := model.RobotID(ps.ByName("id"))
	var req updateRobotStateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.d.UpdateRobotState(id, req.State, req.HeldWaferID, req.WaitingFor); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeOK(w, "state updated")
}

func (s *Server) handleGetRobotState(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := model.RobotID(ps.ByName("id"))
	writeJSON(w, http.StatusOK, map[string]string{"id": string(id), "state": s.d.RobotState(id)})
}

type registerStationRequest struct {
	Name         model.StationName  `json:"name"`
	InitialState model.StationState `json:"initialState"`
	Wafer        int                `json:"wafer"`
}

func (s *Server) handleRegisterStation(w http.ResponseWriter, r *http.Request) {
	var req registerStationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	handle := NewLoggingStationHandle(req.Name, s.log)
	if err := s.d.RegisterStation(req.Name, handle, req.InitialState, req.Wafer); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeOK(w, fmt.Sprintf("station %s registered", req.Name))
}

type updateStationStateRequest struct {
	State   model.StationState `json:"state"`
	WaferID int                `json:"waferId"`
}

func (s *Server) handleUpdateStationState(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := model.StationName(ps.ByName("name"))
	var req updateStationStateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.d.UpdateStationState(name, req.State, req.WaferID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.j != nil {
		s.j.NotifyStationState(name, req.State, req.WaferID)
	}
	writeOK(w, "state updated")
}

type transferRequest struct {
	WaferID          int              `json:"waferId"`
	From             model.StationName `json:"from"`
	To               model.StationName `json:"to"`
	Priority         int              `json:"priority"`
	PreferredRobotID model.RobotID    `json:"preferredRobotId"`
}

func (s *Server) handleRequestTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Priority == 0 {
		req.Priority = 1
	}
	err := s.d.RequestTransfer(model.TransferRequest{
		WaferID:          req.WaferID,
		From:             req.From,
		To:               req.To,
		Priority:         req.Priority,
		PreferredRobotID: req.PreferredRobotID,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeOK(w, "transfer queued")
}

type carrierArrivalRequest struct {
	CarrierID string `json:"carrierId"`
	WaferIDs  []int  `json:"waferIds"`
}

func (s *Server) handleCarrierArrival(w http.ResponseWriter, r *http.Request) {
	if s.j == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("no journey orchestrator running in this cell"))
		return
	}
	var req carrierArrivalRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.j.OnCarrierArrival(req.CarrierID, req.WaferIDs)
	writeOK(w, fmt.Sprintf("carrier %s admitted with %d wafers", req.CarrierID, len(req.WaferIDs)))
}

func (s *Server) handleQueueSize(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"queueSize": s.d.QueueSize()})
}

func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{
		"statusText": http.StatusText(code),
		"error":      err.Error(),
	})
}
