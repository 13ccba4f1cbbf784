package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightforge/wafercell/internal/dispatch"
	"github.com/brightforge/wafercell/internal/journey"
	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/telemetry"
)

func newTestServer(t *testing.T) (*Server, *dispatch.Dispatcher) {
	t.Helper()
	log := telemetry.New("error")
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	d := dispatch.New(dispatch.NewImmediatePolicy(), 10, metrics, log)
	t.Cleanup(d.Stop)
	s := New(d, nil, prometheus.NewRegistry(), log)
	return s, d
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func TestRegisterRobotOverHTTP(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(s, http.MethodPost, "/robots", registerRobotRequest{ID: "R1"})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Contains(t, resp["message"], "R1")
}

func TestRegisterRobotDuplicateRejectsMismatchedHandle(t *testing.T) {
	// Each HTTP registration builds a fresh handle, so re-POSTing the same
	// robot ID hits the registry's handle-mismatch path rather than the
	// idempotent same-handle path a direct Dispatcher.RegisterRobot call
	// with a reused handle would take.
	s, _ := newTestServer(t)
	doRequest(s, http.MethodPost, "/robots", registerRobotRequest{ID: "R1"})
	rr := doRequest(s, http.MethodPost, "/robots", registerRobotRequest{ID: "R1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateAndGetRobotStateOverHTTP(t *testing.T) {
	s, _ := newTestServer(t)
	doRequest(s, http.MethodPost, "/robots", registerRobotRequest{ID: "R1"})

	rr := doRequest(s, http.MethodPost, "/robots/R1/state", updateRobotStateRequest{State: model.RobotIdle})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(s, http.MethodGet, "/robots/R1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "R1", resp["id"])
	assert.Equal(t, string(model.RobotIdle), resp["state"])
}

func TestUpdateUnknownRobotStateIsIgnored(t *testing.T) {
	// The dispatcher silently ignores state updates for unregistered robots
	// (MissingEntity), so the request succeeds without registering anything.
	s, _ := newTestServer(t)
	rr := doRequest(s, http.MethodPost, "/robots/RX/state", updateRobotStateRequest{State: model.RobotIdle})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRegisterStationOverHTTP(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(s, http.MethodPost, "/stations", registerStationRequest{
		Name: model.Polisher, InitialState: model.StationIdle,
	})
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestUpdateStationStateOverHTTP(t *testing.T) {
	s, _ := newTestServer(t)
	doRequest(s, http.MethodPost, "/stations", registerStationRequest{
		Name: model.Polisher, InitialState: model.StationIdle,
	})

	rr := doRequest(s, http.MethodPost, "/stations/Polisher/state", updateStationStateRequest{
		State: model.StationDone, WaferID: 5,
	})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequestTransferOverHTTPDispatches(t *testing.T) {
	s, d := newTestServer(t)
	doRequest(s, http.MethodPost, "/robots", registerRobotRequest{ID: "R1"})
	doRequest(s, http.MethodPost, "/stations", registerStationRequest{Name: model.Carrier, InitialState: model.StationIdle})
	doRequest(s, http.MethodPost, "/stations", registerStationRequest{Name: model.Polisher, InitialState: model.StationIdle})

	rr := doRequest(s, http.MethodPost, "/transfers", transferRequest{
		WaferID: 1, From: model.Carrier, To: model.Polisher, PreferredRobotID: "R1",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Eventually(t, func() bool { return d.QueueSize() == 0 }, time.Second, time.Millisecond,
		"the single queued request should dispatch shortly after being accepted")
}

func TestRequestTransferRejectsInvalidRouteOverHTTP(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(s, http.MethodPost, "/transfers", transferRequest{
		WaferID: 1, From: model.Cleaner, To: model.Polisher,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestQueueSizeOverHTTP(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(s, http.MethodGet, "/queue", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp["queueSize"])
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	log := telemetry.New("error")
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	d := dispatch.New(dispatch.NewImmediatePolicy(), 10, metrics, log)
	t.Cleanup(d.Stop)
	reg := prometheus.NewRegistry()
	s := New(d, nil, reg, log)

	rr := doRequest(s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCarrierArrivalOverHTTP(t *testing.T) {
	log := telemetry.New("error")
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	d := dispatch.New(dispatch.NewImmediatePolicy(), 10, metrics, log)
	t.Cleanup(d.Stop)
	j := journey.New(d, nil, nil, metrics, log)
	s := New(d, j, prometheus.NewRegistry(), log)

	rr := doRequest(s, http.MethodPost, "/carriers", carrierArrivalRequest{
		CarrierID: "LOT1", WaferIDs: []int{1, 2, 3},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	w, ok := j.Wafer(2)
	require.True(t, ok)
	assert.Equal(t, journey.InCarrier, w.Stage)
}

func TestCarrierArrivalWithNoOrchestratorReturnsServiceUnavailable(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(s, http.MethodPost, "/carriers", carrierArrivalRequest{CarrierID: "LOT1", WaferIDs: []int{1}})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMalformedBodyReturnsBadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/robots", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
