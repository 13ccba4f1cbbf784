package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/route"
	"github.com/brightforge/wafercell/internal/telemetry"
)

type recordingRobot struct {
	mu      sync.Mutex
	pickups []model.PickupMessage
}

func (r *recordingRobot) Pickup(m model.PickupMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pickups = append(r.pickups, m)
}

func (r *recordingRobot) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pickups)
}

func (r *recordingRobot) last() model.PickupMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pickups[len(r.pickups)-1]
}

type noopStation struct{}

func (noopStation) Send(model.StationMessage) {}

func newTestDispatcher(t *testing.T, policy Policy) *Dispatcher {
	t.Helper()
	log := telemetry.New("error")
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	d := New(policy, 10, metrics, log)
	t.Cleanup(d.Stop)
	return d
}

func setupStations(t *testing.T, d *Dispatcher, states map[model.StationName]model.StationState) {
	t.Helper()
	for name, state := range states {
		require.NoError(t, d.RegisterStation(name, noopStation{}, state, 0))
	}
}

func TestSingleWaferRoundTrip(t *testing.T) {
	d := newTestDispatcher(t, NewImmediatePolicy())
	setupStations(t, d, map[model.StationName]model.StationState{
		model.Carrier:  model.StationIdle,
		model.Polisher: model.StationIdle,
		model.Cleaner:  model.StationIdle,
		model.Buffer:   model.StationIdle,
	})

	r1, r2, r3 := &recordingRobot{}, &recordingRobot{}, &recordingRobot{}
	require.NoError(t, d.RegisterRobot("R1", r1))
	require.NoError(t, d.RegisterRobot("R2", r2))
	require.NoError(t, d.RegisterRobot("R3", r3))

	require.NoError(t, d.RequestTransfer(model.TransferRequest{WaferID: 1, From: model.Carrier, To: model.Polisher, Priority: 1, PreferredRobotID: "R1"}))
	assert.Eventually(t, func() bool { return r1.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, model.Polisher, r1.last().To)

	// drive R1 back to idle, then Polisher finishes and hands to R2.
	require.NoError(t, d.UpdateRobotState("R1", model.RobotIdle, 0, ""))
	require.NoError(t, d.UpdateStationState(model.Polisher, model.StationDone, 1))
	require.NoError(t, d.RequestTransfer(model.TransferRequest{WaferID: 1, From: model.Polisher, To: model.Cleaner, Priority: 1, PreferredRobotID: "R2"}))
	assert.Eventually(t, func() bool { return r2.count() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, d.UpdateRobotState("R2", model.RobotIdle, 0, ""))
	require.NoError(t, d.UpdateStationState(model.Cleaner, model.StationDone, 1))
	require.NoError(t, d.RequestTransfer(model.TransferRequest{WaferID: 1, From: model.Cleaner, To: model.Buffer, Priority: 1, PreferredRobotID: "R3"}))
	assert.Eventually(t, func() bool { return r3.count() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, d.UpdateRobotState("R3", model.RobotIdle, 0, ""))
	require.NoError(t, d.UpdateStationState(model.Buffer, model.StationOccupied, 1))
	require.NoError(t, d.RequestTransfer(model.TransferRequest{WaferID: 1, From: model.Buffer, To: model.Carrier, Priority: 2, PreferredRobotID: "R1"}))
	assert.Eventually(t, func() bool { return r1.count() == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, model.Carrier, r1.last().To)
}

func TestHeadOfLineBypass(t *testing.T) {
	d := newTestDispatcher(t, NewImmediatePolicy())
	setupStations(t, d, map[model.StationName]model.StationState{
		model.Carrier:  model.StationIdle,
		model.Polisher: model.StationProcessing,
		model.Cleaner:  model.StationDone,
		model.Buffer:   model.StationIdle,
	})
	r1, r3 := &recordingRobot{}, &recordingRobot{}
	require.NoError(t, d.RegisterRobot("R1", r1))
	require.NoError(t, d.RegisterRobot("R3", r3))

	require.NoError(t, d.RequestTransfer(model.TransferRequest{WaferID: 5, From: model.Polisher, To: model.Cleaner}))
	require.NoError(t, d.RequestTransfer(model.TransferRequest{WaferID: 6, From: model.Carrier, To: model.Polisher}))
	require.NoError(t, d.RequestTransfer(model.TransferRequest{WaferID: 7, From: model.Cleaner, To: model.Buffer}))

	assert.Eventually(t, func() bool { return r3.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, r1.count(), "R1 should not have been dispatched: Polisher is busy and destination for wafer 6 isn't idle")
	assert.Equal(t, 7, r3.last().WaferID)
	assert.Equal(t, 2, d.QueueSize(), "wafers 5 and 6 should remain queued in order")
}

func TestPreferredRobotMismatchNeverDispatches(t *testing.T) {
	d := newTestDispatcher(t, NewImmediatePolicy())
	setupStations(t, d, map[model.StationName]model.StationState{
		model.Polisher: model.StationDone,
		model.Cleaner:  model.StationIdle,
	})
	r1, r2 := &recordingRobot{}, &recordingRobot{}
	require.NoError(t, d.RegisterRobot("R1", r1))
	require.NoError(t, d.RegisterRobot("R2", r2))

	require.NoError(t, d.RequestTransfer(model.TransferRequest{WaferID: 8, From: model.Polisher, To: model.Cleaner, PreferredRobotID: "R1"}))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, r1.count())
	assert.Equal(t, 0, r2.count())
	assert.Equal(t, 1, d.QueueSize())
}

func TestCompletionFiresOnlyAfterFinalIdle(t *testing.T) {
	d := newTestDispatcher(t, NewImmediatePolicy())
	setupStations(t, d, map[model.StationName]model.StationState{
		model.Carrier:  model.StationIdle,
		model.Polisher: model.StationIdle,
	})
	r1 := &recordingRobot{}
	require.NoError(t, d.RegisterRobot("R1", r1))

	var completions int32
	var mu sync.Mutex
	require.NoError(t, d.RequestTransfer(model.TransferRequest{
		WaferID: 9, From: model.Carrier, To: model.Polisher, PreferredRobotID: "R1",
		OnCompleted: func(id int) {
			mu.Lock()
			completions++
			mu.Unlock()
		},
	}))
	assert.Eventually(t, func() bool { return r1.count() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, d.UpdateRobotState("R1", model.RobotBusy, 9, ""))
	require.NoError(t, d.UpdateRobotState("R1", model.RobotCarrying, 9, ""))
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, int32(0), completions, "must not fire before the final idle transition")
	mu.Unlock()

	require.NoError(t, d.UpdateRobotState("R1", model.RobotIdle, 0, ""))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return completions == 1
	}, time.Second, time.Millisecond)
}

func TestIdleWithWaferIsRepairedWithoutDispatch(t *testing.T) {
	d := newTestDispatcher(t, NewImmediatePolicy())
	r1 := &recordingRobot{}
	require.NoError(t, d.RegisterRobot("R1", r1))

	require.NoError(t, d.UpdateRobotState("R1", model.RobotIdle, 42, ""))
	assert.Eventually(t, func() bool { return d.RobotState("R1") == string(model.RobotIdle) }, time.Second, time.Millisecond)
	assert.Equal(t, 0, r1.count(), "repair must not trigger a PICKUP")
}

func TestSynchronizedBatchSweep(t *testing.T) {
	d := newTestDispatcher(t, NewBatchPolicy())
	// Every leg's source and destination must pass the readiness test at
	// once: Polisher/Cleaner are source-ready when idle, and destinations
	// other than Carrier must be idle.
	setupStations(t, d, map[model.StationName]model.StationState{
		model.Carrier:  model.StationIdle,
		model.Polisher: model.StationIdle,
		model.Cleaner:  model.StationIdle,
		model.Buffer:   model.StationIdle,
	})
	r1, r2, r3 := &recordingRobot{}, &recordingRobot{}, &recordingRobot{}
	require.NoError(t, d.RegisterRobot("R1", r1))
	require.NoError(t, d.RegisterRobot("R2", r2))
	require.NoError(t, d.RegisterRobot("R3", r3))

	// Hold the batch back with R1 busy until all three requests are queued,
	// so the sweep sees them together.
	require.NoError(t, d.UpdateRobotState("R1", model.RobotBusy, 0, ""))
	require.NoError(t, d.RequestTransfer(model.TransferRequest{WaferID: 1, From: model.Carrier, To: model.Polisher, PreferredRobotID: "R1"}))
	require.NoError(t, d.RequestTransfer(model.TransferRequest{WaferID: 2, From: model.Polisher, To: model.Cleaner, PreferredRobotID: "R2"}))
	require.NoError(t, d.RequestTransfer(model.TransferRequest{WaferID: 3, From: model.Cleaner, To: model.Buffer, PreferredRobotID: "R3"}))
	require.NoError(t, d.UpdateRobotState("R1", model.RobotIdle, 0, ""))

	assert.Eventually(t, func() bool {
		return r1.count() == 1 && r2.count() == 1 && r3.count() == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, d.QueueSize())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, r1.count(), "no further dispatch until a robot reports idle")
}

func TestRequestTransferRejectsInvalidRoute(t *testing.T) {
	d := newTestDispatcher(t, NewImmediatePolicy())
	err := d.RequestTransfer(model.TransferRequest{WaferID: 1, From: model.Cleaner, To: model.Polisher})
	require.Error(t, err)
	assert.Equal(t, 0, d.QueueSize())
}

func TestPheromoneTickExportsStrengthMetric(t *testing.T) {
	log := telemetry.New("error")
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	cfg := DefaultPheromoneConfig()
	cfg.EvaporationPeriod = 5 * time.Millisecond
	policy := NewPheromonePolicy(cfg)
	policy.OnDeposit(route.CarrierToPolisher, "R1", 1.0)

	d := New(policy, 10, metrics, log)
	t.Cleanup(d.Stop)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.PheromoneStrength.WithLabelValues(route.CarrierToPolisher.String(), "R1")) > 0
	}, time.Second, time.Millisecond, "pheromone tick should publish strength to the gauge")
}
