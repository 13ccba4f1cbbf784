package dispatch

import (
	"testing"
	"time"

	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/route"
)

func TestImmediatePolicyLexicalTieBreak(t *testing.T) {
	p := NewImmediatePolicy()
	got, ok := p.SelectRobot(route.CarrierToPolisher, []model.RobotID{"R3", "R1", "R2"}, model.TransferRequest{})
	if !ok || got != "R1" {
		t.Errorf("SelectRobot = (%s, %v), want (R1, true)", got, ok)
	}
}

func TestBroadcastPolicyRotatesPerRoute(t *testing.T) {
	p := NewBroadcastPolicy()
	candidates := []model.RobotID{"R1", "R2", "R3"}

	first, _ := p.SelectRobot(route.PolisherToCleaner, candidates, model.TransferRequest{})
	second, _ := p.SelectRobot(route.PolisherToCleaner, candidates, model.TransferRequest{})
	if first != "R1" || second != "R2" {
		t.Errorf("got %s then %s, want R1 then R2 (round-robin)", first, second)
	}

	// a different route has its own cursor.
	other, _ := p.SelectRobot(route.CleanerToBuffer, candidates, model.TransferRequest{})
	if other != "R1" {
		t.Errorf("second route should start its own cursor at R1, got %s", other)
	}
}

func TestBatchPolicyReportsBatchMode(t *testing.T) {
	p := NewBatchPolicy()
	if !p.BatchMode() {
		t.Errorf("BatchPolicy.BatchMode() = false, want true")
	}
	if NewImmediatePolicy().BatchMode() {
		t.Errorf("ImmediatePolicy.BatchMode() = true, want false")
	}
}

func TestPollPolicyTickInterval(t *testing.T) {
	p := NewPollPolicy(0)
	if p.TickInterval() != DefaultPollInterval {
		t.Errorf("TickInterval() = %v, want default %v", p.TickInterval(), DefaultPollInterval)
	}
	custom := NewPollPolicy(5 * time.Millisecond)
	if custom.TickInterval() != 5*time.Millisecond {
		t.Errorf("TickInterval() = %v, want 5ms", custom.TickInterval())
	}
}

func TestPheromoneDepositIncreasesWeightTowardSuccessfulRobot(t *testing.T) {
	cfg := DefaultPheromoneConfig()
	p := NewPheromonePolicy(cfg)

	before := p.weight(route.CarrierToPolisher, "R1")
	p.OnDeposit(route.CarrierToPolisher, "R1", 1.0)
	after := p.weight(route.CarrierToPolisher, "R1")

	if after <= before {
		t.Errorf("weight after deposit = %v, want > %v", after, before)
	}
}

func TestPheromoneDepositClampsToTauMax(t *testing.T) {
	cfg := DefaultPheromoneConfig()
	cfg.TauMax = 1.5
	p := NewPheromonePolicy(cfg)

	for i := 0; i < 50; i++ {
		p.OnDeposit(route.CarrierToPolisher, "R1", 0.01)
	}
	c := p.cell(route.CarrierToPolisher, "R1")
	if c.tau > cfg.TauMax {
		t.Errorf("tau = %v, want <= TauMax %v", c.tau, cfg.TauMax)
	}
}

func TestPheromoneEvaporationClampsToTauMin(t *testing.T) {
	cfg := DefaultPheromoneConfig()
	cfg.TauMin = 0.2
	p := NewPheromonePolicy(cfg)

	c := p.cell(route.CarrierToPolisher, "R1")
	p.Tick()
	p.Tick()
	if c.tau < cfg.TauMin {
		t.Errorf("tau = %v, want >= TauMin %v", c.tau, cfg.TauMin)
	}
}

func TestPheromoneSelectRobotUniformWhenNoHistory(t *testing.T) {
	p := NewPheromonePolicy(DefaultPheromoneConfig())
	_, ok := p.SelectRobot(route.CarrierToPolisher, []model.RobotID{"R1"}, model.TransferRequest{})
	if !ok {
		t.Errorf("expected a selection even with no deposit history")
	}
}

func TestPheromoneSnapshotReportsReadings(t *testing.T) {
	p := NewPheromonePolicy(DefaultPheromoneConfig())
	p.OnDeposit(route.CarrierToPolisher, "R1", 2.0)

	readings := p.Snapshot()
	if len(readings) != 1 {
		t.Fatalf("Snapshot() returned %d readings, want 1", len(readings))
	}
	if readings[0].Route != route.CarrierToPolisher || readings[0].Robot != "R1" {
		t.Errorf("reading = %+v, want route=CarrierToPolisher robot=R1", readings[0])
	}
}
