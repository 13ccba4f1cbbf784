package dispatch

import (
	"math"
	"math/rand"
	"time"

	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/route"
)

// PheromoneConfig holds the advisory constants for the pheromone-weighted
// policy. The defaults mirror the reference values: only the shape of the
// update and the clamp are contractual.
type PheromoneConfig struct {
	Alpha             float64       // pheromone exponent
	Beta              float64       // heuristic exponent
	EvaporationRate   float64       // fraction evaporated per EvaporationPeriod
	EvaporationPeriod time.Duration
	TauMin            float64
	TauMax            float64
	Delta0            float64 // deposit numerator
}

// DefaultPheromoneConfig returns the spec's reference constants.
func DefaultPheromoneConfig() PheromoneConfig {
	return PheromoneConfig{
		Alpha:             1,
		Beta:              2,
		EvaporationRate:   0.1,
		EvaporationPeriod: time.Second,
		TauMin:            0.1,
		TauMax:            10,
		Delta0:            1.0,
	}
}

type pheromoneCell struct {
	tau            float64
	successCount   int
	meanCompletion float64
	lastSuccess    time.Time
}

type pheromoneKey struct {
	route route.ID
	robot model.RobotID
}

// PheromonePolicy picks robots via a roulette-wheel draw weighted by
// tau^alpha * eta^beta, where eta is derived from each (route, robot) pair's
// success count, mean completion time, and recency of last success.
// Pheromone evaporates on a fixed period and is deposited on completion.
type PheromonePolicy struct {
	cfg   PheromoneConfig
	cells map[pheromoneKey]*pheromoneCell
	rng   *rand.Rand
	now   func() time.Time
}

// NewPheromonePolicy builds a pheromone-weighted policy with cfg. The
// roulette-wheel draw is seeded from the current time, so the sequence of
// ties broken at zero total weight varies across process restarts.
func NewPheromonePolicy(cfg PheromoneConfig) *PheromonePolicy {
	return &PheromonePolicy{
		cfg:   cfg,
		cells: map[pheromoneKey]*pheromoneCell{},
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		now:   time.Now,
	}
}

func (p *PheromonePolicy) Name() string { return "pheromone-weighted" }

func (p *PheromonePolicy) cell(r route.ID, robot model.RobotID) *pheromoneCell {
	k := pheromoneKey{r, robot}
	c, ok := p.cells[k]
	if !ok {
		c = &pheromoneCell{tau: p.cfg.TauMin}
		p.cells[k] = c
	}
	return c
}

func (p *PheromonePolicy) heuristic(c *pheromoneCell) float64 {
	recency := 1.0
	if !c.lastSuccess.IsZero() {
		age := p.now().Sub(c.lastSuccess).Seconds()
		recency = 1.0 / (1.0 + age/60.0)
	}
	return recency * (1.0 + float64(c.successCount)) / (1.0 + c.meanCompletion)
}

func (p *PheromonePolicy) weight(r route.ID, robot model.RobotID) float64 {
	c := p.cell(r, robot)
	eta := p.heuristic(c)
	return math.Pow(c.tau, p.cfg.Alpha) * math.Pow(eta, p.cfg.Beta)
}

// SelectRobot performs a roulette-wheel draw over candidates' weights;
// uniform random if the total weight is zero.
func (p *PheromonePolicy) SelectRobot(r route.ID, candidates []model.RobotID, _ model.TransferRequest) (model.RobotID, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	weights := make([]float64, len(candidates))
	var total float64
	for i, c := range candidates {
		weights[i] = p.weight(r, c)
		total += weights[i]
	}
	if total <= 0 {
		return candidates[p.rng.Intn(len(candidates))], true
	}
	draw := p.rng.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if draw <= cum {
			return candidates[i], true
		}
	}
	return candidates[len(candidates)-1], true
}

// OnDeposit deposits pheromone Delta0/(1+completionSeconds) on (route,
// robot), clamped to TauMax, and updates the running mean completion time
// and success count used by the heuristic.
func (p *PheromonePolicy) OnDeposit(r route.ID, robot model.RobotID, completionSeconds float64) {
	c := p.cell(r, robot)
	delta := p.cfg.Delta0 / (1 + completionSeconds)
	c.tau = math.Min(p.cfg.TauMax, c.tau+delta)

	c.successCount++
	if c.successCount == 1 {
		c.meanCompletion = completionSeconds
	} else {
		c.meanCompletion += (completionSeconds - c.meanCompletion) / float64(c.successCount)
	}
	c.lastSuccess = p.now()
}

func (p *PheromonePolicy) BatchMode() bool { return false }

func (p *PheromonePolicy) TickInterval() time.Duration { return p.cfg.EvaporationPeriod }

// Tick evaporates every cell's pheromone by EvaporationRate, clamped to
// TauMin. Runs on the dispatcher's serial plane, so it never races with
// SelectRobot/OnDeposit.
func (p *PheromonePolicy) Tick() {
	for _, c := range p.cells {
		c.tau = math.Max(p.cfg.TauMin, c.tau*(1-p.cfg.EvaporationRate))
	}
}

// PheromoneReading is one (route, robot) pheromone strength sample.
type PheromoneReading struct {
	Route    route.ID
	Robot    model.RobotID
	Strength float64
}

// Snapshot returns the current pheromone strength per (route, robot) pair,
// for metrics export.
func (p *PheromonePolicy) Snapshot() []PheromoneReading {
	out := make([]PheromoneReading, 0, len(p.cells))
	for k, c := range p.cells {
		out = append(out, PheromoneReading{Route: k.route, Robot: k.robot, Strength: c.tau})
	}
	return out
}
