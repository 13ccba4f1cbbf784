package dispatch

import (
	"sort"

	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/route"
)

// BatchPolicy is the synchronized-batch variant: dispatch only fires when
// every registered robot is idle, and a single cycle may commit at most one
// request per robot. The dispatcher's BatchMode gating implements the
// "all robots idle" precondition; this policy's SelectRobot only needs the
// usual deterministic tie-break among whatever candidates the dispatcher
// hands it (already filtered for robots claimed earlier in the same cycle).
type BatchPolicy struct {
	basePolicy
}

// NewBatchPolicy builds the synchronized-batch policy.
func NewBatchPolicy() *BatchPolicy {
	return &BatchPolicy{}
}

func (p *BatchPolicy) Name() string { return "synchronized-batch" }

func (p *BatchPolicy) BatchMode() bool { return true }

func (p *BatchPolicy) SelectRobot(_ route.ID, candidates []model.RobotID, _ model.TransferRequest) (model.RobotID, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	sorted := append([]model.RobotID(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[0], true
}
