package dispatch

import (
	"sort"

	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/route"
)

// ImmediatePolicy is the reference event-driven dispatch policy: it fires on
// kick and ties are broken deterministically by lexical RobotID order.
type ImmediatePolicy struct {
	basePolicy
}

// NewImmediatePolicy builds the reference policy.
func NewImmediatePolicy() *ImmediatePolicy {
	return &ImmediatePolicy{}
}

func (p *ImmediatePolicy) Name() string { return "event-driven-immediate" }

func (p *ImmediatePolicy) SelectRobot(_ route.ID, candidates []model.RobotID, _ model.TransferRequest) (model.RobotID, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	sorted := append([]model.RobotID(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[0], true
}
