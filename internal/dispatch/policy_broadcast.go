package dispatch

import (
	"sort"

	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/route"
)

// BroadcastPolicy models the "ant-colony" selective-broadcast variant:
// conceptually, robots subscribe to a work pool and the pool notifies every
// idle, route-eligible robot when work appears; the first one to claim it
// wins. Since the dispatcher's decision plane is single-threaded there is no
// real race to resolve, so the "first to claim" slot is played by a
// per-route round-robin cursor instead of a fixed lexical order — so, unlike
// ImmediatePolicy, repeated dispatches on the same route don't always land
// on the same robot.
type BroadcastPolicy struct {
	basePolicy
	cursor map[route.ID]int
}

// NewBroadcastPolicy builds a selective-broadcast policy.
func NewBroadcastPolicy() *BroadcastPolicy {
	return &BroadcastPolicy{cursor: map[route.ID]int{}}
}

func (p *BroadcastPolicy) Name() string { return "selective-broadcast" }

func (p *BroadcastPolicy) SelectRobot(r route.ID, candidates []model.RobotID, _ model.TransferRequest) (model.RobotID, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	sorted := append([]model.RobotID(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	start := p.cursor[r] % len(sorted)
	chosen := sorted[start]
	p.cursor[r] = (start + 1) % len(sorted)
	return chosen, true
}
