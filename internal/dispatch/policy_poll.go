package dispatch

import (
	"sort"
	"time"

	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/route"
)

// DefaultPollInterval is the reference cadence for the periodic-poll policy.
const DefaultPollInterval = 10 * time.Millisecond

// PollPolicy emulates a legacy pull-mode scheduling loop: instead of reacting
// only to enqueue/idle/done events, a fixed-cadence tick also triggers a
// dispatch cycle. Decisions are otherwise identical to ImmediatePolicy.
type PollPolicy struct {
	basePolicy
	interval time.Duration
}

// NewPollPolicy builds a poll policy with the given cadence; interval <= 0
// falls back to DefaultPollInterval.
func NewPollPolicy(interval time.Duration) *PollPolicy {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollPolicy{interval: interval}
}

func (p *PollPolicy) Name() string { return "periodic-poll" }

func (p *PollPolicy) TickInterval() time.Duration { return p.interval }

// Tick does no bookkeeping of its own; the dispatcher runs a cycle after
// every tick it's handed, which is exactly the pull-mode emulation this
// policy exists for.
func (p *PollPolicy) Tick() {}

func (p *PollPolicy) SelectRobot(_ route.ID, candidates []model.RobotID, _ model.TransferRequest) (model.RobotID, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	sorted := append([]model.RobotID(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[0], true
}
