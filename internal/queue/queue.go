// Package queue implements the dispatcher's FIFO transfer queue with bounded
// head-of-line bypass. It is only ever touched from the dispatcher's serial
// processor goroutine; it holds no locks of its own.
package queue

import "github.com/brightforge/wafercell/internal/model"

// DefaultBypassBound is the reference bound on how many head-of-queue
// entries a single dispatch cycle may examine.
const DefaultBypassBound = 10

// Action is the outcome a visitor reports for one scanned entry.
type Action int

const (
	// Keep leaves the entry in the queue, in its original position, and the
	// scan continues to the next entry.
	Keep Action = iota
	// Drop removes the entry from the queue entirely (e.g. InvalidRoute) and
	// the scan continues to the next entry.
	Drop
	// Take removes the entry and ends the scan; the entry and the robot the
	// visitor chose for it are returned to the caller.
	Take
)

// Decision is what a Dispatch visitor returns for one entry.
type Decision struct {
	Action Action
	Robot  model.RobotID // meaningful only when Action == Take
}

// Queue is a FIFO buffer of pending transfer requests with bounded bypass:
// a scan may look past unservable entries near the head, up to Bound of
// them, without disturbing their relative order.
type Queue struct {
	entries []model.TransferRequest
	bound   int
}

// New builds a Queue with the given bypass bound. A bound <= 0 falls back to
// DefaultBypassBound.
func New(bound int) *Queue {
	if bound <= 0 {
		bound = DefaultBypassBound
	}
	return &Queue{bound: bound}
}

// Enqueue appends req to the tail of the queue.
func (q *Queue) Enqueue(req model.TransferRequest) {
	q.entries = append(q.entries, req)
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Bound returns the configured bypass bound.
func (q *Queue) Bound() int {
	return q.bound
}

// Dispatch scans up to Bound head-of-queue entries, in order, calling visit
// on each until one is Taken or the bound is exhausted. Entries visit marks
// Drop are removed; entries it marks Keep stay exactly where they were.
// Once an entry is Taken, the scan stops immediately — anything beyond it,
// including other entries still inside the original bound, is left
// untouched, matching "at most one dispatch per cycle, exit the cycle".
func (q *Queue) Dispatch(visit func(model.TransferRequest) Decision) (req model.TransferRequest, robot model.RobotID, ok bool) {
	limit := q.bound
	if limit > len(q.entries) {
		limit = len(q.entries)
	}
	out := make([]model.TransferRequest, 0, len(q.entries))
	stopped := false
	for i, e := range q.entries {
		if stopped || i >= limit {
			out = append(out, e)
			continue
		}
		d := visit(e)
		switch d.Action {
		case Keep:
			out = append(out, e)
		case Drop:
			// omitted from out
		case Take:
			req, robot, ok = e, d.Robot, true
			stopped = true
			// omitted from out
		}
	}
	q.entries = out
	return
}

// Snapshot returns a copy of the queued entries, head first. Intended for
// tests and diagnostics only — dispatch decisions go through Dispatch.
func (q *Queue) Snapshot() []model.TransferRequest {
	out := make([]model.TransferRequest, len(q.entries))
	copy(out, q.entries)
	return out
}
