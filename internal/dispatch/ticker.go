package dispatch

import "time"

// Ticker is implemented by policies that need a periodic message processed
// on the dispatcher's serial plane — the poll policy's fixed cadence and
// the pheromone policy's evaporation tick both need this. The tick is always
// a message handled on the plane, never a policy-private goroutine mutating
// shared state.
type Ticker interface {
	TickInterval() time.Duration
	// Tick runs on the dispatcher's serial plane. Mutating policy-private
	// state here is safe precisely because it's never called concurrently
	// with SelectRobot/OnDeposit.
	Tick()
}
