// Package route holds the fixed, read-only-after-init route topology of the
// cell: which (from, to) station pairs are legal, and which robots are
// eligible to serve each one.
package route

import "github.com/brightforge/wafercell/internal/model"

// ID identifies one of the closed set of routes in the cell.
type ID int

// Invalid marks an (from, to) pair outside the closed route set.
const Invalid ID = -1

const (
	CarrierToPolisher ID = iota
	PolisherToCleaner
	CleanerToBuffer
	BufferToCarrier
	PolisherToCarrier // error-recovery route
)

type pair struct {
	from, to model.StationName
}

var routes = map[pair]ID{
	{model.Carrier, model.Polisher}:  CarrierToPolisher,
	{model.Polisher, model.Cleaner}:  PolisherToCleaner,
	{model.Cleaner, model.Buffer}:    CleanerToBuffer,
	{model.Buffer, model.Carrier}:    BufferToCarrier,
	{model.Polisher, model.Carrier}:  PolisherToCarrier,
}

// eligible holds, per route, the robots allowed to serve it. Order matters
// for the deterministic lexical tie-break in the event-driven policy, so it's
// kept sorted at construction time.
var eligible = map[ID][]model.RobotID{
	CarrierToPolisher: {"R1"},
	PolisherToCleaner:  {"R2"},
	CleanerToBuffer:    {"R3"},
	BufferToCarrier:    {"R1"},
	PolisherToCarrier:  {"R1"},
}

var names = map[ID]string{
	Invalid:           "invalid",
	CarrierToPolisher: "CarrierToPolisher",
	PolisherToCleaner: "PolisherToCleaner",
	CleanerToBuffer:   "CleanerToBuffer",
	BufferToCarrier:   "BufferToCarrier",
	PolisherToCarrier: "PolisherToCarrier",
}

// String returns the route's name, for logging and metric labels.
func (id ID) String() string {
	if s, ok := names[id]; ok {
		return s
	}
	return "unknown"
}

// Of returns the route id for (from, to), or Invalid if the pair is not in
// the closed route set. Note: Cleaner→Polisher is deliberately absent; it is
// not a legal route even though some historical tooling treated it as one.
func Of(from, to model.StationName) ID {
	id, ok := routes[pair{from, to}]
	if !ok {
		return Invalid
	}
	return id
}

// Eligible returns the robots allowed to serve route id, in deterministic
// (lexical) order. Callers must not mutate the returned slice.
func Eligible(id ID) []model.RobotID {
	return eligible[id]
}

// Valid reports whether (from, to) is a legal route.
func Valid(from, to model.StationName) bool {
	return Of(from, to) != Invalid
}
