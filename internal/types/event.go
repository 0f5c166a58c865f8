package types

// EventKind tags the polymorphic engine output described in spec §3.
type EventKind uint8

const (
	EventOrderAccepted EventKind = iota
	EventOrderRejected
	EventOrderPartiallyFilled
	EventOrderFilled
	EventOrderCancelled
	EventTradeExecuted
	EventBookDelta
	EventLifecycleTransition
)

func (k EventKind) String() string {
	switch k {
	case EventOrderAccepted:
		return "OrderAccepted"
	case EventOrderRejected:
		return "OrderRejected"
	case EventOrderPartiallyFilled:
		return "OrderPartiallyFilled"
	case EventOrderFilled:
		return "OrderFilled"
	case EventOrderCancelled:
		return "OrderCancelled"
	case EventTradeExecuted:
		return "TradeExecuted"
	case EventBookDelta:
		return "BookDelta"
	case EventLifecycleTransition:
		return "LifecycleTransition"
	default:
		return "Unknown"
	}
}

// EngineState is one of the four states spec §3 names for a symbol engine.
type EngineState uint8

const (
	StateIdle EngineState = iota
	StateActive
	StateDraining
	StateStopped
	StateHalted
)

func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateActive:
		return "Active"
	case StateDraining:
		return "Draining"
	case StateStopped:
		return "Stopped"
	case StateHalted:
		return "Halted"
	default:
		return "Unknown"
	}
}

// Event is a single, flat record carrying every field any variant needs.
// Unused fields for a given Kind are left zero. Payload schemas are fixed
// and field-ordered (spec §6) so this same layout serializes byte-stably
// for the WAL and for market-data fan-out.
type Event struct {
	Tick     uint64
	SymbolID int64
	Sequence uint64
	Kind     EventKind

	OrderID    uint64
	AccountID  uint64
	Reason     string // rejection/cancellation reason code, e.g. "SELF_MATCH"
	RemainingBp int64
	FilledBp    int64

	Trade Trade

	// BookDelta fields.
	Side        Side
	PriceCents  int64
	LevelTotalBp int64

	// LifecycleTransition field.
	State EngineState
}
