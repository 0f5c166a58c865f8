package types

// Trade is a single execution, priced at the maker's resting price per
// spec §3.
type Trade struct {
	TradeID    uint64
	SymbolID   int64
	Tick       uint64
	MakerOrder uint64
	TakerOrder uint64
	MakerAcct  uint64
	TakerAcct  uint64
	PriceCents int64
	QuantityBp int64
	MakerSide  Side
}
