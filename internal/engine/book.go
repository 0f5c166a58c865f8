package engine

import (
	"container/heap"

	"github.com/waiver-exchange/core/internal/types"
)

// orderSlot is one resting order stored in the book's arena. Orders are
// never referenced by pointer outside the arena; every cross-reference is
// a stable int32 index, which is what makes snapshot() a flat memory dump
// (spec §9 redesign note: arena of resting orders, intrusive FIFO indices).
type orderSlot struct {
	inUse       bool
	orderID     uint64
	accountID   uint64
	side        types.Side
	priceCents  int64
	remainingBp int64
	originalBp  int64
	arrivalSeq  uint64
	clientTag   string
	next        int32 // arena index of next order at the same level, -1 if tail
	prev        int32 // arena index of previous order at the same level, -1 if head
}

const nilIdx int32 = -1

type orderKey struct {
	accountID uint64
	orderID   uint64
}

// level is a FIFO queue of resting orders at one integer price, stored as
// head/tail arena indices rather than a slice of pointers.
type level struct {
	price      int64
	head       int32
	tail       int32
	totalBp    int64
	count      int
	nextSeq    uint64
	removed    bool // lazily marked when the level empties, for heap bookkeeping
}

// priceHeap orders active price keys for fast best-price lookup. asc=true
// for ask levels (lowest first), asc=false for bid levels (highest first).
type priceHeap struct {
	prices []int64
	asc    bool
}

func (h priceHeap) Len() int { return len(h.prices) }
func (h priceHeap) Less(i, j int) bool {
	if h.asc {
		return h.prices[i] < h.prices[j]
	}
	return h.prices[i] > h.prices[j]
}
func (h priceHeap) Swap(i, j int) { h.prices[i], h.prices[j] = h.prices[j], h.prices[i] }
func (h *priceHeap) Push(x interface{}) { h.prices = append(h.prices, x.(int64)) }
func (h *priceHeap) Pop() interface{} {
	old := h.prices
	n := len(old)
	v := old[n-1]
	h.prices = old[:n-1]
	return v
}

// bookSide holds all levels and the price heap for one side of the book.
type bookSide struct {
	levels map[int64]*level
	heap   *priceHeap
}

func newBookSide(asc bool) *bookSide {
	h := &priceHeap{asc: asc}
	heap.Init(h)
	return &bookSide{levels: make(map[int64]*level), heap: h}
}

// best returns the best (head-priority) price level on this side, skipping
// prices that have been lazily removed, or nil if the side is empty.
func (bs *bookSide) best() *level {
	for bs.heap.Len() > 0 {
		p := bs.heap.prices[0]
		lvl, ok := bs.levels[p]
		if !ok || lvl.removed || lvl.count == 0 {
			heap.Pop(bs.heap)
			continue
		}
		return lvl
	}
	return nil
}

// levelFor returns the level at price, creating and heap-pushing it if
// absent.
func (bs *bookSide) levelFor(price int64) *level {
	lvl, ok := bs.levels[price]
	if ok && !lvl.removed {
		return lvl
	}
	lvl = &level{price: price, head: nilIdx, tail: nilIdx}
	bs.levels[price] = lvl
	heap.Push(bs.heap, price)
	return lvl
}

// dropIfEmpty removes an emptied level from the map; the heap entry is
// cleaned up lazily when best() next reaches it.
func (bs *bookSide) dropIfEmpty(lvl *level) {
	if lvl.count == 0 {
		lvl.removed = true
		delete(bs.levels, lvl.price)
	}
}

// Book is the per-symbol order book: an arena of resting orders plus two
// bookSides (bid, ask). Exactly one Book exists per live engine.
type Book struct {
	symbolID int64
	bids     *bookSide
	asks     *bookSide
	arena    []orderSlot
	free     []int32
	byKey    map[orderKey]int32
}

func newBook(symbolID int64, capacityHint int) *Book {
	if capacityHint <= 0 {
		capacityHint = 1024
	}
	return &Book{
		symbolID: symbolID,
		bids:     newBookSide(false),
		asks:     newBookSide(true),
		arena:    make([]orderSlot, 0, capacityHint),
		byKey:    make(map[orderKey]int32, capacityHint),
	}
}

func (b *Book) sideOf(s types.Side) *bookSide {
	if s == types.SideBuy {
		return b.bids
	}
	return b.asks
}

func (b *Book) oppositeOf(s types.Side) *bookSide {
	if s == types.SideBuy {
		return b.asks
	}
	return b.bids
}

// alloc claims a slot from the free list or grows the arena.
func (b *Book) alloc() int32 {
	if n := len(b.free); n > 0 {
		idx := b.free[n-1]
		b.free = b.free[:n-1]
		return idx
	}
	b.arena = append(b.arena, orderSlot{})
	return int32(len(b.arena) - 1)
}

func (b *Book) release(idx int32) {
	b.arena[idx] = orderSlot{}
	b.free = append(b.free, idx)
}

// rest appends a new resting order to the tail of its price level's FIFO
// and returns its arrival sequence.
func (b *Book) rest(o types.RestingOrder) uint64 {
	bs := b.sideOf(o.Side)
	lvl := bs.levelFor(o.PriceCents)
	idx := b.alloc()
	seq := lvl.nextSeq
	lvl.nextSeq++

	b.arena[idx] = orderSlot{
		inUse:       true,
		orderID:     o.OrderID,
		accountID:   o.AccountID,
		side:        o.Side,
		priceCents:  o.PriceCents,
		remainingBp: o.RemainingBp,
		originalBp:  o.OriginalBp,
		arrivalSeq:  seq,
		clientTag:   o.ClientTag,
		next:        nilIdx,
		prev:        lvl.tail,
	}
	if lvl.tail != nilIdx {
		b.arena[lvl.tail].next = idx
	} else {
		lvl.head = idx
	}
	lvl.tail = idx
	lvl.totalBp += o.RemainingBp
	lvl.count++
	b.byKey[orderKey{o.AccountID, o.OrderID}] = idx
	return seq
}

// headOf returns the index of the order at the head of a level's FIFO.
func (b *Book) headOf(lvl *level) (int32, bool) {
	if lvl.head == nilIdx {
		return nilIdx, false
	}
	return lvl.head, true
}

// fillHead reduces the remaining quantity of the head order by qty,
// returning the slot's current state after the fill and whether it is now
// fully consumed.
func (b *Book) fillHead(side types.Side, lvl *level, qty int64) (slot orderSlot, exhausted bool) {
	idx := lvl.head
	b.arena[idx].remainingBp -= qty
	lvl.totalBp -= qty
	slot = b.arena[idx]
	if slot.remainingBp == 0 {
		b.unlinkHead(side, lvl)
		exhausted = true
	}
	return slot, exhausted
}

// unlinkHead removes the head order of lvl from the FIFO and the arena.
func (b *Book) unlinkHead(side types.Side, lvl *level) {
	idx := lvl.head
	next := b.arena[idx].next
	lvl.head = next
	if next != nilIdx {
		b.arena[next].prev = nilIdx
	} else {
		lvl.tail = nilIdx
	}
	lvl.count--
	delete(b.byKey, orderKey{b.arena[idx].accountID, b.arena[idx].orderID})
	b.release(idx)
	if lvl.count == 0 {
		b.sideOf(side).dropIfEmpty(lvl)
	}
}

// cancel removes a resting order anywhere in its FIFO (not just the head),
// returning its last known state.
func (b *Book) cancel(accountID, orderID uint64) (orderSlot, bool) {
	idx, ok := b.byKey[orderKey{accountID, orderID}]
	if !ok {
		return orderSlot{}, false
	}
	slot := b.arena[idx]
	bs := b.sideOf(slot.side)
	lvl, ok := bs.levels[slot.priceCents]
	if !ok {
		return orderSlot{}, false
	}

	if slot.prev != nilIdx {
		b.arena[slot.prev].next = slot.next
	} else {
		lvl.head = slot.next
	}
	if slot.next != nilIdx {
		b.arena[slot.next].prev = slot.prev
	} else {
		lvl.tail = slot.prev
	}
	lvl.totalBp -= slot.remainingBp
	lvl.count--
	delete(b.byKey, orderKey{accountID, orderID})
	b.release(idx)
	if lvl.count == 0 {
		bs.dropIfEmpty(lvl)
	}
	return slot, true
}

// BestBid returns the best bid price and whether one exists.
func (b *Book) BestBid() (int64, bool) {
	lvl := b.bids.best()
	if lvl == nil {
		return 0, false
	}
	return lvl.price, true
}

// BestAsk returns the best ask price and whether one exists.
func (b *Book) BestAsk() (int64, bool) {
	lvl := b.asks.best()
	if lvl == nil {
		return 0, false
	}
	return lvl.price, true
}

// CheckInvariant verifies best-bid < best-ask, required outside a match
// cycle by spec §3.
func (b *Book) CheckInvariant() bool {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	if hasBid && hasAsk && bid >= ask {
		return false
	}
	return true
}
