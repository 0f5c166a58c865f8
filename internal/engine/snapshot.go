package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/waiver-exchange/core/internal/types"
)

// Snapshot is the deterministic, flat serialization of one engine's full
// state (spec §3, §4.1, §4.6). The layout is fixed-width and field-ordered
// so two engines fed identical input produce byte-identical snapshots.
func (e *Engine) Snapshot() ([]byte, error) {
	var buf bytes.Buffer
	writeU64(&buf, uint64(e.cfg.SymbolID))
	buf.WriteByte(byte(e.state))
	writeU64(&buf, e.tradeSeq)

	for _, side := range []types.Side{types.SideBuy, types.SideSell} {
		bs := e.book.sideOf(side)
		prices := make([]int64, 0, len(bs.levels))
		for p, lvl := range bs.levels {
			if lvl.count > 0 {
				prices = append(prices, p)
			}
		}
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })

		writeU32(&buf, uint32(len(prices)))
		for _, p := range prices {
			lvl := bs.levels[p]
			writeI64(&buf, lvl.price)
			writeU64(&buf, lvl.nextSeq)
			writeU32(&buf, uint32(lvl.count))

			idx := lvl.head
			for idx != nilIdx {
				s := e.book.arena[idx]
				writeU64(&buf, s.orderID)
				writeU64(&buf, s.accountID)
				writeI64(&buf, s.remainingBp)
				writeI64(&buf, s.originalBp)
				writeU64(&buf, s.arrivalSeq)
				writeString(&buf, s.clientTag)
				idx = s.next
			}
		}
	}
	return buf.Bytes(), nil
}

// Restore rebuilds engine state from a byte-identical Snapshot payload.
func (e *Engine) Restore(data []byte) error {
	r := bytes.NewReader(data)
	symbolID, err := readU64(r)
	if err != nil {
		return fmt.Errorf("restore: read symbol_id: %w", err)
	}
	if int64(symbolID) != e.cfg.SymbolID {
		return fmt.Errorf("restore: snapshot symbol %d does not match engine symbol %d", symbolID, e.cfg.SymbolID)
	}
	stateByte, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("restore: read state: %w", err)
	}
	e.state = types.EngineState(stateByte)

	tradeSeq, err := readU64(r)
	if err != nil {
		return fmt.Errorf("restore: read trade_seq: %w", err)
	}
	e.tradeSeq = tradeSeq

	e.book = newBook(e.cfg.SymbolID, e.cfg.BookCapacityHint)

	for _, side := range []types.Side{types.SideBuy, types.SideSell} {
		numLevels, err := readU32(r)
		if err != nil {
			return fmt.Errorf("restore: read level count: %w", err)
		}
		for i := uint32(0); i < numLevels; i++ {
			price, err := readI64(r)
			if err != nil {
				return fmt.Errorf("restore: read level price: %w", err)
			}
			nextSeq, err := readU64(r)
			if err != nil {
				return fmt.Errorf("restore: read level nextSeq: %w", err)
			}
			numOrders, err := readU32(r)
			if err != nil {
				return fmt.Errorf("restore: read order count: %w", err)
			}
			bs := e.book.sideOf(side)
			lvl := bs.levelFor(price)
			for j := uint32(0); j < numOrders; j++ {
				orderID, err := readU64(r)
				if err != nil {
					return fmt.Errorf("restore: read order_id: %w", err)
				}
				accountID, err := readU64(r)
				if err != nil {
					return fmt.Errorf("restore: read account_id: %w", err)
				}
				remainingBp, err := readI64(r)
				if err != nil {
					return fmt.Errorf("restore: read remaining_bp: %w", err)
				}
				originalBp, err := readI64(r)
				if err != nil {
					return fmt.Errorf("restore: read original_bp: %w", err)
				}
				arrivalSeq, err := readU64(r)
				if err != nil {
					return fmt.Errorf("restore: read arrival_seq: %w", err)
				}
				clientTag, err := readString(r)
				if err != nil {
					return fmt.Errorf("restore: read client_tag: %w", err)
				}
				e.book.restoreAppend(side, lvl, types.RestingOrder{
					OrderID:     orderID,
					AccountID:   accountID,
					Side:        side,
					PriceCents:  price,
					RemainingBp: remainingBp,
					OriginalBp:  originalBp,
					ArrivalSeq:  arrivalSeq,
					ClientTag:   clientTag,
				})
			}
			lvl.nextSeq = nextSeq
		}
	}
	return nil
}

// restoreAppend re-inserts a resting order with its original arrival
// sequence, preserving FIFO order exactly as recorded instead of assigning
// a new one (used only during recovery).
func (b *Book) restoreAppend(side types.Side, lvl *level, o types.RestingOrder) {
	idx := b.alloc()
	b.arena[idx] = orderSlot{
		inUse:       true,
		orderID:     o.OrderID,
		accountID:   o.AccountID,
		side:        side,
		priceCents:  o.PriceCents,
		remainingBp: o.RemainingBp,
		originalBp:  o.OriginalBp,
		arrivalSeq:  o.ArrivalSeq,
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
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeI64(buf *bytes.Buffer, v int64) { writeU64(buf, uint64(v)) }

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readI64(r *bytes.Reader) (int64, error) {
	v, err := readU64(r)
	return int64(v), err
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}
