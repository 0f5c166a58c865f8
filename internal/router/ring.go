// Package router implements the sharded order router of spec §4.3: a
// table of per-worker ring buffers that ingress threads push into and
// that worker threads drain once per tick, without locks on the hot path.
//
// The ring itself follows the LMAX Disruptor pattern: a pre-allocated,
// cache-line-padded slot array, an atomic CAS-claimed write cursor, and a
// gating sequence fed back by the single consumer so producers never
// overwrite an unconsumed slot.
package router

import (
	"runtime"
	"sync/atomic"

	"github.com/waiver-exchange/core/internal/xerrors"
)

// slot is one ring buffer cell holding a value of T.
type slot[T any] struct {
	seq   uint64 // atomic; slot is ready for consumption when seq == its claimed sequence
	value T
	_     [24]byte // pad towards a 64-byte cache line alongside seq(8) + a small value
}

// ring is a lock-free, multi-producer, single-consumer ring buffer
// carrying values of T for one worker shard. Generic so the router can run
// one instance for inbound orders and a second, smaller one for cancel
// intents without duplicating the disruptor mechanics.
type ring[T any] struct {
	size        uint64
	mask        uint64
	slots       []slot[T]
	cursor      uint64 // atomic; highest claimed sequence
	consumerSeq uint64 // only mutated by the single consumer
	gatingSeq   uint64 // atomic; highest sequence the consumer has fully drained
	_           [40]byte
}

func newRing[T any](size uint64) *ring[T] {
	if size == 0 || size&(size-1) != 0 {
		panic("router: ring size must be a power of 2")
	}
	return &ring[T]{size: size, mask: size - 1, slots: make([]slot[T], size)}
}

const maxPushSpins = 2000

// push claims the next sequence (CAS loop, bounded spin) and publishes
// value into its slot. Returns BackpressureReject if the ring stays full
// for the whole spin budget — never blocks indefinitely (spec §4.3: "Push
// is non-blocking and bounded").
func (r *ring[T]) push(value T, onReject func() error) error {
	for spins := 0; spins < maxPushSpins; spins++ {
		current := atomic.LoadUint64(&r.cursor)
		next := current + 1
		gating := atomic.LoadUint64(&r.gatingSeq)
		if next-gating > r.size {
			runtime.Gosched()
			continue
		}
		if atomic.CompareAndSwapUint64(&r.cursor, current, next) {
			idx := next & r.mask
			r.slots[idx].value = value
			atomic.StoreUint64(&r.slots[idx].seq, next)
			return nil
		}
	}
	if onReject != nil {
		return onReject()
	}
	return xerrors.New(xerrors.CodeBackpressureReject, "router queue full")
}

// depth reports the number of published-but-undrained slots.
func (r *ring[T]) depth() uint64 {
	return atomic.LoadUint64(&r.cursor) - r.consumerSeq
}

// drain is called once per tick by the ring's single consuming worker. It
// returns every value published since the last drain, in strict arrival
// (publish) order, and advances the gating sequence so producers can
// reclaim the freed slots.
func (r *ring[T]) drain(out []T) []T {
	for {
		next := r.consumerSeq + 1
		idx := next & r.mask
		if atomic.LoadUint64(&r.slots[idx].seq) != next {
			break
		}
		out = append(out, r.slots[idx].value)
		r.consumerSeq = next
	}
	if r.consumerSeq > 0 {
		atomic.StoreUint64(&r.gatingSeq, r.consumerSeq)
	}
	return out
}
