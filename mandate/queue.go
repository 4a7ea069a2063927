// Package mandate implements the multi-priority, per-flow mandate
// queue: a set of sub-queues routed by flow UID, each with its own
// priority, optional throughput/latency/file-transfer mandate, and
// token bucket, plus a high-priority channel and a round-robin
// "bonus" pass across queues once all mandates are satisfied.
package mandate

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dragonradio/pkt"
)

// DropLogger receives packets dropped on pop because their deadline
// had already passed.
type DropLogger func(p *pkt.NetPacket, reason string)

// Queue is the full mandate queue: per-flow sub-queues, a high
// priority channel, and the default bucket, served in descending
// priority order with a fairness bonus pass.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	now func() time.Time

	hi      *subQueue
	def     *subQueue
	flows   map[[16]byte]*subQueue
	order   []*subQueue // all non-hi queues, including def, kept sorted by recomputeOrder
	dirty   bool

	bonusPhase bool
	bonusIdx   int

	disabled bool

	onDrop DropLogger
}

// defaultCategory is the priority.category flow queues start in unless
// a mandate bumps them; the hi queue has no category and is served via
// a dedicated path (always checked first).
const defaultCategory = 0

// New creates an empty mandate queue. now defaults to time.Now if nil.
func New(now func() time.Time, onDrop DropLogger) *Queue {
	if now == nil {
		now = time.Now
	}
	q := &Queue{
		now:   now,
		hi:    newSubQueue([16]byte{}),
		def:   newSubQueue([16]byte{}),
		flows: make(map[[16]byte]*subQueue),
		onDrop: onDrop,
	}
	q.hi.isHi = true
	q.def.isDefault = true
	q.order = []*subQueue{q.def}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// flowQueue returns (creating on demand at default priority) the
// sub-queue for a flow UID, or the default bucket for the zero UID.
func (q *Queue) flowQueue(flow [16]byte) *subQueue {
	if flow == ([16]byte{}) {
		return q.def
	}
	sq, ok := q.flows[flow]
	if !ok {
		sq = newSubQueue(flow)
		q.flows[flow] = sq
		q.order = append(q.order, sq)
		q.dirty = true
	}
	return sq
}

// Push routes pkt to its flow's sub-queue (creating it on demand),
// updates token accounting, and wakes a blocked Pop.
func (q *Queue) Push(p *pkt.NetPacket) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sq := q.flowQueue(p.FlowUID)
	sq.nexthop = p.Header.Nexthop
	wasEmpty := sq.empty()
	sq.pushTail(p)

	if sq.bucket == nil && sq.mandate != nil {
		sq.bucket = newTokenBucket(sq.mandate.MinThroughputBps, q.now())
	}
	if sq.mandate != nil && sq.mandate.Kind == KindFileTransfer {
		if sq.recomputeFileTransferRate(q.now()) {
			// Deadline already passed: drop everything queued for this flow.
			for _, dp := range sq.packets {
				q.logDrop(dp, "file-transfer deadline passed")
			}
			sq.packets = nil
			sq.bytesQueued = 0
		}
		sq.recomputePriority()
		q.dirty = true
	}
	if wasEmpty {
		q.cond.Broadcast()
	}
}

// PushHi routes pkt to the high-priority channel's tail.
func (q *Queue) PushHi(p *pkt.NetPacket) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hi.pushTail(p)
	q.cond.Broadcast()
}

// Repush re-enqueues a packet to the high-priority channel: the head
// if Syn is set, the tail otherwise. Used for missed-deadline and
// NAK-driven retransmission.
func (q *Queue) Repush(p *pkt.NetPacket) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p.Header.Flags&pkt.FlagSyn != 0 {
		q.hi.pushHead(p)
	} else {
		q.hi.pushTail(p)
	}
	q.cond.Broadcast()
}

// SetMandate installs or replaces a flow's mandate and (re)creates its
// token bucket, marking the queue order dirty.
func (q *Queue) SetMandate(flow [16]byte, m Mandate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	sq := q.flowQueue(flow)
	sq.mandate = &m
	sq.bucket = newTokenBucket(m.MinThroughputBps, q.now())
	sq.recomputePriority()
	q.dirty = true
}

// UpdateRate records a new observed nexthop MCS rate for flow and
// recomputes its priority, per the "when the next-hop's MCS rate
// changes" rule.
func (q *Queue) UpdateRate(flow [16]byte, rateBytesPerSec float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	sq := q.flowQueue(flow)
	sq.lastRate = rateBytesPerSec
	sq.recomputePriority()
	q.dirty = true
}

// CloseWindow deactivates (T4) all sub-queues destined for nexthop.
func (q *Queue) CloseWindow(nexthop uint8) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, sq := range q.order {
		if sq.nexthop == nexthop {
			sq.nexthopClosed = true
		}
	}
}

// OpenWindow reactivates sub-queues destined for nexthop.
func (q *Queue) OpenWindow(nexthop uint8) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, sq := range q.order {
		if sq.nexthop == nexthop {
			sq.nexthopClosed = false
		}
	}
	q.cond.Broadcast()
}

// SetBonusPhase enables or disables the round-robin fairness pass.
func (q *Queue) SetBonusPhase(on bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bonusPhase = on
}

// Disable causes Pop to return immediately with ok=false (used during
// shutdown); pushes are still accepted and will drain once re-enabled.
func (q *Queue) Disable() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.disabled = true
	q.cond.Broadcast()
}

// Enable reverses Disable.
func (q *Queue) Enable() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.disabled = false
}

func (q *Queue) logDrop(p *pkt.NetPacket, reason string) {
	if q.onDrop != nil {
		q.onDrop(p, reason)
	}
}

// recomputeOrder stable-sorts the non-hi sub-queues by descending
// priority (T3: sorted before the next pop if dirty).
func (q *Queue) recomputeOrder() {
	if !q.dirty {
		return
	}
	sort.SliceStable(q.order, func(i, j int) bool {
		return q.order[j].prio.less(q.order[i].prio)
	})
	q.dirty = false
}

// refillAndDrop refills sq's token bucket (if any) to now and drops
// any packets past their deadline, logging each drop inline (caller
// still holds q.mu; logDrop itself takes no lock so this is safe).
func (q *Queue) refillAndDrop(sq *subQueue, now time.Time) {
	if sq.bucket != nil && sq.mandate != nil {
		sq.bucket.refill(sq.mandate.MinThroughputBps, now)
	}
	for _, dp := range sq.dropExpired(now) {
		q.logDrop(dp, "deadline passed")
	}
}

// eligible reports whether sq may yield a packet in the ordinary
// (non-bonus) pass: not closed, non-empty, and (no bucket, or tokens > 0).
func eligible(sq *subQueue) bool {
	if sq.nexthopClosed || sq.empty() {
		return false
	}
	if sq.bucket == nil {
		return true
	}
	return sq.bucket.hasTokens()
}

// Pop returns the next packet to transmit, iterating sub-queues in
// descending priority order; if nothing is sendable and bonus phase is
// on, falls back to a round-robin pass across all sub-queues. Blocks
// until a packet is available, the queue is disabled, or (if shutdown
// closes it) the context is done via Disable.
func (q *Queue) Pop() (*pkt.NetPacket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.disabled {
			return nil, false
		}

		now := q.now()
		q.refillAndDrop(q.hi, now)
		if p := q.tryPop(q.hi, now); p != nil {
			return p, true
		}

		q.recomputeOrder()
		for _, sq := range q.order {
			q.refillAndDrop(sq, now)
		}

		for _, sq := range q.order {
			if eligible(sq) {
				if p := q.tryPop(sq, now); p != nil {
					return p, true
				}
			}
		}

		if q.bonusPhase {
			if p := q.popBonus(now); p != nil {
				return p, true
			}
		}

		q.cond.Wait()
	}
}

// TryPop behaves like Pop but never blocks: it returns ok=false
// immediately instead of waiting on the condition variable when
// nothing is currently sendable. Used by upstream ports (e.g. the
// synthesizer's per-channel pull) that must not stall a worker thread
// waiting on one channel while other channels have work.
func (q *Queue) TryPop() (*pkt.NetPacket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disabled {
		return nil, false
	}

	now := q.now()
	q.refillAndDrop(q.hi, now)
	if p := q.tryPop(q.hi, now); p != nil {
		return p, true
	}

	q.recomputeOrder()
	for _, sq := range q.order {
		q.refillAndDrop(sq, now)
	}
	for _, sq := range q.order {
		if eligible(sq) {
			if p := q.tryPop(sq, now); p != nil {
				return p, true
			}
		}
	}
	if q.bonusPhase {
		if p := q.popBonus(now); p != nil {
			return p, true
		}
	}
	return nil, false
}

// tryPop pops from sq if it has a ready (non-expired, already
// refilled/dropped by the caller) packet at its pop end.
func (q *Queue) tryPop(sq *subQueue, now time.Time) *pkt.NetPacket {
	if sq.empty() {
		return nil
	}
	p := sq.dropForPop()
	if sq.bucket != nil {
		sq.bucket.spend(float64(len(p.Payload)))
	}
	return p
}

// popBonus runs a round-robin pass across all sub-queues (including
// closed-window ones are still skipped, since there is nowhere to send
// them) starting at bonusIdx, ignoring token eligibility. Queues served
// during bonus still decrement tokens (open question 2: kept per spec
// wording) but are not required to have positive tokens first.
func (q *Queue) popBonus(now time.Time) *pkt.NetPacket {
	n := len(q.order)
	if n == 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		idx := (q.bonusIdx + i) % n
		sq := q.order[idx]
		if sq.nexthopClosed || sq.empty() {
			continue
		}
		p := sq.dropForPop()
		if sq.bucket != nil {
			sq.bucket.spend(float64(len(p.Payload)))
		}
		q.bonusIdx = (idx + 1) % n
		return p
	}
	return nil
}

// NewFlowUID returns a fresh random flow identifier.
func NewFlowUID() [16]byte {
	return [16]byte(uuid.New())
}
