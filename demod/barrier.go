// Package demod implements the parallel packet demodulator: per-slot
// fan-out across a worker pool of channelizer+PHY-demodulator pairs,
// and a barrier queue that preserves per-channel delivery order
// despite that parallelism.
package demod

import (
	"container/list"
	"sync"

	"dragonradio/pkt"
)

type entryKind int

const (
	kindPacket entryKind = iota
	kindBarrier
)

type entry struct {
	kind entryKind
	pkt  *pkt.RadioPacket
	id   uint64
}

// BarrierQueue is the ordered-delivery structure from spec.md §4.5: a
// plain FIFO of packets with barrier tokens interspersed. A slot's
// worker pool pushes a barrier to the tail before starting, inserts
// each decoded packet immediately before its own barrier as it's
// produced, and erases the barrier once every worker for that slot has
// finished. A delivery goroutine pops from the head, blocking when it
// reaches a barrier still in place.
type BarrierQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	list     *list.List
	barriers map[uint64]*list.Element
	nextID   uint64
	closed   bool
}

// NewBarrierQueue creates an empty barrier queue.
func NewBarrierQueue() *BarrierQueue {
	q := &BarrierQueue{
		list:     list.New(),
		barriers: make(map[uint64]*list.Element),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// PushBarrier appends a new barrier token to the tail and returns its
// id, to be used with PushBefore and EraseBarrier.
func (q *BarrierQueue) PushBarrier() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextID
	q.nextID++
	el := q.list.PushBack(&entry{kind: kindBarrier, id: id})
	q.barriers[id] = el
	return id
}

// PushBefore inserts p immediately before the named barrier. A no-op
// if the barrier has already been erased (the slot it belonged to has
// fully finished, which should not happen if callers erase barriers
// only after every worker completes).
func (q *BarrierQueue) PushBefore(barrierID uint64, p *pkt.RadioPacket) {
	q.mu.Lock()
	defer q.mu.Unlock()
	el, ok := q.barriers[barrierID]
	if !ok {
		return
	}
	q.list.InsertBefore(&entry{kind: kindPacket, pkt: p}, el)
	q.cond.Broadcast()
}

// EraseBarrier removes the named barrier, unblocking delivery past it.
func (q *BarrierQueue) EraseBarrier(barrierID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	el, ok := q.barriers[barrierID]
	if !ok {
		return
	}
	q.list.Remove(el)
	delete(q.barriers, barrierID)
	q.cond.Broadcast()
}

// Pop blocks until a packet is available at the head, returning false
// once the queue is closed and drained.
func (q *BarrierQueue) Pop() (*pkt.RadioPacket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		front := q.list.Front()
		if front == nil {
			if q.closed {
				return nil, false
			}
			q.cond.Wait()
			continue
		}
		e := front.Value.(*entry)
		if e.kind == kindBarrier {
			if q.closed {
				return nil, false
			}
			q.cond.Wait()
			continue
		}
		q.list.Remove(front)
		return e.pkt, true
	}
}

// Close disables the queue. Pop still returns packets queued ahead of
// the first barrier; once it reaches an empty queue or a barrier, it
// returns false.
func (q *BarrierQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
