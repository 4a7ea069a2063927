package mac

import (
	"dragonradio/mandate"
	"dragonradio/pkt"
)

// QueueSource adapts a single shared mandate.Queue into the
// synth.Source/Requeuer pair the synthesizer's per-channel workers
// pull from. chanIdx is ignored: this implementation routes every
// channel from one shared mandate queue rather than giving each
// channel its own upstream port (see DESIGN.md) — TryPop's priority
// ordering already picks the packet most deserving of the next slot
// regardless of which worker asks for it.
type QueueSource struct {
	q *mandate.Queue
}

// NewQueueSource wraps q for use as a Synthesizer's Source/Requeuer.
func NewQueueSource(q *mandate.Queue) *QueueSource {
	return &QueueSource{q: q}
}

// Recv never blocks: it is polled once per worker per channel per
// slot iteration, so blocking here would stall every other channel
// that worker is responsible for.
func (s *QueueSource) Recv(chanIdx int) (*pkt.NetPacket, bool) {
	return s.q.TryPop()
}

// Requeue pushes p back onto the high-priority queue, matching the
// "requeue, don't drop" rule for budget-exceeded and slot-closed
// packets (S4).
func (s *QueueSource) Requeue(p *pkt.NetPacket) {
	s.q.Repush(p)
}
