package synth

import (
	"sync"
	"sync/atomic"
	"time"

	"dragonradio/band"
	"dragonradio/iqbuf"
	"dragonradio/pkt"
)

// ModPacket is a modulated packet: which channel it rides, its sample
// offset within the slot and within the synthesizer's output buffer,
// its sample count, the modulated samples themselves, and the source
// packet (kept for logging/TX-record purposes).
type ModPacket struct {
	ChanIdx  int
	Channel  band.Channel
	Start    int // sample offset from slot start
	Offset   int // sample offset within Samples
	Nsamples int
	Samples  *iqbuf.IQBuf
	Pkt      *pkt.NetPacket
}

// Slot is a single TX slot: the set of modulated packets and the
// shared frequency-domain accumulation buffer that N synthesizer
// worker threads cooperatively fill and finalize.
type Slot struct {
	SlotIdx         int
	Deadline        time.Time
	MaxSamples      int // slot.max_samples
	FullSlotSamples int // slot.full_slot_samples (overfill ceiling)
	Delay           int // leading samples carried from previous slot

	mu      sync.Mutex
	fdbuf   []complex128 // N * nblocks, zeroed and grown on first touch
	nblocks int
	params  Params

	Mpkts  []*ModPacket
	IQBufs []*iqbuf.IQBuf

	Nsamples   int // slot.nsamples once finalized
	FDNsamples int // multiple of N: blocks actually produced
	NPartial   int // samples consumed past MaxSamples (overfill carry)

	closed    int32 // atomic bool
	nfinished int32 // atomic counter of workers that have finished
	nthreads  int32

	once sync.Once
}

// ensureFDBuf allocates (once, by whichever worker touches the slot
// first) the frequency-domain buffer sized for the worst-case number
// of blocks this slot could require.
func (s *Slot) ensureFDBuf(params Params) {
	s.once.Do(func() {
		s.params = params
		n := params.N()
		l := params.L()
		nblocks := 1 + (s.FullSlotSamples+l-1)/l
		if nblocks < 1 {
			nblocks = 1
		}
		s.fdbuf = make([]complex128, n*nblocks)
		s.nblocks = nblocks
	})
}

// accumulateBlock adds (superposes) a channel's filtered, rotated
// frequency-domain block into the slot's shared buffer at blockIdx,
// growing the buffer if a worker reaches a block index beyond the
// pre-sized estimate (can happen under overfill).
func (s *Slot) accumulateBlock(blockIdx int, block []complex128) {
	n := len(block)
	s.mu.Lock()
	defer s.mu.Unlock()
	needed := (blockIdx + 1) * n
	if needed > len(s.fdbuf) {
		grown := make([]complex128, needed)
		copy(grown, s.fdbuf)
		s.fdbuf = grown
	}
	if blockIdx+1 > s.nblocks {
		s.nblocks = blockIdx + 1
	}
	off := blockIdx * n
	for i, v := range block {
		s.fdbuf[off+i] += v
	}
	if needed > s.FDNsamples {
		s.FDNsamples = needed
	}
}

// addMpkt records a completed ModPacket under the slot's lock.
func (s *Slot) addMpkt(mp *ModPacket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Mpkts = append(s.Mpkts, mp)
}

// Closed reports whether the slot has been closed (e.g. deadline
// passed, schedule changed).
func (s *Slot) Closed() bool {
	return atomic.LoadInt32(&s.closed) != 0
}

// Close marks the slot closed; in-flight workers must check this and
// re-enqueue, not drop, any packet still being consumed (S4).
func (s *Slot) Close() {
	atomic.StoreInt32(&s.closed, 1)
}

// finishWorker increments the finished-worker counter and reports
// whether this call is the one that brings it to nthreads (i.e. this
// worker is responsible for finalizing the slot).
func (s *Slot) finishWorker() (isLast bool) {
	return atomic.AddInt32(&s.nfinished, 1) == atomic.LoadInt32(&s.nthreads)
}
