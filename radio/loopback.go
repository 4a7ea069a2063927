package radio

import (
	"sync/atomic"
	"time"

	"dragonradio/iqbuf"
)

// burst is one transmitted buffer set handed from a LoopbackRadio's TX
// side to its paired RX side.
type burst struct {
	t     time.Time
	bufs  []*iqbuf.IQBuf
}

// LoopbackRadio is an in-process Radio test double: bursts transmitted
// on one end of a Pair are delivered, sample-for-sample, to BurstRx
// calls on the other end. Used for single-host integration tests
// (spec.md scenario 1, "unicast loopback, no radio"). Instances are
// only created in pairs by NewLoopbackPair.
type LoopbackRadio struct {
	rxRate, txRate float64
	ch             chan burst // inbound: bursts transmitted by the peer
	txOut          chan burst // outbound: this radio's BurstTx destination
	inBurst        int32      // atomic bool

	underflow uint64
	late      uint64

	pending []complex64
}

// NewLoopbackPair builds two LoopbackRadios wired to each other: a's
// TX delivers to b's RX and vice versa.
func NewLoopbackPair() (a, b *LoopbackRadio) {
	ab := make(chan burst, 64)
	ba := make(chan burst, 64)
	a = &LoopbackRadio{ch: ba}
	b = &LoopbackRadio{ch: ab}
	a.txTo(ab)
	b.txTo(ba)
	return a, b
}

// txTo is set by NewLoopbackPair to route this radio's BurstTx output
// to the peer's RX channel; kept separate from ch (this radio's own
// inbound channel) so a single struct can hold both directions.
func (r *LoopbackRadio) txTo(out chan burst) {
	r.txOut = out
}

func (r *LoopbackRadio) SetRxRate(rate float64) { r.rxRate = rate }
func (r *LoopbackRadio) SetTxRate(rate float64) { r.txRate = rate }
func (r *LoopbackRadio) GetRxRate() float64     { return r.rxRate }
func (r *LoopbackRadio) GetTxRate() float64     { return r.txRate }

func (r *LoopbackRadio) StartRxStream(t time.Time) error { return nil }
func (r *LoopbackRadio) StopRxStream() error             { return nil }

// BurstRx drains queued transmitted samples into buf, blocking until
// at least one burst arrives or 100ms pass with nothing arriving (a
// clean timeout, matching the "no data yet" RX case); t is not used.
func (r *LoopbackRadio) BurstRx(t time.Time, nsamples int, buf *iqbuf.IQBuf) (bool, error) {
	n := 0
	if len(r.pending) > 0 {
		n += r.drainPending(buf, n, nsamples)
	}
	if n >= nsamples {
		buf.SetNsamples(n)
		buf.MarkComplete()
		return true, nil
	}

	select {
	case b := <-r.ch:
		r.pending = append(r.pending, flatten(b.bufs)...)
		n += r.drainPending(buf, n, nsamples)
	case <-time.After(100 * time.Millisecond):
		buf.SetNsamples(n)
		buf.MarkComplete()
		return false, nil
	}

	buf.SetNsamples(n)
	buf.MarkComplete()
	return true, nil
}

func (r *LoopbackRadio) drainPending(buf *iqbuf.IQBuf, n, nsamples int) int {
	take := nsamples - n
	if take > len(r.pending) {
		take = len(r.pending)
	}
	buf.Grow(n + take)
	copy(buf.Samples[n:n+take], r.pending[:take])
	r.pending = r.pending[take:]
	return take
}

func flatten(bufs []*iqbuf.IQBuf) []complex64 {
	var out []complex64
	for _, b := range bufs {
		out = append(out, b.Samples[:b.Nsamples()]...)
	}
	return out
}

func (r *LoopbackRadio) BurstTx(t time.Time, startOfBurst, endOfBurst bool, bufs []*iqbuf.IQBuf) error {
	atomic.StoreInt32(&r.inBurst, boolToInt32(!endOfBurst))
	r.txOut <- burst{t: t, bufs: bufs}
	return nil
}

func (r *LoopbackRadio) StopTxBurst() error {
	atomic.StoreInt32(&r.inBurst, 0)
	return nil
}

func (r *LoopbackRadio) InTxBurst() bool { return atomic.LoadInt32(&r.inBurst) != 0 }

func (r *LoopbackRadio) TxUnderflowCount() uint64 { return atomic.LoadUint64(&r.underflow) }
func (r *LoopbackRadio) TxLateCount() uint64      { return atomic.LoadUint64(&r.late) }

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
