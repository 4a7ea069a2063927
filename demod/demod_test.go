package demod

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dragonradio/band"
	"dragonradio/channelizer"
	"dragonradio/iqbuf"
	"dragonradio/phy"
	"dragonradio/pkt"
)

func TestBarrierQueueOrdersPacketsAheadOfBarrier(t *testing.T) {
	q := NewBarrierQueue()
	b1 := q.PushBarrier()

	p1 := &pkt.RadioPacket{Packet: pkt.Packet{Header: pkt.Header{Curhop: 1}}}
	p2 := &pkt.RadioPacket{Packet: pkt.Packet{Header: pkt.Header{Curhop: 2}}}
	q.PushBefore(b1, p1)
	q.PushBefore(b1, p2)

	got1, ok := popNonBlocking(q)
	require.True(t, ok)
	require.Same(t, p1, got1)

	got2, ok := popNonBlocking(q)
	require.True(t, ok)
	require.Same(t, p2, got2)

	// The barrier is still in place: nothing further should be
	// deliverable until it's erased.
	require.False(t, popHasImmediateResult(q))

	q.EraseBarrier(b1)
	q.Close()
	_, ok = q.Pop()
	require.False(t, ok)
}

// popNonBlocking relies on there being no barrier ahead of available
// packets; used only where the test has already arranged that.
func popNonBlocking(q *BarrierQueue) (*pkt.RadioPacket, bool) {
	q.mu.Lock()
	front := q.list.Front()
	if front == nil {
		q.mu.Unlock()
		return nil, false
	}
	e := front.Value.(*entry)
	if e.kind == kindBarrier {
		q.mu.Unlock()
		return nil, false
	}
	q.list.Remove(front)
	q.mu.Unlock()
	return e.pkt, true
}

func popHasImmediateResult(q *BarrierQueue) bool {
	_, ok := popNonBlocking(q)
	return ok
}

func TestPoolDeliversPacketThroughLoopbackPHY(t *testing.T) {
	ch := band.Channel{FC: 0, BW: 48000}
	params := channelizer.Params{FilterLen: 9, OverlapFactor: 4}
	pool := New(phy.ReferencePHY{}, params, 48000, []band.Channel{ch}, 1)

	mod := phy.ReferencePHY{}.NewModulator()
	hdr := pkt.Header{Curhop: 1, Nexthop: 2}
	e := pkt.ExtendedHeader{Src: 1, Dest: 2}
	payload := pkt.AssemblePayload(&hdr, e, []byte("hello"), nil)
	np := &pkt.NetPacket{Packet: pkt.Packet{Header: hdr, Payload: payload}, G: 1}

	samples, err := mod.Modulate(np, 1)
	require.NoError(t, err)

	// Lead and trail with overlap-length silence so the overlap-save
	// filter's edge transient settles before/after the packet, and the
	// whole packet flushes out of the pipeline.
	silence := make([]complex64, params.O()*2)
	wideband := make([]complex64, 0, len(silence)*2+len(samples))
	wideband = append(wideband, silence...)
	wideband = append(wideband, samples...)
	wideband = append(wideband, silence...)

	buf := iqbuf.New(len(wideband))
	copy(buf.Samples, wideband)
	buf.SetNsamples(len(wideband))
	buf.MarkComplete()

	done := make(chan *pkt.RadioPacket, 1)
	go func() {
		rp, ok := pool.Queue().Pop()
		if ok {
			done <- rp
		} else {
			done <- nil
		}
	}()

	pool.ProcessSlot(buf, time.Now(), 0)

	select {
	case rp := <-done:
		require.NotNil(t, rp)
		require.Equal(t, hdr.Curhop, rp.Header.Curhop)
		require.Equal(t, "hello", string(rp.Payload[pkt.ExtendedHeaderSize:]))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decoded packet")
	}
}
