package synth

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"dragonradio/band"
	"dragonradio/phy"
	"dragonradio/pkt"
	"dragonradio/schedule"
)

// fakeSource hands out a fixed, per-channel queue of packets; Recv
// pops the front, Requeue pushes back to the front so a requeued
// packet is retried before anything else queued behind it.
type fakeSource struct {
	mu    sync.Mutex
	queue map[int][]*pkt.NetPacket
}

func newFakeSource() *fakeSource {
	return &fakeSource{queue: make(map[int][]*pkt.NetPacket)}
}

func (f *fakeSource) add(chanIdx int, p *pkt.NetPacket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue[chanIdx] = append(f.queue[chanIdx], p)
}

func (f *fakeSource) Recv(chanIdx int) (*pkt.NetPacket, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queue[chanIdx]
	if len(q) == 0 {
		return nil, false
	}
	p := q[0]
	f.queue[chanIdx] = q[1:]
	return p, true
}

// requeueRecorder records which packets got bounced back, without
// re-feeding them (sufficient for asserting S4 without infinite-looping
// the worker against a source that always has the packet ready again).
type requeueRecorder struct {
	mu       sync.Mutex
	requeued []*pkt.NetPacket
}

func (r *requeueRecorder) Requeue(p *pkt.NetPacket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requeued = append(r.requeued, p)
}

func testParams() Params {
	return Params{FilterLen: 9, OverlapFactor: 4} // O=8, N=32, L=24
}

func makePacket(payloadLen int) *pkt.NetPacket {
	hdr := pkt.Header{Curhop: 1, Nexthop: 2}
	e := pkt.ExtendedHeader{Src: 1, Dest: 2}
	payload := pkt.AssemblePayload(&hdr, e, make([]byte, payloadLen), nil)
	return &pkt.NetPacket{
		Packet: pkt.Packet{Header: hdr, Payload: payload},
		G:      1,
	}
}

func TestSingleChannelProducesFinalizedSamples(t *testing.T) {
	params := testParams()
	channels := []band.Channel{{FC: 0, BW: 48000}}
	synthesizer := New(phy.ReferencePHY{}, params, 48000, channels, 1, nil)

	slot := &Slot{SlotIdx: 0, MaxSamples: 200, FullSlotSamples: 300}

	source := newFakeSource()
	p := makePacket(10)
	// ModulatedSize = preamble(8) + 2 + HeaderSize(5) + extHdr+data(6+10) = 31
	source.add(0, p)

	rq := &requeueRecorder{}
	synthesizer.ModulateSlot(slot, source, rq)

	require.Empty(t, rq.requeued)
	require.Len(t, slot.Mpkts, 1)
	require.NotEmpty(t, slot.IQBufs)
	require.Greater(t, slot.Nsamples, 0)
	require.Equal(t, slot.Nsamples, slot.Delay+len(slot.IQBufs[0].Samples))
}

func TestOverfillPermittedWithinFullSlotBudget(t *testing.T) {
	params := testParams()
	channels := []band.Channel{{FC: 0, BW: 48000}}

	sched := schedule.New(1, 4, 0, 0)
	sched.Bits[0][0] = true
	sched.Bits[0][1] = true // MayOverfill(0,0) true

	synthesizer := New(phy.ReferencePHY{}, params, 48000, channels, 1, sched)

	// A payload large enough that its modulated size exceeds MaxSamples
	// but stays within FullSlotSamples, exercising S3/overfill carry.
	slot := &Slot{SlotIdx: 0, MaxSamples: 30, FullSlotSamples: 100}

	source := newFakeSource()
	p := makePacket(40) // preamble(8)+2+hdr(5)+extHdr(6)+40 = 61 samples
	source.add(0, p)

	rq := &requeueRecorder{}
	synthesizer.ModulateSlot(slot, source, rq)

	require.Empty(t, rq.requeued)
	require.Len(t, slot.Mpkts, 1)
	require.Greater(t, slot.NPartial, 0, "overfill should record samples past MaxSamples")
}

func TestPacketTooLargeIsRequeuedNotDropped(t *testing.T) {
	params := testParams()
	channels := []band.Channel{{FC: 0, BW: 48000}}
	synthesizer := New(phy.ReferencePHY{}, params, 48000, channels, 1, nil)

	// No overfill permitted (sched nil -> budget always MaxSamples), and
	// the packet's modulated size exceeds that budget outright.
	slot := &Slot{SlotIdx: 0, MaxSamples: 10, FullSlotSamples: 10}

	source := newFakeSource()
	p := makePacket(40)
	source.add(0, p)

	rq := &requeueRecorder{}
	synthesizer.ModulateSlot(slot, source, rq)

	require.Len(t, rq.requeued, 1)
	require.Empty(t, slot.Mpkts)
}

func TestClosedSlotStopsWorkersWithoutFinalizing(t *testing.T) {
	params := testParams()
	channels := []band.Channel{{FC: 0, BW: 48000}, {FC: 12000, BW: 48000}}
	synthesizer := New(phy.ReferencePHY{}, params, 48000, channels, 2, nil)

	slot := &Slot{SlotIdx: 0, MaxSamples: 200, FullSlotSamples: 300}
	slot.Close()

	source := newFakeSource()
	source.add(0, makePacket(10))
	source.add(1, makePacket(10))

	rq := &requeueRecorder{}
	synthesizer.ModulateSlot(slot, source, rq)

	require.Empty(t, slot.Mpkts)
	require.Empty(t, slot.IQBufs)
}

// TestNarrowChannelPicksIntegerUpsampleFactor checks that a channel
// whose bandwidth is a clean fraction of the output rate gets an
// integer upsample factor dividing the shared overlap length exactly,
// and that a full-rate channel still resolves to X=1.
func TestNarrowChannelPicksIntegerUpsampleFactor(t *testing.T) {
	params := testParams() // O=8, N=32, L=24

	narrow := newChannelState(0, band.Channel{FC: 0, BW: 12000}, params, 48000)
	require.Equal(t, 4, narrow.upFactor)
	require.Equal(t, 8, narrow.nc)
	require.Equal(t, 2, narrow.oc)
	require.Equal(t, 6, narrow.lc)

	fullRate := newChannelState(1, band.Channel{FC: 0, BW: 48000}, params, 48000)
	require.Equal(t, 1, fullRate.upFactor)
	require.Equal(t, params.N(), fullRate.nc)
}

// TestNarrowChannelFeedUpsamplesIntoWidebandBlocks drives a
// lower-bandwidth channel's overlap-save filter directly and checks
// that every channel-local block it completes contributes one
// full-width, N-sample block to the slot's shared buffer — the
// channel-local FFT runs at nc=N/X, but accumulateBlock always sees
// an N-sample result once the spectrum has been expanded back up.
func TestNarrowChannelFeedUpsamplesIntoWidebandBlocks(t *testing.T) {
	params := testParams() // O=8, N=32, L=24
	cs := newChannelState(0, band.Channel{FC: 0, BW: 12000}, params, 48000)
	require.Equal(t, 6, cs.lc)

	slot := &Slot{SlotIdx: 0, MaxSamples: 1000, FullSlotSamples: 1000}
	slot.ensureFDBuf(params)

	samples := make([]complex64, 5*cs.lc) // exactly 5 channel-local blocks
	for i := range samples {
		samples[i] = complex(1, 0)
	}
	cs.feed(samples, slot, params)

	require.Equal(t, 5, cs.blocksProduced)
	require.Equal(t, 5*params.N(), slot.FDNsamples)
}
