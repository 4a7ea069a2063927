package synth

import (
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"dragonradio/band"
	"dragonradio/iqbuf"
	"dragonradio/phy"
	"dragonradio/pkt"
	"dragonradio/schedule"
)

// Source supplies the next queued NetPacket for a channel, if any.
// ok is false when nothing is currently available; the worker moves
// on without blocking (the slot may still be getting packets from
// other channels).
type Source interface {
	Recv(chanIdx int) (*pkt.NetPacket, bool)
}

// Requeuer re-enqueues a packet that could not be modulated into the
// current slot (budget exceeded, or the slot closed mid-modulation).
// S4: a packet still being consumed when a slot closes is re-enqueued,
// not dropped.
type Requeuer interface {
	Requeue(p *pkt.NetPacket)
}

// channelState is the synthesizer's persistent per-channel modulator
// state (mods_[chanidx] in spec.md §4.4): it outlives individual
// slots so partial FFT blocks and overfill carry survive across slot
// boundaries.
//
// Each channel runs its own overlap-save filter at its own, generally
// slower, rate: upFactor X = outRate/channel_rate is chosen as the
// divisor of the shared overlap O nearest that ratio, giving an exact
// channel-local FFT size nc = N/X, overlap oc = O/X, filter length
// pc = oc+1 and block stride lc = nc-oc. Every lc-sample chunk of
// channel-rate input is filtered at size nc, then interpolated back up
// to the shared wideband FFT size N and rotated into the channel's
// place in the combined spectrum before being folded into the slot's
// buffer — so every channel, regardless of its own rate, still
// contributes N-sample blocks to the one shared IFFT.
type channelState struct {
	chanIdx int
	channel band.Channel

	upFactor int // X = outRate/channel_rate, a divisor of O
	n        int // shared wideband FFT size, N
	nc       int // channel-local FFT size, N/X
	oc       int // channel-local overlap, O/X
	lc       int // channel-local block stride, nc-oc
	nrot     int // wideband bin rotation to this channel's center frequency

	hfd []complex128 // channel-local, unrotated lowpass filter, size nc
	fft *fourier.CmplxFFT // size nc

	carry        []complex64 // oc channel-rate samples carried from the previous block
	pendingInput []complex64 // < lc channel-rate samples waiting to complete the next block

	blocksProduced     int // blocks written into the current slot so far
	samplesFedThisSlot int // output-rate (wideband) samples fed this slot
}

func newChannelState(chanIdx int, ch band.Channel, params Params, outRate float64) *channelState {
	n, o := params.N(), params.O()
	x := rateFactor(o, ch.BW, outRate)
	nc := n / x
	oc := o / x
	pc := oc + 1
	lc := nc - oc

	channelRate := outRate / float64(x)
	cutoff := ch.BW / channelRate

	fft := fourier.NewCmplxFFT(nc)
	hfd := buildLowpassFD(fft, pc, nc, cutoff)

	return &channelState{
		chanIdx:  chanIdx,
		channel:  ch,
		upFactor: x,
		n:        n,
		nc:       nc,
		oc:       oc,
		lc:       lc,
		nrot:     rotationBins(n, ch.FC, outRate),
		hfd:      hfd,
		fft:      fft,
		carry:    make([]complex64, oc),
	}
}

// resetForSlot clears this channel's per-slot accounting; the
// overlap-save carry and any not-yet-block-complete pending samples
// are deliberately NOT cleared, implementing continuation of partial
// FFT blocks across slot boundaries.
func (cs *channelState) resetForSlot() {
	cs.blocksProduced = 0
	cs.samplesFedThisSlot = 0
}

// feed appends new channel-rate baseband samples and, for every
// complete nc = oc+lc channel-local block, filters it at the channel's
// own rate, upsamples the result to the shared wideband FFT size, and
// folds it into slot's shared frequency-domain buffer at the channel's
// place in the combined spectrum.
func (cs *channelState) feed(samples []complex64, slot *Slot, params Params) {
	cs.pendingInput = append(cs.pendingInput, samples...)
	for len(cs.pendingInput) >= cs.lc {
		block := make([]complex64, 0, cs.nc)
		block = append(block, cs.carry...)
		block = append(block, cs.pendingInput[:cs.lc]...)
		cs.pendingInput = cs.pendingInput[cs.lc:]

		cin := make([]complex128, len(block))
		for i, v := range block {
			cin[i] = complex128(v)
		}
		xc := cs.fft.Coefficients(nil, cin)
		yc := make([]complex128, len(xc))
		for i := range xc {
			yc[i] = xc[i] * cs.hfd[i]
		}

		y := expandSpectrum(yc, cs.n)
		y = rotate(y, cs.nrot)

		slot.accumulateBlock(cs.blocksProduced, y)
		cs.blocksProduced++

		cs.carry = block[cs.lc:]
	}
}

// Synthesizer modulates NetPackets into a shared, slot-aligned
// wideband frequency-domain buffer using nthreads worker goroutines,
// one overlap-save upsampler per logical channel.
type Synthesizer struct {
	params   Params
	outRate  float64
	nthreads int
	phy      phy.PHY

	mu       sync.Mutex
	channels []band.Channel
	states   []*channelState
	sched    *schedule.Schedule
}

// New creates a Synthesizer for the given channel list, sharing
// params and the wideband output rate across all of them.
func New(phy phy.PHY, params Params, outRate float64, channels []band.Channel, nthreads int, sched *schedule.Schedule) *Synthesizer {
	s := &Synthesizer{
		params:   params,
		outRate:  outRate,
		nthreads: nthreads,
		phy:      phy,
		channels: channels,
		sched:    sched,
	}
	for i, ch := range channels {
		s.states = append(s.states, newChannelState(i, ch, params, outRate))
	}
	return s
}

// gMultichan is 1/nchannels_active, the per-channel gain attenuation
// applied so multiple superposed channels don't clip the combined
// wideband signal.
func (s *Synthesizer) gMultichan() float32 {
	n := len(s.channels)
	if n == 0 {
		return 1
	}
	return 1 / float32(n)
}

// ModulateSlot runs the full multi-thread modulation protocol for
// slot: nthreads workers stride across channels, pull packets from
// source, modulate and upsample them into slot's shared buffer, and
// the worker that brings slot.nfinished to nthreads finalizes it.
func (s *Synthesizer) ModulateSlot(slot *Slot, source Source, requeue Requeuer) {
	slot.ensureFDBuf(s.params)
	slot.nthreads = int32(s.nthreads)

	var wg sync.WaitGroup
	for worker := 0; worker < s.nthreads; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			s.runWorker(worker, slot, source, requeue)
		}(worker)
	}
	wg.Wait()
}

func (s *Synthesizer) runWorker(worker int, slot *Slot, source Source, requeue Requeuer) {
	gMulti := s.gMultichan()
	mod := s.phy.NewModulator()

	for chanIdx := worker; chanIdx < len(s.states); chanIdx += s.nthreads {
		cs := s.states[chanIdx]
		cs.resetForSlot()

		for {
			if slot.Closed() {
				break
			}

			p, ok := source.Recv(chanIdx)
			if !ok {
				break
			}

			samples, err := mod.Modulate(p, p.G*gMulti)
			if err != nil {
				continue
			}

			// samples are produced at this channel's own rate; slot
			// budgets and ModPacket offsets are all in wideband
			// (output-rate) samples, so scale by the channel's
			// upsample factor before any bookkeeping against them.
			outSamples := len(samples) * cs.upFactor

			budget := slot.MaxSamples
			if s.sched != nil && s.sched.MayOverfill(chanIdx, slot.SlotIdx) {
				budget = slot.FullSlotSamples
			}
			if cs.samplesFedThisSlot+outSamples > budget {
				requeue.Requeue(p)
				break
			}

			if slot.Closed() {
				requeue.Requeue(p)
				break
			}

			mpkt := &ModPacket{
				ChanIdx:  chanIdx,
				Channel:  cs.channel,
				Start:    cs.samplesFedThisSlot,
				Nsamples: outSamples,
				Samples:  wrapSamples(samples),
				Pkt:      p,
			}
			cs.feed(samples, slot, s.params)
			cs.samplesFedThisSlot += outSamples
			if cs.samplesFedThisSlot > slot.MaxSamples {
				partial := cs.samplesFedThisSlot - slot.MaxSamples
				slot.mu.Lock()
				if partial > slot.NPartial {
					slot.NPartial = partial
				}
				slot.mu.Unlock()
			}
			slot.addMpkt(mpkt)
		}
	}

	if slot.finishWorker() {
		s.finalize(slot)
	}
}

func wrapSamples(samples []complex64) *iqbuf.IQBuf {
	b := iqbuf.New(len(samples))
	copy(b.Samples, samples)
	b.SetNsamples(len(samples))
	b.MarkComplete()
	return b
}

// finalize performs the IFFT across slot.FDNsamples/N completed
// blocks, keeping the final L samples of each block's inverse
// transform (the overlap-save "valid" region), concatenating them
// into the slot's finalized time-domain IQ buffer. A slot with no
// completed block gets no buffer.
func (s *Synthesizer) finalize(slot *Slot) {
	n := s.params.N()
	l := s.params.L()
	o := s.params.O()

	nblocks := slot.FDNsamples / n
	out := make([]complex64, 0, l*nblocks)

	fft := fourier.NewCmplxFFT(n)
	// Sequence is unnormalized: scale by 1/N to complete the inverse.
	scale := complex(1/float64(n), 0)
	for b := 0; b < nblocks; b++ {
		block := slot.fdbuf[b*n : (b+1)*n]
		td := fft.Sequence(nil, block)
		for _, v := range td[o : o+l] {
			out = append(out, complex64(v*scale))
		}
	}

	if nblocks == 0 {
		slot.mu.Lock()
		slot.Nsamples = slot.Delay
		slot.mu.Unlock()
		return
	}

	iq := iqbuf.New(len(out))
	copy(iq.Samples, out)
	iq.SetNsamples(len(out))
	iq.MarkComplete()
	iq.Delay = slot.Delay

	slot.mu.Lock()
	slot.Nsamples = slot.Delay + len(out)
	slot.IQBufs = append(slot.IQBufs, iq)
	slot.mu.Unlock()
}
