package phy

import (
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"dragonradio/band"
	"dragonradio/pkt"
)

// ReferencePHY is a minimal, fully self-contained PHY plugin used to
// exercise the synthesizer/channelizer/demodulator pipeline. It is
// intentionally not a realistic wireless modem: framing/FEC/modulation
// internals are an explicit non-goal of this repository (spec.md §1),
// so the reference PHY maps each wire byte directly to one complex
// symbol (one sample per symbol, BPSK-style amplitude coding) behind a
// fixed correlation preamble, rather than implementing real pulse
// shaping, equalization, or forward error correction.
type ReferencePHY struct{}

// preamble is a fixed correlation sequence the demodulator searches
// for to establish packet sync.
var preamble = []complex64{1, -1, 1, -1, 1, 1, -1, -1}

func (ReferencePHY) MCSTable() []MCSEntry {
	return []MCSEntry{{Name: "ref-bpsk", AutoGain: false}}
}

func (ReferencePHY) MinRxRateOversample() uint32 { return 1 }
func (ReferencePHY) MinTxRateOversample() uint32 { return 1 }

// ModulatedSize returns the number of complex samples a payload of
// payloadLen bytes (plus the fixed 5-byte Header) will occupy:
// preamble + 2-byte length + header + payload, one sample per byte.
func (ReferencePHY) ModulatedSize(mcsidx int, payloadLen int) int {
	return len(preamble) + 2 + pkt.HeaderSize + payloadLen
}

func (ReferencePHY) NewModulator() PacketModulator { return &refModulator{} }

func (ReferencePHY) NewDemodulator(chanIdx int, ch band.Channel) PacketDemodulator {
	return &refDemodulator{chanIdx: chanIdx, channel: ch}
}

func byteToSymbol(b byte) complex64 {
	return complex((float32(b)-128)/128, 0)
}

func symbolToByte(c complex64) byte {
	v := real(c)*128 + 128
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return byte(math.Round(float64(v)))
}

type refModulator struct{}

// Modulate implements PacketModulator: serialize Header+Payload to
// bytes, frame with a fixed preamble and 2-byte length, map each byte
// to one complex symbol, and scale by gain.
func (refModulator) Modulate(p *pkt.NetPacket, gain float32) ([]complex64, error) {
	hdrBuf := make([]byte, pkt.HeaderSize)
	p.Header.Marshal(hdrBuf)
	wire := append(hdrBuf, p.Payload...)
	if len(wire) > 0xFFFF {
		return nil, fmt.Errorf("phy: packet too large for reference PHY: %d bytes", len(wire))
	}

	out := make([]complex64, 0, len(preamble)+2+len(wire))
	out = append(out, preamble...)
	out = append(out, byteToSymbol(byte(len(wire)>>8)), byteToSymbol(byte(len(wire))))
	for _, b := range wire {
		out = append(out, byteToSymbol(b))
	}
	for i := range out {
		out[i] *= complex(gain, 0)
	}
	return out, nil
}

type refDemodState int

const (
	stateSearching refDemodState = iota
	stateLength1
	stateLength2
	statePayload
)

type refDemodulator struct {
	chanIdx int
	channel band.Channel
	cb      func(*pkt.RadioPacket)

	state      refDemodState
	corr       []complex64 // rolling window, len(preamble)
	lenHi      byte
	wireLen    int
	wireBuf    []byte
	samplesIn  uint64 // absolute sample counter since Reset
	startSamp  uint64
	evmAccum   float64
	evmCount   int

	slotStart   time.Time
	snapshotOff int64
	offset      int
	delay       int
	rate        float64
	rxRate      float64
}

func (d *refDemodulator) Reset(ch band.Channel) {
	d.channel = ch
	d.state = stateSearching
	d.corr = nil
	d.wireBuf = nil
	d.samplesIn = 0
	d.evmAccum = 0
	d.evmCount = 0
}

func (d *refDemodulator) SetTimestamp(slotStart time.Time, snapshotOff int64, offset, delay int, rate, rxRate float64) {
	d.slotStart = slotStart
	d.snapshotOff = snapshotOff
	d.offset = offset
	d.delay = delay
	d.rate = rate
	d.rxRate = rxRate
}

func (d *refDemodulator) SetCallback(cb func(*pkt.RadioPacket)) {
	d.cb = cb
}

// Demodulate consumes a contiguous run of samples, updating the
// internal correlator/byte-assembly state machine and invoking the
// callback once per fully decoded packet, possibly spanning multiple
// Demodulate calls.
func (d *refDemodulator) Demodulate(samples []complex64) {
	for _, s := range samples {
		d.samplesIn++
		switch d.state {
		case stateSearching:
			d.corr = append(d.corr, s)
			if len(d.corr) > len(preamble) {
				d.corr = d.corr[1:]
			}
			if len(d.corr) == len(preamble) && correlates(d.corr, preamble) {
				d.startSamp = d.samplesIn - uint64(len(preamble))
				d.state = stateLength1
			}
		case stateLength1:
			d.lenHi = symbolToByte(s)
			d.state = stateLength2
		case stateLength2:
			lo := symbolToByte(s)
			d.wireLen = int(d.lenHi)<<8 | int(lo)
			d.wireBuf = make([]byte, 0, d.wireLen)
			if d.wireLen == 0 {
				d.finishPacket()
			} else {
				d.state = statePayload
			}
		case statePayload:
			d.wireBuf = append(d.wireBuf, symbolToByte(s))
			ideal := byteToSymbol(d.wireBuf[len(d.wireBuf)-1])
			d.evmAccum += cmplx.Abs(complex128(s - ideal))
			d.evmCount++
			if len(d.wireBuf) == d.wireLen {
				d.finishPacket()
			}
		}
	}
}

func correlates(got, want []complex64) bool {
	var errSum float32
	for i := range want {
		diff := got[i] - want[i]
		errSum += real(diff)*real(diff) + imag(diff)*imag(diff)
	}
	// Exact match is expected for the noiseless reference channel; a
	// small tolerance absorbs synthesizer/channelizer filter ripple.
	return errSum < 0.5
}

func (d *refDemodulator) finishPacket() {
	defer func() {
		d.state = stateSearching
		d.corr = nil
		d.wireBuf = nil
	}()

	if len(d.wireBuf) < pkt.HeaderSize {
		return
	}
	hdr, err := pkt.UnmarshalHeader(d.wireBuf[:pkt.HeaderSize])
	internal := pkt.InternalFlags(0)
	if err != nil {
		return // invalid header: dropped silently per spec.md §7
	}
	payload := append([]byte(nil), d.wireBuf[pkt.HeaderSize:]...)
	rp := &pkt.RadioPacket{
		Packet:        pkt.Packet{Header: hdr, Payload: payload},
		Channel:       d.chanIdx,
		SlotTimestamp: d.slotStart,
		StartSamples:  d.startSamp,
		EndSamples:    d.samplesIn,
		Internal:      internal,
	}
	if !rp.IntegrityIntact() {
		rp.Internal |= pkt.IFlagInvalidPayload
	}
	if d.evmCount > 0 {
		rp.EVM = float32(d.evmAccum / float64(d.evmCount))
	}
	rp.RSSI = rssiOf(d.wireBuf)
	if d.cb != nil {
		d.cb(rp)
	}
}

func rssiOf(wire []byte) float32 {
	if len(wire) == 0 {
		return 0
	}
	var sum float64
	for _, b := range wire {
		v := (float64(b) - 128) / 128
		sum += v * v
	}
	return float32(10 * math.Log10(sum/float64(len(wire))+1e-12))
}
