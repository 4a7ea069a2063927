// Package phy defines the pluggable PHY contract (spec.md §6): the
// inner framing/FEC/modulation algorithms are treated as an external
// plug-in with a fixed interface, not reimplemented here. This package
// provides that interface plus a minimal reference PHY sufficient to
// exercise the synthesizer and demodulator end to end.
package phy

import (
	"time"

	"dragonradio/band"
	"dragonradio/pkt"
)

// MCSEntry is one row of a PHY's modulation-and-coding table: a named
// scheme plus whether its gain should be auto-adjusted.
type MCSEntry struct {
	Name     string
	AutoGain bool
}

// PacketModulator turns a NetPacket into raw complex baseband samples
// at the given linear gain. It is not safe for concurrent use by
// multiple goroutines; the synthesizer creates one per worker.
type PacketModulator interface {
	Modulate(p *pkt.NetPacket, gain float32) (samples []complex64, err error)
}

// PacketDemodulator accumulates channel samples and invokes cb for
// each successfully (or unsuccessfully, with flags set) decoded
// packet. Not safe for concurrent use; the demodulator pool creates
// one per (thread, channel) pair.
type PacketDemodulator interface {
	Reset(ch band.Channel)
	SetTimestamp(slotStart time.Time, snapshotOff int64, offset, delay int, rate, rxRate float64)
	Demodulate(samples []complex64)
	SetCallback(cb func(*pkt.RadioPacket))
}

// PHY is the fixed external contract a modulation scheme implements.
type PHY interface {
	MCSTable() []MCSEntry
	MinRxRateOversample() uint32
	MinTxRateOversample() uint32
	ModulatedSize(mcsidx int, payloadLen int) int
	NewModulator() PacketModulator
	NewDemodulator(chanIdx int, ch band.Channel) PacketDemodulator
}
