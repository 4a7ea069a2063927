package netio

import "dragonradio/pkt"

// PacketCompressor marks packets as compressed or not on the way to
// the radio, and clears the marking on the way back. The original
// reserves this stage for a real header-compression scheme but its
// shipped implementation is a pass-through buffer copy; we keep that
// shape and make the toggle meaningful by threading pkt.FlagCompressed
// through, so a future compressor only has to fill in CompressNet/
// DecompressRadio's bodies.
type PacketCompressor struct {
	Enabled bool
}

// NewPacketCompressor constructs a compressor in the given state.
func NewPacketCompressor(enabled bool) *PacketCompressor {
	return &PacketCompressor{Enabled: enabled}
}

// CompressNet runs on the net-to-radio path.
func (c *PacketCompressor) CompressNet(p *pkt.NetPacket) *pkt.NetPacket {
	if c.Enabled {
		p.Header.Flags |= pkt.FlagCompressed
	}
	return p
}

// DecompressRadio runs on the radio-to-net path.
func (c *PacketCompressor) DecompressRadio(rp *pkt.RadioPacket) *pkt.RadioPacket {
	rp.Header.Flags &^= pkt.FlagCompressed
	return rp
}
