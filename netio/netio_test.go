package netio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"dragonradio/pkt"
)

func TestAddrAndMACForNodeEncodeNodeID(t *testing.T) {
	require.Equal(t, "10.10.10.42", AddrForNode(42).String())
	require.Equal(t, "c6:ff:ff:ff:00:2a", MACForNode(42).String())
	require.Equal(t, uint8(42), nodeIDFromMAC(MACForNode(42)))
}

func buildEthernetIPFrame(srcNode, dstNode, srcIPLast, dstIPLast byte, broadcast bool) []byte {
	frame := make([]byte, etherHeaderLen+20+4)
	dst := frame[0:6]
	src := frame[6:12]
	copy(src, MACForNode(srcNode))
	if broadcast {
		copy(dst, etherBroadcast[:])
	} else {
		copy(dst, MACForNode(dstNode))
	}
	frame[12], frame[13] = 0x08, 0x00 // ethertype IP

	ip := frame[etherHeaderLen:]
	ip[0] = 0x45 // version/IHL
	ip[12], ip[13], ip[14], ip[15] = 10, 10, 10, srcIPLast
	ip[16], ip[17], ip[18], ip[19] = 10, 10, 10, dstIPLast
	return frame
}

func netPacketFromFrame(frame []byte) *pkt.NetPacket {
	e := pkt.ExtendedHeader{DataLen: uint16(len(frame))}
	payload := make([]byte, pkt.ExtendedHeaderSize+len(frame))
	e.Marshal(payload[:pkt.ExtendedHeaderSize])
	copy(payload[pkt.ExtendedHeaderSize:], frame)
	return &pkt.NetPacket{Packet: pkt.Packet{Payload: payload}}
}

func TestNetFilterAcceptsReachableUnicast(t *testing.T) {
	nhood := StaticNeighborhood{This: 1, Peers: map[uint8]struct{}{2: {}}}
	f := NewNetFilter(nhood)

	frame := buildEthernetIPFrame(1, 2, 1, 2, false)
	p := netPacketFromFrame(frame)

	require.True(t, f.Process(p))
	require.Equal(t, uint8(1), p.Header.Curhop)
	require.Equal(t, uint8(2), p.Header.Nexthop)

	e, err := p.Ehdr()
	require.NoError(t, err)
	require.Equal(t, uint8(1), e.Src)
	require.Equal(t, uint8(2), e.Dest)
}

func TestNetFilterDropsUnreachableNexthop(t *testing.T) {
	nhood := StaticNeighborhood{This: 1, Peers: map[uint8]struct{}{2: {}}}
	f := NewNetFilter(nhood)

	frame := buildEthernetIPFrame(1, 9, 1, 9, false)
	p := netPacketFromFrame(frame)

	require.False(t, f.Process(p))
}

func TestNetFilterMarksBroadcastNexthop(t *testing.T) {
	f := NewNetFilter(nil)

	frame := buildEthernetIPFrame(1, 0, 1, 255, true)
	p := netPacketFromFrame(frame)

	require.True(t, f.Process(p))
	require.Equal(t, pkt.NodeBroadcast, p.Header.Nexthop)
}

func TestNetFilterDropsNonIPAndForeignSubnet(t *testing.T) {
	f := NewNetFilter(nil)

	arpFrame := buildEthernetIPFrame(1, 2, 1, 2, false)
	arpFrame[12], arpFrame[13] = 0x08, 0x06 // ARP, not IP
	require.False(t, f.Process(netPacketFromFrame(arpFrame)))

	foreignFrame := make([]byte, etherHeaderLen+20)
	copy(foreignFrame[6:12], MACForNode(1))
	copy(foreignFrame[0:6], MACForNode(2))
	foreignFrame[12], foreignFrame[13] = 0x08, 0x00
	foreignFrame[etherHeaderLen+12] = 192
	foreignFrame[etherHeaderLen+13] = 168
	require.False(t, f.Process(netPacketFromFrame(foreignFrame)))
}

func TestPacketCompressorTogglesFlag(t *testing.T) {
	c := NewPacketCompressor(true)
	p := &pkt.NetPacket{}
	c.CompressNet(p)
	require.NotZero(t, p.Header.Flags&pkt.FlagCompressed)

	rp := &pkt.RadioPacket{Packet: pkt.Packet{Header: pkt.Header{Flags: pkt.FlagCompressed}}}
	c.DecompressRadio(rp)
	require.Zero(t, rp.Header.Flags&pkt.FlagCompressed)

	disabled := NewPacketCompressor(false)
	p2 := &pkt.NetPacket{}
	disabled.CompressNet(p2)
	require.Zero(t, p2.Header.Flags&pkt.FlagCompressed)
}
