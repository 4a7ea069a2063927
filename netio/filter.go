package netio

import (
	"encoding/binary"
	"log"

	"dragonradio/pkt"
)

const (
	etherHeaderLen = 14
	etherTypeIP    = 0x0800
)

var etherBroadcast = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Neighborhood reports which node ids this node currently considers
// reachable, so the filter can drop traffic addressed to an unknown
// peer rather than hand it to a MAC that has no route for it.
type Neighborhood interface {
	ThisNode() uint8
	Contains(id uint8) bool
}

// StaticNeighborhood is a fixed membership set, useful for tests and
// for networks whose topology is configured rather than discovered.
type StaticNeighborhood struct {
	This  uint8
	Peers map[uint8]struct{}
}

func (n StaticNeighborhood) ThisNode() uint8 { return n.This }

func (n StaticNeighborhood) Contains(id uint8) bool {
	_, ok := n.Peers[id]
	return ok
}

// NetFilter inspects the Ethernet+IP frame a NetPacket carries fresh
// off the tap device, derives curhop/nexthop/src/dest from MAC and IP
// addresses by the network's last-octet-is-node-id convention, and
// drops anything that isn't an internal-network IP packet this node
// is allowed to originate. Grounded on the original's NetFilter,
// simplified to a single internal /24 (the original's external-subnet
// branch is a deployment detail not exercised by the core pipeline).
type NetFilter struct {
	neighbors Neighborhood
}

// NewNetFilter constructs a filter for the given neighborhood. A nil
// neighbors is treated as "every nexthop is reachable."
func NewNetFilter(neighbors Neighborhood) *NetFilter {
	return &NetFilter{neighbors: neighbors}
}

// Process inspects p in place, filling in Header.Curhop/Nexthop and
// the payload's ExtendedHeader Src/Dest. It returns false if the
// packet should be dropped (non-IP, wrong subnet, or an unreachable
// nexthop).
func (f *NetFilter) Process(p *pkt.NetPacket) bool {
	e, err := p.Ehdr()
	if err != nil {
		log.Printf("netio: dropped packet with malformed extended header: %v", err)
		return false
	}
	frame, err := p.Data()
	if err != nil || len(frame) < etherHeaderLen {
		log.Printf("netio: dropped undersized frame")
		return false
	}

	dstMAC := frame[0:6]
	srcMAC := frame[6:12]
	etherType := binary.BigEndian.Uint16(frame[12:14])

	if etherType != etherTypeIP {
		log.Printf("netio: dropped non-IP frame: ethertype=0x%04x", etherType)
		return false
	}

	curhop := srcMAC[5]
	nexthop := nodeIDFromMAC(dstMAC)
	broadcast := isEthernetBroadcast(dstMAC)

	if !broadcast {
		if f.neighbors != nil && (curhop != f.neighbors.ThisNode() || !f.neighbors.Contains(nexthop)) {
			log.Printf("netio: dropped frame from %d to unreachable node %d", curhop, nexthop)
			return false
		}
	}

	ipHeader := frame[etherHeaderLen:]
	if len(ipHeader) < 20 {
		log.Printf("netio: dropped undersized IP header")
		return false
	}
	srcIP := ipHeader[12:16]
	dstIP := ipHeader[16:20]

	if !isInternalNet(srcIP) {
		log.Printf("netio: dropped IP packet from unknown subnet %d.%d.%d.%d",
			srcIP[0], srcIP[1], srcIP[2], srcIP[3])
		return false
	}

	p.Header.Curhop = curhop
	p.Header.Nexthop = nexthop
	e.Src = srcIP[3]
	e.Dest = dstIP[3]

	if dstIP[3] == 255 {
		p.Header.Nexthop = pkt.NodeBroadcast
	}

	e.Marshal(p.Payload[:pkt.ExtendedHeaderSize])
	return true
}

// nodeIDFromMAC recovers the node id packed into a MAC address's last
// octet by MACForNode.
func nodeIDFromMAC(mac []byte) uint8 {
	return mac[5]
}

// isEthernetBroadcast mirrors the original's util/net.hh helper of
// the same name.
func isEthernetBroadcast(mac []byte) bool {
	for _, b := range mac {
		if b != 0xff {
			return false
		}
	}
	return true
}

// isInternalNet reports whether ip falls in the mesh's conventional
// 10.10.10.0/24 internal network.
func isInternalNet(ip []byte) bool {
	return ip[0] == 10 && ip[1] == 10 && ip[2] == 10
}
