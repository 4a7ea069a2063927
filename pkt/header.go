// Package pkt implements the canonical in-memory and on-the-air packet
// representation shared by every stage of the pipeline: the fixed
// Header carried by every packet, the ExtendedHeader and control
// message TLVs carried in the payload, and the NetPacket/RadioPacket
// views used on the TX and RX sides respectively.
package pkt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Flags is the Header bitfield.
type Flags uint8

const (
	FlagSyn Flags = 1 << iota
	FlagAck
	FlagHasSeq
	FlagHasControl
	FlagCompressed
	// Team occupies the top 3 bits (values 0-7); see Header.Team/SetTeam.
)

const teamShift = 5
const teamMask = Flags(0x7 << teamShift)

// NodeBroadcast is the reserved Nexthop value meaning "every node in
// range," used when a packet's destination is a network broadcast
// address rather than a specific node.
const NodeBroadcast uint8 = 255

// Header is the fixed-layout header carried by every packet.
type Header struct {
	Curhop  uint8
	Nexthop uint8
	Seq     Seq
	Flags   Flags
}

// HeaderSize is the on-the-air size of Header in bytes.
const HeaderSize = 5

// Team returns the 3-bit team field packed into the top of Flags.
func (h Header) Team() uint8 {
	return uint8((h.Flags & teamMask) >> teamShift)
}

// SetTeam packs a 3-bit team id into Flags, keeping only the low 3
// bits of team.
func (h *Header) SetTeam(team uint8) {
	h.Flags = (h.Flags &^ teamMask) | Flags((team&0x7)<<teamShift)
}

// Marshal writes the header's wire layout into b, which must be at
// least HeaderSize bytes.
func (h Header) Marshal(b []byte) {
	_ = b[HeaderSize-1]
	b[0] = h.Curhop
	b[1] = h.Nexthop
	binary.LittleEndian.PutUint16(b[2:4], uint16(h.Seq))
	b[4] = byte(h.Flags)
}

// UnmarshalHeader parses a Header from its wire layout.
func UnmarshalHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("pkt: short header: %d bytes", len(b))
	}
	return Header{
		Curhop:  b[0],
		Nexthop: b[1],
		Seq:     Seq(binary.LittleEndian.Uint16(b[2:4])),
		Flags:   Flags(b[4]),
	}, nil
}

// ExtendedHeader is carried in the payload region, immediately after
// the fixed Header.
type ExtendedHeader struct {
	Src     uint8
	Dest    uint8
	Ack     uint16
	DataLen uint16
}

// ExtendedHeaderSize is the on-the-air size of ExtendedHeader.
const ExtendedHeaderSize = 6

func (e ExtendedHeader) Marshal(b []byte) {
	_ = b[ExtendedHeaderSize-1]
	b[0] = e.Src
	b[1] = e.Dest
	binary.LittleEndian.PutUint16(b[2:4], e.Ack)
	binary.LittleEndian.PutUint16(b[4:6], e.DataLen)
}

func UnmarshalExtendedHeader(b []byte) (ExtendedHeader, error) {
	if len(b) < ExtendedHeaderSize {
		return ExtendedHeader{}, fmt.Errorf("pkt: short extended header: %d bytes", len(b))
	}
	return ExtendedHeader{
		Src:     b[0],
		Dest:    b[1],
		Ack:     binary.LittleEndian.Uint16(b[2:4]),
		DataLen: binary.LittleEndian.Uint16(b[4:6]),
	}, nil
}

// ErrIntegrity is returned when a packet's payload length is
// inconsistent with its declared data_len/ctrl_len.
var ErrIntegrity = errors.New("pkt: integrity check failed")
