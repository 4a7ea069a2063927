package pkt

import (
	"encoding/binary"
	"time"
)

// Packet is the canonical in-memory representation of a packet at any
// stage of the pipeline: a fixed Header plus an opaque payload that
// (depending on flags) embeds an ExtendedHeader, data, and a control
// region.
type Packet struct {
	Header  Header
	Payload []byte

	// FlowUID groups packets for mandate-queue routing; zero value
	// means "no flow" (routed to the default bucket).
	FlowUID [16]byte
}

// Ehdr returns the parsed ExtendedHeader occupying the front of Payload.
func (p *Packet) Ehdr() (ExtendedHeader, error) {
	return UnmarshalExtendedHeader(p.Payload)
}

// Data returns the data region of the payload (after ExtendedHeader).
func (p *Packet) Data() ([]byte, error) {
	e, err := p.Ehdr()
	if err != nil {
		return nil, err
	}
	start := ExtendedHeaderSize
	end := start + int(e.DataLen)
	if end > len(p.Payload) {
		return nil, ErrIntegrity
	}
	return p.Payload[start:end], nil
}

// Control returns the parsed control messages, if HasControl is set.
func (p *Packet) Control() ([]ControlMsg, error) {
	if p.Header.Flags&FlagHasControl == 0 {
		return nil, nil
	}
	e, err := p.Ehdr()
	if err != nil {
		return nil, err
	}
	off := ExtendedHeaderSize + int(e.DataLen)
	if off+2 > len(p.Payload) {
		return nil, ErrIntegrity
	}
	ctrlLen := int(binary.LittleEndian.Uint16(p.Payload[off : off+2]))
	off += 2
	if off+ctrlLen != len(p.Payload) {
		return nil, ErrIntegrity
	}
	return ParseControl(p.Payload[off : off+ctrlLen])
}

// IntegrityIntact reports whether Payload's size is consistent with
// the declared ExtendedHeader.DataLen and, if present, the control
// region's declared length: payload.size() == sizeof(ExtendedHeader) +
// data_len [+ 2 + ctrl_len].
func (p *Packet) IntegrityIntact() bool {
	e, err := p.Ehdr()
	if err != nil {
		return false
	}
	want := ExtendedHeaderSize + int(e.DataLen)
	if p.Header.Flags&FlagHasControl == 0 {
		return len(p.Payload) == want
	}
	if want+2 > len(p.Payload) {
		return false
	}
	ctrlLen := int(binary.LittleEndian.Uint16(p.Payload[want : want+2]))
	return len(p.Payload) == want+2+ctrlLen
}

// AssemblePayload builds a Payload byte slice from an ExtendedHeader,
// data region, and optional control messages, setting HasControl on
// hdr as a side effect when ctrl is non-empty.
func AssemblePayload(hdr *Header, e ExtendedHeader, data []byte, ctrl []ControlMsg) []byte {
	e.DataLen = uint16(len(data))
	out := make([]byte, ExtendedHeaderSize, ExtendedHeaderSize+len(data)+64)
	e.Marshal(out[:ExtendedHeaderSize])
	out = append(out, data...)
	if len(ctrl) > 0 {
		hdr.Flags |= FlagHasControl
		body := AssembleControl(ctrl)
		lenBuf := make([]byte, 2)
		binary.LittleEndian.PutUint16(lenBuf, uint16(len(body)))
		out = append(out, lenBuf...)
		out = append(out, body...)
	}
	return out
}

// Timestamps records the lifecycle timestamps of a NetPacket as it
// flows through the TX pipeline.
type Timestamps struct {
	TuntapRead  time.Time
	Enqueue     time.Time
	DequeueStart time.Time
	DequeueEnd   time.Time
	LLC          time.Time
	ModStart     time.Time
	ModEnd       time.Time
}

// NetPacket is a Packet on the TX side, carrying PHY/MAC scheduling
// metadata in addition to the wire fields.
type NetPacket struct {
	Packet

	MCSIdx     int
	G          float32 // multiplicative TX gain
	Deadline   *time.Time
	Timestamps Timestamps
}

// PastDeadline reports whether the packet's deadline (if any) has
// passed relative to now.
func (n *NetPacket) PastDeadline(now time.Time) bool {
	return n.Deadline != nil && n.Deadline.Before(now)
}

// InternalFlags are per-packet RX-side diagnostic bits, not part of
// the wire format.
type InternalFlags uint8

const (
	IFlagInvalidHeader InternalFlags = 1 << iota
	IFlagInvalidPayload
	IFlagRetransmission
	IFlagHasSeq
	IFlagHasSelectiveAck
	IFlagTimestamp
)

// RadioPacket is a Packet on the RX side, carrying PHY measurements
// and slot-relative timing.
type RadioPacket struct {
	Packet

	EVM           float32
	RSSI          float32
	CFO           float32
	Channel       int
	SlotTimestamp time.Time
	StartSamples  uint64
	EndSamples    uint64
	Internal      InternalFlags
}
