package pkt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ControlTag identifies the type of a control message TLV.
type ControlTag uint8

const (
	CtrlHello ControlTag = iota
	CtrlTimestamp
	CtrlTimestampEcho
	CtrlReceiverStats
	CtrlNak
	CtrlSelectiveAck
	CtrlSetUnack
)

// controlBodySize gives the fixed body size (excluding the 1-byte tag)
// for each control message tag.
var controlBodySize = map[ControlTag]int{
	CtrlHello:         1, // 2B total incl. tag
	CtrlTimestamp:     16,
	CtrlTimestampEcho: 33,
	CtrlReceiverStats: 16,
	CtrlNak:           2,
	CtrlSelectiveAck:  4,
	CtrlSetUnack:      2,
}

// ControlMsg is a single tagged control record.
type ControlMsg struct {
	Tag  ControlTag
	Body []byte // exactly controlBodySize[Tag] bytes
}

// Hello carries no payload beyond the tag.
type Hello struct{}

// Timestamp carries a sender-side monotonic timestamp in nanoseconds.
type Timestamp struct {
	T int64 // ns
}

func (t Timestamp) marshal() []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:8], uint64(t.T))
	return b
}

// TimestampEcho echoes back a received Timestamp plus the local
// arrival time, for round-trip clock offset estimation.
type TimestampEcho struct {
	TSent int64
	TRecv int64
}

func (t TimestampEcho) marshal() []byte {
	b := make([]byte, 33)
	binary.LittleEndian.PutUint64(b[0:8], uint64(t.TSent))
	binary.LittleEndian.PutUint64(b[8:16], uint64(t.TRecv))
	return b
}

// ReceiverStats reports aggregate RX quality for the reverse link.
type ReceiverStats struct {
	EVM  float32
	RSSI float32
	Rate uint64
}

func (r ReceiverStats) marshal() []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:4], math.Float32bits(r.EVM))
	binary.LittleEndian.PutUint32(b[4:8], math.Float32bits(r.RSSI))
	binary.LittleEndian.PutUint64(b[8:16], r.Rate)
	return b
}

// Nak names a sequence number the receiver failed to decode.
type Nak struct {
	Seq Seq
}

// SelectiveAck names a range [Begin, End) acknowledged out of order.
type SelectiveAck struct {
	Begin Seq
	End   Seq
}

// SetUnack tells the peer the lowest unacknowledged sequence number.
type SetUnack struct {
	Unack Seq
}

func (n Nak) marshal() []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(n.Seq))
	return b
}

func (s SelectiveAck) marshal() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], uint16(s.Begin))
	binary.LittleEndian.PutUint16(b[2:4], uint16(s.End))
	return b
}

func (s SetUnack) marshal() []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(s.Unack))
	return b
}

// NewHelloMsg builds the ControlMsg wire form of Hello.
func NewHelloMsg() ControlMsg { return ControlMsg{Tag: CtrlHello, Body: []byte{0}} }

// NewTimestampMsg builds the ControlMsg wire form of Timestamp.
func NewTimestampMsg(t Timestamp) ControlMsg { return ControlMsg{Tag: CtrlTimestamp, Body: t.marshal()} }

// NewTimestampEchoMsg builds the ControlMsg wire form of TimestampEcho.
func NewTimestampEchoMsg(t TimestampEcho) ControlMsg {
	return ControlMsg{Tag: CtrlTimestampEcho, Body: t.marshal()}
}

// NewReceiverStatsMsg builds the ControlMsg wire form of ReceiverStats.
func NewReceiverStatsMsg(r ReceiverStats) ControlMsg {
	return ControlMsg{Tag: CtrlReceiverStats, Body: r.marshal()}
}

// NewNakMsg builds the ControlMsg wire form of Nak.
func NewNakMsg(n Nak) ControlMsg { return ControlMsg{Tag: CtrlNak, Body: n.marshal()} }

// NewSelectiveAckMsg builds the ControlMsg wire form of SelectiveAck.
func NewSelectiveAckMsg(s SelectiveAck) ControlMsg {
	return ControlMsg{Tag: CtrlSelectiveAck, Body: s.marshal()}
}

// NewSetUnackMsg builds the ControlMsg wire form of SetUnack.
func NewSetUnackMsg(s SetUnack) ControlMsg { return ControlMsg{Tag: CtrlSetUnack, Body: s.marshal()} }

// AsTimestamp decodes a Timestamp control message body.
func (m ControlMsg) AsTimestamp() (Timestamp, error) {
	if m.Tag != CtrlTimestamp || len(m.Body) != 16 {
		return Timestamp{}, fmt.Errorf("pkt: not a timestamp message")
	}
	return Timestamp{T: int64(binary.LittleEndian.Uint64(m.Body[0:8]))}, nil
}

// AsTimestampEcho decodes a TimestampEcho control message body.
func (m ControlMsg) AsTimestampEcho() (TimestampEcho, error) {
	if m.Tag != CtrlTimestampEcho || len(m.Body) != 33 {
		return TimestampEcho{}, fmt.Errorf("pkt: not a timestamp-echo message")
	}
	return TimestampEcho{
		TSent: int64(binary.LittleEndian.Uint64(m.Body[0:8])),
		TRecv: int64(binary.LittleEndian.Uint64(m.Body[8:16])),
	}, nil
}

// AsNak decodes a Nak control message body.
func (m ControlMsg) AsNak() (Nak, error) {
	if m.Tag != CtrlNak || len(m.Body) != 2 {
		return Nak{}, fmt.Errorf("pkt: not a nak message")
	}
	return Nak{Seq: Seq(binary.LittleEndian.Uint16(m.Body))}, nil
}

// AsSelectiveAck decodes a SelectiveAck control message body.
func (m ControlMsg) AsSelectiveAck() (SelectiveAck, error) {
	if m.Tag != CtrlSelectiveAck || len(m.Body) != 4 {
		return SelectiveAck{}, fmt.Errorf("pkt: not a selective-ack message")
	}
	return SelectiveAck{
		Begin: Seq(binary.LittleEndian.Uint16(m.Body[0:2])),
		End:   Seq(binary.LittleEndian.Uint16(m.Body[2:4])),
	}, nil
}

// AsSetUnack decodes a SetUnack control message body.
func (m ControlMsg) AsSetUnack() (SetUnack, error) {
	if m.Tag != CtrlSetUnack || len(m.Body) != 2 {
		return SetUnack{}, fmt.Errorf("pkt: not a set-unack message")
	}
	return SetUnack{Unack: Seq(binary.LittleEndian.Uint16(m.Body))}, nil
}

// AssembleControl concatenates tag-prefixed control records.
func AssembleControl(msgs []ControlMsg) []byte {
	var out []byte
	for _, m := range msgs {
		out = append(out, byte(m.Tag))
		out = append(out, m.Body...)
	}
	return out
}

// ParseControl splits a raw control region (everything after the 2-byte
// ctrl_len prefix) into its tagged records.
func ParseControl(b []byte) ([]ControlMsg, error) {
	var out []ControlMsg
	for len(b) > 0 {
		tag := ControlTag(b[0])
		size, ok := controlBodySize[tag]
		if !ok {
			return nil, fmt.Errorf("pkt: unknown control tag %d", tag)
		}
		if len(b) < 1+size {
			return nil, fmt.Errorf("pkt: truncated control message tag %d", tag)
		}
		out = append(out, ControlMsg{Tag: tag, Body: append([]byte(nil), b[1:1+size]...)})
		b = b[1+size:]
	}
	return out, nil
}
