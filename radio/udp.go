package radio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/rtp"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"dragonradio/iqbuf"
)

// UDPRadio is a Radio front-end that carries IQ samples as RTP
// payloads over UDP multicast, kept+adapted from the teacher's
// AudioReceiver (setupDataSocket, SO_REUSEPORT/SO_REUSEADDR, ipv4
// multicast join): instead of framing 16-bit PCM audio, each RTP
// payload is a run of interleaved float32 I/Q pairs.
type UDPRadio struct {
	rxAddr, txAddr *net.UDPAddr
	iface          *net.Interface

	rxConn *net.UDPConn
	txConn *net.UDPConn

	rxRate, txRate float64

	mu      sync.RWMutex
	running bool

	ssrc       uint32
	seq        uint16
	inBurst    int32
	underflow  uint64
	late       uint64

	pending []complex64
}

// NewUDPRadio opens the RX multicast group and a TX socket for the
// same group; iface may be nil to let the kernel pick a default
// multicast-capable interface.
func NewUDPRadio(rxAddr, txAddr *net.UDPAddr, iface *net.Interface) (*UDPRadio, error) {
	rxConn, err := setupDataSocket(rxAddr, iface)
	if err != nil {
		return nil, fmt.Errorf("radio: setup RX socket: %w", err)
	}
	txConn, err := net.DialUDP("udp4", nil, txAddr)
	if err != nil {
		rxConn.Close()
		return nil, fmt.Errorf("radio: setup TX socket: %w", err)
	}
	return &UDPRadio{
		rxAddr: rxAddr,
		txAddr: txAddr,
		iface:  iface,
		rxConn: rxConn,
		txConn: txConn,
		ssrc:   uint32(time.Now().UnixNano()),
	}, nil
}

// setupDataSocket mirrors the teacher's setupDataSocket: SO_REUSEPORT
// and SO_REUSEADDR so multiple processes can share the group, then
// join the multicast group on the given interface. With a nil iface
// no group is joined.
func setupDataSocket(addr *net.UDPAddr, iface *net.Interface) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					sockErr = fmt.Errorf("SO_REUSEPORT: %w", err)
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					sockErr = fmt.Errorf("SO_REUSEADDR: %w", err)
					return
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	conn, err := lc.ListenPacket(context.Background(), "udp4", addr.String())
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	udpConn := conn.(*net.UDPConn)

	if err := udpConn.SetReadBuffer(4 * 1024 * 1024); err != nil {
		log.Printf("radio: warning: failed to set read buffer size: %v", err)
	}

	p := ipv4.NewPacketConn(udpConn)
	if iface != nil {
		if err := p.JoinGroup(iface, addr); err != nil {
			log.Printf("radio: warning: failed to join multicast group on %s: %v", iface.Name, err)
		}
	}

	return udpConn, nil
}

func (r *UDPRadio) SetRxRate(rate float64) { r.rxRate = rate }
func (r *UDPRadio) SetTxRate(rate float64) { r.txRate = rate }
func (r *UDPRadio) GetRxRate() float64     { return r.rxRate }
func (r *UDPRadio) GetTxRate() float64     { return r.txRate }

func (r *UDPRadio) StartRxStream(t time.Time) error {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	return nil
}

func (r *UDPRadio) StopRxStream() error {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return nil
}

// BurstRx reads RTP packets until nsamples I/Q sample pairs have been
// decoded into buf or a read times out cleanly.
func (r *UDPRadio) BurstRx(t time.Time, nsamples int, buf *iqbuf.IQBuf) (bool, error) {
	buf.Grow(nsamples)
	n := 0

	if len(r.pending) > 0 {
		n += copyPending(r, buf, n, nsamples)
	}

	raw := make([]byte, 65536)
	for n < nsamples {
		r.rxConn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		read, _, err := r.rxConn.ReadFromUDP(raw)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				buf.SetNsamples(n)
				buf.MarkComplete()
				return false, nil
			}
			return false, fmt.Errorf("radio: rx read: %w", err)
		}
		if read < 12 {
			continue
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(raw[:read]); err != nil {
			continue
		}
		samples := decodeIQ(pkt.Payload)
		r.pending = append(r.pending, samples...)
		n += copyPending(r, buf, n, nsamples)
	}

	buf.SetNsamples(n)
	buf.MarkComplete()
	return true, nil
}

func copyPending(r *UDPRadio, buf *iqbuf.IQBuf, n, nsamples int) int {
	take := nsamples - n
	if take > len(r.pending) {
		take = len(r.pending)
	}
	copy(buf.Samples[n:n+take], r.pending[:take])
	r.pending = r.pending[take:]
	return take
}

// BurstTx encodes bufs as RTP-framed float32 I/Q payloads and writes
// them to the TX multicast group.
func (r *UDPRadio) BurstTx(t time.Time, startOfBurst, endOfBurst bool, bufs []*iqbuf.IQBuf) error {
	atomic.StoreInt32(&r.inBurst, boolToInt32(!endOfBurst))

	for _, b := range bufs {
		payload := encodeIQ(b.Samples[:b.Nsamples()])
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				SSRC:           r.ssrc,
				SequenceNumber: r.seq,
				Timestamp:      uint32(t.UnixNano() / int64(time.Microsecond)),
			},
			Payload: payload,
		}
		r.seq++
		out, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("radio: marshal RTP: %w", err)
		}
		if _, err := r.txConn.Write(out); err != nil {
			atomic.AddUint64(&r.underflow, 1)
			return fmt.Errorf("radio: tx write: %w", err)
		}
	}
	return nil
}

func (r *UDPRadio) StopTxBurst() error {
	atomic.StoreInt32(&r.inBurst, 0)
	return nil
}

func (r *UDPRadio) InTxBurst() bool { return atomic.LoadInt32(&r.inBurst) != 0 }

func (r *UDPRadio) TxUnderflowCount() uint64 { return atomic.LoadUint64(&r.underflow) }
func (r *UDPRadio) TxLateCount() uint64      { return atomic.LoadUint64(&r.late) }

// encodeIQ packs complex64 samples as interleaved big-endian float32
// I/Q pairs.
func encodeIQ(samples []complex64) []byte {
	out := make([]byte, 8*len(samples))
	for i, s := range samples {
		binary.BigEndian.PutUint32(out[i*8:], math.Float32bits(real(s)))
		binary.BigEndian.PutUint32(out[i*8+4:], math.Float32bits(imag(s)))
	}
	return out
}

func decodeIQ(payload []byte) []complex64 {
	n := len(payload) / 8
	out := make([]complex64, n)
	for i := 0; i < n; i++ {
		re := math.Float32frombits(binary.BigEndian.Uint32(payload[i*8:]))
		im := math.Float32frombits(binary.BigEndian.Uint32(payload[i*8+4:]))
		out[i] = complex(re, im)
	}
	return out
}
