package netio

import (
	"context"
	"log"
	"time"

	"dragonradio/pkt"
	"dragonradio/port"
)

// Sink is whatever ultimately consumes a filtered, compressed
// NetPacket on the TX side (the mandate queue, in production).
type Sink interface {
	Push(p *pkt.NetPacket)
}

// FrameSource is the read side of a tun/tap device, satisfied by
// *TunTap; factored out so the pipeline stages can be exercised with
// a fake in tests that never open a real tap interface.
type FrameSource interface {
	Recv() (*pkt.NetPacket, bool)
}

// FrameSink is the write side of a tun/tap device, satisfied by
// *TunTap.
type FrameSink interface {
	Send(rp *pkt.RadioPacket) error
}

// TXPipeline wires a FrameSource -> NetFilter -> PacketCompressor ->
// Sink as a chain of pull ports, following the fabric in package
// port: each stage owns a *port.Out that the next stage's *port.In
// binds to via ConnectPull, running its own goroutine that blocks on
// Recv until the upstream port is disconnected.
type TXPipeline struct {
	tap    FrameSource
	filter *NetFilter
	comp   *PacketCompressor
	sink   Sink

	rawOut      *port.Out[*pkt.NetPacket]
	filteredOut *port.Out[*pkt.NetPacket]
}

// NewTXPipeline assembles a TX pipeline reading from tap and pushing
// accepted, compressed packets into sink.
func NewTXPipeline(tap FrameSource, filter *NetFilter, comp *PacketCompressor, sink Sink) *TXPipeline {
	return &TXPipeline{
		tap:         tap,
		filter:      filter,
		comp:        comp,
		sink:        sink,
		rawOut:      port.NewOut[*pkt.NetPacket](),
		filteredOut: port.NewOut[*pkt.NetPacket](),
	}
}

// Run starts the pipeline's three stages and blocks until ctx is
// canceled, at which point every stage's pull port is disconnected so
// the downstream Recv calls unblock and the goroutines exit.
func (tp *TXPipeline) Run(ctx context.Context) {
	var filterIn port.In[*pkt.NetPacket]
	filterIn.Bind(tp.rawOut.ConnectPull(16))

	var sinkIn port.In[*pkt.NetPacket]
	sinkIn.Bind(tp.filteredOut.ConnectPull(16))

	go tp.readStage(ctx)
	go tp.filterStage(&filterIn)
	go tp.sinkStage(&sinkIn)

	<-ctx.Done()
	tp.rawOut.Disconnect()
	tp.filteredOut.Disconnect()
}

// readStage pulls raw frames off the tun/tap device and pushes them
// into rawOut, stamping the tuntap-read lifecycle timestamp.
func (tp *TXPipeline) readStage(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p, ok := tp.tap.Recv()
		if !ok {
			continue
		}
		p.Timestamps.TuntapRead = time.Now()
		tp.rawOut.Send(p)
	}
}

// filterStage applies address derivation/subnet filtering to every
// packet pulled from rawOut, forwarding accepted packets into
// filteredOut.
func (tp *TXPipeline) filterStage(in *port.In[*pkt.NetPacket]) {
	for {
		p, ok := in.Recv()
		if !ok {
			return
		}
		if !tp.filter.Process(p) {
			continue
		}
		tp.filteredOut.Send(p)
	}
}

// sinkStage compresses every packet pulled from filteredOut and
// pushes it into the mandate queue.
func (tp *TXPipeline) sinkStage(in *port.In[*pkt.NetPacket]) {
	for {
		p, ok := in.Recv()
		if !ok {
			return
		}
		p = tp.comp.CompressNet(p)
		p.Timestamps.Enqueue = time.Now()
		tp.sink.Push(p)
	}
}

// RXPipeline wires decoded radio payloads back out the tun/tap
// device, through a push port: the MAC's receive callback feeds
// Deliver, which pushes onto a port.Out connected to a
// decompress-and-send consumer. Unlike TXPipeline's pull chain, the
// MAC drives delivery itself, so push is the natural protocol here.
type RXPipeline struct {
	tap  FrameSink
	comp *PacketCompressor
	out  *port.Out[*pkt.RadioPacket]
}

// NewRXPipeline assembles an RX pipeline that decompresses and writes
// delivered radio packets to tap.
func NewRXPipeline(tap FrameSink, comp *PacketCompressor) *RXPipeline {
	rp := &RXPipeline{tap: tap, comp: comp, out: port.NewOut[*pkt.RadioPacket]()}
	rp.out.ConnectPush(rp.consume)
	return rp
}

// Deliver is the MAC's receive callback entry point: it wraps the
// payload as a RadioPacket and sends it down the pipeline's push port.
func (rp *RXPipeline) Deliver(payload []byte) {
	rp.out.Send(&pkt.RadioPacket{Packet: pkt.Packet{Payload: payload}})
}

func (rp *RXPipeline) consume(p *pkt.RadioPacket) {
	p = rp.comp.DecompressRadio(p)
	if err := rp.tap.Send(p); err != nil {
		log.Printf("tuntap send: %v", err)
	}
}

// Close disconnects the push port so no further deliveries are acted
// on.
func (rp *RXPipeline) Close() {
	rp.out.Disconnect()
}
