package dlog

import (
	"time"

	"dragonradio/pkt"
	"dragonradio/synth"
)

// TXNotifier implements mac.Controller, turning each slot's batch of
// modulated packets into send-dataset records without blocking the
// MAC's hot path: Transmitted only enqueues work onto a buffered
// channel drained by a background goroutine, the same
// channel-plus-goroutine shape the teacher uses to keep its capture
// loop off of slow downstream consumers.
type TXNotifier struct {
	logger *Logger
	ch     chan txBatch
	done   chan struct{}
}

type txBatch struct {
	mpkts  []*synth.ModPacket
	txTime time.Time
}

// NewTXNotifier starts the background drain goroutine. queueDepth
// bounds how many slots' worth of transmissions may be pending before
// Transmitted starts blocking the caller; a full queue means logging
// has fallen behind the MAC, which should be visible as backpressure
// rather than silently dropped records.
func NewTXNotifier(logger *Logger, queueDepth int) *TXNotifier {
	n := &TXNotifier{
		logger: logger,
		ch:     make(chan txBatch, queueDepth),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

// Transmitted satisfies mac.Controller.
func (n *TXNotifier) Transmitted(mpkts []*synth.ModPacket, txTime time.Time) {
	n.ch <- txBatch{mpkts: mpkts, txTime: txTime}
}

// Close stops accepting new batches and waits for the drain goroutine
// to finish logging what's already queued.
func (n *TXNotifier) Close() {
	close(n.ch)
	<-n.done
}

func (n *TXNotifier) run() {
	defer close(n.done)
	for b := range n.ch {
		for _, mp := range b.mpkts {
			n.logger.LogSend(sendRecordFor(mp, b.txTime))
		}
		var nsamples int64
		for _, mp := range b.mpkts {
			nsamples += int64(mp.Nsamples)
		}
		n.logger.LogTXRecord(b.txTime, b.txTime, nsamples, 0)
	}
}

func sendRecordFor(mp *synth.ModPacket, txTime time.Time) SendRecord {
	p := mp.Pkt
	var ehdr pkt.ExtendedHeader
	if p != nil {
		if e, err := p.Ehdr(); err == nil {
			ehdr = e
		}
	}

	var fc, bw float32
	fc = float32(mp.Channel.FC)
	bw = float32(mp.Channel.BW)

	rec := SendRecord{
		Timestamp:     toUnix(txTime),
		MonoTimestamp: toUnix(txTime),
		NSamples:      int32(mp.Nsamples),
		FC:            fc,
		BW:            bw,
	}
	if p == nil {
		return rec
	}

	rec.Curhop = p.Header.Curhop
	rec.Nexthop = p.Header.Nexthop
	rec.Seq = uint16(p.Header.Seq)
	rec.Flags = uint8(p.Header.Flags)
	rec.Src = ehdr.Src
	rec.Dest = ehdr.Dest
	rec.Ack = ehdr.Ack
	rec.DataLen = ehdr.DataLen
	rec.MCSIdx = uint8(p.MCSIdx)
	rec.Size = uint32(len(p.Payload))

	ts := p.Timestamps
	rec.NetTimestamp = toUnix(ts.Enqueue)
	rec.WallTimestamp = toUnix(ts.ModEnd)
	if p.Deadline != nil {
		rec.Deadline = toUnix(*p.Deadline)
	}
	rec.EnqueueLatency = durSeconds(ts.TuntapRead, ts.Enqueue)
	rec.DequeueLatency = durSeconds(ts.DequeueStart, ts.DequeueEnd)
	rec.QueueLatency = durSeconds(ts.Enqueue, ts.DequeueStart)
	rec.ModLatency = durSeconds(ts.ModStart, ts.ModEnd)
	rec.TuntapLatency = durSeconds(ts.TuntapRead, ts.Enqueue)
	rec.LLCLatency = durSeconds(ts.DequeueEnd, ts.LLC)
	rec.SynthLatency = durSeconds(ts.ModStart, ts.ModEnd)
	return rec
}

func durSeconds(start, end time.Time) float64 {
	if start.IsZero() || end.IsZero() {
		return 0
	}
	return end.Sub(start).Seconds()
}
