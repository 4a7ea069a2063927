package mac

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"dragonradio/demod"
	"dragonradio/iqbuf"
	"dragonradio/radio"
	"dragonradio/schedule"
	"dragonradio/synth"
)

// Controller receives notification of each slot's transmitted packets,
// so the scheduler/logger can timestamp them and feed ARQ state.
type Controller interface {
	Transmitted(mpkts []*synth.ModPacket, txTime time.Time)
}

// Stats are the MAC's running invariant counters (spec.md §5, M1-M3).
type Stats struct {
	TxLate      uint64
	MissedSlots uint64
	RxErrors    uint64
}

// Mac is the slotted MAC: it drives radio against wall-clock slot
// boundaries, pipelines synthesizer modulation ahead of each slot's
// transmit deadline so BurstTx never has to wait on the FFT pipeline,
// and fans decoded RX packets out of the demodulator pool's barrier
// queue. Modeled on the teacher's long-running-worker-with-WaitGroup
// shape, generalized to the multi-loop TX/RX pipeline spec.md
// describes and wired through an errgroup so any loop's fatal error
// tears down the others.
type Mac struct {
	radio       radio.Radio
	synthesizer *synth.Synthesizer
	demodPool   *demod.Pool
	source      *QueueSource

	schedPtr atomic.Pointer[schedule.Schedule]
	barrier  *ConfigBarrier

	leadTime  time.Duration
	lookahead int // slots of synthesizer work kept in flight ahead of TX

	clock func() time.Time

	controller Controller
	onRecv     func(rp *radioPacketDelivery)

	toTransmit chan *txJob
	notify     chan txNotify

	stats struct {
		txLate, missedSlots, rxErrors atomic.Uint64
	}
	metrics *metrics

	cancel context.CancelFunc
	grp    *errgroup.Group
}

// radioPacketDelivery is intentionally unexported: RX delivery is
// wired via SetRecvCallback so callers don't need to import demod/pkt
// just to receive packets.
type radioPacketDelivery = struct {
	Channel int
	Payload []byte
}

// Config bundles the wiring New needs.
type Config struct {
	Radio       radio.Radio
	Synthesizer *synth.Synthesizer
	DemodPool   *demod.Pool
	Source      *QueueSource
	Schedule    *schedule.Schedule
	LeadTime    time.Duration
	Lookahead   int // default 1 if <= 0
	Clock       func() time.Time
	Controller  Controller
}

// New builds a Mac from cfg; call Start to begin running its loops.
func New(cfg Config) *Mac {
	lookahead := cfg.Lookahead
	if lookahead <= 0 {
		lookahead = 1
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	m := &Mac{
		radio:       cfg.Radio,
		synthesizer: cfg.Synthesizer,
		demodPool:   cfg.DemodPool,
		source:      cfg.Source,
		barrier:     NewConfigBarrier(),
		leadTime:    cfg.LeadTime,
		lookahead:   lookahead,
		clock:       clock,
		controller:  cfg.Controller,
		toTransmit:  make(chan *txJob, lookahead+1),
		notify:      make(chan txNotify, lookahead+1),
		metrics:     newMetrics(),
	}
	m.schedPtr.Store(cfg.Schedule)
	return m
}

// Schedule returns the currently active schedule (safe to call
// concurrently with Reconfigure).
func (m *Mac) Schedule() *schedule.Schedule {
	return m.schedPtr.Load()
}

// Reconfigure swaps in a new schedule under the reconfiguration
// barrier (spec.md §4.7): it takes effect for the next slot any loop
// schedules, never interrupting one already in flight.
func (m *Mac) Reconfigure(sched *schedule.Schedule) {
	m.barrier.Modify(func() {
		m.schedPtr.Store(sched)
	})
}

// SetRecvCallback installs the sink for decoded RX packets.
func (m *Mac) SetRecvCallback(f func(channel int, payload []byte)) {
	m.onRecv = func(d *radioPacketDelivery) {
		f(d.Channel, d.Payload)
	}
}

// Stats returns a snapshot of the MAC's running counters.
func (m *Mac) Stats() Stats {
	return Stats{
		TxLate:      m.stats.txLate.Load(),
		MissedSlots: m.stats.missedSlots.Load(),
		RxErrors:    m.stats.rxErrors.Load(),
	}
}

// Start launches the RX loop, RX delivery fan-out, and the three TX
// loops (txSlotWorker, txWorker, txNotifier) described in spec.md
// §4.6, all under a shared errgroup so a fatal error in any one of
// them cancels the rest.
func (m *Mac) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	grp, ctx := errgroup.WithContext(ctx)
	m.grp = grp

	grp.Go(func() error { return m.rxLoop(ctx) })
	grp.Go(func() error { return m.rxDeliver(ctx) })
	grp.Go(func() error { return m.txSlotWorker(ctx) })
	grp.Go(func() error { return m.txWorker(ctx) })
	grp.Go(func() error { return m.txNotifier(ctx) })
}

// Stop cancels every loop and blocks until they've all returned.
func (m *Mac) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.demodPool.Queue().Close()
	if m.grp != nil {
		return m.grp.Wait()
	}
	return nil
}

// rxLoop captures one slot's worth of wideband samples per iteration
// (M3: burst_rx timestamps strictly increase since each call passes
// the wall-clock time it was issued at) and hands them to the
// demodulator pool.
func (m *Mac) rxLoop(ctx context.Context) error {
	if err := m.radio.StartRxStream(m.clock()); err != nil {
		return err
	}
	defer m.radio.StopRxStream()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		sched := m.Schedule()
		now := m.clock()
		nsamples := int(m.radio.GetRxRate() * sched.SlotSize.Seconds())
		if nsamples <= 0 {
			nsamples = 1
		}

		buf := iqbuf.New(nsamples)
		buf.Timestamp = now
		buf.Fs = m.radio.GetRxRate()

		_, err := m.radio.BurstRx(now, nsamples, buf)
		if err != nil {
			m.stats.rxErrors.Add(1)
			m.metrics.rxErrors.Inc()
			continue
		}
		if buf.Nsamples() == 0 {
			continue
		}

		m.demodPool.ProcessSlot(buf, now, buf.SnapshotOff)
	}
}

// rxDeliver drains the demodulator pool's barrier queue in order and
// hands each decoded packet to the installed receive callback.
func (m *Mac) rxDeliver(ctx context.Context) error {
	q := m.demodPool.Queue()
	for {
		rp, ok := q.Pop()
		if !ok {
			return nil
		}
		if m.onRecv != nil {
			m.onRecv(&radioPacketDelivery{Channel: rp.Channel, Payload: rp.Payload})
		}
	}
}

// txJob is a finalized slot ready for radio.BurstTx.
type txJob struct {
	slot  *synth.Slot
	start time.Time
}

// txNotify carries a transmitted slot's modulated packets to the
// notifier loop for timestamping and controller callback.
type txNotify struct {
	mpkts []*synth.ModPacket
	start time.Time
}

// pendingSlot is one in-flight synthesizer modulation, kicked off up
// to m.lookahead slots before its transmit deadline.
type pendingSlot struct {
	slotIdx int
	start   time.Time
	slot    *synth.Slot
	done    chan struct{}
}

// txSlotWorker implements the pipelined lookahead scheduling protocol:
// it keeps m.lookahead slots of synthesizer modulation in flight ahead
// of wall-clock time, so that by the time a slot's lead-time deadline
// arrives its IQ samples are usually already finalized. A slot whose
// modulation is still running when its own deadline arrives is
// dropped (M1: never delay a burst waiting on synthesis) and its
// in-flight packets requeued.
func (m *Mac) txSlotWorker(ctx context.Context) error {
	now := m.clock()
	pipeline := make([]*pendingSlot, 0, m.lookahead)
	var prev *pendingSlot
	for i := 0; i < m.lookahead; i++ {
		prev = m.kickOffNext(&now, prev)
		pipeline = append(pipeline, prev)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		cur := pipeline[0]
		pipeline = pipeline[1:]
		prev = m.kickOffNext(&now, prev)
		pipeline = append(pipeline, prev)

		leadDeadline := cur.start.Add(-m.leadTime)
		if !m.sleepUntil(ctx, leadDeadline) {
			return nil
		}

		remaining := time.Until(cur.start)
		select {
		case <-cur.done:
			select {
			case m.toTransmit <- &txJob{slot: cur.slot, start: cur.start}:
			case <-ctx.Done():
				return nil
			}
		case <-time.After(remaining):
			cur.slot.Close()
			m.stats.missedSlots.Add(1)
			m.metrics.missedSlots.Inc()
			for _, mp := range cur.slot.Mpkts {
				m.source.Requeue(mp.Pkt)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// kickOffNext finds the next transmittable slot after *now, builds
// its Slot (sized from the active schedule's slot duration and the
// radio's TX rate), starts its synthesizer modulation in the
// background, advances *now to the slot's start so the next call
// finds the slot after it, and returns immediately.
//
// prev is the slot immediately ahead of this one in transmit order,
// or nil for the very first slot kicked off. Before modulation
// starts, the goroutine waits for prev to finish and carries its
// overfill (prev.slot.NPartial) into this slot's Delay, so a burst
// that spilled samples past its own slot boundary is accounted for by
// the slot that follows it (slot.nsamples = slot.delay +
// samples_written holds end to end, not just within one slot).
func (m *Mac) kickOffNext(now *time.Time, prev *pendingSlot) *pendingSlot {
	sched := m.Schedule()
	slotIdx, start := sched.FindNextSlot(*now)
	*now = start

	maxSamples, fullSlotSamples := slotBudget(sched, m.radio.GetTxRate())

	slot := &synth.Slot{
		SlotIdx:         slotIdx,
		Deadline:        start.Add(sched.SlotSize),
		MaxSamples:      maxSamples,
		FullSlotSamples: fullSlotSamples,
	}

	ps := &pendingSlot{slotIdx: slotIdx, start: start, slot: slot, done: make(chan struct{})}
	go func() {
		if prev != nil {
			<-prev.done
			slot.Delay = prev.slot.NPartial
		}
		m.synthesizer.ModulateSlot(slot, m.source, m.source)
		close(ps.done)
	}()
	return ps
}

// slotBudget computes a slot's hard sample ceiling (the slot's own
// duration at txRate) and its overfill ceiling (slot duration plus
// guard interval, the most a burst may spill into before the next
// slot's guard band).
func slotBudget(sched *schedule.Schedule, txRate float64) (maxSamples, fullSlotSamples int) {
	maxSamples = int(txRate * sched.SlotSize.Seconds())
	fullSlotSamples = int(txRate * (sched.SlotSize + sched.GuardSize).Seconds())
	if fullSlotSamples < maxSamples {
		fullSlotSamples = maxSamples
	}
	return maxSamples, fullSlotSamples
}

// txWorker issues the actual radio burst for each finalized slot, in
// order, then forwards its packets to txNotifier. A slot with no
// finalized samples (nothing to send) is skipped without touching the
// radio, so an idle schedule never opens a zero-length burst.
func (m *Mac) txWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-m.toTransmit:
			if len(job.slot.IQBufs) == 0 {
				continue
			}
			startOfBurst := !m.radio.InTxBurst()
			endOfBurst := job.slot.NPartial == 0

			if err := m.radio.BurstTx(job.start, startOfBurst, endOfBurst, job.slot.IQBufs); err != nil {
				m.stats.txLate.Add(1)
				m.metrics.txLate.Inc()
				continue
			}
			if endOfBurst {
				m.radio.StopTxBurst()
			}

			select {
			case m.notify <- txNotify{mpkts: job.slot.Mpkts, start: job.start}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// txNotifier stamps each transmitted packet's tx_timestamp and hands
// the slot's modulated packets to the controller (ARQ state, logging).
func (m *Mac) txNotifier(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-m.notify:
			for _, mp := range n.mpkts {
				mp.Pkt.Timestamps.ModEnd = n.start
			}
			if m.controller != nil {
				m.controller.Transmitted(n.mpkts, n.start)
			}
		}
	}
}

// sleepUntil blocks until t or ctx cancellation, returning false if
// cancelled first.
func (m *Mac) sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
