package mandate

import (
	"time"

	"dragonradio/pkt"
)

// QueueType selects FIFO or LIFO ordering within a sub-queue.
type QueueType int

const (
	FIFO QueueType = iota
	LIFO
)

// MandateKind distinguishes a steady throughput SLA from a
// deadline-bound file transfer.
type MandateKind int

const (
	KindThroughput MandateKind = iota
	KindFileTransfer
)

// Mandate is the per-flow service-level objective against which the
// queue is scheduled.
type Mandate struct {
	MinThroughputBps float64
	MaxLatencyS      float64 // 0 means unset
	PointValue       float64
	Kind             MandateKind
	FileDeadline     time.Time // used when Kind == KindFileTransfer
}

// priority is a (category, value) pair; higher category always beats
// lower, and within a category higher value wins.
type priority struct {
	category int
	value    float64
}

func (p priority) less(o priority) bool {
	if p.category != o.category {
		return p.category < o.category
	}
	return p.value < o.value
}

// subQueue is a single flow's (or the default bucket's) packet queue.
type subQueue struct {
	flowUID  [16]byte
	isHi     bool
	isDefault bool

	qtype    QueueType
	prio     priority
	mandate  *Mandate
	bucket   *tokenBucket
	lastRate float64 // most recently observed nexthop MCS rate, bytes/sec

	nexthop       uint8
	nexthopClosed bool

	packets []*pkt.NetPacket
	bytesQueued int64
}

func newSubQueue(flowUID [16]byte) *subQueue {
	return &subQueue{flowUID: flowUID, qtype: FIFO}
}

// empty reports whether the sub-queue currently has no packets.
func (q *subQueue) empty() bool {
	return len(q.packets) == 0
}

// pushTail appends (FIFO arrival order regardless of qtype; qtype only
// affects pop order).
func (q *subQueue) pushTail(p *pkt.NetPacket) {
	q.packets = append(q.packets, p)
	q.bytesQueued += int64(len(p.Payload))
}

func (q *subQueue) pushHead(p *pkt.NetPacket) {
	q.packets = append([]*pkt.NetPacket{p}, q.packets...)
	q.bytesQueued += int64(len(p.Payload))
}

// peekForPop returns the packet that would be popped next without
// removing it: the head for FIFO, the tail for LIFO.
func (q *subQueue) peekForPop() *pkt.NetPacket {
	if q.empty() {
		return nil
	}
	if q.qtype == LIFO {
		return q.packets[len(q.packets)-1]
	}
	return q.packets[0]
}

// dropForPop removes and returns the same element peekForPop would
// have returned.
func (q *subQueue) dropForPop() *pkt.NetPacket {
	if q.empty() {
		return nil
	}
	var p *pkt.NetPacket
	if q.qtype == LIFO {
		p = q.packets[len(q.packets)-1]
		q.packets = q.packets[:len(q.packets)-1]
	} else {
		p = q.packets[0]
		q.packets = q.packets[1:]
	}
	q.bytesQueued -= int64(len(p.Payload))
	if q.bytesQueued < 0 {
		q.bytesQueued = 0
	}
	return p
}

// dropExpired removes and returns any packets at the pop end whose
// deadline has already passed (T1: a popped packet never has a passed
// deadline), returning them for logging.
func (q *subQueue) dropExpired(now time.Time) []*pkt.NetPacket {
	var dropped []*pkt.NetPacket
	for {
		p := q.peekForPop()
		if p == nil || !p.PastDeadline(now) {
			break
		}
		dropped = append(dropped, q.dropForPop())
	}
	return dropped
}

// recomputeFileTransferRate implements the file-transfer mandate's
// post-push throughput recompute: required = max(0, (bytes_queued -
// tokens) / (deadline - now)). Returns true if the deadline has
// already passed (caller should drop the queue's packets).
func (q *subQueue) recomputeFileTransferRate(now time.Time) (deadlinePassed bool) {
	if q.mandate == nil || q.mandate.Kind != KindFileTransfer {
		return false
	}
	remaining := q.mandate.FileDeadline.Sub(now).Seconds()
	if remaining <= 0 {
		return true
	}
	tokens := 0.0
	if q.bucket != nil {
		tokens = q.bucket.tokens
	}
	required := (float64(q.bytesQueued) - tokens) / remaining
	if required < 0 {
		required = 0
	}
	q.mandate.MinThroughputBps = required * 8
	return false
}

// recomputePriority implements: priority.second = rate * point_value /
// min_throughput_bytes, called whenever the nexthop's MCS rate changes
// or a mandate is set/changed.
func (q *subQueue) recomputePriority() {
	if q.mandate == nil || q.mandate.MinThroughputBps <= 0 {
		return
	}
	minThroughputBytes := q.mandate.MinThroughputBps / 8
	if minThroughputBytes <= 0 {
		return
	}
	q.prio.value = q.lastRate * q.mandate.PointValue / minThroughputBytes
}
