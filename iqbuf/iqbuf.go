// Package iqbuf implements IQBuf, the reference-counted, reallocatable
// complex-sample buffer shared by the radio producer and one or more
// demodulator consumers. Producer writes to the sample array happen
// before any consumer's atomic-acquire read of Nsamples/Complete, so
// no further synchronization of the array itself is required.
package iqbuf

import (
	"sync/atomic"
	"time"
)

// IQBuf is a growable buffer of complex64 samples with atomically
// published fill-progress and completion state.
type IQBuf struct {
	Samples []complex64

	nsamples int64 // atomic: samples filled so far
	complete int32 // atomic: producer finished (0/1)
	refs     int32 // atomic: outstanding references

	Timestamp time.Time
	Fc        float64 // center frequency, Hz
	Fs        float64 // sample rate, Hz
	Delay     int     // leading samples to skip
	Undersample int   // slippage at the trailing boundary
	Oversample  int   // slippage at the leading boundary
	SnapshotOff int64 // offset into the node-wide snapshot stream, -1 if none
}

// New allocates an IQBuf with capacity for n samples. Nsamples starts
// at 0 and Complete at false; the caller (the producer) owns the
// buffer until it calls MarkComplete.
func New(n int) *IQBuf {
	return &IQBuf{
		Samples:     make([]complex64, n),
		refs:        1,
		SnapshotOff: -1,
	}
}

// Nsamples returns the number of samples filled so far (atomic load).
func (b *IQBuf) Nsamples() int {
	return int(atomic.LoadInt64(&b.nsamples))
}

// SetNsamples publishes the number of samples filled so far (atomic
// store, release semantics relative to the preceding sample writes).
func (b *IQBuf) SetNsamples(n int) {
	atomic.StoreInt64(&b.nsamples, int64(n))
}

// AddNsamples atomically advances the fill count by delta and returns
// the new value.
func (b *IQBuf) AddNsamples(delta int) int {
	return int(atomic.AddInt64(&b.nsamples, int64(delta)))
}

// Complete reports whether the producer has finished filling the
// buffer (atomic load).
func (b *IQBuf) Complete() bool {
	return atomic.LoadInt32(&b.complete) != 0
}

// MarkComplete publishes that the producer is finished (atomic store).
func (b *IQBuf) MarkComplete() {
	atomic.StoreInt32(&b.complete, 1)
}

// Ref increments the reference count; call when handing the buffer to
// an additional consumer.
func (b *IQBuf) Ref() *IQBuf {
	atomic.AddInt32(&b.refs, 1)
	return b
}

// Unref decrements the reference count. The backing array is reclaimed
// by the garbage collector once the last reference drops; Unref exists
// so callers can detect "last consumer" to run cleanup (e.g. returning
// the buffer to a pool), not to free memory manually.
func (b *IQBuf) Unref() (last bool) {
	return atomic.AddInt32(&b.refs, -1) == 0
}

// Grow reallocates Samples to have capacity for n samples, preserving
// existing content. Used when a buffer's final size is only known
// after synthesis begins (e.g. overfilled slots).
func (b *IQBuf) Grow(n int) {
	if n <= len(b.Samples) {
		return
	}
	grown := make([]complex64, n)
	copy(grown, b.Samples)
	b.Samples = grown
}
