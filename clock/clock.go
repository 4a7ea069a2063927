// Package clock implements the two clocks shared by the PHY, MAC, and
// logger: a monotonic clock backed by the radio driver (or a steady
// fallback) and a wall clock derived from it by a lock-free atomic
// offset.
package clock

import (
	"sync/atomic"
	"time"
)

// Source supplies monotonic time, typically backed by the radio
// driver's own clock register.
type Source interface {
	Now() time.Time
}

// steadySource is the fallback Source when no radio-driver clock is
// available.
type steadySource struct{}

func (steadySource) Now() time.Time { return time.Now() }

// Mono is a monotonic clock. All MAC slot timing is computed from
// Mono.Now(); it never jumps backward.
type Mono struct {
	src Source
}

// NewMono wraps src, or a steady-clock fallback if src is nil.
func NewMono(src Source) *Mono {
	if src == nil {
		src = steadySource{}
	}
	return &Mono{src: src}
}

// Now returns the current monotonic time.
func (m *Mono) Now() time.Time {
	return m.src.Now()
}

// Wall is derived from a Mono clock by a lock-free atomic offset,
// used for packet birth times and log timestamps. SetOffset/Offset
// are safe to call concurrently with Now.
type Wall struct {
	mono       *Mono
	offsetNano int64 // atomic: wall = mono + offset
}

// NewWall derives a Wall clock from mono with zero initial offset.
func NewWall(mono *Mono) *Wall {
	return &Wall{mono: mono}
}

// SetOffset sets wall = mono + offset going forward (e.g. after a GPS
// or NTP correction).
func (w *Wall) SetOffset(offset time.Duration) {
	atomic.StoreInt64(&w.offsetNano, int64(offset))
}

// Offset returns the currently applied offset.
func (w *Wall) Offset() time.Duration {
	return time.Duration(atomic.LoadInt64(&w.offsetNano))
}

// Now returns the current wall-clock time.
func (w *Wall) Now() time.Time {
	return w.mono.Now().Add(w.Offset())
}
