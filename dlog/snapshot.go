package dlog

import (
	"time"

	"dragonradio/iqbuf"
)

// LogSnapshotBuf records a raw IQ capture taken independently of slot
// boundaries (a buf with SnapshotOff >= 0), for offline spectrum
// analysis. Not wired into the MAC's rxLoop automatically: a
// snapshot stream is a deployment/debugging feature in the original,
// so callers (cmd/dragonradiod or a test harness) opt in explicitly
// by passing completed buffers here as they arrive.
func (l *Logger) LogSnapshotBuf(buf *iqbuf.IQBuf) {
	if buf.SnapshotOff < 0 {
		return
	}
	n := buf.Nsamples()
	l.LogSnapshot(buf.Timestamp, buf.Timestamp, float32(buf.Fs), buf.Samples[:n])
}

// LogSelfTXSpan records that this node's own transmission occupies
// [start, end) samples within the most recently logged snapshot, so
// a snapshot viewer can mask out self-interference. fc/fs describe
// the transmission's center frequency and sample rate.
func (l *Logger) LogSelfTXSpan(t time.Time, local bool, start, end int, fc, fs float64) {
	var isLocal uint8
	if local {
		isLocal = 1
	}
	l.LogSelfTX(SelfTXRecord{
		Timestamp:     toUnix(t),
		MonoTimestamp: toUnix(t),
		IsLocal:       isLocal,
		Start:         int32(start),
		End:           int32(end),
		FC:            float32(fc),
		FS:            float32(fs),
	})
}
