// Package radio defines the external Radio contract (spec.md §6) that
// the MAC drives, plus two implementations: a UDP/RTP multicast radio
// adapted from the teacher's audio-over-multicast receiver, and an
// in-process loopback radio for tests and single-host demos.
package radio

import (
	"time"

	"dragonradio/iqbuf"
)

// Radio is the fixed external contract a radio front-end implements.
type Radio interface {
	SetRxRate(rate float64)
	SetTxRate(rate float64)
	GetRxRate() float64
	GetTxRate() float64

	StartRxStream(t time.Time) error
	StopRxStream() error
	// BurstRx fills buf with up to nsamples samples starting at t,
	// returning false (not an error) on a clean timeout.
	BurstRx(t time.Time, nsamples int, buf *iqbuf.IQBuf) (bool, error)

	BurstTx(t time.Time, startOfBurst, endOfBurst bool, bufs []*iqbuf.IQBuf) error
	StopTxBurst() error
	InTxBurst() bool

	TxUnderflowCount() uint64
	TxLateCount() uint64
}
