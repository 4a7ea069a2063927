// Package band defines the logical RF channel type shared by the
// synthesizer, channelizer, demodulator, and PHY contract: a center
// frequency and bandwidth carved out of the wideband radio.
package band

// Channel is a logical narrowband carrier: center frequency and
// bandwidth, both in Hz, relative to the wideband buffer's center.
type Channel struct {
	FC float64
	BW float64
}
