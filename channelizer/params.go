// Package channelizer implements the overlap-save frequency-domain
// downsampler that isolates one logical channel's baseband samples out
// of a captured wideband RX burst, decimating each channel by its own
// integer factor D = wide_rate/channel_rate down from the shared
// capture rate.
package channelizer

// Params fixes the overlap-save block geometry, mirroring package
// synth's filter length P and overlap factor V.
type Params struct {
	FilterLen     int
	OverlapFactor int
}

// DefaultParams matches the production filter length and overlap
// factor from spec.md §4.4.
func DefaultParams() Params {
	return Params{FilterLen: 8001, OverlapFactor: 8}
}

func (p Params) N() int { return p.OverlapFactor * (p.FilterLen - 1) }
func (p Params) O() int { return p.FilterLen - 1 }
func (p Params) L() int { return p.N() - p.O() }
