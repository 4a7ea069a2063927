package channelizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"dragonradio/band"
)

func testParams() Params {
	return Params{FilterLen: 9, OverlapFactor: 4} // O=8, N=32, L=24
}

// TestChannelizeProducesTrimmedOutput checks the overlap-save trimming
// arithmetic: feeding nblocks*L fresh samples through one channel
// should yield close to nblocks*L output samples (within one block's
// slack for the edge handling of the final partial block).
func TestChannelizeProducesTrimmedOutput(t *testing.T) {
	params := testParams()
	ch := New(0, band.Channel{FC: 0, BW: 48000}, params, 48000)

	wideband := make([]complex64, 3*params.L())
	for i := range wideband {
		wideband[i] = complex(float32(math.Sin(float64(i))), 0)
	}

	out := ch.Channelize(wideband)
	require.NotEmpty(t, out)
	require.LessOrEqual(t, len(out), len(wideband)+params.O())
}

// TestChannelizePassesDCThroughBasebandChannel verifies a channel
// centered at baseband (FC=0) with a wide passband lets a constant
// (DC) signal through close to unattenuated, once the filter's
// transient has flushed through.
func TestChannelizePassesDCThroughBasebandChannel(t *testing.T) {
	params := testParams()
	ch := New(0, band.Channel{FC: 0, BW: 48000}, params, 48000)

	wideband := make([]complex64, 4*params.L())
	for i := range wideband {
		wideband[i] = complex(float32(1), 0)
	}

	out := ch.Channelize(wideband)
	require.NotEmpty(t, out)

	last := out[len(out)-1]
	require.InDelta(t, 1, real(last), 0.2)
	require.InDelta(t, 0, imag(last), 0.2)
}

// TestDifferentChannelsGetIndependentState checks that two channelizers
// over the same wideband rate with different center frequencies each
// get their own spectrum rotation.
func TestDifferentChannelsGetIndependentState(t *testing.T) {
	params := testParams()
	a := New(0, band.Channel{FC: 0, BW: 48000}, params, 192000)
	b := New(1, band.Channel{FC: 48000, BW: 48000}, params, 192000)

	require.NotEqual(t, a.nrot, b.nrot)
}

// TestNarrowChannelPicksIntegerDecimationFactor checks that a channel
// narrower than the wideband capture gets an integer decimation factor
// dividing the shared overlap length exactly, and that a full-rate
// channel still resolves to D=1.
func TestNarrowChannelPicksIntegerDecimationFactor(t *testing.T) {
	params := testParams() // O=8, N=32, L=24

	narrow := New(0, band.Channel{FC: 0, BW: 12000}, params, 48000)
	require.Equal(t, 4, narrow.decim)
	require.Equal(t, 8, narrow.nc)
	require.Equal(t, 2, narrow.oc)
	require.InDelta(t, 12000, narrow.Rate(), 1e-6)

	fullRate := New(1, band.Channel{FC: 0, BW: 48000}, params, 48000)
	require.Equal(t, 1, fullRate.decim)
	require.Equal(t, params.N(), fullRate.nc)
}

// TestNarrowChannelChannelizeDecimatesOutputLength checks that a
// channel decimated by D out of a wideband capture yields roughly
// len(wideband)/D channel-rate samples rather than the full wideband
// sample count.
func TestNarrowChannelChannelizeDecimatesOutputLength(t *testing.T) {
	params := testParams()
	ch := New(0, band.Channel{FC: 0, BW: 12000}, params, 48000)
	require.Equal(t, 4, ch.decim)

	wideband := make([]complex64, 6*params.L())
	for i := range wideband {
		wideband[i] = complex(float32(math.Sin(float64(i)*0.01)), 0)
	}

	out := ch.Channelize(wideband)
	require.NotEmpty(t, out)
	require.Less(t, len(out), len(wideband))
	require.InDelta(t, len(wideband)/ch.decim, len(out), float64(ch.nc))
}
