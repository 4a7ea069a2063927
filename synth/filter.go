package synth

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// sincLowpass builds a windowed-sinc lowpass prototype of length P
// with cutoff given as a fraction of the Nyquist rate (0, 1].
func sincLowpass(length int, cutoff float64) []float64 {
	h := make([]float64, length)
	mid := float64(length-1) / 2
	for n := 0; n < length; n++ {
		x := float64(n) - mid
		var v float64
		if x == 0 {
			v = cutoff
		} else {
			v = math.Sin(math.Pi*cutoff*x) / (math.Pi * x)
		}
		// Hamming window to control sidelobes.
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(n)/float64(length-1))
		h[n] = v * w
	}
	return h
}

// rateFactor picks the integer upsample ratio X = out_rate/channel_rate
// for a channel, rounded to the nearest divisor of o (the slot's shared
// overlap length, P-1). A divisor of o is automatically a divisor of
// N = V*o too, so constraining X this way keeps the channel-local FFT
// size N/X and overlap o/X both exact integers without any extra
// bookkeeping.
func rateFactor(o int, bw, outRate float64) int {
	if bw <= 0 || outRate <= 0 || o <= 0 {
		return 1
	}
	return nearestDivisor(o, outRate/bw)
}

// nearestDivisor returns the divisor of n closest to raw, clamped to
// at least 1 and never exceeding n itself.
func nearestDivisor(n int, raw float64) int {
	if raw < 1 {
		raw = 1
	}
	best := 1
	bestDist := math.Abs(raw - 1)
	for d := 2; d <= n; d++ {
		if n%d != 0 {
			continue
		}
		if dist := math.Abs(raw - float64(d)); dist < bestDist {
			best, bestDist = d, dist
		}
	}
	return best
}

// buildLowpassFD builds a channel-local, unit-gain frequency-domain
// lowpass filter: a windowed-sinc prototype of length p, zero-padded
// to nc and transformed by fft (which must have been constructed with
// size nc). No center-frequency rotation is applied here — at the
// channel's own (downsampled) rate the content is still at baseband;
// the shift to the channel's place in the wideband spectrum happens
// once the filtered block has been expanded back up to the shared
// wideband FFT size.
func buildLowpassFD(fft *fourier.CmplxFFT, p, nc int, cutoff float64) []complex128 {
	if cutoff <= 0 {
		cutoff = 1e-6
	}
	if cutoff > 1 {
		cutoff = 1
	}
	proto := sincLowpass(p, cutoff)

	var sum float64
	for _, v := range proto {
		sum += v
	}
	if sum != 0 {
		for i := range proto {
			proto[i] /= sum
		}
	}

	padded := make([]complex128, nc)
	for i, v := range proto {
		padded[i] = complex(v, 0)
	}
	return fft.Coefficients(nil, padded)
}

// expandSpectrum maps an nc-point spectrum onto an n-point spectrum (n
// a multiple of nc) by ideal zero-insertion interpolation: DC and the
// positive frequencies up to Nyquist keep their low bin indices,
// negative frequencies move out to the matching high bin indices of
// the wider array, and every bin the widening inserts in between is
// left at zero. The result is scaled by n/nc so an n-point IFFT
// reconstructs the same waveform, interpolated up to n/nc times the
// original sample rate, at unchanged amplitude.
func expandSpectrum(hc []complex128, n int) []complex128 {
	nc := len(hc)
	if nc == n {
		out := make([]complex128, n)
		copy(out, hc)
		return out
	}
	out := make([]complex128, n)
	gain := complex(float64(n)/float64(nc), 0)
	half := nc / 2
	for k := 0; k <= half; k++ {
		out[k] = hc[k] * gain
	}
	for k := 1; k < nc-half; k++ {
		out[n-k] = hc[nc-k] * gain
	}
	return out
}

// rotationBins returns the number of N-bin FFT bins to rotate a
// channel centered at fc (relative to outRate) up to its place in the
// shared wideband spectrum.
func rotationBins(n int, fc, outRate float64) int {
	nrot := int(math.Round(float64(n) * fc / outRate))
	return ((nrot % n) + n) % n
}

// rotate returns a copy of x circularly shifted by n bins:
// out[k] = x[(k-n) mod len(x)].
func rotate(x []complex128, n int) []complex128 {
	ln := len(x)
	n = ((n % ln) + ln) % ln
	out := make([]complex128, ln)
	for k := 0; k < ln; k++ {
		src := k - n
		src = ((src % ln) + ln) % ln
		out[k] = x[src]
	}
	return out
}
