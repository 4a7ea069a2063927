package channelizer

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
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(n)/float64(length-1))
		h[n] = v * w
	}
	return h
}

// rateFactor picks the integer decimation ratio D = wide_rate/channel_rate
// for a channel, rounded to the nearest divisor of o (the shared
// overlap length, P-1), mirroring package synth's upsample factor
// selection so that the channel-local FFT size N/D and overlap O/D
// both come out as exact integers.
func rateFactor(o int, bw, wideRate float64) int {
	if bw <= 0 || wideRate <= 0 || o <= 0 {
		return 1
	}
	return nearestDivisor(o, wideRate/bw)
}

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

// buildBasebandFilterFD builds the frequency-domain, unit-gain
// baseband lowpass prototype sized to a channel's fractional
// bandwidth, zero-padded to N and FFT'd. Unlike synth's filter (which
// bakes a channel's center-frequency shift into the filter itself),
// here the *input spectrum* is rotated per block so the same baseband
// filter serves every channel, matching the grounding source's
// downsampleBlock (rotate input, then apply a fixed filter). Filtering
// always happens at the full wideband resolution N, before any
// decimation, so the passband is shaped with the full filter length
// regardless of how far the channel is decimated afterward.
func buildBasebandFilterFD(params Params, bw, wideRate float64, fft *fourier.CmplxFFT) []complex128 {
	n := params.N()
	cutoff := bw / wideRate
	if cutoff <= 0 {
		cutoff = 1e-6
	}
	if cutoff > 1 {
		cutoff = 1
	}
	proto := sincLowpass(params.FilterLen, cutoff)

	var sum float64
	for _, v := range proto {
		sum += v
	}
	if sum != 0 {
		for i := range proto {
			proto[i] /= sum
		}
	}

	padded := make([]complex128, n)
	for i, v := range proto {
		padded[i] = complex(v, 0)
	}
	return fft.Coefficients(nil, padded)
}

// rotationFor returns the number of FFT bins to rotate the input
// spectrum by so a channel centered at fc (relative to wideRate) ends
// up at baseband.
func rotationFor(params Params, fc, wideRate float64) int {
	n := params.N()
	nrot := int(math.Round(float64(n) * fc / wideRate))
	return ((nrot % n) + n) % n
}

// extractSpectrum maps an n-point spectrum down onto an nc-point
// spectrum (nc a divisor of n) by keeping only the bins nearest DC —
// the dual of synth's expandSpectrum. It assumes y has already been
// filtered to a passband no wider than nc's Nyquist rate, so the
// discarded high bins carry negligible energy. The kept bins are
// scaled by nc/n so an nc-point IFFT reconstructs the same waveform at
// nc/n times the original sample rate without attenuating it.
func extractSpectrum(y []complex128, nc int) []complex128 {
	n := len(y)
	if nc == n {
		out := make([]complex128, n)
		copy(out, y)
		return out
	}
	out := make([]complex128, nc)
	gain := complex(float64(nc)/float64(n), 0)
	half := nc / 2
	for k := 0; k <= half; k++ {
		out[k] = y[k] * gain
	}
	for k := 1; k < nc-half; k++ {
		out[nc-k] = y[n-k] * gain
	}
	return out
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
