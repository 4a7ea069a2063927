package channelizer

import (
	"gonum.org/v1/gonum/dsp/fourier"

	"dragonradio/band"
)

// Channel is a single logical channel's overlap-save downsampler: it
// isolates band.Channel's baseband samples out of a wideband capture
// sampled at wideRate, grounded directly on
// original_source/src/dsp/FDDownsampler.hh's resample/downsampleBlock
// pair. Filtering happens at the full wideband resolution N (an
// overlap-save block per FDDownsampler::resample); decimation by the
// integer factor D = wideRate/channel_rate is applied afterward, in
// the frequency domain, by keeping only the baseband-centered Nc=N/D
// bins of the filtered spectrum before a shorter, Nc-point IFFT —
// D is chosen as the divisor of O nearest that ratio so Nc, the
// channel-local overlap Oc=O/D and stride Lc=L/D all come out exact.
type Channel struct {
	chanIdx int
	channel band.Channel
	params  Params
	wideRate float64
	decim   int
	nc, oc, lc int
	nrot    int
	hfd     []complex128
	fft     *fourier.CmplxFFT // size N, forward transform
	ifft    *fourier.CmplxFFT // size Nc, inverse transform
}

// New builds the channelizer for one logical channel.
func New(chanIdx int, ch band.Channel, params Params, wideRate float64) *Channel {
	n, o, l := params.N(), params.O(), params.L()
	d := rateFactor(o, ch.BW, wideRate)
	nc := n / d
	oc := o / d
	lc := l / d

	fft := fourier.NewCmplxFFT(n)
	return &Channel{
		chanIdx:  chanIdx,
		channel:  ch,
		params:   params,
		wideRate: wideRate,
		decim:    d,
		nc:      nc,
		oc:      oc,
		lc:      lc,
		nrot:    rotationFor(params, ch.FC, wideRate),
		hfd:     buildBasebandFilterFD(params, ch.BW, wideRate, fft),
		fft:     fft,
		ifft:    fourier.NewCmplxFFT(nc),
	}
}

// ChanIdx is this channelizer's channel index.
func (c *Channel) ChanIdx() int { return c.chanIdx }

// Delay is the filter group delay in channel-rate samples, round
// ((P-1)/2) scaled down by the channel's decimation factor, matching
// FDDownsampler's delay_.
func (c *Channel) Delay() int { return c.oc / 2 }

// Rate is this channel's own sample rate after decimation.
func (c *Channel) Rate() float64 { return c.wideRate / float64(c.decim) }

// processBlock runs one N-sample overlap-save step: FFT, rotate the
// spectrum to baseband, apply the fixed lowpass filter at full
// resolution, extract the baseband-centered Nc bins, and IFFT at size
// Nc, returning the channel-rate time-domain result (caller trims to
// the valid Oc:Nc region).
func (c *Channel) processBlock(block []complex64) []complex128 {
	cin := make([]complex128, len(block))
	for i, v := range block {
		cin[i] = complex128(v)
	}
	x := c.fft.Coefficients(nil, cin)
	xr := rotate(x, c.nrot)
	y := make([]complex128, len(xr))
	for i := range xr {
		y[i] = xr[i] * c.hfd[i]
	}
	yc := extractSpectrum(y, c.nc)
	td := c.ifft.Sequence(nil, yc)
	// Sequence is unnormalized: scale by 1/Nc to complete the inverse.
	scale := complex(1/float64(c.nc), 0)
	for i := range td {
		td[i] *= scale
	}
	return td
}

// Channelize downsamples a full wideband burst into this channel's
// baseband time-domain samples in one pass, mirroring
// FDDownsampler::resample: overlap-save blocks of N = O+L wideband
// samples sliding by L, each yielding Nc = N/D channel-rate samples
// with the final partial block's valid region emitted rather than
// dropped.
func (c *Channel) Channelize(wideband []complex64) []complex64 {
	n, o, l := c.params.N(), c.params.O(), c.params.L()
	oc, nc := c.oc, c.nc

	out := make([]complex64, 0, (len(wideband)+o)/c.decim+nc)
	buf := make([]complex64, n)
	fftoff := o // first O samples of the very first block are zero history
	inoff := 0

	for inoff < len(wideband) {
		avail := len(wideband) - inoff
		if fftoff+avail < n {
			copy(buf[fftoff:], wideband[inoff:inoff+avail])
			for i := fftoff + avail; i < n; i++ {
				buf[i] = 0
			}
		} else {
			copy(buf[fftoff:n], wideband[inoff:inoff+(n-fftoff)])
		}

		td := c.processBlock(buf)

		if fftoff+avail < n {
			// Map the wideband valid range [o:fftoff+avail) down to the
			// channel rate; this last, partial block's trim is a
			// best-effort floor since the remainder need not divide
			// evenly by D.
			endc := oc + (fftoff+avail-o)/c.decim
			if endc > nc {
				endc = nc
			}
			for _, v := range td[oc:endc] {
				out = append(out, complex64(v))
			}
			break
		}
		for _, v := range td[oc:nc] {
			out = append(out, complex64(v))
		}

		inoff += l - fftoff
		fftoff = 0
	}

	return out
}
