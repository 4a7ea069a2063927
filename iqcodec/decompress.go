package iqcodec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

// Decompress parses a FLAC stream produced by Compress (or any
// two-channel, BitsPerSample-depth FLAC stream) back into IQ samples.
func Decompress(data []byte) ([]complex64, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("iqcodec: parse stream: %w", err)
	}
	defer stream.Close()

	if stream.Info.NChannels != 2 {
		return nil, fmt.Errorf("iqcodec: expected 2 channels, got %d", stream.Info.NChannels)
	}

	var out []complex64
	for {
		fr, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iqcodec: parse frame: %w", err)
		}

		i := fr.Subframes[0].Samples
		q := fr.Subframes[1].Samples
		for n := 0; n < len(i); n++ {
			out = append(out, complex(dequantize(i[n]), dequantize(q[n])))
		}
	}
	return out, nil
}

func dequantize(v int32) float32 {
	return float32(v) / sampleScale
}
