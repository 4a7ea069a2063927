package radio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeIQRoundTrip(t *testing.T) {
	samples := []complex64{1 + 2i, -3.5 + 0i, 0 - 7.25i}
	payload := encodeIQ(samples)
	require.Len(t, payload, 8*len(samples))

	decoded := decodeIQ(payload)
	require.Equal(t, samples, decoded)
}
