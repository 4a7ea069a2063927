package iqbuf

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConcurrentProducerConsumer(t *testing.T) {
	buf := New(1000)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			buf.Samples[i] = complex(float32(i), 0)
			buf.SetNsamples(i + 1)
		}
		buf.MarkComplete()
	}()

	// Poll like a demodulator would.
	for {
		n := buf.Nsamples()
		done := buf.Complete()
		if done && n == 1000 {
			break
		}
	}
	wg.Wait()
	require.Equal(t, complex64(complex(999, 0)), buf.Samples[999])
}

func TestRefcounting(t *testing.T) {
	buf := New(10)
	buf.Ref()
	require.False(t, buf.Unref())
	require.True(t, buf.Unref())
}
