package port

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPushDelivery(t *testing.T) {
	out := NewOut[int]()
	got := make(chan int, 1)
	out.ConnectPush(func(v int) { got <- v })

	out.Send(42)
	select {
	case v := <-got:
		require.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for push delivery")
	}
}

func TestPushToDisconnectedIsNoop(t *testing.T) {
	out := NewOut[int]()
	require.NotPanics(t, func() { out.Send(1) })
}

func TestPullDisconnectUnblocks(t *testing.T) {
	out := NewOut[int]()
	ch := out.ConnectPull(0)
	var in In[int]
	in.Bind(ch)

	done := make(chan struct{})
	go func() {
		_, ok := in.Recv()
		require.False(t, ok)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	out.Disconnect()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disconnect did not unblock pending pull")
	}
}

func TestPullRoundTrip(t *testing.T) {
	out := NewOut[string]()
	ch := out.ConnectPull(1)
	var in In[string]
	in.Bind(ch)

	out.Send("hello")
	v, ok := in.Recv()
	require.True(t, ok)
	require.Equal(t, "hello", v)
}
