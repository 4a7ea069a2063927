// Package port implements the typed push/pull element fabric that
// connects pipeline components. A Port is parameterized by direction
// (in the type: In/Out) and protocol (Push/Pull); connecting two ports
// of matching protocol and payload type wires a producer to a
// consumer. Disconnecting a pull port unblocks any pending receive
// with "no value"; pushing to a disconnected output is a no-op.
package port

import (
	"sync"
)

// Out is a push or pull output port of type T.
type Out[T any] struct {
	mu      sync.RWMutex
	push    func(T)   // set when connected to a push In
	pullCh  chan T     // set when connected to a pull In (consumer reads from here)
	stopped chan struct{}
}

// NewOut creates a disconnected output port.
func NewOut[T any]() *Out[T] {
	return &Out[T]{stopped: make(chan struct{})}
}

// ConnectPush wires this output to a push-style consumer callback.
func (o *Out[T]) ConnectPush(cb func(T)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.push = cb
	o.pullCh = nil
}

// ConnectPull wires this output to a pull-style consumer, returning the
// channel the consumer should read from.
func (o *Out[T]) ConnectPull(bufsize int) <-chan T {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch := make(chan T, bufsize)
	o.pullCh = ch
	o.push = nil
	return ch
}

// Disconnect severs the connection. Any pending pull unblocks because
// the channel is closed; a subsequent Send becomes a no-op.
func (o *Out[T]) Disconnect() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pullCh != nil {
		close(o.pullCh)
	}
	o.push = nil
	o.pullCh = nil
}

// Send delivers a value to whatever is connected. A send to a
// disconnected or pull-congested-and-closed port is a no-op.
func (o *Out[T]) Send(v T) {
	o.mu.RLock()
	push := o.push
	pullCh := o.pullCh
	o.mu.RUnlock()

	switch {
	case push != nil:
		push(v)
	case pullCh != nil:
		defer func() { recover() }() // channel may have been closed concurrently by Disconnect
		pullCh <- v
	}
}

// In is a pull-style input port: a blocking receive with an explicit
// "no value on disconnect" contract.
type In[T any] struct {
	ch <-chan T
}

// Bind attaches the receive channel obtained from the peer Out's
// ConnectPull.
func (i *In[T]) Bind(ch <-chan T) {
	i.ch = ch
}

// Recv blocks for the next value. ok is false iff the port has been
// disconnected (the channel was closed) with no further values
// pending.
func (i *In[T]) Recv() (v T, ok bool) {
	if i.ch == nil {
		return v, false
	}
	v, ok = <-i.ch
	return v, ok
}
