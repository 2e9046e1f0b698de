package actor

import "sync"

// ReplyPort is a single-use reply channel for one-shot operations such as
// put_record (spec §4.1). A command carries one of these; the sub-actor
// resolves it exactly once from within HandleEvent when the underlying
// overlay operation completes.
type ReplyPort[T any] struct {
	ch     chan result[T]
	closed bool
	mu     sync.Mutex
}

type result[T any] struct {
	value T
	err   error
}

// NewReplyPort creates a reply port with its channel ready to receive.
func NewReplyPort[T any]() *ReplyPort[T] {
	return &ReplyPort[T]{ch: make(chan result[T], 1)}
}

// Resolve completes the port with a value. Calling it more than once, or
// after the caller has dropped the port, is a no-op: per spec §4.1, a
// command whose reply port is dropped without a response is a caller-side
// cancellation and must be silently ignored, never panic.
func (p *ReplyPort[T]) Resolve(value T) {
	p.send(result[T]{value: value})
}

// Reject completes the port with an error.
func (p *ReplyPort[T]) Reject(err error) {
	p.send(result[T]{err: err})
}

// Drop abandons the port without a response, used by callers that give up
// waiting (e.g. the bridge, when the client connection goes away). Wait
// observes this as ErrPortDropped.
func (p *ReplyPort[T]) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.ch)
}

func (p *ReplyPort[T]) send(r result[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.ch <- r
	close(p.ch)
}

// Wait blocks the calling goroutine (never the actor loop itself) until the
// port is resolved or rejected.
func (p *ReplyPort[T]) Wait() (T, error) {
	r, ok := <-p.ch
	if !ok {
		var zero T
		return zero, ErrPortDropped
	}
	return r.value, r.err
}

// ErrPortDropped is returned by Wait when the port's channel was closed
// without ever being resolved (Drop was called before Resolve or Reject).
var ErrPortDropped = portDroppedError{}

type portDroppedError struct{}

func (portDroppedError) Error() string { return "actor: reply port dropped without a response" }

// StreamPort is a multi-use reply port for streaming operations such as
// get_providers or subscribe (spec §4.1). Unlike ReplyPort it may be
// written to many times before the caller stops reading.
type StreamPort[T any] struct {
	ch        chan streamItem[T]
	closeOnce sync.Once
	err       error
}

type streamItem[T any] struct {
	value T
	err   error
}

// NewStreamPort creates a stream port with the given buffer depth (the
// "bounded queue" spec §4.2/§4.3 call for lossy-with-disconnect behavior).
func NewStreamPort[T any](buffer int) *StreamPort[T] {
	return &StreamPort[T]{ch: make(chan streamItem[T], buffer)}
}

// TrySend attempts to push one item without blocking the actor loop. It
// reports false if the subscriber's queue is full, which callers use to
// implement the "Lagged"/overflow-disconnect behavior (spec §4.2, §4.3):
// the producer should then call Fail and drop the subscription.
func (p *StreamPort[T]) TrySend(value T) bool {
	select {
	case p.ch <- streamItem[T]{value: value}:
		return true
	default:
		return false
	}
}

// Fail terminates the stream with an error without blocking, even when the
// buffer is full. Next first drains the items already buffered, then
// reports err.
func (p *StreamPort[T]) Fail(err error) {
	p.closeOnce.Do(func() {
		p.err = err
		close(p.ch)
	})
}

// Close terminates the stream cleanly (no more items, no error).
func (p *StreamPort[T]) Close() {
	p.closeOnce.Do(func() { close(p.ch) })
}

// Next blocks until an item, error or stream end is available.
func (p *StreamPort[T]) Next() (value T, ok bool, err error) {
	item, open := <-p.ch
	if !open {
		var zero T
		return zero, false, p.err
	}
	return item.value, true, item.err
}
