package zt

import (
	"context"
	"sync"
)

// Aio is a cancelable, submit-then-complete asynchronous result token,
// used by connect/accept/send/recv operations that must hand a caller a
// handle now and a result later (spec §4.5/§4.4: these calls "submit"
// against the Node's single lock and complete from the background
// scheduler or an overlay callback). Grounded on the channel-based
// one-shot completion pattern used for revdial-style deferred results,
// since the teacher itself is purely synchronous-handler based and has
// no direct analog.
type Aio struct {
	done chan struct{}

	mu        sync.Mutex
	completed bool
	canceled  bool
	value     any
	err       error
}

// NewAio returns an unresolved token.
func NewAio() *Aio {
	return &Aio{done: make(chan struct{})}
}

// Complete resolves the token with value/err. A no-op if the token was
// already completed or canceled.
func (a *Aio) Complete(value any, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed || a.canceled {
		return
	}
	a.completed = true
	a.value = value
	a.err = err
	close(a.done)
}

// Cancel resolves the token with ErrCanceled, unless it already
// completed. Returns true if this call performed the cancellation (the
// caller uses this to decide whether to also unwind any in-flight wire
// state, e.g. release a half-open dialer).
func (a *Aio) Cancel() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed || a.canceled {
		return false
	}
	a.canceled = true
	a.err = ErrCanceled
	close(a.done)
	return true
}

// Done returns a channel closed once the token resolves, for use in a
// select alongside ctx.Done().
func (a *Aio) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the token resolves or ctx is canceled, whichever
// comes first. A ctx cancellation does not itself resolve the token —
// the caller should also call Cancel so a later completion doesn't race
// past an abandoned waiter.
func (a *Aio) Wait(ctx context.Context) (any, error) {
	select {
	case <-a.done:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.value, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the resolved value/err without blocking; ok is false
// if the token hasn't resolved yet.
func (a *Aio) Result() (value any, err error, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value, a.err, a.completed || a.canceled
}
