package zt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialerEstablishesOnMatchingConnAck(t *testing.T) {
	d := NewDialer(NewAddress(1, 100), NewAddress(2, 200), 1)

	var sent int
	done := d.Tick(time.Now(), func(body connBody) error {
		sent++
		return nil
	})
	assert.False(t, done)
	assert.Equal(t, 1, sent)

	require.NoError(t, d.OnConnAck(1))
	assert.Equal(t, stateEstablished, d.State())
}

func TestDialerRejectsWrongSPProto(t *testing.T) {
	d := NewDialer(NewAddress(1, 100), NewAddress(2, 200), 1)
	d.Tick(time.Now(), func(connBody) error { return nil })

	err := d.OnConnAck(2)
	assert.ErrorIs(t, err, ErrWrongSP)
	assert.Equal(t, stateClosed, d.State())
}

func TestDialerRetriesThenGivesUp(t *testing.T) {
	d := NewDialer(NewAddress(1, 100), NewAddress(2, 200), 1)
	now := time.Now()

	for i := 0; i < DefaultConnAttempts; i++ {
		done := d.Tick(now, func(connBody) error { return nil })
		assert.False(t, done)
		now = now.Add(DefaultConnInterval * time.Millisecond)
	}

	done := d.Tick(now, func(connBody) error { return nil })
	assert.True(t, done)
	assert.ErrorIs(t, d.Err(), ErrTimedOut)
}

func TestDialerOnErrorMapsCode(t *testing.T) {
	d := NewDialer(NewAddress(1, 100), NewAddress(2, 200), 1)
	d.Tick(time.Now(), func(connBody) error { return nil })
	d.OnError(ErrCodeRefused)
	assert.Equal(t, stateClosed, d.State())
	assert.ErrorIs(t, d.Err(), ErrConnRefused)
}

func TestListenerDedupesRetransmittedConnReq(t *testing.T) {
	l := NewListener(NewAddress(1, 100))
	now := time.Now()

	remote := NewAddress(2, 200)
	assert.True(t, l.OnConnReq(remote, 1, now))
	assert.True(t, l.OnConnReq(remote, 1, now.Add(time.Millisecond)))

	_, _, ok := l.Accept(now)
	require.True(t, ok)
	_, _, ok = l.Accept(now)
	assert.False(t, ok, "dedup must not enqueue a second backlog entry")
}

func TestListenerExpiresStaleBacklogEntries(t *testing.T) {
	l := NewListener(NewAddress(1, 100))
	l.expire = 10 * time.Millisecond
	now := time.Now()

	l.OnConnReq(NewAddress(2, 200), 1, now)
	later := now.Add(20 * time.Millisecond)
	l.OnConnReq(NewAddress(3, 300), 1, later)

	_, _, ok := l.Accept(later)
	require.True(t, ok)
	_, _, ok = l.Accept(later)
	assert.False(t, ok, "expired entry should have been garbage collected")
}

func TestListenerAcceptExpiresEvenWithoutFurtherConnReq(t *testing.T) {
	l := NewListener(NewAddress(1, 100))
	l.expire = 10 * time.Millisecond
	now := time.Now()

	l.OnConnReq(NewAddress(2, 200), 1, now)

	_, _, ok := l.Accept(now.Add(20 * time.Millisecond))
	assert.False(t, ok, "Accept must gc expired entries itself rather than rely on a later OnConnReq")
}

func TestListenerBacklogFullDropsNewPeer(t *testing.T) {
	l := NewListener(NewAddress(1, 100))
	l.maxQ = 1
	now := time.Now()

	assert.True(t, l.OnConnReq(NewAddress(2, 200), 1, now))
	assert.False(t, l.OnConnReq(NewAddress(3, 300), 1, now))
}
