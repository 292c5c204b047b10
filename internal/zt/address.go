package zt

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// addressRegistry is a node's port table: which local ports are bound to
// which endpoint, plus ephemeral-port allocation (spec §4.1 C1). Node
// calls it while holding its own lock; every method here also takes the
// registry's own mutex.
type addressRegistry struct {
	mu     sync.Mutex
	byPort map[uint32]any
	nextEph uint32
}

func newAddressRegistry() *addressRegistry {
	r := &addressRegistry{byPort: make(map[uint32]any)}
	r.nextEph = seedEphemeral()
	return r
}

// seedEphemeral draws a random starting point in the ephemeral range so
// repeated process restarts don't collide on the same low ports.
func seedEphemeral() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return PortEphemeralLo
	}
	span := PortEphemeralHi - PortEphemeralLo + 1
	return PortEphemeralLo + binary.BigEndian.Uint32(b[:])%span
}

// Bind reserves an explicit static port for owner. Returns ErrAddrInUse
// if already taken, ErrAddrInvalid if port is 0 or outside the static
// range.
func (r *addressRegistry) Bind(port uint32, owner any) error {
	if port == 0 || port < PortStaticLo || port > PortStaticHi {
		return ErrAddrInvalid
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPort[port]; exists {
		return ErrAddrInUse
	}
	r.byPort[port] = owner
	return nil
}

// BindEphemeral allocates the next free port in the ephemeral range,
// probing forward (wrapping) from the last allocation point. Spec §4.1:
// "an implementation may probe forward from a random starting point."
func (r *addressRegistry) BindEphemeral(owner any) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	span := PortEphemeralHi - PortEphemeralLo + 1
	start := r.nextEph
	for i := uint32(0); i < span; i++ {
		p := PortEphemeralLo + (start-PortEphemeralLo+i)%span
		if _, exists := r.byPort[p]; !exists {
			r.byPort[p] = owner
			r.nextEph = p + 1
			if r.nextEph > PortEphemeralHi {
				r.nextEph = PortEphemeralLo
			}
			return p, nil
		}
	}
	return 0, ErrAddrInUse
}

// Lookup returns the owner bound to port, if any.
func (r *addressRegistry) Lookup(port uint32) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.byPort[port]
	return owner, ok
}

// Release frees port, making it available for reuse.
func (r *addressRegistry) Release(port uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byPort, port)
}
