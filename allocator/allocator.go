// Package allocator finds blocks of free external ports.
package allocator

import (
	"fmt"
	"math"

	aerrors "go.hackfix.me/natmgr/app/errors"
)

// ErrExhaustedPortSpace is returned when no free block of the requested size
// exists within the search window.
var ErrExhaustedPortSpace = fmt.Errorf("exhausted port space: %w", aerrors.ErrConflict)

// PortSet is a set of ports.
type PortSet map[uint16]struct{}

// NewPortSet returns a PortSet containing ports.
func NewPortSet(ports ...uint16) PortSet {
	s := make(PortSet, len(ports))
	for _, p := range ports {
		s[p] = struct{}{}
	}
	return s
}

// Has reports whether port is in the set. It is safe to call on a nil set.
func (s PortSet) Has(port uint16) bool {
	_, ok := s[port]
	return ok
}

// Allocator finds contiguous blocks of ports, starting at a base port and
// advancing in steps of the block size.
type Allocator struct {
	start  uint16
	window int
}

// New returns a new Allocator that considers ports in [start, start+window),
// capped at 65535.
func New(start uint16, window int) *Allocator {
	return &Allocator{start: start, window: window}
}

// Allocate returns count contiguous ports in increasing order. A candidate
// block is rejected if any of its ports is excluded, reserved, or bound
// according to the live function, in which case the next block starts right
// after it. live may be nil.
func (a *Allocator) Allocate(
	count int, excluded, reserved PortSet, live func(port uint16) bool,
) ([]uint16, error) {
	if count <= 0 {
		return nil, fmt.Errorf("invalid port count %d: %w", count, aerrors.ErrInvalidArgument)
	}

	last := min(int(a.start)+a.window-1, math.MaxUint16)
	for base := int(a.start); base+count-1 <= last; base += count {
		if a.blockFree(base, count, excluded, reserved, live) {
			ports := make([]uint16, count)
			for i := range ports {
				ports[i] = uint16(base + i)
			}
			return ports, nil
		}
	}

	return nil, aerrors.WithCause(ErrExhaustedPortSpace,
		fmt.Errorf("no block of %d free ports in %d-%d", count, a.start, last),
		"count", count, "start", a.start, "end", last)
}

func (a *Allocator) blockFree(
	base, count int, excluded, reserved PortSet, live func(port uint16) bool,
) bool {
	for p := base; p < base+count; p++ {
		port := uint16(p)
		if excluded.Has(port) || reserved.Has(port) {
			return false
		}
		if live != nil && live(port) {
			return false
		}
	}
	return true
}
