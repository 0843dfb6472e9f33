package engine

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
)

var ownerRx = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)

// parseOwner validates that owner is a dotted-quad IPv4 address, and returns it
// in canonical form, e.g. "010.0.0.5" becomes "10.0.0.5". If the engine was
// configured with owner networks, the address must belong to one of them.
func (e *Engine) parseOwner(owner string) (string, error) {
	match := ownerRx.FindStringSubmatch(owner)
	if match == nil {
		return "", fmt.Errorf("%w: '%s'", ErrInvalidOwner, owner)
	}

	var octets [4]byte
	for i, o := range match[1:] {
		n, err := strconv.Atoi(o)
		if err != nil || n > 255 {
			return "", fmt.Errorf("%w: '%s'", ErrInvalidOwner, owner)
		}
		octets[i] = byte(n)
	}

	addr := netip.AddrFrom4(octets)
	if e.owners != nil && !e.owners.Contains(addr) {
		return "", fmt.Errorf("%w: '%s' is outside the allowed owner networks", ErrInvalidOwner, owner)
	}

	return addr.String(), nil
}
