package firewall

import (
	"fmt"
	"net/netip"

	"go4.org/netipx"
)

// ParseToIPSet parses one or more IPv4 address strings in plain, CIDR or range
// notation, and returns an IP set containing all of them.
func ParseToIPSet(ipAddr ...string) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	for _, ip := range ipAddr {
		var ipRange netipx.IPRange
		if addr, err := netip.ParseAddr(ip); err == nil {
			ipRange = netipx.IPRangeFrom(addr, addr)
		} else if cidr, err := netip.ParsePrefix(ip); err == nil {
			ipRange = netipx.RangeOfPrefix(cidr)
		} else if ipRange, err = netipx.ParseIPRange(ip); err != nil {
			return nil, fmt.Errorf("failed parsing IP address '%s': %w", ip, err)
		}

		if !ipRange.From().Is4() {
			return nil, fmt.Errorf("'%s' is not an IPv4 address", ip)
		}
		b.AddRange(ipRange)
	}

	ipSet, err := b.IPSet()
	if err != nil {
		return nil, fmt.Errorf("failed building IP set: %w", err)
	}

	return ipSet, nil
}
