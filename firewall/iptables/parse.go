package iptables

import (
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	ftypes "go.hackfix.me/natmgr/firewall/types"
)

var (
	ifaceRx = regexp.MustCompile(`(?:^|\s)-i (\S+)`)
	protoRx = regexp.MustCompile(`(?:^|\s)-p (\w+)`)
	dportRx = regexp.MustCompile(`--dport (\d+)(?:\s|$)`)
	destRx  = regexp.MustCompile(`--to-destination ([0-9.]+):(\d+)(?:\s|$)`)
)

// ParseRules extracts the DNAT rules on iface from rules in iptables-save
// format, as returned by `iptables -S` or iptables-save. Lines that aren't
// appended to PREROUTING, don't jump to DNAT or are on another interface are
// ignored. DNAT lines on iface that can't be parsed, e.g. port ranges, are
// returned as skipped.
func ParseRules(lines []string, iface string) (rules []ftypes.Rule, skipped []string) {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "-A "+chain+" ") || !strings.Contains(line, "-j DNAT") {
			continue
		}
		if m := ifaceRx.FindStringSubmatch(line); m == nil || m[1] != iface {
			continue
		}

		rule, ok := parseRule(line)
		if !ok {
			skipped = append(skipped, line)
			continue
		}
		rules = append(rules, rule)
	}

	return rules, skipped
}

func parseRule(line string) (ftypes.Rule, bool) {
	protoM := protoRx.FindStringSubmatch(line)
	dportM := dportRx.FindStringSubmatch(line)
	destM := destRx.FindStringSubmatch(line)
	if protoM == nil || dportM == nil || destM == nil {
		return ftypes.Rule{}, false
	}

	proto, err := ftypes.ProtocolFromString(protoM[1])
	if err != nil {
		return ftypes.Rule{}, false
	}
	ext, err := strconv.ParseUint(dportM[1], 10, 16)
	if err != nil || ext == 0 {
		return ftypes.Rule{}, false
	}
	addr, err := netip.ParseAddr(destM[1])
	if err != nil || !addr.Is4() {
		return ftypes.Rule{}, false
	}
	internal, err := strconv.ParseUint(destM[2], 10, 16)
	if err != nil || internal == 0 {
		return ftypes.Rule{}, false
	}

	return ftypes.Rule{
		Protocol:     proto,
		ExternalPort: uint16(ext),
		DestHost:     addr,
		InternalPort: uint16(internal),
	}, true
}
