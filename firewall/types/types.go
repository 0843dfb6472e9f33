package types

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// FirewallType are the supported firewall implementations.
type FirewallType string

// All supported firewall implementations.
const (
	FirewallMock     FirewallType = "mock"
	FirewallIPTables FirewallType = "iptables"
	FirewallNFTables FirewallType = "nftables"
)

// FirewallTypeFromString returns a valid FirewallType for the given string, or
// an error if the value is invalid.
func FirewallTypeFromString(val string) (FirewallType, error) {
	switch FirewallType(val) {
	case FirewallMock:
		return FirewallMock, nil
	case FirewallIPTables:
		return FirewallIPTables, nil
	case FirewallNFTables:
		return FirewallNFTables, nil
	}
	return "", fmt.Errorf("unsupported firewall type '%s'", val)
}

// Protocol is a transport protocol that can be forwarded.
type Protocol string

// Supported protocols.
const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// ProtocolFromString returns a valid Protocol for the given string, or an
// error if the value is invalid. Matching is case-insensitive.
func ProtocolFromString(val string) (Protocol, error) {
	switch Protocol(strings.ToLower(val)) {
	case ProtocolTCP:
		return ProtocolTCP, nil
	case ProtocolUDP:
		return ProtocolUDP, nil
	}
	return "", fmt.Errorf("unsupported protocol '%s'", val)
}

// ErrRuleNotFound is returned by Firewall.DeleteRule when no matching rule is
// programmed.
var ErrRuleNotFound = errors.New("rule not found")

// Rule is a single destination NAT redirect of traffic arriving on the managed
// interface at ExternalPort to DestHost:InternalPort.
type Rule struct {
	Protocol     Protocol   `json:"protocol"`
	ExternalPort uint16     `json:"external_port"`
	DestHost     netip.Addr `json:"dest_host"`
	InternalPort uint16     `json:"internal_port"`
}

// NewRule returns a rule redirecting externalPort to destHost:internalPort. It
// fails if destHost isn't an IPv4 address or any of the ports is 0.
func NewRule(proto Protocol, externalPort uint16, destHost string, internalPort uint16) (Rule, error) {
	addr, err := netip.ParseAddr(destHost)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid destination host '%s': %w", destHost, err)
	}
	if !addr.Is4() {
		return Rule{}, fmt.Errorf("destination host '%s' is not an IPv4 address", destHost)
	}
	if externalPort == 0 || internalPort == 0 {
		return Rule{}, errors.New("ports must be greater than 0")
	}
	if proto, err = ProtocolFromString(string(proto)); err != nil {
		return Rule{}, err
	}

	return Rule{Protocol: proto, ExternalPort: externalPort, DestHost: addr, InternalPort: internalPort}, nil
}

// String returns the rule in "50000/tcp -> 10.0.0.5:22" notation.
func (r Rule) String() string {
	return fmt.Sprintf("%d/%s -> %s:%d", r.ExternalPort, r.Protocol, r.DestHost, r.InternalPort)
}

// Firewall is the interface to the host's live NAT rule table.
type Firewall interface {
	// Init prepares the firewall for use (e.g. creates tables and chains). It
	// must be idempotent.
	Init() error

	// RuleExists reports whether exactly this rule is currently programmed.
	RuleExists(rule Rule) (bool, error)

	// InsertRule programs the rule. Callers are expected to check RuleExists
	// first, since backends are not required to deduplicate.
	InsertRule(rule Rule) error

	// DeleteRule removes the rule. It returns an error wrapping ErrRuleNotFound
	// if the rule isn't programmed.
	DeleteRule(rule Rule) error

	// ListRules returns all DNAT rules on the managed interface.
	ListRules() ([]Rule, error)

	// EnableForwarding ensures IPv4 packet forwarding is enabled.
	EnableForwarding() error

	// Persist writes the live rule set to durable storage, so that it survives
	// a restart.
	Persist() error

	// Snapshot returns the raw, backend-specific dump of the live rule set.
	Snapshot() ([]byte, error)

	// Restore replaces the live rule set with a dump returned by Snapshot.
	Restore(data []byte) error
}
