package allocator

import (
	"context"
	"fmt"

	psnet "github.com/shirou/gopsutil/v3/net"
	"golang.org/x/sys/unix"
)

// LiveChecker returns the ports currently bound by sockets on the host.
type LiveChecker interface {
	BoundPorts(ctx context.Context) (PortSet, error)
}

// SocketChecker is a LiveChecker that inspects the host's IPv4 and IPv6
// sockets. TCP ports count as bound only while listening, and UDP ports
// whenever a socket is bound to them.
type SocketChecker struct {
	connections func(ctx context.Context, kind string) ([]psnet.ConnectionStat, error)
}

var _ LiveChecker = (*SocketChecker)(nil)

// NewSocketChecker returns a new SocketChecker.
func NewSocketChecker() *SocketChecker {
	return &SocketChecker{connections: psnet.ConnectionsWithContext}
}

// BoundPorts implements LiveChecker.
func (c *SocketChecker) BoundPorts(ctx context.Context) (PortSet, error) {
	conns, err := c.connections(ctx, "inet")
	if err != nil {
		return nil, fmt.Errorf("failed listing sockets: %w", err)
	}

	ports := PortSet{}
	for _, conn := range conns {
		if conn.Laddr.Port == 0 || conn.Laddr.Port > 65535 {
			continue
		}
		switch conn.Type {
		case unix.SOCK_STREAM:
			if conn.Status != "LISTEN" {
				continue
			}
		case unix.SOCK_DGRAM:
		default:
			continue
		}
		ports[uint16(conn.Laddr.Port)] = struct{}{}
	}

	return ports, nil
}
