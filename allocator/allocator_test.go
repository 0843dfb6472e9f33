package allocator

import (
	"context"
	"errors"
	"testing"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	aerrors "go.hackfix.me/natmgr/app/errors"
)

func TestAllocate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		start    uint16
		window   int
		count    int
		excluded PortSet
		reserved PortSet
		live     PortSet
		exp      []uint16
		expErr   error
	}{
		{
			name: "ok/first_block", start: 50000, window: 100, count: 6,
			exp: []uint16{50000, 50001, 50002, 50003, 50004, 50005},
		},
		{
			name: "ok/skip_excluded", start: 50000, window: 100, count: 3,
			excluded: NewPortSet(50001),
			exp:      []uint16{50003, 50004, 50005},
		},
		{
			name: "ok/skip_reserved", start: 50000, window: 100, count: 2,
			reserved: NewPortSet(50000, 50003),
			exp:      []uint16{50004, 50005},
		},
		{
			name: "ok/skip_live", start: 50000, window: 100, count: 4,
			live: NewPortSet(50007),
			exp:  []uint16{50000, 50001, 50002, 50003},
		},
		{
			name: "ok/skip_all_kinds", start: 50000, window: 100, count: 2,
			excluded: NewPortSet(50000), reserved: NewPortSet(50002), live: NewPortSet(50005),
			exp: []uint16{50006, 50007},
		},
		{
			name: "ok/last_block_in_window", start: 50000, window: 4, count: 2,
			excluded: NewPortSet(50001),
			exp:      []uint16{50002, 50003},
		},
		{
			name: "ok/top_of_port_range", start: 65534, window: 10000, count: 2,
			exp: []uint16{65534, 65535},
		},
		{
			name: "err/zero_count", start: 50000, window: 100, count: 0,
			expErr: aerrors.ErrInvalidArgument,
		},
		{
			name: "err/negative_count", start: 50000, window: 100, count: -2,
			expErr: aerrors.ErrInvalidArgument,
		},
		{
			name: "err/window_exhausted", start: 50000, window: 4, count: 2,
			excluded: NewPortSet(50000), reserved: NewPortSet(50003),
			expErr: ErrExhaustedPortSpace,
		},
		{
			name: "err/block_larger_than_window", start: 50000, window: 4, count: 5,
			expErr: ErrExhaustedPortSpace,
		},
		{
			name: "err/past_port_range", start: 65535, window: 10000, count: 2,
			expErr: ErrExhaustedPortSpace,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := New(tt.start, tt.window)
			ports, err := a.Allocate(tt.count, tt.excluded, tt.reserved, tt.live.Has)
			if tt.expErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expErr)
				assert.Nil(t, ports)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.exp, ports)
		})
	}
}

// Ports allocated for one owner are never handed out again when they're
// passed as excluded on the next allocation.
func TestAllocateDisjoint(t *testing.T) {
	t.Parallel()

	a := New(50000, 1000)
	assigned := PortSet{}
	reserved := NewPortSet(50010, 50011)
	live := NewPortSet(50020)

	for _, count := range []int{6, 3, 1, 4, 6, 2} {
		ports, err := a.Allocate(count, assigned, reserved, live.Has)
		require.NoError(t, err)
		require.Len(t, ports, count)

		for i, p := range ports {
			assert.False(t, assigned.Has(p), "port %d already assigned", p)
			assert.False(t, reserved.Has(p), "port %d is reserved", p)
			assert.False(t, live.Has(p), "port %d is bound", p)
			if i > 0 {
				assert.Equal(t, ports[i-1]+1, p)
			}
			assigned[p] = struct{}{}
		}
	}
}

func TestAllocateNilLive(t *testing.T) {
	t.Parallel()

	ports, err := New(50000, 10).Allocate(1, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint16{50000}, ports)
}

func TestSocketCheckerBoundPorts(t *testing.T) {
	t.Parallel()

	conns := []psnet.ConnectionStat{
		{Type: unix.SOCK_STREAM, Status: "LISTEN", Laddr: psnet.Addr{IP: "0.0.0.0", Port: 22}},
		{Type: unix.SOCK_STREAM, Status: "ESTABLISHED", Laddr: psnet.Addr{IP: "10.0.0.1", Port: 50001}},
		{Type: unix.SOCK_STREAM, Status: "LISTEN", Laddr: psnet.Addr{IP: "::", Port: 50002}},
		{Type: unix.SOCK_DGRAM, Status: "NONE", Laddr: psnet.Addr{IP: "0.0.0.0", Port: 53}},
		{Type: unix.SOCK_DGRAM, Status: "NONE", Laddr: psnet.Addr{IP: "0.0.0.0", Port: 0}},
		{Type: unix.SOCK_RAW, Status: "", Laddr: psnet.Addr{IP: "0.0.0.0", Port: 50003}},
	}

	c := &SocketChecker{
		connections: func(_ context.Context, kind string) ([]psnet.ConnectionStat, error) {
			assert.Equal(t, "inet", kind)
			return conns, nil
		},
	}

	ports, err := c.BoundPorts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NewPortSet(22, 50002, 53), ports)

	c.connections = func(context.Context, string) ([]psnet.ConnectionStat, error) {
		return nil, errors.New("permission denied")
	}
	_, err = c.BoundPorts(context.Background())
	require.EqualError(t, err, "failed listing sockets: permission denied")
}
