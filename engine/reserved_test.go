package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "go.hackfix.me/natmgr/app/errors"
)

func TestEngineReserve(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	ctx := t.Context()

	added, err := e.Reserve(ctx, []uint16{50000, 50001}, "host services")
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	// Reserving again is a no-op.
	added, err = e.Reserve(ctx, []uint16{50001, 50002}, "other")
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	reserved, err := e.ListReserved(ctx)
	require.NoError(t, err)
	require.Len(t, reserved, 3)
	assert.Equal(t, uint16(50000), reserved[0].Port)
	assert.Equal(t, "host services", reserved[1].Description)
	assert.Equal(t, "other", reserved[2].Description)

	// The allocator skips reserved ports.
	mappings, err := e.Add(ctx, AddRequest{Owner: "10.0.0.5", Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []triple{{50004, 22, tcp}, {50005, 80, tcp}}, triples(mappings))

	// Unreserving a port that isn't reserved isn't an error.
	removed, err := e.Unreserve(ctx, []uint16{50000, 50003})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = e.Unreserve(ctx, []uint16{50003})
	require.NoError(t, err)
	assert.Zero(t, removed)

	reserved, err = e.ListReserved(ctx)
	require.NoError(t, err)
	assert.Len(t, reserved, 2)
}

func TestEngineReserveErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ports    []uint16
		expErr   error
		expErrIs string
	}{
		{name: "err/empty", ports: nil, expErr: aerrors.ErrInvalidArgument, expErrIs: "no ports specified"},
		{name: "err/zero", ports: []uint16{0}, expErr: aerrors.ErrInvalidArgument},
		{name: "err/assigned", ports: []uint16{60000, 50001}, expErr: ErrPortAssigned, expErrIs: "50001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e, _ := newTestEngine(t)
			ctx := t.Context()
			_, err := e.Add(ctx, AddRequest{Owner: "10.0.0.5", Count: 2})
			require.NoError(t, err)

			_, err = e.Reserve(ctx, tt.ports, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expErr)
			if tt.expErrIs != "" {
				assert.Contains(t, err.Error(), tt.expErrIs)
			}

			// Nothing was reserved.
			reserved, err := e.ListReserved(ctx)
			require.NoError(t, err)
			assert.Empty(t, reserved)
		})
	}
}
