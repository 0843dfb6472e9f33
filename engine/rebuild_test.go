package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/natmgr/allocator"
	aerrors "go.hackfix.me/natmgr/app/errors"
	"go.hackfix.me/natmgr/firewall"
	"go.hackfix.me/natmgr/firewall/mock"
	ftypes "go.hackfix.me/natmgr/firewall/types"
)

func TestEngineRebuild(t *testing.T) {
	t.Parallel()

	fw := mock.New()
	src := newTestEngineWith(t, fw, allocator.New(50000, 100))
	ctx := t.Context()

	_, err := src.Add(ctx, AddRequest{Owner: "10.0.0.5", Count: 3})
	require.NoError(t, err)
	_, err = src.Add(ctx, AddRequest{
		Owner: "10.0.0.6", Mode: ModeManual, ExternalPorts: []uint16{60053},
		InternalPorts: []uint16{53}, Protocols: []ftypes.Protocol{udp},
	})
	require.NoError(t, err)
	expRecords, err := src.Records(ctx)
	require.NoError(t, err)

	// An engine with an empty store sharing the same live rules.
	dst := newTestEngineWith(t, fw, allocator.New(50000, 100))
	rulesBefore := fw.Rules()

	added, err := dst.Rebuild(ctx)
	require.NoError(t, err)
	assert.Len(t, added, 4)

	records, err := dst.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, expRecords, records)
	assert.Equal(t, rulesBefore, fw.Rules())

	// Running it again doesn't add anything.
	added, err = dst.Rebuild(ctx)
	require.NoError(t, err)
	assert.Empty(t, added)

	// The rebuilt owners are bound.
	_, err = dst.Add(ctx, AddRequest{Owner: "10.0.0.5", Count: 1})
	assert.ErrorIs(t, err, ErrOwnerAlreadyBound)
}

func TestEngineRebuildSkipsConflicts(t *testing.T) {
	t.Parallel()

	e, fw := newTestEngine(t)
	ctx := t.Context()

	_, err := e.Add(ctx, AddRequest{Owner: "10.0.0.5", Count: 1})
	require.NoError(t, err)
	_, err = e.Reserve(ctx, []uint16{60000}, "")
	require.NoError(t, err)

	// Rules added outside of the engine.
	for _, r := range []ftypes.Rule{
		rule(tcp, 50000, "10.0.0.9", 22),
		rule(tcp, 60000, "10.0.0.9", 22),
		rule(udp, 50000, "10.0.0.9", 53),
	} {
		require.NoError(t, fw.InsertRule(r))
	}

	added, err := e.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, []triple{{50000, 53, udp}}, triples(added))
	assert.Equal(t, "10.0.0.9", added[0].Owner)
}

func TestEngineRebuildOwnerNetworks(t *testing.T) {
	t.Parallel()

	ipSet, err := firewall.ParseToIPSet("10.0.0.0/24")
	require.NoError(t, err)
	e, fw := newTestEngine(t, WithOwnerNetworks(ipSet))
	ctx := t.Context()

	require.NoError(t, fw.InsertRule(rule(tcp, 50000, "10.0.0.9", 22)))
	require.NoError(t, fw.InsertRule(rule(tcp, 50001, "192.168.1.5", 22)))

	added, err := e.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, []triple{{50000, 22, tcp}}, triples(added))
	assert.Equal(t, "10.0.0.9", added[0].Owner)

	stored, err := e.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	// Every stored mapping can be removed again.
	removed, err := e.Remove(ctx, "10.0.0.9")
	require.NoError(t, err)
	assert.Len(t, removed, 1)

	stored, err = e.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestEngineRebuildFirewallError(t *testing.T) {
	t.Parallel()

	e, fw := newTestEngine(t)
	fw.SetOpFailError("list", errors.New("iptables not found"))

	_, err := e.Rebuild(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, aerrors.ErrExternalCommand)
	assert.Contains(t, err.Error(), "iptables not found")
}
