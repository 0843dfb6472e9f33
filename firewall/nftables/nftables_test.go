package nftables

import (
	"errors"
	"log/slog"
	"net/netip"
	"slices"
	"testing"

	gnft "github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/natmgr/firewall/command"
	ftypes "go.hackfix.me/natmgr/firewall/types"
)

// fakeConn applies changes immediately, and fails on Flush if flushErr is set.
type fakeConn struct {
	tables     []*gnft.Table
	chains     []*gnft.Chain
	rules      []*gnft.Rule
	nextHandle uint64
	flushErr   error
}

func (c *fakeConn) AddTable(t *gnft.Table) *gnft.Table {
	if !slices.ContainsFunc(c.tables, func(et *gnft.Table) bool { return et.Name == t.Name }) {
		c.tables = append(c.tables, t)
	}
	return t
}

func (c *fakeConn) AddChain(ch *gnft.Chain) *gnft.Chain {
	if !slices.ContainsFunc(c.chains, func(ec *gnft.Chain) bool { return ec.Name == ch.Name }) {
		c.chains = append(c.chains, ch)
	}
	return ch
}

func (c *fakeConn) FlushChain(_ *gnft.Chain) {
	c.rules = nil
}

func (c *fakeConn) GetRules(_ *gnft.Table, _ *gnft.Chain) ([]*gnft.Rule, error) {
	return slices.Clone(c.rules), nil
}

func (c *fakeConn) AddRule(r *gnft.Rule) *gnft.Rule {
	c.nextHandle++
	r.Handle = c.nextHandle
	c.rules = append(c.rules, r)
	return r
}

func (c *fakeConn) DelRule(r *gnft.Rule) error {
	c.rules = slices.DeleteFunc(c.rules, func(er *gnft.Rule) bool { return er.Handle == r.Handle })
	return nil
}

func (c *fakeConn) Flush() error {
	return c.flushErr
}

func newTestNFTables(t *testing.T) (*NFTables, *fakeConn, vfs.FileSystem) {
	t.Helper()
	conn := &fakeConn{}
	fs := memoryfs.New()
	nft := NewWith(conn, &command.Mock{}, fs, "vmbr0", "/etc/natmgr/rules.nft.json", slog.New(slog.DiscardHandler))
	return nft, conn, fs
}

func TestNFTablesRules(t *testing.T) {
	t.Parallel()

	nft, conn, _ := newTestNFTables(t)
	require.NoError(t, nft.Init())
	require.Len(t, conn.tables, 1)
	assert.Equal(t, gnft.TableFamilyIPv4, conn.tables[0].Family)
	require.Len(t, conn.chains, 1)
	assert.Equal(t, gnft.ChainTypeNAT, conn.chains[0].Type)

	rule := ftypes.Rule{
		Protocol: ftypes.ProtocolUDP, ExternalPort: 50000,
		DestHost: netip.MustParseAddr("10.0.0.5"), InternalPort: 53,
	}
	ok, err := nft.RuleExists(rule)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, nft.InsertRule(rule))
	require.Len(t, conn.rules, 1)
	assert.Equal(t, "natmgr:udp:50000:10.0.0.5:53", string(conn.rules[0].UserData))

	nat, ok := conn.rules[0].Exprs[len(conn.rules[0].Exprs)-1].(*expr.NAT)
	require.True(t, ok)
	assert.Equal(t, expr.NATTypeDestNAT, nat.Type)
	dest, ok := conn.rules[0].Exprs[7].(*expr.Immediate)
	require.True(t, ok)
	assert.Equal(t, []byte{10, 0, 0, 5}, dest.Data)

	ok, err = nft.RuleExists(rule)
	require.NoError(t, err)
	assert.True(t, ok)

	// A rule not created by us is ignored.
	conn.AddRule(&gnft.Rule{UserData: []byte("something else")})
	rules, err := nft.ListRules()
	require.NoError(t, err)
	assert.Equal(t, []ftypes.Rule{rule}, rules)

	require.NoError(t, nft.DeleteRule(rule))
	err = nft.DeleteRule(rule)
	assert.ErrorIs(t, err, ftypes.ErrRuleNotFound)

	conn.flushErr = errors.New("operation not permitted")
	err = nft.InsertRule(rule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation not permitted")
}

func TestNFTablesPersistRestore(t *testing.T) {
	t.Parallel()

	nft, conn, fs := newTestNFTables(t)
	require.NoError(t, nft.Init())

	rules := []ftypes.Rule{
		{Protocol: ftypes.ProtocolTCP, ExternalPort: 50000, DestHost: netip.MustParseAddr("10.0.0.5"), InternalPort: 22},
		{Protocol: ftypes.ProtocolTCP, ExternalPort: 50001, DestHost: netip.MustParseAddr("10.0.0.5"), InternalPort: 80},
	}
	for _, r := range rules {
		require.NoError(t, nft.InsertRule(r))
	}
	require.NoError(t, nft.Persist())

	snapshot, err := vfs.ReadFile(fs, "/etc/natmgr/rules.nft.json")
	require.NoError(t, err)

	// Simulate a reboot: Init loads the persisted rules into the empty chain.
	conn.rules = nil
	require.NoError(t, nft.Init())
	got, err := nft.ListRules()
	require.NoError(t, err)
	assert.Equal(t, rules, got)

	require.NoError(t, nft.DeleteRule(rules[0]))
	require.NoError(t, nft.Restore(snapshot))
	got, err = nft.ListRules()
	require.NoError(t, err)
	assert.Equal(t, rules, got)

	err = nft.Restore([]byte("not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed parsing rules dump")
}

func TestUserData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		data   string
		expErr string
	}{
		{name: "ok/valid", data: "natmgr:tcp:50000:10.0.0.5:22"},
		{name: "err/prefix", data: "other:tcp:50000:10.0.0.5:22", expErr: "missing natmgr user data"},
		{name: "err/parts", data: "natmgr:tcp:50000", expErr: "malformed user data"},
		{name: "err/proto", data: "natmgr:sctp:50000:10.0.0.5:22", expErr: "unsupported protocol 'sctp'"},
		{name: "err/port", data: "natmgr:tcp:70000:10.0.0.5:22", expErr: "invalid external port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rule, err := decodeUserData([]byte(tt.data))
			if tt.expErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.data, string(encodeUserData(rule)))
		})
	}
}
