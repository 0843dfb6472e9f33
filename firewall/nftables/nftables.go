// Package nftables implements the firewall with a dedicated nftables table.
package nftables

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"path/filepath"
	"strconv"
	"strings"

	gnft "github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"golang.org/x/sys/unix"

	"go.hackfix.me/natmgr/firewall/command"
	ftypes "go.hackfix.me/natmgr/firewall/types"
)

const (
	tableName = "natmgr"
	chainName = "prerouting"
	// Prefix of the rule user data, which identifies the rules managed by us.
	userDataPrefix = "natmgr:"
)

// Conn is the subset of the nftables netlink connection used by the backend.
type Conn interface {
	AddTable(t *gnft.Table) *gnft.Table
	AddChain(c *gnft.Chain) *gnft.Chain
	FlushChain(c *gnft.Chain)
	GetRules(t *gnft.Table, c *gnft.Chain) ([]*gnft.Rule, error)
	AddRule(r *gnft.Rule) *gnft.Rule
	DelRule(r *gnft.Rule) error
	Flush() error
}

var _ Conn = (*gnft.Conn)(nil)

// NFTables is an abstraction over the Linux nftables firewall.
type NFTables struct {
	conn      Conn
	runner    command.Runner
	fs        vfs.FileSystem
	table     *gnft.Table
	chain     *gnft.Chain
	iface     string
	rulesFile string
	logger    *slog.Logger
}

var _ ftypes.Firewall = (*NFTables)(nil)

// New returns a new NFTables instance. It returns an error if the netlink
// connection to the kernel fails.
func New(fs vfs.FileSystem, iface, rulesFile string, logger *slog.Logger) (*NFTables, error) {
	conn, err := gnft.New()
	if err != nil {
		return nil, fmt.Errorf("failed establishing netlink connection: %w", err)
	}

	return NewWith(conn, command.OS{}, fs, iface, rulesFile, logger), nil
}

// NewWith returns a new NFTables instance using the given implementations.
func NewWith(
	conn Conn, runner command.Runner, fs vfs.FileSystem, iface, rulesFile string,
	logger *slog.Logger,
) *NFTables {
	table := &gnft.Table{Name: tableName, Family: gnft.TableFamilyIPv4}
	return &NFTables{
		conn:   conn,
		runner: runner,
		fs:     fs,
		table:  table,
		chain: &gnft.Chain{
			Name:     chainName,
			Table:    table,
			Type:     gnft.ChainTypeNAT,
			Hooknum:  gnft.ChainHookPrerouting,
			Priority: gnft.ChainPriorityNATDest,
		},
		iface:     iface,
		rulesFile: rulesFile,
		logger:    logger.With("type", "nftables"),
	}
}

// Init creates the table and chain if they don't exist. If the chain is empty
// and a rules file was previously persisted, its rules are loaded, since
// nftables doesn't restore them on boot by itself.
//
// It creates the following ruleset:
//
//	table ip natmgr {
//	    chain prerouting {
//	        type nat hook prerouting priority dstnat;
//	    }
//	}
func (n *NFTables) Init() error {
	n.conn.AddTable(n.table)
	n.conn.AddChain(n.chain)
	if err := n.conn.Flush(); err != nil {
		return fmt.Errorf("failed creating %s table: %w", tableName, err)
	}

	rules, err := n.ListRules()
	if err != nil {
		return err
	}
	if len(rules) > 0 {
		return nil
	}

	data, err := vfs.ReadFile(n.fs, n.rulesFile)
	if vfs.IsErrNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed reading rules file: %w", err)
	}
	if err = n.Restore(data); err != nil {
		return err
	}
	n.logger.Info("loaded persisted rules", "path", n.rulesFile)

	return nil
}

// RuleExists implements ftypes.Firewall.
func (n *NFTables) RuleExists(rule ftypes.Rule) (bool, error) {
	r, err := n.findRule(rule)
	if err != nil {
		return false, err
	}
	return r != nil, nil
}

// InsertRule implements ftypes.Firewall. It creates a rule equivalent to:
//
//	iifname "vmbr0" meta l4proto tcp th dport 50000 dnat to 10.0.0.5:22
func (n *NFTables) InsertRule(rule ftypes.Rule) error {
	n.conn.AddRule(n.newRule(rule))
	if err := n.conn.Flush(); err != nil {
		return fmt.Errorf("failed adding rule %s: %w", rule, err)
	}
	return nil
}

// DeleteRule implements ftypes.Firewall.
func (n *NFTables) DeleteRule(rule ftypes.Rule) error {
	r, err := n.findRule(rule)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("failed deleting rule %s: %w", rule, ftypes.ErrRuleNotFound)
	}

	if err = n.conn.DelRule(r); err != nil {
		return fmt.Errorf("failed deleting rule %s: %w", rule, err)
	}
	if err = n.conn.Flush(); err != nil {
		return fmt.Errorf("failed deleting rule %s: %w", rule, err)
	}

	return nil
}

// ListRules implements ftypes.Firewall. Only rules created by this backend are
// returned.
func (n *NFTables) ListRules() ([]ftypes.Rule, error) {
	nrules, err := n.conn.GetRules(n.table, n.chain)
	if err != nil {
		return nil, fmt.Errorf("failed listing rules: %w", err)
	}

	rules := make([]ftypes.Rule, 0, len(nrules))
	for _, nr := range nrules {
		rule, err := decodeUserData(nr.UserData)
		if err != nil {
			n.logger.Warn("skipping unrecognized rule", "handle", nr.Handle, "error", err)
			continue
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

// EnableForwarding implements ftypes.Firewall.
func (n *NFTables) EnableForwarding() error {
	return command.EnableIPv4Forwarding(n.runner)
}

// Persist writes the managed rules to the rules file, from which Init loads
// them.
func (n *NFTables) Persist() error {
	data, err := n.Snapshot()
	if err != nil {
		return err
	}

	if err = n.fs.MkdirAll(filepath.Dir(n.rulesFile), 0o755); err != nil {
		return fmt.Errorf("failed creating rules directory: %w", err)
	}
	if err = vfs.WriteFile(n.fs, n.rulesFile, data, 0o640); err != nil {
		return fmt.Errorf("failed writing rules file: %w", err)
	}

	return nil
}

// Snapshot returns the managed rules serialized as JSON.
func (n *NFTables) Snapshot() ([]byte, error) {
	rules, err := n.ListRules()
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed serializing rules: %w", err)
	}

	return data, nil
}

// Restore replaces the managed rules with the ones in a dump returned by
// Snapshot, in a single netlink transaction.
func (n *NFTables) Restore(data []byte) error {
	var rules []ftypes.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("failed parsing rules dump: %w", err)
	}

	n.conn.FlushChain(n.chain)
	for _, rule := range rules {
		n.conn.AddRule(n.newRule(rule))
	}
	if err := n.conn.Flush(); err != nil {
		return fmt.Errorf("failed restoring rules: %w", err)
	}

	return nil
}

func (n *NFTables) findRule(rule ftypes.Rule) (*gnft.Rule, error) {
	nrules, err := n.conn.GetRules(n.table, n.chain)
	if err != nil {
		return nil, fmt.Errorf("failed listing rules: %w", err)
	}

	key := encodeUserData(rule)
	for _, nr := range nrules {
		if string(nr.UserData) == string(key) {
			return nr, nil
		}
	}

	return nil, nil //nolint:nilnil // Not found isn't an error here.
}

func (n *NFTables) newRule(rule ftypes.Rule) *gnft.Rule {
	proto := byte(unix.IPPROTO_TCP)
	if rule.Protocol == ftypes.ProtocolUDP {
		proto = unix.IPPROTO_UDP
	}

	extPort := make([]byte, 2)
	binary.BigEndian.PutUint16(extPort, rule.ExternalPort)
	intPort := make([]byte, 2)
	binary.BigEndian.PutUint16(intPort, rule.InternalPort)

	return &gnft.Rule{
		Table:    n.table,
		Chain:    n.chain,
		UserData: encodeUserData(rule),
		Exprs: []expr.Any{
			// iifname "vmbr0"
			&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte(n.iface + "\x00")},
			// meta l4proto tcp
			&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
			// th dport 50000
			&expr.Payload{
				DestRegister: 1,
				Base:         expr.PayloadBaseTransportHeader,
				Offset:       2,
				Len:          2,
			},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: extPort},
			&expr.Counter{},
			// dnat to 10.0.0.5:22
			&expr.Immediate{Register: 1, Data: rule.DestHost.AsSlice()},
			&expr.Immediate{Register: 2, Data: intPort},
			&expr.NAT{
				Type:        expr.NATTypeDestNAT,
				Family:      unix.NFPROTO_IPV4,
				RegAddrMin:  1,
				RegProtoMin: 2,
			},
		},
	}
}

// encodeUserData returns the rule identity stored with each nftables rule, in
// "natmgr:tcp:50000:10.0.0.5:22" format.
func encodeUserData(rule ftypes.Rule) []byte {
	return fmt.Appendf(nil, "%s%s:%d:%s:%d",
		userDataPrefix, rule.Protocol, rule.ExternalPort, rule.DestHost, rule.InternalPort)
}

func decodeUserData(data []byte) (ftypes.Rule, error) {
	s, ok := strings.CutPrefix(string(data), userDataPrefix)
	if !ok {
		return ftypes.Rule{}, errors.New("missing natmgr user data")
	}

	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return ftypes.Rule{}, fmt.Errorf("malformed user data '%s'", data)
	}

	proto, err := ftypes.ProtocolFromString(parts[0])
	if err != nil {
		return ftypes.Rule{}, err
	}
	ext, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return ftypes.Rule{}, fmt.Errorf("invalid external port: %w", err)
	}
	addr, err := netip.ParseAddr(parts[2])
	if err != nil {
		return ftypes.Rule{}, fmt.Errorf("invalid destination host: %w", err)
	}
	internal, err := strconv.ParseUint(parts[3], 10, 16)
	if err != nil {
		return ftypes.Rule{}, fmt.Errorf("invalid internal port: %w", err)
	}

	return ftypes.Rule{
		Protocol:     proto,
		ExternalPort: uint16(ext),
		DestHost:     addr,
		InternalPort: uint16(internal),
	}, nil
}
