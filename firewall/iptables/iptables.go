// Package iptables implements the firewall on top of the iptables nat table.
package iptables

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	goipt "github.com/coreos/go-iptables/iptables"
	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/natmgr/firewall/command"
	ftypes "go.hackfix.me/natmgr/firewall/types"
)

const (
	table = "nat"
	chain = "PREROUTING"
)

// Tables is the subset of go-iptables used by the backend.
type Tables interface {
	ChainExists(table, chain string) (bool, error)
	Exists(table, chain string, rulespec ...string) (bool, error)
	Append(table, chain string, rulespec ...string) error
	Delete(table, chain string, rulespec ...string) error
	List(table, chain string) ([]string, error)
}

var _ Tables = (*goipt.IPTables)(nil)

// IPTables manages DNAT rules in the PREROUTING chain of the nat table, for
// traffic arriving on a single interface.
type IPTables struct {
	ipt       Tables
	runner    command.Runner
	fs        vfs.FileSystem
	iface     string
	rulesFile string
	logger    *slog.Logger
}

var _ ftypes.Firewall = (*IPTables)(nil)

// New returns a new IPTables instance using the system's iptables binary.
func New(fs vfs.FileSystem, iface, rulesFile string, logger *slog.Logger) (*IPTables, error) {
	ipt, err := goipt.New(goipt.IPFamily(goipt.ProtocolIPv4))
	if err != nil {
		return nil, fmt.Errorf("failed initializing iptables: %w", err)
	}

	return NewWith(ipt, command.OS{}, fs, iface, rulesFile, logger), nil
}

// NewWith returns a new IPTables instance using the given implementations.
func NewWith(
	ipt Tables, runner command.Runner, fs vfs.FileSystem, iface, rulesFile string,
	logger *slog.Logger,
) *IPTables {
	return &IPTables{
		ipt:       ipt,
		runner:    runner,
		fs:        fs,
		iface:     iface,
		rulesFile: rulesFile,
		logger:    logger.With("type", "iptables"),
	}
}

// Init checks that the nat PREROUTING chain is available.
func (t *IPTables) Init() error {
	ok, err := t.ipt.ChainExists(table, chain)
	if err != nil {
		return fmt.Errorf("failed checking %s %s chain: %w", table, chain, err)
	}
	if !ok {
		return fmt.Errorf("chain %s doesn't exist in the %s table", chain, table)
	}

	return nil
}

// RuleExists implements ftypes.Firewall.
func (t *IPTables) RuleExists(rule ftypes.Rule) (bool, error) {
	ok, err := t.ipt.Exists(table, chain, t.ruleSpec(rule)...)
	if err != nil {
		return false, fmt.Errorf("failed checking rule %s: %w", rule, err)
	}
	return ok, nil
}

// InsertRule implements ftypes.Firewall.
func (t *IPTables) InsertRule(rule ftypes.Rule) error {
	if err := t.ipt.Append(table, chain, t.ruleSpec(rule)...); err != nil {
		return fmt.Errorf("failed appending rule %s: %w", rule, err)
	}
	return nil
}

// DeleteRule implements ftypes.Firewall.
func (t *IPTables) DeleteRule(rule ftypes.Rule) error {
	err := t.ipt.Delete(table, chain, t.ruleSpec(rule)...)
	if err == nil {
		return nil
	}

	var iptErr *goipt.Error
	if errors.As(err, &iptErr) && iptErr.IsNotExist() {
		return fmt.Errorf("failed deleting rule %s: %w", rule, ftypes.ErrRuleNotFound)
	}

	return fmt.Errorf("failed deleting rule %s: %w", rule, err)
}

// ListRules implements ftypes.Firewall.
func (t *IPTables) ListRules() ([]ftypes.Rule, error) {
	lines, err := t.ipt.List(table, chain)
	if err != nil {
		return nil, fmt.Errorf("failed listing %s %s rules: %w", table, chain, err)
	}

	rules, skipped := ParseRules(lines, t.iface)
	for _, line := range skipped {
		t.logger.Warn("skipping unrecognized DNAT rule", "rule", line)
	}

	return rules, nil
}

// EnableForwarding implements ftypes.Firewall.
func (t *IPTables) EnableForwarding() error {
	return command.EnableIPv4Forwarding(t.runner)
}

// Persist writes the output of iptables-save to the rules file, which is
// loaded on boot by e.g. iptables-persistent.
func (t *IPTables) Persist() error {
	data, err := t.Snapshot()
	if err != nil {
		return err
	}

	if err = t.fs.MkdirAll(filepath.Dir(t.rulesFile), 0o755); err != nil {
		return fmt.Errorf("failed creating rules directory: %w", err)
	}
	if err = vfs.WriteFile(t.fs, t.rulesFile, data, 0o640); err != nil {
		return fmt.Errorf("failed writing rules file: %w", err)
	}
	t.logger.Debug("saved rules", "path", t.rulesFile)

	return nil
}

// Snapshot returns the output of iptables-save.
func (t *IPTables) Snapshot() ([]byte, error) {
	data, err := t.runner.Output("iptables-save")
	if err != nil {
		return nil, fmt.Errorf("failed dumping rules: %w", err)
	}
	return data, nil
}

// Restore loads a dump produced by Snapshot with iptables-restore.
func (t *IPTables) Restore(data []byte) error {
	if err := t.runner.RunInput(data, "iptables-restore"); err != nil {
		return fmt.Errorf("failed restoring rules: %w", err)
	}
	return nil
}

func (t *IPTables) ruleSpec(rule ftypes.Rule) []string {
	return []string{
		"-i", t.iface,
		"-p", string(rule.Protocol),
		"--dport", strconv.Itoa(int(rule.ExternalPort)),
		"-j", "DNAT",
		"--to-destination", fmt.Sprintf("%s:%d", rule.DestHost, rule.InternalPort),
	}
}
