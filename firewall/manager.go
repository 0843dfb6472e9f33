package firewall

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/mandelsoft/vfs/pkg/vfs"

	aerrors "go.hackfix.me/natmgr/app/errors"
	"go.hackfix.me/natmgr/firewall/iptables"
	"go.hackfix.me/natmgr/firewall/mock"
	"go.hackfix.me/natmgr/firewall/nftables"
	ftypes "go.hackfix.me/natmgr/firewall/types"
)

// Manager applies and revokes batches of DNAT rules on a Firewall.
type Manager struct {
	firewall ftypes.Firewall
	logger   *slog.Logger
}

// NewManager returns a new Manager instance.
func NewManager(firewall ftypes.Firewall, opts ...Option) (*Manager, error) {
	if firewall == nil {
		return nil, errors.New("firewall implementation is required")
	}

	m := &Manager{firewall: firewall}

	opts = append(DefaultOptions(), opts...)
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Apply programs the rules in order, skipping the ones that already exist, and
// enables forwarding once after the whole batch. It returns the rules that
// were inserted by this call, even on failure, so that the caller can revoke
// them.
func (m *Manager) Apply(rules []ftypes.Rule) ([]ftypes.Rule, error) {
	inserted := make([]ftypes.Rule, 0, len(rules))
	for _, rule := range rules {
		logger := m.logger.With("rule", rule.String())

		exists, err := m.firewall.RuleExists(rule)
		if err != nil {
			return inserted, commandError("failed checking firewall rule", err, rule)
		}
		if exists {
			logger.Info("rule already exists")
			continue
		}

		if err = m.firewall.InsertRule(rule); err != nil {
			return inserted, commandError("failed inserting firewall rule", err, rule)
		}
		inserted = append(inserted, rule)
		logger.Debug("inserted rule")
	}

	if len(rules) > 0 {
		if err := m.firewall.EnableForwarding(); err != nil {
			return inserted, aerrors.WithCause(
				fmt.Errorf("failed enabling IP forwarding: %w", aerrors.ErrExternalCommand), err)
		}
	}

	return inserted, nil
}

// Revoke removes the rules on a best-effort basis. Failures are logged as
// warnings and don't stop the remaining rules from being removed. It returns
// the number of rules that were removed.
func (m *Manager) Revoke(rules []ftypes.Rule) int {
	var removed int
	for _, rule := range rules {
		logger := m.logger.With("rule", rule.String())
		err := m.firewall.DeleteRule(rule)
		switch {
		case errors.Is(err, ftypes.ErrRuleNotFound):
			logger.Warn("rule not found")
		case err != nil:
			logger.Warn("failed deleting rule", "error", err.Error())
		default:
			removed++
			logger.Debug("deleted rule")
		}
	}

	return removed
}

// Persist saves the live rule set, so that it survives a restart.
func (m *Manager) Persist() error {
	if err := m.firewall.Persist(); err != nil {
		return aerrors.WithCause(
			fmt.Errorf("failed persisting firewall rules: %w", aerrors.ErrExternalCommand), err)
	}
	return nil
}

// LiveRules returns the DNAT rules currently programmed on the managed
// interface.
func (m *Manager) LiveRules() ([]ftypes.Rule, error) {
	rules, err := m.firewall.ListRules()
	if err != nil {
		return nil, aerrors.WithCause(
			fmt.Errorf("failed listing firewall rules: %w", aerrors.ErrExternalCommand), err)
	}
	return rules, nil
}

// Snapshot returns the raw dump of the live rule set.
func (m *Manager) Snapshot() ([]byte, error) {
	data, err := m.firewall.Snapshot()
	if err != nil {
		return nil, aerrors.WithCause(
			fmt.Errorf("failed dumping firewall rules: %w", aerrors.ErrExternalCommand), err)
	}
	return data, nil
}

// Restore replaces the live rule set with a dump returned by Snapshot.
func (m *Manager) Restore(data []byte) error {
	if err := m.firewall.Restore(data); err != nil {
		return aerrors.WithCause(
			fmt.Errorf("failed restoring firewall rules: %w", aerrors.ErrExternalCommand), err)
	}
	return nil
}

func commandError(msg string, cause error, rule ftypes.Rule) error {
	return aerrors.WithCause(fmt.Errorf("%s: %w", msg, aerrors.ErrExternalCommand), cause,
		"protocol", string(rule.Protocol),
		"external_port", rule.ExternalPort,
		"dest_host", rule.DestHost.String(),
		"internal_port", rule.InternalPort,
	)
}

// Setup creates a new Firewall of the given type and a Manager for it. The
// firewall is initialized before being returned. A warning is logged if the
// directory of the rules file doesn't exist, since persisted rules wouldn't
// survive a reboot.
//
//nolint:ireturn // Intentional, this is a generic function.
func Setup(
	ft ftypes.FirewallType, fs vfs.FileSystem, iface, rulesFile string, logger *slog.Logger,
) (ftypes.Firewall, *Manager, error) {
	var (
		fw  ftypes.Firewall
		err error
	)
	switch ft {
	case ftypes.FirewallMock:
		fw = mock.New()
	case ftypes.FirewallIPTables:
		fw, err = iptables.New(fs, iface, rulesFile, logger)
	case ftypes.FirewallNFTables:
		fw, err = nftables.New(fs, iface, rulesFile, logger)
	default:
		return nil, nil, fmt.Errorf("unsupported firewall type '%s'", ft)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed creating %s firewall: %w", ft, err)
	}

	if ft != ftypes.FirewallMock {
		if _, serr := fs.Stat(filepath.Dir(rulesFile)); serr != nil {
			logger.Warn("rules directory doesn't exist; rules may not persist across reboots",
				"path", filepath.Dir(rulesFile))
		}
	}

	if err = fw.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed initializing %s firewall: %w", ft, err)
	}

	var fwMgr *Manager
	fwMgr, err = NewManager(fw, WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("failed creating the firewall manager: %w", err)
	}

	return fw, fwMgr, nil
}
